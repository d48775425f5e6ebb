package scenes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sleep4at/Smart-Home-System/internal/metrics"
	"github.com/sleep4at/Smart-Home-System/internal/store"
	"github.com/sleep4at/Smart-Home-System/pkg/logging"
	"github.com/sleep4at/Smart-Home-System/pkg/models"
	"github.com/sleep4at/Smart-Home-System/pkg/mqtt"
)

// Engine evaluates scene rules against incoming device reports and executes
// the matching actions: persist the new actuator state, publish the command
// downlink and record the firing.
type Engine struct {
	rules     store.SceneRuleStore
	devices   store.DeviceStore
	logs      store.SystemLogStore
	publisher mqtt.Publisher
	topics    mqtt.Config
	logger    logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewEngine(rules store.SceneRuleStore, devices store.DeviceStore, logs store.SystemLogStore, publisher mqtt.Publisher, topics mqtt.Config, logger logging.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		rules:     rules,
		devices:   devices,
		logs:      logs,
		publisher: publisher,
		topics:    topics,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// HandleReport runs every enabled rule listening on the reporting device.
// Rule failures are isolated; one broken rule never blocks the rest.
func (e *Engine) HandleReport(ctx context.Context, device models.Device, report models.StateMap) {
	rules, err := e.rules.ListEnabledForTrigger(ctx, device.ID)
	if err != nil {
		e.logger.WithFields(logging.Fields{
			"device_id": device.ID,
			"error":     err.Error(),
		}).Warn("Failed to load scene rules for device")
		return
	}

	now := e.now()
	for i := range rules {
		rule := &rules[i]
		if !e.shouldFire(ctx, rule, report, now) {
			continue
		}
		e.execute(ctx, rule, device, now)
	}
}

// shouldFire applies the debounce window first so a freshly fired rule does
// not even evaluate its predicate, then the trigger itself.
func (e *Engine) shouldFire(ctx context.Context, rule *models.SceneRule, report models.StateMap, now time.Time) bool {
	if !debounceElapsed(rule, now) {
		return false
	}

	spec, err := DecodeTrigger(rule)
	if err != nil {
		e.logger.WithFields(logging.Fields{
			"rule_id": rule.ID,
			"error":   err.Error(),
		}).Warn("Scene rule has an invalid trigger")
		return false
	}

	switch tr := spec.(type) {
	case ThresholdAbove:
		return tr.matchesReport(report)
	case ThresholdBelow:
		return tr.matchesReport(report)
	case RangeOut:
		return tr.matchesReport(report)
	case TimeState:
		if !tr.windowContains(now) {
			return false
		}
		if tr.StateDeviceID != 0 && len(tr.StateValue) > 0 {
			gate, err := e.devices.GetByID(ctx, tr.StateDeviceID)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					e.logger.WithFields(logging.Fields{
						"rule_id":   rule.ID,
						"device_id": tr.StateDeviceID,
						"error":     err.Error(),
					}).Warn("Failed to load state device for scene rule")
				}
				return false
			}
			return tr.stateMatches(gate.CurrentState)
		}
		return true
	}
	return false
}

// debounceElapsed reports whether enough time passed since the last firing.
// Rules that never fired pass immediately.
func debounceElapsed(rule *models.SceneRule, now time.Time) bool {
	if rule.DebounceSeconds <= 0 || rule.LastTriggeredAt == nil {
		return true
	}
	return now.Sub(*rule.LastTriggeredAt) >= time.Duration(rule.DebounceSeconds)*time.Second
}

func (e *Engine) execute(ctx context.Context, rule *models.SceneRule, trigger models.Device, now time.Time) {
	actuator, err := e.devices.GetByID(ctx, rule.ActionDeviceID)
	if err != nil {
		e.logger.WithFields(logging.Fields{
			"rule_id":          rule.ID,
			"action_device_id": rule.ActionDeviceID,
			"error":            err.Error(),
		}).Warn("Scene rule action device unavailable")
		return
	}
	if !actuator.IsOnline {
		// Offline actuators are skipped without consuming the debounce
		// window, so the rule fires as soon as the device comes back.
		if e.metrics != nil {
			e.metrics.SceneFirings.WithLabelValues(rule.ActionType, "skipped_offline").Inc()
		}
		return
	}

	payload := ActionPayload(rule, actuator.CurrentState)
	if payload == nil {
		e.logger.WithFields(logging.Fields{
			"rule_id":     rule.ID,
			"action_type": rule.ActionType,
		}).Warn("Scene rule has an unknown action type")
		return
	}

	if _, err := e.devices.MergeState(ctx, actuator.ID, payload); err != nil {
		e.logger.WithFields(logging.Fields{
			"rule_id":   rule.ID,
			"device_id": actuator.ID,
			"error":     err.Error(),
		}).Error("Failed to persist scene action state")
		if e.metrics != nil {
			e.metrics.SceneFirings.WithLabelValues(rule.ActionType, "persist_error").Inc()
		}
		return
	}

	status := "fired"
	command, err := json.Marshal(payload)
	if err == nil {
		err = e.publisher.Publish(e.topics.CommandTopic(actuator.ID), 1, command)
	}
	if err != nil {
		// The state row already moved; the device reconciles via its next
		// report, so bookkeeping continues.
		status = "publish_error"
		e.logger.WithFields(logging.Fields{
			"rule_id":   rule.ID,
			"device_id": actuator.ID,
			"error":     err.Error(),
		}).Error("Failed to publish scene command")
	}
	if e.metrics != nil {
		e.metrics.SceneFirings.WithLabelValues(rule.ActionType, status).Inc()
	}

	if err := e.rules.TouchLastTriggered(ctx, rule.ID, now); err != nil {
		e.logger.WithFields(logging.Fields{
			"rule_id": rule.ID,
			"error":   err.Error(),
		}).Warn("Failed to record scene rule firing")
	}

	owner := rule.OwnerID
	entry := models.SystemLog{
		Level:   models.LogLevelInfo,
		Source:  models.LogSourceSceneRule,
		Message: fmt.Sprintf("Scene rule '%s' fired on device '%s'", rule.Name, actuator.Name),
		Data: models.StateMap{
			"rule_id":           rule.ID,
			"trigger_device_id": trigger.ID,
			"action_device_id":  actuator.ID,
			"action_payload":    payload,
		},
		UserID: &owner,
	}
	if _, err := e.logs.Insert(ctx, entry); err != nil {
		e.logger.WithFields(logging.Fields{
			"rule_id": rule.ID,
			"error":   err.Error(),
		}).Warn("Failed to write scene rule log")
	}
}
