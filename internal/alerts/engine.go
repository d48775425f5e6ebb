package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sleep4at/Smart-Home-System/internal/metrics"
	"github.com/sleep4at/Smart-Home-System/internal/store"
	"github.com/sleep4at/Smart-Home-System/pkg/logging"
	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

// Mailer is the delivery surface the engine sends through. *email.Sender
// implements it; tests inject a recorder.
type Mailer interface {
	SendMail(ctx context.Context, to, cc []string, subject, body string) error
}

// Engine turns qualifying device reports into alert emails and audit log
// rows. One instance is shared by all gateway workers; it keeps no
// per-report state.
type Engine struct {
	rules  store.EmailAlertRuleStore
	logs   store.SystemLogStore
	mailer Mailer
	logger logging.Logger

	metrics       *metrics.Metrics
	tempThreshold float64
	adminEmails   []string

	now func() time.Time
}

func NewEngine(rules store.EmailAlertRuleStore, logs store.SystemLogStore, mailer Mailer, logger logging.Logger, m *metrics.Metrics, tempThreshold float64, adminEmails []string) *Engine {
	return &Engine{
		rules:         rules,
		logs:          logs,
		mailer:        mailer,
		logger:        logger,
		metrics:       m,
		tempThreshold: tempThreshold,
		adminEmails:   adminEmails,
		now:           time.Now,
	}
}

// SmokeValue normalizes a smoke detector report to a binary alarm reading:
// 1 when any of the alarm keys reads truthy, 0 otherwise. Detectors also
// report the all-clear, which matters for rules watching the low side.
func SmokeValue(report models.StateMap) float64 {
	if models.Truthy(report["smoke"]) || models.Truthy(report["alarm"]) || models.Truthy(report["value"]) {
		return 1
	}
	return 0
}

// HandleFieldReport evaluates the alert rules registered for one report
// field. Thresholds compare inclusively in the rule's direction. Smoke
// readings arrive pre-normalized through SmokeValue.
func (e *Engine) HandleFieldReport(ctx context.Context, device models.Device, field string, value float64) {
	rules, err := e.rules.ListEnabledFor(ctx, device.ID, field)
	if err != nil {
		e.logger.WithFields(logging.Fields{
			"device_id": device.ID,
			"field":     field,
			"error":     err.Error(),
		}).Warn("Failed to load alert rules")
		return
	}

	if field == "smoke" && len(rules) == 0 {
		// Smoke is never dropped silently: without rules it still leaves an
		// audit row for anyone watching the log stream.
		if value >= 1.0 {
			e.insertLog(ctx, models.SystemLog{
				Level:   models.LogLevelInfo,
				Source:  models.LogSourceEmailAlert,
				Message: fmt.Sprintf("Smoke detected on '%s' with no alert rules configured", device.Name),
				Data: models.StateMap{
					"device_id":   device.ID,
					"device_name": device.Name,
					"value":       value,
				},
			})
		}
		return
	}

	now := e.now()
	for i := range rules {
		e.evaluateRule(ctx, &rules[i], device, field, value, now)
	}
}

func (e *Engine) evaluateRule(ctx context.Context, rule *models.EmailAlertRule, device models.Device, field string, value float64, now time.Time) {
	var threshold float64
	switch {
	case rule.TriggerValue != nil:
		threshold = *rule.TriggerValue
	case field == "smoke":
		threshold = 1.0
	default:
		// A rule without a threshold on a numeric field cannot fire.
		return
	}

	fired := value >= threshold
	if !rule.TriggerAbove {
		fired = value <= threshold
	}
	if !fired {
		return
	}

	if len(rule.Recipients) == 0 {
		e.insertLog(ctx, models.SystemLog{
			Level:   models.LogLevelWarn,
			Source:  models.LogSourceEmailAlert,
			Message: fmt.Sprintf("Alert email skipped: rule '%s' has no recipients", rule.Name),
			Data:    models.StateMap{"rule_id": rule.ID},
		})
		e.countEmail("rule", "skipped")
		return
	}

	subject, body := RenderAlertEmail(rule, device, value, now)
	if err := e.mailer.SendMail(ctx, rule.Recipients, rule.CCList, subject, body); err != nil {
		e.insertLog(ctx, models.SystemLog{
			Level:   models.LogLevelError,
			Source:  models.LogSourceEmailAlert,
			Message: fmt.Sprintf("Alert email send failed: %s - %v", rule.Name, err),
			Data:    models.StateMap{"rule_id": rule.ID},
		})
		e.countEmail("rule", "failed")
		return
	}

	if err := e.rules.TouchLastTriggered(ctx, rule.ID, now); err != nil {
		e.logger.WithFields(logging.Fields{
			"rule_id": rule.ID,
			"error":   err.Error(),
		}).Warn("Failed to record alert rule firing")
	}
	e.insertLog(ctx, models.SystemLog{
		Level:   models.LogLevelInfo,
		Source:  models.LogSourceEmailAlert,
		Message: fmt.Sprintf("Alert email sent: %s -> %s", rule.Name, summarizeRecipients(rule.Recipients)),
		Data: models.StateMap{
			"rule_id":     rule.ID,
			"device_name": device.Name,
			"value":       value,
		},
	})
	e.countEmail("rule", "sent")
}

// HandleTempThreshold raises the built-in high temperature alert for climate
// sensors. It is not configurable per device and runs before the rule-based
// alerts.
func (e *Engine) HandleTempThreshold(ctx context.Context, device models.Device, report models.StateMap) {
	if device.Type != models.DeviceTypeTempHumi {
		return
	}
	temp, ok := models.Float(report["temp"])
	if !ok || temp < e.tempThreshold {
		return
	}

	e.insertLog(ctx, models.SystemLog{
		Level:   models.LogLevelWarn,
		Source:  models.LogSourceAlert,
		Message: fmt.Sprintf("High temperature alert: '%s' reported %.1f°C", device.Name, temp),
		Data:    models.StateMap{"device_id": device.ID, "temp": temp, "threshold": e.tempThreshold},
		UserID:  device.OwnerID,
	})

	if len(e.adminEmails) == 0 {
		return
	}
	subject := fmt.Sprintf("[Smart Home Alert] High temperature - %s", device.Name)
	body := fmt.Sprintf(
		"Device: %s\nTemperature: %.1f°C\nThreshold: %.1f°C\nTime: %s",
		device.Name, temp, e.tempThreshold, e.now().Format("2006-01-02 15:04:05"),
	)
	if err := e.mailer.SendMail(ctx, e.adminEmails, nil, subject, body); err != nil {
		e.logger.WithFields(logging.Fields{
			"device_id": device.ID,
			"error":     err.Error(),
		}).Error("Failed to send built-in temperature alert")
		e.countEmail("builtin", "failed")
		return
	}
	e.countEmail("builtin", "sent")
}

// summarizeRecipients shows at most three addresses in log messages.
func summarizeRecipients(recipients []string) string {
	if len(recipients) <= 3 {
		return strings.Join(recipients, ", ")
	}
	return strings.Join(recipients[:3], ", ") + "..."
}

func (e *Engine) insertLog(ctx context.Context, entry models.SystemLog) {
	if _, err := e.logs.Insert(ctx, entry); err != nil {
		e.logger.WithFields(logging.Fields{
			"source": entry.Source,
			"error":  err.Error(),
		}).Warn("Failed to write alert log")
	}
}

func (e *Engine) countEmail(kind, status string) {
	if e.metrics != nil {
		e.metrics.AlertEmails.WithLabelValues(kind, status).Inc()
	}
}
