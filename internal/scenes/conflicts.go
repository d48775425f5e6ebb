package scenes

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/sleep4at/Smart-Home-System/internal/store"
	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

var conflictFieldLabels = map[string]string{
	"action_type":   "action type",
	"action_value":  "action value",
	"trigger_value": "trigger condition",
}

// ValidateRule checks the structural validity of a rule before it is saved.
// The returned error text is shown to the caller verbatim.
func ValidateRule(rule *models.SceneRule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return errors.New("name is required")
	}
	if rule.TriggerDeviceID == 0 {
		return errors.New("trigger_device_id is required")
	}
	if rule.ActionDeviceID == 0 {
		return errors.New("action_device_id is required")
	}
	if rule.DebounceSeconds < 0 {
		return errors.New("debounce_seconds must not be negative")
	}
	if _, err := DecodeTrigger(rule); err != nil {
		return err
	}
	switch rule.ActionType {
	case models.ActionToggle, models.ActionTurnOn, models.ActionTurnOff,
		models.ActionSetTemp, models.ActionSetFanSpeed:
		return nil
	}
	return fmt.Errorf("unknown action type %q", rule.ActionType)
}

// ConflictChecker scans the whole rule table for rules whose triggers can
// fire together with a candidate's and whose actions contradict it. The scan
// deliberately crosses owner boundaries: two users steering one device into
// opposite states is exactly the situation to surface.
type ConflictChecker struct {
	rules   store.SceneRuleStore
	devices store.DeviceStore
}

func NewConflictChecker(rules store.SceneRuleStore, devices store.DeviceStore) *ConflictChecker {
	return &ConflictChecker{rules: rules, devices: devices}
}

// Check returns the conflicts a candidate rule would introduce. The
// candidate's ID, when non-zero, excludes its stored version from the scan
// so updates do not conflict with themselves.
func (c *ConflictChecker) Check(ctx context.Context, candidate *models.SceneRule) ([]models.RuleConflict, error) {
	candSpec, err := DecodeTrigger(candidate)
	if err != nil {
		return nil, err
	}

	existing, err := c.rules.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	actionDeviceName := ""
	nameLoaded := false
	loadName := func() string {
		if !nameLoaded {
			nameLoaded = true
			if device, err := c.devices.GetByID(ctx, candidate.ActionDeviceID); err == nil {
				actionDeviceName = device.Name
			}
		}
		return actionDeviceName
	}

	var conflicts []models.RuleConflict
	for i := range existing {
		ex := &existing[i]
		if candidate.ID != 0 && ex.ID == candidate.ID {
			continue
		}
		if ex.TriggerDeviceID != candidate.TriggerDeviceID || ex.ActionDeviceID != candidate.ActionDeviceID {
			continue
		}
		exSpec, err := DecodeTrigger(ex)
		if err != nil {
			// Undecodable stored rules cannot be reasoned about; skip them.
			continue
		}
		if !triggersOverlap(candSpec, exSpec) {
			continue
		}
		if item := classifyActionConflict(candidate, ex, loadName()); item != nil {
			conflicts = append(conflicts, *item)
		}
	}
	return conflicts, nil
}

// triggersOverlap decides whether two triggers on the same device can be
// satisfied at the same time. Numeric triggers overlap when they watch the
// same field and their open value intervals intersect; time triggers when
// their windows intersect and their state gates are compatible. A numeric
// trigger never overlaps a time trigger.
func triggersOverlap(a, b TriggerSpec) bool {
	aTime, aIsTime := a.(TimeState)
	bTime, bIsTime := b.(TimeState)
	if aIsTime != bIsTime {
		return false
	}
	if aIsTime {
		return timeWindowsOverlap(aTime, bTime) && statePredicatesCompatible(aTime, bTime)
	}
	if triggerField(a) != triggerField(b) {
		return false
	}
	return intervalsOverlap(numericIntervals(a), numericIntervals(b))
}

func intervalsOverlap(a, b [][2]float64) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	for _, ia := range a {
		for _, ib := range b {
			if math.Max(ia[0], ib[0]) < math.Min(ia[1], ib[1]) {
				return true
			}
		}
	}
	return false
}

func timeWindowsOverlap(a, b TimeState) bool {
	for _, wa := range a.windows() {
		for _, wb := range b.windows() {
			lo := wa[0]
			if wb[0] > lo {
				lo = wb[0]
			}
			hi := wa[1]
			if wb[1] < hi {
				hi = wb[1]
			}
			if lo < hi {
				return true
			}
		}
	}
	return false
}

// statePredicatesCompatible reports whether two state gates can hold at
// once. Different gating devices can always both be satisfied; an empty
// gate is satisfied by anything; otherwise every shared key must expect the
// same value.
func statePredicatesCompatible(a, b TimeState) bool {
	if a.StateDeviceID != 0 && b.StateDeviceID != 0 && a.StateDeviceID != b.StateDeviceID {
		return false
	}
	if len(a.StateValue) == 0 || len(b.StateValue) == 0 {
		return true
	}
	for key, wantA := range a.StateValue {
		wantB, shared := b.StateValue[key]
		if !shared {
			continue
		}
		if !stateValuesMatch(key, wantA, wantB) {
			return false
		}
	}
	return true
}

// classifyActionConflict walks the contradiction ladder for two rules that
// can fire together on the same actuator. The first matching rung decides
// the reported field and message; compatible actions return nil.
func classifyActionConflict(candidate, existing *models.SceneRule, deviceName string) *models.RuleConflict {
	cand := signatureOf(candidate)
	ex := signatureOf(existing)

	var field, message string
	switch {
	case cand.toggle && ex.toggle:
		field = "action_type"
		message = "Both rules toggle the same device and may flip it back and forth"
	case cand.toggle || ex.toggle:
		field = "action_type"
		message = "One of the rules toggles the device and may cancel the other's effect"
	case cand.equal(ex):
		field = "trigger_value"
		message = "Duplicate rule: overlapping trigger with an identical action"
	case explicitOnOff(candidate.ActionType, existing.ActionType):
		field = "action_type"
		message = "Conflicting actions: one rule turns the device on while the other turns it off"
	case offVersusSetter(cand, ex):
		field = "action_type"
		message = "Conflicting actions: one rule turns the device off while the other adjusts it"
	case cand.temp != nil && ex.temp != nil && *cand.temp != *ex.temp:
		field = "action_value"
		message = fmt.Sprintf("Conflicting target temperatures: %g°C vs %g°C", *cand.temp, *ex.temp)
	case cand.speed != nil && ex.speed != nil && *cand.speed != *ex.speed:
		field = "action_value"
		message = fmt.Sprintf("Conflicting fan speeds: %d vs %d", *cand.speed, *ex.speed)
	default:
		return nil
	}

	return &models.RuleConflict{
		RuleID:             existing.ID,
		RuleName:           existing.Name,
		ConflictField:      field,
		ConflictFieldLabel: conflictFieldLabels[field],
		ActionDeviceID:     existing.ActionDeviceID,
		ActionDeviceName:   deviceName,
		Message:            message,
	}
}

func explicitOnOff(a, b string) bool {
	return (a == models.ActionTurnOn && b == models.ActionTurnOff) ||
		(a == models.ActionTurnOff && b == models.ActionTurnOn)
}

func offVersusSetter(a, b actionSignature) bool {
	return (isOff(a) && hasSetter(b)) || (isOff(b) && hasSetter(a))
}

func isOff(s actionSignature) bool {
	return s.on != nil && !*s.on
}

func hasSetter(s actionSignature) bool {
	return s.temp != nil || s.speed != nil
}
