package scenes

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

const minutesPerDay = 24 * 60

// TriggerSpec is the decoded, validated form of a rule's trigger columns.
// The raw JSON stays open-ended in the database; evaluation and conflict
// checking work on these variants.
type TriggerSpec interface {
	isTrigger()
}

// ThresholdAbove fires when a report field strictly exceeds the threshold.
type ThresholdAbove struct {
	Field     string
	Threshold float64
}

// ThresholdBelow fires when a report field falls strictly below the threshold.
type ThresholdBelow struct {
	Field     string
	Threshold float64
}

// RangeOut fires when a report field leaves the (Min, Max) band.
type RangeOut struct {
	Field string
	Min   float64
	Max   float64
}

// TimeState fires while the clock is inside a minutes-of-day window,
// optionally gated on another device's state.
type TimeState struct {
	StartMinutes  int
	EndMinutes    int
	StateDeviceID int64
	StateValue    map[string]interface{}
}

func (ThresholdAbove) isTrigger() {}
func (ThresholdBelow) isTrigger() {}
func (RangeOut) isTrigger()       {}
func (TimeState) isTrigger()      {}

// DecodeTrigger validates a rule's trigger columns and returns the typed
// variant. The error messages surface directly in API validation responses.
func DecodeTrigger(rule *models.SceneRule) (TriggerSpec, error) {
	switch rule.TriggerType {
	case models.TriggerThresholdAbove, models.TriggerThresholdBelow:
		if strings.TrimSpace(rule.TriggerField) == "" {
			return nil, fmt.Errorf("trigger_field is required for %s", rule.TriggerType)
		}
		threshold, ok := thresholdFrom(rule.TriggerValue)
		if !ok {
			return nil, fmt.Errorf("trigger_value must be numeric for %s", rule.TriggerType)
		}
		if rule.TriggerType == models.TriggerThresholdAbove {
			return ThresholdAbove{Field: rule.TriggerField, Threshold: threshold}, nil
		}
		return ThresholdBelow{Field: rule.TriggerField, Threshold: threshold}, nil

	case models.TriggerRangeOut:
		if strings.TrimSpace(rule.TriggerField) == "" {
			return nil, fmt.Errorf("trigger_field is required for %s", rule.TriggerType)
		}
		min, max, ok := rangeBoundsFrom(rule.TriggerValue)
		if !ok {
			return nil, fmt.Errorf("trigger_value must be an object with numeric min < max for %s", rule.TriggerType)
		}
		return RangeOut{Field: rule.TriggerField, Min: min, Max: max}, nil

	case models.TriggerTimeState:
		if rule.TriggerTimeStart == nil || rule.TriggerTimeEnd == nil {
			return nil, fmt.Errorf("trigger_time_start and trigger_time_end are required for %s", rule.TriggerType)
		}
		start, ok := parseMinutes(*rule.TriggerTimeStart)
		if !ok {
			return nil, fmt.Errorf("invalid trigger_time_start %q", *rule.TriggerTimeStart)
		}
		end, ok := parseMinutes(*rule.TriggerTimeEnd)
		if !ok {
			return nil, fmt.Errorf("invalid trigger_time_end %q", *rule.TriggerTimeEnd)
		}
		spec := TimeState{StartMinutes: start, EndMinutes: end}
		if rule.TriggerStateDeviceID != nil {
			spec.StateDeviceID = *rule.TriggerStateDeviceID
		}
		if len(rule.TriggerStateValue) > 0 {
			var wanted map[string]interface{}
			if err := json.Unmarshal(rule.TriggerStateValue, &wanted); err != nil {
				return nil, fmt.Errorf("trigger_state_value must be a JSON object")
			}
			spec.StateValue = wanted
		}
		return spec, nil
	}
	return nil, fmt.Errorf("unknown trigger type %q", rule.TriggerType)
}

// thresholdFrom accepts a bare JSON number (or numeric string) as well as
// the {"value": n} wire form.
func thresholdFrom(raw json.RawMessage) (float64, bool) {
	value, ok := decodeJSONValue(raw)
	if !ok {
		return 0, false
	}
	if wrapped, isMap := value.(map[string]interface{}); isMap {
		value = wrapped["value"]
	}
	return models.Float(value)
}

// rangeBoundsFrom requires a {"min": a, "max": b} object with a < b.
func rangeBoundsFrom(raw json.RawMessage) (float64, float64, bool) {
	value, ok := decodeJSONValue(raw)
	if !ok {
		return 0, 0, false
	}
	bounds, isMap := value.(map[string]interface{})
	if !isMap {
		return 0, 0, false
	}
	min, minOK := models.Float(bounds["min"])
	max, maxOK := models.Float(bounds["max"])
	if !minOK || !maxOK || min >= max {
		return 0, 0, false
	}
	return min, max, true
}

func decodeJSONValue(raw json.RawMessage) (interface{}, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false
	}
	return value, true
}

// parseMinutes converts "HH:MM" or "HH:MM:SS" to minutes past midnight.
func parseMinutes(value string) (int, bool) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, strings.TrimSpace(value)); err == nil {
			return t.Hour()*60 + t.Minute(), true
		}
	}
	return 0, false
}

// matchesReport evaluates a numeric trigger against a report payload. A
// missing or non-numeric field never fires.
func (tr ThresholdAbove) matchesReport(report models.StateMap) bool {
	value, ok := models.Float(report[tr.Field])
	return ok && value > tr.Threshold
}

func (tr ThresholdBelow) matchesReport(report models.StateMap) bool {
	value, ok := models.Float(report[tr.Field])
	return ok && value < tr.Threshold
}

func (tr RangeOut) matchesReport(report models.StateMap) bool {
	value, ok := models.Float(report[tr.Field])
	return ok && (value < tr.Min || value > tr.Max)
}

// windowContains tests the wall clock against the minutes-of-day window.
// Equal bounds mean the whole day; start after end wraps past midnight.
func (tr TimeState) windowContains(now time.Time) bool {
	minutes := now.Hour()*60 + now.Minute()
	switch {
	case tr.StartMinutes == tr.EndMinutes:
		return true
	case tr.StartMinutes < tr.EndMinutes:
		return minutes >= tr.StartMinutes && minutes < tr.EndMinutes
	default:
		return minutes >= tr.StartMinutes || minutes < tr.EndMinutes
	}
}

// stateMatches requires every expected key to match the gating device's
// current state.
func (tr TimeState) stateMatches(current models.StateMap) bool {
	for key, want := range tr.StateValue {
		if !stateValuesMatch(key, want, current[key]) {
			return false
		}
	}
	return true
}

// windows returns the evaluated minute intervals, split in two when the
// window wraps midnight.
func (tr TimeState) windows() [][2]int {
	switch {
	case tr.StartMinutes == tr.EndMinutes:
		return [][2]int{{0, minutesPerDay}}
	case tr.StartMinutes < tr.EndMinutes:
		return [][2]int{{tr.StartMinutes, tr.EndMinutes}}
	default:
		return [][2]int{{tr.StartMinutes, minutesPerDay}, {0, tr.EndMinutes}}
	}
}

// Keys whose state comparisons collapse to booleans regardless of the wire
// type the firmware happened to send.
var boolLikeKeys = map[string]bool{
	"on":       true,
	"motion":   true,
	"pir":      true,
	"value":    true,
	"detected": true,
	"alarm":    true,
	"smoke":    true,
}

// stateValuesMatch compares an expected state value with an observed one.
// Boolean-like keys compare truthiness, numbers compare numerically and
// everything else falls back to deep equality.
func stateValuesMatch(key string, want, got interface{}) bool {
	if boolLikeKeys[key] {
		return models.Truthy(want) == models.Truthy(got)
	}
	wantNum, wantOK := models.Float(want)
	gotNum, gotOK := models.Float(got)
	if wantOK && gotOK {
		return wantNum == gotNum
	}
	return reflect.DeepEqual(want, got)
}

// numericIntervals maps a numeric trigger onto the open value intervals it
// fires in. TIME_STATE triggers have no numeric footprint.
func numericIntervals(spec TriggerSpec) [][2]float64 {
	switch tr := spec.(type) {
	case ThresholdAbove:
		return [][2]float64{{tr.Threshold, math.Inf(1)}}
	case ThresholdBelow:
		return [][2]float64{{math.Inf(-1), tr.Threshold}}
	case RangeOut:
		return [][2]float64{{math.Inf(-1), tr.Min}, {tr.Max, math.Inf(1)}}
	}
	return nil
}

func triggerField(spec TriggerSpec) string {
	switch tr := spec.(type) {
	case ThresholdAbove:
		return tr.Field
	case ThresholdBelow:
		return tr.Field
	case RangeOut:
		return tr.Field
	}
	return ""
}
