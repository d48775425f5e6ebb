package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Scene rule trigger and action type ids.
const (
	TriggerThresholdAbove = "THRESHOLD_ABOVE"
	TriggerThresholdBelow = "THRESHOLD_BELOW"
	TriggerRangeOut       = "RANGE_OUT"
	TriggerTimeState      = "TIME_STATE"

	ActionToggle      = "TOGGLE"
	ActionTurnOn      = "TURN_ON"
	ActionTurnOff     = "TURN_OFF"
	ActionSetTemp     = "SET_TEMP"
	ActionSetFanSpeed = "SET_FAN_SPEED"
)

// Email alert rule preset ids.
const (
	PresetTempHigh = "temp_high"
	PresetTempLow  = "temp_low"
	PresetHumiHigh = "humi_high"
	PresetHumiLow  = "humi_low"
	PresetSmoke    = "smoke"
	PresetCustom   = "custom"
)

// PresetDisplayNames maps alert presets to human-readable labels used by the
// {preset} template placeholder.
var PresetDisplayNames = map[string]string{
	PresetTempHigh: "High Temperature",
	PresetTempLow:  "Low Temperature",
	PresetHumiHigh: "High Humidity",
	PresetHumiLow:  "Low Humidity",
	PresetSmoke:    "Smoke Alarm",
	PresetCustom:   "Custom",
}

// PresetDisplay returns the label for a preset id, falling back to the id.
func PresetDisplay(preset string) string {
	if name, ok := PresetDisplayNames[preset]; ok {
		return name
	}
	return preset
}

// StringList is a JSON string array persisted as JSONB.
type StringList []string

// Value implements the driver.Valuer interface for JSONB columns.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements the sql.Scanner interface for JSONB columns.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*l = StringList{}
		return nil
	}
	if len(bytes) == 0 {
		*l = StringList{}
		return nil
	}

	return json.Unmarshal(bytes, l)
}

// SceneRule represents one reactive automation rule. The trigger and action
// value columns stay raw JSON here; internal/scenes decodes them into typed
// trigger variants.
type SceneRule struct {
	ID                   int64           `json:"id"`
	OwnerID              int64           `json:"owner_id"`
	Name                 string          `json:"name"`
	Enabled              bool            `json:"enabled"`
	TriggerType          string          `json:"trigger_type"`
	TriggerDeviceID      int64           `json:"trigger_device_id"`
	TriggerField         string          `json:"trigger_field"`
	TriggerValue         json.RawMessage `json:"trigger_value,omitempty"`
	TriggerTimeStart     *string         `json:"trigger_time_start,omitempty"`
	TriggerTimeEnd       *string         `json:"trigger_time_end,omitempty"`
	TriggerStateDeviceID *int64          `json:"trigger_state_device_id,omitempty"`
	TriggerStateValue    json.RawMessage `json:"trigger_state_value,omitempty"`
	ActionDeviceID       int64           `json:"action_device_id"`
	ActionType           string          `json:"action_type"`
	ActionValue          json.RawMessage `json:"action_value,omitempty"`
	DebounceSeconds      int             `json:"debounce_seconds"`
	LastTriggeredAt      *time.Time      `json:"last_triggered_at"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// RuleConflict describes why a scene rule save was rejected.
type RuleConflict struct {
	RuleID             int64  `json:"rule_id"`
	RuleName           string `json:"rule_name"`
	ConflictField      string `json:"conflict_field"`
	ConflictFieldLabel string `json:"conflict_field_label"`
	ActionDeviceID     int64  `json:"action_device_id"`
	ActionDeviceName   string `json:"action_device_name"`
	Message            string `json:"message"`
}

// EmailAlertRule represents one notification rule evaluated per report field.
type EmailAlertRule struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Enabled         bool       `json:"enabled"`
	Preset          string     `json:"preset"`
	TriggerDeviceID int64      `json:"trigger_device_id"`
	TriggerField    string     `json:"trigger_field"`
	TriggerValue    *float64   `json:"trigger_value"`
	TriggerAbove    bool       `json:"trigger_above"`
	Recipients      StringList `json:"recipients"`
	CCList          StringList `json:"cc_list"`
	SubjectTemplate string     `json:"subject_template"`
	BodyTemplate    string     `json:"body_template"`
	LastTriggeredAt *time.Time `json:"last_triggered_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
