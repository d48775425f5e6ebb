package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Device types understood by the gateway and the engines.
const (
	DeviceTypeTempHumi   = "TEMP_HUMI"
	DeviceTypeLight      = "LIGHT"
	DeviceTypePressure   = "PRESSURE"
	DeviceTypeLampSwitch = "LAMP_SWITCH"
	DeviceTypeACSwitch   = "AC_SWITCH"
	DeviceTypePIR        = "PIR"
	DeviceTypeFanSwitch  = "FAN_SWITCH"
	DeviceTypeSmoke      = "SMOKE"
)

// DeviceTypeDisplayNames maps device type ids to human-readable labels.
var DeviceTypeDisplayNames = map[string]string{
	DeviceTypeTempHumi:   "Temperature & Humidity Sensor",
	DeviceTypeLight:      "Light Sensor",
	DeviceTypePressure:   "Pressure Sensor",
	DeviceTypeLampSwitch: "Lamp Switch",
	DeviceTypeACSwitch:   "Air Conditioner",
	DeviceTypePIR:        "Motion Sensor",
	DeviceTypeFanSwitch:  "Fan Switch",
	DeviceTypeSmoke:      "Smoke Detector",
}

// DeviceTypes lists the known type ids in display order.
var DeviceTypes = []string{
	DeviceTypeTempHumi,
	DeviceTypeLight,
	DeviceTypePressure,
	DeviceTypeLampSwitch,
	DeviceTypeACSwitch,
	DeviceTypePIR,
	DeviceTypeFanSwitch,
	DeviceTypeSmoke,
}

// DeviceTypeDisplay returns the label for a type id, falling back to the id.
func DeviceTypeDisplay(deviceType string) string {
	if name, ok := DeviceTypeDisplayNames[deviceType]; ok {
		return name
	}
	return deviceType
}

// StateMap is the open per-device state bag persisted as JSONB.
type StateMap map[string]interface{}

// Value implements the driver.Valuer interface for JSONB columns.
func (m StateMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for JSONB columns.
func (m *StateMap) Scan(value interface{}) error {
	if value == nil {
		*m = StateMap{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*m = StateMap{}
		return nil
	}
	if len(bytes) == 0 {
		*m = StateMap{}
		return nil
	}

	return json.Unmarshal(bytes, m)
}

// Device represents a registered smart-home device.
type Device struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	TypeDisplay  string    `json:"type_display,omitempty"`
	Location     string    `json:"location"`
	IsOnline     bool      `json:"is_online"`
	IsPublic     bool      `json:"is_public"`
	OwnerID      *int64    `json:"owner_id"`
	CurrentState StateMap  `json:"current_state"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DeviceData represents one reported telemetry snapshot.
type DeviceData struct {
	ID        int64     `json:"id"`
	DeviceID  int64     `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      StateMap  `json:"data"`
}

// HistoryPoint is one entry of a device history response.
type HistoryPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Data      StateMap  `json:"data"`
}
