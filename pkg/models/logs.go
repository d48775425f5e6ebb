package models

import "time"

// Log levels stored in system_logs.level.
const (
	LogLevelInfo  = "INFO"
	LogLevelWarn  = "WARN"
	LogLevelError = "ERROR"
)

// Log sources written by the core subsystems.
const (
	LogSourceMQTTLWT     = "MQTT_LWT"
	LogSourceMQTTGateway = "MQTT_GATEWAY"
	LogSourceSceneRule   = "SCENE_RULE"
	LogSourceEmailAlert  = "EMAIL_ALERT"
	LogSourceAlert       = "ALERT"
	LogSourceSystem      = "SYSTEM"
)

// SystemLog represents one application-domain event row. These are data
// visible to users, distinct from the process logs logrus emits.
type SystemLog struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Data      StateMap  `json:"data"`
	UserID    *int64    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
