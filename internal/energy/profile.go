package energy

import (
	"encoding/json"

	"github.com/sleep4at/Smart-Home-System/pkg/config"
	"github.com/sleep4at/Smart-Home-System/pkg/logging"
)

// Profile holds the per-type power constants used when a report carries no
// measured power.
type Profile struct {
	LampOnW     float64
	FanSpeed1W  float64
	FanSpeed2W  float64
	FanSpeed3W  float64
	ACBaseW     float64
	ACTempStepW float64
	ACMinW      float64
	ACMaxW      float64
	SensorIdleW float64
}

// DefaultProfile returns the built-in power constants.
func DefaultProfile() Profile {
	return Profile{
		LampOnW:     9.0,
		FanSpeed1W:  30.0,
		FanSpeed2W:  45.0,
		FanSpeed3W:  60.0,
		ACBaseW:     900.0,
		ACTempStepW: 25.0,
		ACMinW:      500.0,
		ACMaxW:      1500.0,
		SensorIdleW: 0.5,
	}
}

// ProfileFromEnv applies ENERGY_POWER_PROFILE overrides (a JSON object of
// constant name to watts) on top of the defaults. Malformed JSON or unknown
// keys are logged and skipped.
func ProfileFromEnv(logger logging.Logger) Profile {
	profile := DefaultProfile()

	raw := config.GetEnv("ENERGY_POWER_PROFILE", "")
	if raw == "" {
		return profile
	}

	var overrides map[string]float64
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		logger.WithError(err).Warn("Invalid ENERGY_POWER_PROFILE, using defaults")
		return profile
	}

	for key, value := range overrides {
		switch key {
		case "LAMP_ON_W":
			profile.LampOnW = value
		case "FAN_SPEED_1_W":
			profile.FanSpeed1W = value
		case "FAN_SPEED_2_W":
			profile.FanSpeed2W = value
		case "FAN_SPEED_3_W":
			profile.FanSpeed3W = value
		case "AC_BASE_W":
			profile.ACBaseW = value
		case "AC_TEMP_STEP_W":
			profile.ACTempStepW = value
		case "AC_MIN_W":
			profile.ACMinW = value
		case "AC_MAX_W":
			profile.ACMaxW = value
		case "SENSOR_IDLE_W":
			profile.SensorIdleW = value
		default:
			logger.WithFields(logging.Fields{"key": key}).Warn("Unknown ENERGY_POWER_PROFILE key")
		}
	}
	return profile
}
