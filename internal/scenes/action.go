package scenes

import (
	"encoding/json"

	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

const (
	defaultTargetTemp = 26.0
	defaultFanSpeed   = 1
)

// ActionPayload computes the state patch a rule's action writes. TOGGLE
// negates the actuator's current on flag; the setters force the device on
// alongside the parameter. Unknown action types return nil.
func ActionPayload(rule *models.SceneRule, current models.StateMap) models.StateMap {
	switch rule.ActionType {
	case models.ActionToggle:
		return models.StateMap{"on": !models.Truthy(current["on"])}
	case models.ActionTurnOn:
		return models.StateMap{"on": true}
	case models.ActionTurnOff:
		return models.StateMap{"on": false}
	case models.ActionSetTemp:
		temp := defaultTargetTemp
		if v, ok := actionScalar(rule.ActionValue, "temp"); ok {
			temp = v
		}
		return models.StateMap{"temp": temp, "on": true}
	case models.ActionSetFanSpeed:
		speed := defaultFanSpeed
		if v, ok := actionScalar(rule.ActionValue, "speed"); ok {
			speed = int(v)
		}
		return models.StateMap{"speed": speed, "on": true}
	}
	return nil
}

// actionScalar accepts a bare number or an object carrying the named key.
func actionScalar(raw json.RawMessage, key string) (float64, bool) {
	value, ok := decodeJSONValue(raw)
	if !ok {
		return 0, false
	}
	if wrapped, isMap := value.(map[string]interface{}); isMap {
		value = wrapped[key]
	}
	return models.Float(value)
}

// actionSignature is the comparable essence of an action, used to decide
// whether two rules steering the same device contradict each other.
type actionSignature struct {
	toggle bool
	on     *bool
	temp   *float64
	speed  *int
}

func signatureOf(rule *models.SceneRule) actionSignature {
	switch rule.ActionType {
	case models.ActionToggle:
		return actionSignature{toggle: true}
	case models.ActionTurnOn:
		on := true
		return actionSignature{on: &on}
	case models.ActionTurnOff:
		on := false
		return actionSignature{on: &on}
	case models.ActionSetTemp:
		on := true
		temp := defaultTargetTemp
		if v, ok := actionScalar(rule.ActionValue, "temp"); ok {
			temp = v
		}
		return actionSignature{on: &on, temp: &temp}
	case models.ActionSetFanSpeed:
		on := true
		speed := defaultFanSpeed
		if v, ok := actionScalar(rule.ActionValue, "speed"); ok {
			speed = int(v)
		}
		return actionSignature{on: &on, speed: &speed}
	}
	return actionSignature{}
}

func (s actionSignature) equal(other actionSignature) bool {
	return s.toggle == other.toggle &&
		eqBoolPtr(s.on, other.on) &&
		eqFloat64Ptr(s.temp, other.temp) &&
		eqIntPtr(s.speed, other.speed)
}

func eqBoolPtr(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqFloat64Ptr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
