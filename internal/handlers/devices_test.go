package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

func seedDevices() []models.Device {
	return []models.Device{
		{ID: 1, Name: "Bedroom Lamp", Type: models.DeviceTypeLampSwitch, OwnerID: int64Ptr(residentID),
			IsOnline: true, CurrentState: models.StateMap{"on": true}},
		{ID: 2, Name: "Living Room Sensor", Type: models.DeviceTypeTempHumi, IsPublic: true,
			IsOnline: true, CurrentState: models.StateMap{"temp": 24.5, "humi": 40.0}},
		{ID: 3, Name: "Neighbor AC", Type: models.DeviceTypeACSwitch, OwnerID: int64Ptr(neighborID),
			CurrentState: models.StateMap{"on": false, "temp": 26.0}},
	}
}

func deviceIDs(devices []models.Device) []int64 {
	ids := make([]int64, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	return ids
}

func TestDeviceListVisibility(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)

	var listed []models.Device
	decodeJSON(t, rig.exec(t, http.MethodGet, "/api/devices", rig.resident, nil), &listed)
	assert.Equal(t, []int64{1, 2}, deviceIDs(listed))

	decodeJSON(t, rig.exec(t, http.MethodGet, "/api/devices", rig.neighbor, nil), &listed)
	assert.Equal(t, []int64{2, 3}, deviceIDs(listed))

	decodeJSON(t, rig.exec(t, http.MethodGet, "/api/devices", rig.admin, nil), &listed)
	assert.Equal(t, []int64{1, 2, 3}, deviceIDs(listed))
}

func TestDeviceListRequiresAuth(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)

	w := rig.exec(t, http.MethodGet, "/api/devices", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = rig.exec(t, http.MethodGet, "/api/devices", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDeviceGetUnknownBeforeForbidden(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)

	// Unknown id is a 404 for everyone, including the admin.
	w := rig.exec(t, http.MethodGet, "/api/devices/555", rig.admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// A known but private device belonging to someone else is a 403.
	w = rig.exec(t, http.MethodGet, "/api/devices/3", rig.resident, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Public devices are readable by any authenticated user.
	w = rig.exec(t, http.MethodGet, "/api/devices/2", rig.resident, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var device models.Device
	decodeJSON(t, w, &device)
	assert.Equal(t, "Living Room Sensor", device.Name)
	assert.Equal(t, "Temperature & Humidity Sensor", device.TypeDisplay)
}

func TestDeviceGetRejectsGarbageID(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)

	w := rig.exec(t, http.MethodGet, "/api/devices/banana", rig.admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeviceTypesAdminOnly(t *testing.T) {
	rig := newAPIRig(t)

	w := rig.exec(t, http.MethodGet, "/api/device-types", rig.resident, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = rig.exec(t, http.MethodGet, "/api/device-types", rig.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var options []map[string]string
	decodeJSON(t, w, &options)
	require.Len(t, options, len(models.DeviceTypes))
	assert.Equal(t, "TEMP_HUMI", options[0]["value"])
	assert.Equal(t, "Temperature & Humidity Sensor", options[0]["label"])
}

func TestDeviceCreate(t *testing.T) {
	rig := newAPIRig(t)

	payload := map[string]interface{}{
		"name":     "Hall Motion",
		"type":     models.DeviceTypePIR,
		"location": "hallway",
		"owner_id": residentID,
	}

	w := rig.exec(t, http.MethodPost, "/api/devices", rig.resident, payload)
	assert.Equal(t, http.StatusForbidden, w.Code, "registry writes are admin-only")

	w = rig.exec(t, http.MethodPost, "/api/devices", rig.admin, payload)
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.Device
	decodeJSON(t, w, &created)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "Motion Sensor", created.TypeDisplay)
	require.NotNil(t, created.OwnerID)
	assert.Equal(t, residentID, *created.OwnerID)
	assert.NotNil(t, created.CurrentState)
}

func TestDeviceCreateValidation(t *testing.T) {
	rig := newAPIRig(t)

	w := rig.exec(t, http.MethodPost, "/api/devices", rig.admin,
		map[string]interface{}{"name": "X", "type": "TOASTER"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown device type")

	w = rig.exec(t, http.MethodPost, "/api/devices", rig.admin,
		map[string]interface{}{"name": "X", "type": models.DeviceTypeLampSwitch, "owner_id": 12345})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "owner not found")

	w = rig.exec(t, http.MethodPost, "/api/devices", rig.admin,
		map[string]interface{}{"type": models.DeviceTypeLampSwitch})
	assert.Equal(t, http.StatusBadRequest, w.Code, "name is required")
}

func TestDeviceUpdateKeepsLiveState(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)

	w := rig.exec(t, http.MethodPut, "/api/devices/1", rig.admin, map[string]interface{}{
		"name":      "Bedside Lamp",
		"type":      models.DeviceTypeLampSwitch,
		"location":  "bedroom",
		"is_public": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var updated models.Device
	decodeJSON(t, w, &updated)
	assert.Equal(t, "Bedside Lamp", updated.Name)
	assert.True(t, updated.IsPublic)
	assert.Equal(t, true, updated.CurrentState["on"], "registry edits must not clear live state")

	w = rig.exec(t, http.MethodPut, "/api/devices/555", rig.admin, map[string]interface{}{
		"name": "Ghost", "type": models.DeviceTypeLampSwitch,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeviceDelete(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)

	w := rig.exec(t, http.MethodDelete, "/api/devices/1", rig.admin, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = rig.exec(t, http.MethodGet, "/api/devices/1", rig.admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = rig.exec(t, http.MethodDelete, "/api/devices/1", rig.admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeviceHistoryRanges(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)
	for _, age := range []time.Duration{30 * time.Hour, 2 * time.Hour, time.Hour} {
		require.NoError(t, rig.history.Insert(context.Background(), 2, apiNow.Add(-age), models.StateMap{"temp": 20.0}))
	}

	w := rig.exec(t, http.MethodGet, "/api/devices/2/history", rig.resident, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		DeviceID int64                 `json:"device_id"`
		Range    string                `json:"range"`
		Points   []models.HistoryPoint `json:"points"`
	}
	decodeJSON(t, w, &resp)
	assert.Equal(t, int64(2), resp.DeviceID)
	assert.Equal(t, "24h", resp.Range)
	require.Len(t, resp.Points, 2, "the 30h-old row falls outside the default window")
	assert.True(t, resp.Points[0].Timestamp.Before(resp.Points[1].Timestamp), "points are ascending")

	w = rig.exec(t, http.MethodGet, "/api/devices/2/history?range=3d", rig.resident, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &resp)
	assert.Len(t, resp.Points, 3)
	assert.Equal(t, "3d", resp.Range)

	w = rig.exec(t, http.MethodGet, "/api/devices/2/history?range=1y", rig.resident, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeviceHistoryHonorsVisibility(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)

	w := rig.exec(t, http.MethodGet, "/api/devices/3/history", rig.resident, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestToggleFlipsWithoutBody(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)

	w := rig.exec(t, http.MethodPost, "/api/devices/1/toggle", rig.resident, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		CurrentState models.StateMap `json:"current_state"`
	}
	decodeJSON(t, w, &resp)
	assert.Equal(t, false, resp.CurrentState["on"])

	require.Len(t, rig.publisher.published, 1)
	cmd := rig.publisher.published[0]
	assert.Equal(t, "home/1/cmd", cmd.topic)
	assert.Equal(t, byte(1), cmd.qos)
	assert.JSONEq(t, `{"on":false}`, cmd.payload)

	// An empty JSON object flips too.
	w = rig.exec(t, http.MethodPost, "/api/devices/1/toggle", rig.resident, "{}")
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &resp)
	assert.Equal(t, true, resp.CurrentState["on"])
}

func TestToggleExplicitState(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)

	// Setting the already-current value is a set, not a flip.
	w := rig.exec(t, http.MethodPost, "/api/devices/1/toggle", rig.resident,
		map[string]interface{}{"state": true})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		CurrentState models.StateMap `json:"current_state"`
	}
	decodeJSON(t, w, &resp)
	assert.Equal(t, true, resp.CurrentState["on"])

	w = rig.exec(t, http.MethodPost, "/api/devices/1/toggle", rig.resident,
		map[string]interface{}{"state": "yes"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "state must be a boolean")
}

func TestToggleRespectsVisibility(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)

	w := rig.exec(t, http.MethodPost, "/api/devices/3/toggle", rig.resident, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, rig.publisher.published)
	assert.Empty(t, rig.devices.merged)
}

func TestCommandsReachOfflineDevices(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)

	// Device 3 is offline; the command still merges and publishes so the
	// device reconciles when it returns.
	w := rig.exec(t, http.MethodPost, "/api/devices/3/toggle", rig.neighbor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, rig.publisher.published, 1)
	assert.Equal(t, "home/3/cmd", rig.publisher.published[0].topic)
}

func TestCommandPublishFailureStillAnswers(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)
	rig.publisher.err = fmt.Errorf("broker down")

	w := rig.exec(t, http.MethodPost, "/api/devices/1/toggle", rig.resident, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		CurrentState models.StateMap `json:"current_state"`
	}
	decodeJSON(t, w, &resp)
	assert.Equal(t, false, resp.CurrentState["on"], "state change persists even when the publish fails")
	assert.Len(t, rig.devices.merged, 1)
}

func TestSetTemp(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)

	w := rig.exec(t, http.MethodPost, "/api/devices/3/set_temp", rig.neighbor,
		map[string]interface{}{"temp": 23.5})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		CurrentState models.StateMap `json:"current_state"`
	}
	decodeJSON(t, w, &resp)
	assert.Equal(t, 23.5, resp.CurrentState["temp"])
	assert.Equal(t, true, resp.CurrentState["on"], "set_temp turns the device on")

	require.Len(t, rig.publisher.published, 1)
	assert.JSONEq(t, `{"temp":23.5,"on":true}`, rig.publisher.published[0].payload)

	w = rig.exec(t, http.MethodPost, "/api/devices/3/set_temp", rig.neighbor, "{}")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "temp must be a number")
}

func TestSetFanSpeed(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)

	w := rig.exec(t, http.MethodPost, "/api/devices/1/set_fan_speed", rig.resident,
		map[string]interface{}{"speed": 2})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		CurrentState models.StateMap `json:"current_state"`
	}
	decodeJSON(t, w, &resp)
	assert.Equal(t, float64(2), resp.CurrentState["speed"])
	assert.Equal(t, true, resp.CurrentState["on"])
	require.Len(t, rig.publisher.published, 1)
	assert.JSONEq(t, `{"speed":2,"on":true}`, rig.publisher.published[0].payload)

	w = rig.exec(t, http.MethodPost, "/api/devices/1/set_fan_speed", rig.resident,
		map[string]interface{}{"speed": 2.5})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "speed must be an integer")

	w = rig.exec(t, http.MethodPost, "/api/devices/1/set_fan_speed", rig.resident, "{}")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
