package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sleep4at/Smart-Home-System/internal/metrics"
	"github.com/sleep4at/Smart-Home-System/internal/store"
	"github.com/sleep4at/Smart-Home-System/pkg/auth"
	"github.com/sleep4at/Smart-Home-System/pkg/logging"
	"github.com/sleep4at/Smart-Home-System/pkg/models"
	"github.com/sleep4at/Smart-Home-System/pkg/mqtt"
)

var historyRanges = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"3d":  3 * 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
}

// DeviceHandlers serves the device registry, history reads, and the manual
// command endpoints. Commands merge into current_state first and publish to
// the bus second; an unreachable broker never blocks the state change.
type DeviceHandlers struct {
	devices   store.DeviceStore
	history   store.DeviceDataStore
	users     store.UserStore
	publisher mqtt.Publisher
	topics    mqtt.Config
	logger    logging.Logger
	metrics   *metrics.Metrics

	now func() time.Time
}

func NewDeviceHandlers(devices store.DeviceStore, history store.DeviceDataStore, users store.UserStore, publisher mqtt.Publisher, topics mqtt.Config, logger logging.Logger, m *metrics.Metrics) *DeviceHandlers {
	return &DeviceHandlers{
		devices:   devices,
		history:   history,
		users:     users,
		publisher: publisher,
		topics:    topics,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// List returns the devices visible to the caller. GET /devices
func (h *DeviceHandlers) List(c *gin.Context) {
	devices, err := h.devices.ListVisible(c.Request.Context(), auth.UserID(c), auth.IsAdmin(c))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list devices")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list devices"})
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	c.JSON(http.StatusOK, devices)
}

// Types returns the device type options for the admin registry forms.
// GET /device-types
func (h *DeviceHandlers) Types(c *gin.Context) {
	options := make([]gin.H, 0, len(models.DeviceTypes))
	for _, id := range models.DeviceTypes {
		options = append(options, gin.H{"value": id, "label": models.DeviceTypeDisplay(id)})
	}
	c.JSON(http.StatusOK, options)
}

// Get returns one device. GET /devices/:id
func (h *DeviceHandlers) Get(c *gin.Context) {
	device, ok := h.loadVisibleDevice(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, device)
}

type devicePayload struct {
	Name         string          `json:"name" binding:"required"`
	Type         string          `json:"type" binding:"required"`
	Location     string          `json:"location"`
	IsPublic     bool            `json:"is_public"`
	OwnerID      *int64          `json:"owner_id"`
	CurrentState models.StateMap `json:"current_state"`
}

func (h *DeviceHandlers) validatePayload(c *gin.Context, payload *devicePayload) bool {
	if _, known := models.DeviceTypeDisplayNames[payload.Type]; !known {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown device type"})
		return false
	}
	if payload.OwnerID != nil {
		if _, err := h.users.GetByID(c.Request.Context(), *payload.OwnerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "owner not found"})
				return false
			}
			h.logger.WithError(err).Error("Failed to validate device owner")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not validate owner"})
			return false
		}
	}
	return true
}

// Create registers a device. POST /devices (admin)
func (h *DeviceHandlers) Create(c *gin.Context) {
	var payload devicePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device payload"})
		return
	}
	if !h.validatePayload(c, &payload) {
		return
	}

	device, err := h.devices.Create(c.Request.Context(), models.Device{
		Name:         payload.Name,
		Type:         payload.Type,
		Location:     payload.Location,
		IsPublic:     payload.IsPublic,
		OwnerID:      payload.OwnerID,
		CurrentState: payload.CurrentState,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to create device")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create device"})
		return
	}
	c.JSON(http.StatusCreated, device)
}

// Update rewrites a device's registry fields. Live state and liveness stay
// untouched; those belong to the gateway. PUT /devices/:id (admin)
func (h *DeviceHandlers) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var payload devicePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device payload"})
		return
	}
	if !h.validatePayload(c, &payload) {
		return
	}

	device, err := h.devices.Update(c.Request.Context(), models.Device{
		ID:       id,
		Name:     payload.Name,
		Type:     payload.Type,
		Location: payload.Location,
		IsPublic: payload.IsPublic,
		OwnerID:  payload.OwnerID,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		h.logger.WithError(err).Error("Failed to update device")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update device"})
		return
	}
	c.JSON(http.StatusOK, device)
}

// Delete removes a device and its dependent rows. DELETE /devices/:id (admin)
func (h *DeviceHandlers) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.devices.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		h.logger.WithError(err).Error("Failed to delete device")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete device"})
		return
	}
	c.Status(http.StatusNoContent)
}

// History returns ascending raw telemetry for the chart views.
// GET /devices/:id/history?range=24h|3d|7d
func (h *DeviceHandlers) History(c *gin.Context) {
	device, ok := h.loadVisibleDevice(c)
	if !ok {
		return
	}

	rangeValue := c.DefaultQuery("range", "24h")
	window, known := historyRanges[rangeValue]
	if !known {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}

	rows, err := h.history.HistoryAsc(c.Request.Context(), device.ID, h.now().Add(-window))
	if err != nil {
		h.logger.WithError(err).Error("Failed to load device history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load history"})
		return
	}

	points := make([]models.HistoryPoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, models.HistoryPoint{Timestamp: row.Timestamp, Data: row.Data})
	}
	c.JSON(http.StatusOK, gin.H{"device_id": device.ID, "range": rangeValue, "points": points})
}

type togglePayload struct {
	State *bool `json:"state"`
}

// Toggle flips or sets a device's on state. An absent body flips the current
// value. POST /devices/:id/toggle
func (h *DeviceHandlers) Toggle(c *gin.Context) {
	device, ok := h.loadVisibleDevice(c)
	if !ok {
		return
	}

	// An empty body is a plain flip, so EOF is not an error here.
	var payload togglePayload
	if err := c.ShouldBindJSON(&payload); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state must be a boolean"})
		return
	}

	var desired models.StateMap
	if payload.State != nil {
		desired = models.StateMap{"on": *payload.State}
	} else {
		desired = models.StateMap{"on": !models.Truthy(device.CurrentState["on"])}
	}

	h.applyCommand(c, device, desired)
}

type setTempPayload struct {
	Temp *float64 `json:"temp" binding:"required"`
}

// SetTemp sets a climate target and turns the device on.
// POST /devices/:id/set_temp
func (h *DeviceHandlers) SetTemp(c *gin.Context) {
	device, ok := h.loadVisibleDevice(c)
	if !ok {
		return
	}
	var payload setTempPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "temp must be a number"})
		return
	}
	h.applyCommand(c, device, models.StateMap{"temp": *payload.Temp, "on": true})
}

type setFanSpeedPayload struct {
	Speed *float64 `json:"speed" binding:"required"`
}

// SetFanSpeed sets a fan level and turns the device on.
// POST /devices/:id/set_fan_speed
func (h *DeviceHandlers) SetFanSpeed(c *gin.Context) {
	device, ok := h.loadVisibleDevice(c)
	if !ok {
		return
	}
	var payload setFanSpeedPayload
	if err := c.ShouldBindJSON(&payload); err != nil || *payload.Speed != math.Trunc(*payload.Speed) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "speed must be an integer"})
		return
	}
	h.applyCommand(c, device, models.StateMap{"speed": int(*payload.Speed), "on": true})
}

// applyCommand merges the desired fields, publishes the downlink command,
// and answers with the merged state. Publish failures only log: the device
// reconciles against current_state on its next report.
func (h *DeviceHandlers) applyCommand(c *gin.Context, device models.Device, desired models.StateMap) {
	merged, err := h.devices.MergeState(c.Request.Context(), device.ID, desired)
	if err != nil {
		h.logger.WithError(err).WithFields(logging.Fields{"device_id": device.ID}).Error("Failed to persist device command")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not apply command"})
		return
	}

	data, err := json.Marshal(desired)
	if err == nil {
		err = h.publisher.Publish(h.topics.CommandTopic(device.ID), 1, data)
	}
	if err != nil {
		h.logger.WithError(err).WithFields(logging.Fields{
			"device_id": device.ID,
		}).Error("Failed to publish device command")
		h.countCommand("error")
	} else {
		h.countCommand("ok")
	}

	c.JSON(http.StatusOK, gin.H{"current_state": merged.CurrentState})
}

func (h *DeviceHandlers) countCommand(status string) {
	if h.metrics == nil {
		return
	}
	h.metrics.BusMessages.WithLabelValues("cmd", "publish", status).Inc()
}

// loadVisibleDevice resolves :id, answering 404 for unknown devices and 403
// for devices outside the caller's view.
func (h *DeviceHandlers) loadVisibleDevice(c *gin.Context) (models.Device, bool) {
	id, ok := pathID(c)
	if !ok {
		return models.Device{}, false
	}
	device, err := h.devices.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return models.Device{}, false
		}
		h.logger.WithError(err).Error("Failed to load device")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load device"})
		return models.Device{}, false
	}
	if !deviceVisible(device, auth.UserID(c), auth.IsAdmin(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your device"})
		return models.Device{}, false
	}
	return device, true
}
