package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sleep4at/Smart-Home-System/internal/store"
	"github.com/sleep4at/Smart-Home-System/pkg/logging"
	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

// AlertRuleHandlers serves the email alert rule CRUD. The whole group is
// admin-only; the router gates it so the handlers don't re-check.
type AlertRuleHandlers struct {
	rules   store.EmailAlertRuleStore
	devices store.DeviceStore
	logger  logging.Logger
}

func NewAlertRuleHandlers(rules store.EmailAlertRuleStore, devices store.DeviceStore, logger logging.Logger) *AlertRuleHandlers {
	return &AlertRuleHandlers{rules: rules, devices: devices, logger: logger}
}

type alertRulePayload struct {
	Name            *string           `json:"name"`
	Enabled         *bool             `json:"enabled"`
	Preset          *string           `json:"preset"`
	TriggerDeviceID *int64            `json:"trigger_device_id"`
	TriggerField    *string           `json:"trigger_field"`
	TriggerValue    *float64          `json:"trigger_value"`
	TriggerAbove    *bool             `json:"trigger_above"`
	Recipients      models.StringList `json:"recipients"`
	CCList          models.StringList `json:"cc_list"`
	SubjectTemplate *string           `json:"subject_template"`
	BodyTemplate    *string           `json:"body_template"`
}

func (p *alertRulePayload) applyTo(rule *models.EmailAlertRule) {
	if p.Name != nil {
		rule.Name = *p.Name
	}
	if p.Enabled != nil {
		rule.Enabled = *p.Enabled
	}
	if p.Preset != nil {
		rule.Preset = *p.Preset
	}
	if p.TriggerDeviceID != nil {
		rule.TriggerDeviceID = *p.TriggerDeviceID
	}
	if p.TriggerField != nil {
		rule.TriggerField = *p.TriggerField
	}
	if p.TriggerValue != nil {
		rule.TriggerValue = p.TriggerValue
	}
	if p.TriggerAbove != nil {
		rule.TriggerAbove = *p.TriggerAbove
	}
	if p.Recipients != nil {
		rule.Recipients = p.Recipients
	}
	if p.CCList != nil {
		rule.CCList = p.CCList
	}
	if p.SubjectTemplate != nil {
		rule.SubjectTemplate = *p.SubjectTemplate
	}
	if p.BodyTemplate != nil {
		rule.BodyTemplate = *p.BodyTemplate
	}
}

// List returns every alert rule. GET /alert-rules
func (h *AlertRuleHandlers) List(c *gin.Context) {
	rules, err := h.rules.ListAll(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list alert rules")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list rules"})
		return
	}
	if rules == nil {
		rules = []models.EmailAlertRule{}
	}
	c.JSON(http.StatusOK, rules)
}

// Create saves a new alert rule. POST /alert-rules
func (h *AlertRuleHandlers) Create(c *gin.Context) {
	var payload alertRulePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule payload"})
		return
	}

	rule := models.EmailAlertRule{
		Enabled:      true,
		Preset:       models.PresetTempHigh,
		TriggerField: "temp",
		TriggerAbove: true,
	}
	payload.applyTo(&rule)

	if !h.validate(c, &rule) {
		return
	}

	created, err := h.rules.Create(c.Request.Context(), rule)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create alert rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create rule"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

// Get returns one alert rule. GET /alert-rules/:id
func (h *AlertRuleHandlers) Get(c *gin.Context) {
	rule, ok := h.loadRule(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rule)
}

// Update merges the payload into the stored rule. PUT /alert-rules/:id
func (h *AlertRuleHandlers) Update(c *gin.Context) {
	rule, ok := h.loadRule(c)
	if !ok {
		return
	}

	var payload alertRulePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule payload"})
		return
	}
	payload.applyTo(&rule)

	if !h.validate(c, &rule) {
		return
	}

	updated, err := h.rules.Update(c.Request.Context(), rule)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}
		h.logger.WithError(err).Error("Failed to update alert rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update rule"})
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Delete removes an alert rule. DELETE /alert-rules/:id
func (h *AlertRuleHandlers) Delete(c *gin.Context) {
	rule, ok := h.loadRule(c)
	if !ok {
		return
	}
	if err := h.rules.Delete(c.Request.Context(), rule.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}
		h.logger.WithError(err).Error("Failed to delete alert rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete rule"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ToggleEnabled flips the enabled flag. POST /alert-rules/:id/toggle_enabled
func (h *AlertRuleHandlers) ToggleEnabled(c *gin.Context) {
	rule, ok := h.loadRule(c)
	if !ok {
		return
	}
	enabled := !rule.Enabled
	if err := h.rules.SetEnabled(c.Request.Context(), rule.ID, enabled); err != nil {
		h.logger.WithError(err).Error("Failed to toggle alert rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not toggle rule"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

func (h *AlertRuleHandlers) validate(c *gin.Context, rule *models.EmailAlertRule) bool {
	if strings.TrimSpace(rule.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return false
	}
	if _, known := models.PresetDisplayNames[rule.Preset]; !known {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown preset"})
		return false
	}
	if rule.TriggerDeviceID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trigger_device_id is required"})
		return false
	}
	if _, err := h.devices.GetByID(c.Request.Context(), rule.TriggerDeviceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "trigger device not found"})
			return false
		}
		h.logger.WithError(err).Error("Failed to validate alert rule device")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not validate rule"})
		return false
	}
	return true
}

func (h *AlertRuleHandlers) loadRule(c *gin.Context) (models.EmailAlertRule, bool) {
	id, ok := pathID(c)
	if !ok {
		return models.EmailAlertRule{}, false
	}
	rule, err := h.rules.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return models.EmailAlertRule{}, false
		}
		h.logger.WithError(err).Error("Failed to load alert rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load rule"})
		return models.EmailAlertRule{}, false
	}
	return rule, true
}
