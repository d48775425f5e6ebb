package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sleep4at/Smart-Home-System/internal/scenes"
	"github.com/sleep4at/Smart-Home-System/internal/store"
	"github.com/sleep4at/Smart-Home-System/pkg/auth"
	"github.com/sleep4at/Smart-Home-System/pkg/logging"
	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

// defaultDebounceSeconds applies to new rules that do not set their own
// debounce window.
const defaultDebounceSeconds = 60

// SceneRuleHandlers serves scene rule CRUD. Regular users manage their own
// rules; admins manage everyone's. Every save runs structural validation and
// the cross-owner conflict scan before it touches the store.
type SceneRuleHandlers struct {
	rules   store.SceneRuleStore
	checker *scenes.ConflictChecker
	logger  logging.Logger
}

func NewSceneRuleHandlers(rules store.SceneRuleStore, checker *scenes.ConflictChecker, logger logging.Logger) *SceneRuleHandlers {
	return &SceneRuleHandlers{rules: rules, checker: checker, logger: logger}
}

// sceneRulePayload carries the writable rule fields. Pointers distinguish
// absent fields from zero values so updates can be partial.
type sceneRulePayload struct {
	Name                 *string         `json:"name"`
	Enabled              *bool           `json:"enabled"`
	TriggerType          *string         `json:"trigger_type"`
	TriggerDeviceID      *int64          `json:"trigger_device_id"`
	TriggerField         *string         `json:"trigger_field"`
	TriggerValue         json.RawMessage `json:"trigger_value"`
	TriggerTimeStart     *string         `json:"trigger_time_start"`
	TriggerTimeEnd       *string         `json:"trigger_time_end"`
	TriggerStateDeviceID *int64          `json:"trigger_state_device_id"`
	TriggerStateValue    json.RawMessage `json:"trigger_state_value"`
	ActionDeviceID       *int64          `json:"action_device_id"`
	ActionType           *string         `json:"action_type"`
	ActionValue          json.RawMessage `json:"action_value"`
	DebounceSeconds      *int            `json:"debounce_seconds"`
}

func (p *sceneRulePayload) applyTo(rule *models.SceneRule) {
	if p.Name != nil {
		rule.Name = *p.Name
	}
	if p.Enabled != nil {
		rule.Enabled = *p.Enabled
	}
	if p.TriggerType != nil {
		rule.TriggerType = *p.TriggerType
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
	if p.TriggerTimeStart != nil {
		rule.TriggerTimeStart = p.TriggerTimeStart
	}
	if p.TriggerTimeEnd != nil {
		rule.TriggerTimeEnd = p.TriggerTimeEnd
	}
	if p.TriggerStateDeviceID != nil {
		rule.TriggerStateDeviceID = p.TriggerStateDeviceID
	}
	if p.TriggerStateValue != nil {
		rule.TriggerStateValue = p.TriggerStateValue
	}
	if p.ActionDeviceID != nil {
		rule.ActionDeviceID = *p.ActionDeviceID
	}
	if p.ActionType != nil {
		rule.ActionType = *p.ActionType
	}
	if p.ActionValue != nil {
		rule.ActionValue = p.ActionValue
	}
	if p.DebounceSeconds != nil {
		rule.DebounceSeconds = *p.DebounceSeconds
	}
}

// List returns the caller's rules, or every rule for admins.
// GET /scene-rules
func (h *SceneRuleHandlers) List(c *gin.Context) {
	var (
		rules []models.SceneRule
		err   error
	)
	if auth.IsAdmin(c) {
		rules, err = h.rules.ListAll(c.Request.Context())
	} else {
		rules, err = h.rules.ListByOwner(c.Request.Context(), auth.UserID(c))
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to list scene rules")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list rules"})
		return
	}
	if rules == nil {
		rules = []models.SceneRule{}
	}
	c.JSON(http.StatusOK, rules)
}

// Create saves a new rule owned by the caller. POST /scene-rules
func (h *SceneRuleHandlers) Create(c *gin.Context) {
	var payload sceneRulePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule payload"})
		return
	}

	rule := models.SceneRule{
		OwnerID:         auth.UserID(c),
		Enabled:         true,
		DebounceSeconds: defaultDebounceSeconds,
	}
	payload.applyTo(&rule)

	if !h.validateAndCheck(c, &rule) {
		return
	}

	created, err := h.rules.Create(c.Request.Context(), rule)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create scene rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create rule"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

// Get returns one rule. GET /scene-rules/:id
func (h *SceneRuleHandlers) Get(c *gin.Context) {
	rule, ok := h.loadOwnedRule(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rule)
}

// Update merges the payload into the stored rule and re-validates it.
// Fields absent from the payload keep their stored values, so a rename
// alone round-trips without re-sending the trigger. PUT /scene-rules/:id
func (h *SceneRuleHandlers) Update(c *gin.Context) {
	rule, ok := h.loadOwnedRule(c)
	if !ok {
		return
	}

	var payload sceneRulePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule payload"})
		return
	}
	payload.applyTo(&rule)

	if !h.validateAndCheck(c, &rule) {
		return
	}

	updated, err := h.rules.Update(c.Request.Context(), rule)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}
		h.logger.WithError(err).Error("Failed to update scene rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update rule"})
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Delete removes a rule. DELETE /scene-rules/:id
func (h *SceneRuleHandlers) Delete(c *gin.Context) {
	rule, ok := h.loadOwnedRule(c)
	if !ok {
		return
	}
	if err := h.rules.Delete(c.Request.Context(), rule.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}
		h.logger.WithError(err).Error("Failed to delete scene rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete rule"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ToggleEnabled flips a rule's enabled flag without touching the rest of
// the row. POST /scene-rules/:id/toggle_enabled
func (h *SceneRuleHandlers) ToggleEnabled(c *gin.Context) {
	rule, ok := h.loadOwnedRule(c)
	if !ok {
		return
	}
	enabled := !rule.Enabled
	if err := h.rules.SetEnabled(c.Request.Context(), rule.ID, enabled); err != nil {
		h.logger.WithError(err).Error("Failed to toggle scene rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not toggle rule"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

// validateAndCheck rejects structurally invalid rules and rules that
// conflict with an existing one. Conflict responses carry the structured
// list so the UI can point at the offending rule.
func (h *SceneRuleHandlers) validateAndCheck(c *gin.Context, rule *models.SceneRule) bool {
	if err := scenes.ValidateRule(rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	conflicts, err := h.checker.Check(c.Request.Context(), rule)
	if err != nil {
		h.logger.WithError(err).Error("Scene rule conflict scan failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not validate rule"})
		return false
	}
	if len(conflicts) > 0 {
		messages := make([]string, 0, len(conflicts))
		for _, item := range conflicts {
			messages = append(messages, item.Message)
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "rule conflicts with existing rules",
			"errors":    messages,
			"conflicts": conflicts,
		})
		return false
	}
	return true
}

// loadOwnedRule fetches the rule at :id and enforces ownership: admins see
// everything, everyone else only their own rules.
func (h *SceneRuleHandlers) loadOwnedRule(c *gin.Context) (models.SceneRule, bool) {
	id, ok := pathID(c)
	if !ok {
		return models.SceneRule{}, false
	}
	rule, err := h.rules.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return models.SceneRule{}, false
		}
		h.logger.WithError(err).Error("Failed to load scene rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load rule"})
		return models.SceneRule{}, false
	}
	if !auth.IsAdmin(c) && rule.OwnerID != auth.UserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your rule"})
		return models.SceneRule{}, false
	}
	return rule, true
}
