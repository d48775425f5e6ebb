package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sleep4at/Smart-Home-System/internal/store"
	"github.com/sleep4at/Smart-Home-System/pkg/auth"
	"github.com/sleep4at/Smart-Home-System/pkg/logging"
	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

// LogHandlers serves the system log list shown on the activity page.
type LogHandlers struct {
	logs   store.SystemLogStore
	logger logging.Logger
}

func NewLogHandlers(logs store.SystemLogStore, logger logging.Logger) *LogHandlers {
	return &LogHandlers{logs: logs, logger: logger}
}

// List returns newest-first log rows. Non-admins see their own rows plus
// rows with no user attached. GET /logs?level=&source=&limit=
func (h *LogHandlers) List(c *gin.Context) {
	query := store.LogQuery{
		Level:   c.Query("level"),
		Source:  c.Query("source"),
		UserID:  auth.UserID(c),
		IsAdmin: auth.IsAdmin(c),
	}
	// A malformed limit falls back to the store default rather than failing
	// the whole page.
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			query.Limit = n
		}
	}

	entries, err := h.logs.List(c.Request.Context(), query)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list system logs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list logs"})
		return
	}
	if entries == nil {
		entries = []models.SystemLog{}
	}
	c.JSON(http.StatusOK, entries)
}
