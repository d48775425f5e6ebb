package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sleep4at/Smart-Home-System/internal/energy"
	"github.com/sleep4at/Smart-Home-System/internal/store"
	"github.com/sleep4at/Smart-Home-System/pkg/auth"
	"github.com/sleep4at/Smart-Home-System/pkg/logging"
	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

// EnergyHandlers serves the consumption reports. The device set defaults to
// everything the caller can see; ?device_ids narrows it within that view.
type EnergyHandlers struct {
	engine  *energy.Engine
	devices store.DeviceStore
	logger  logging.Logger

	now func() time.Time
}

func NewEnergyHandlers(engine *energy.Engine, devices store.DeviceStore, logger logging.Logger) *EnergyHandlers {
	return &EnergyHandlers{engine: engine, devices: devices, logger: logger, now: time.Now}
}

func (h *EnergyHandlers) analysisFor(c *gin.Context) (models.EnergyAnalysis, bool) {
	devices, err := h.devices.ListVisible(c.Request.Context(), auth.UserID(c), auth.IsAdmin(c))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list devices for energy analysis")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load devices"})
		return models.EnergyAnalysis{}, false
	}

	if raw := c.Query("device_ids"); raw != "" {
		wanted, ok := parseDeviceIDs(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device_ids"})
			return models.EnergyAnalysis{}, false
		}
		filtered := devices[:0]
		for _, device := range devices {
			if wanted[device.ID] {
				filtered = append(filtered, device)
			}
		}
		devices = filtered
	}

	rangeValue := energy.NormalizeRange(c.Query("range"))
	analysis, err := h.engine.BuildAnalysis(c.Request.Context(), devices, rangeValue, h.now())
	if err != nil {
		h.logger.WithError(err).Error("Failed to build energy analysis")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not build analysis"})
		return models.EnergyAnalysis{}, false
	}
	return analysis, true
}

// Analysis returns the full energy report.
// GET /energy/analysis?range=&device_ids=
func (h *EnergyHandlers) Analysis(c *gin.Context) {
	analysis, ok := h.analysisFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// ExportCSV streams the per-device breakdown as a spreadsheet download.
// GET /energy/analysis/export?range=&device_ids=
func (h *EnergyHandlers) ExportCSV(c *gin.Context) {
	analysis, ok := h.analysisFor(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=energy_analysis_%s.csv", analysis.Range))
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{
		"device_id", "name", "location", "type", "type_display",
		"energy_kwh", "cost", "peak_power_w", "avg_power_w", "monthly_runtime_hours",
	})
	for _, row := range analysis.DeviceBreakdown {
		runtime := ""
		if row.MonthlyRuntimeHours != nil {
			runtime = formatCSVFloat(*row.MonthlyRuntimeHours)
		}
		_ = w.Write([]string{
			strconv.FormatInt(row.DeviceID, 10),
			row.Name,
			row.Location,
			row.Type,
			row.TypeDisplay,
			formatCSVFloat(row.EnergyKWh),
			formatCSVFloat(row.Cost),
			formatCSVFloat(row.PeakW),
			formatCSVFloat(row.AvgW),
			runtime,
		})
	}
	w.Flush()
}

func formatCSVFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseDeviceIDs(raw string) (map[int64]bool, bool) {
	wanted := make(map[int64]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, false
		}
		wanted[id] = true
	}
	return wanted, true
}
