package handlers

import (
	"context"
	"encoding/csv"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

func breakdownIDs(analysis models.EnergyAnalysis) []int64 {
	ids := make([]int64, 0, len(analysis.DeviceBreakdown))
	for _, row := range analysis.DeviceBreakdown {
		ids = append(ids, row.DeviceID)
	}
	return ids
}

func TestEnergyAnalysisVisibility(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)
	// The lamp turned on two hours ago and stayed on.
	require.NoError(t, rig.history.Insert(context.Background(), 1, apiNow.Add(-2*time.Hour), models.StateMap{"on": true}))

	w := rig.exec(t, http.MethodGet, "/api/energy/analysis", rig.resident, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var analysis models.EnergyAnalysis
	decodeJSON(t, w, &analysis)
	assert.Equal(t, "24h", analysis.Range)
	assert.Equal(t, 0.56, analysis.PricePerKWh)
	assert.ElementsMatch(t, []int64{1, 2}, breakdownIDs(analysis), "the neighbor's AC stays out of the resident's report")

	// 9 W for 2 of the last 24 hours.
	require.Equal(t, int64(1), analysis.DeviceBreakdown[0].DeviceID, "breakdown sorts by consumption")
	assert.Equal(t, 0.018, analysis.DeviceBreakdown[0].EnergyKWh)
	assert.Equal(t, 9.0, analysis.DeviceBreakdown[0].PeakW)
	assert.Equal(t, 0.018, analysis.Total.EnergyKWh)

	require.NotNil(t, analysis.MonthlyEstimate)
	assert.Equal(t, "2024-07", analysis.MonthlyEstimate.Month)
	assert.Equal(t, 31, analysis.MonthlyEstimate.DaysInMonth)
	assert.Equal(t, 2.0, analysis.MonthlyEstimate.RuntimeHoursByDevice["1"])

	decodeJSON(t, rig.exec(t, http.MethodGet, "/api/energy/analysis", rig.admin, nil), &analysis)
	assert.ElementsMatch(t, []int64{1, 2, 3}, breakdownIDs(analysis))
}

func TestEnergyAnalysisRangeNormalization(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)

	var analysis models.EnergyAnalysis
	decodeJSON(t, rig.exec(t, http.MethodGet, "/api/energy/analysis?range=6h", rig.resident, nil), &analysis)
	assert.Equal(t, "6h", analysis.Range)
	assert.Equal(t, 6*time.Hour, analysis.End.Sub(analysis.Start))

	// Unknown windows snap to the default instead of erroring.
	decodeJSON(t, rig.exec(t, http.MethodGet, "/api/energy/analysis?range=1y", rig.resident, nil), &analysis)
	assert.Equal(t, "24h", analysis.Range)
}

func TestEnergyAnalysisDeviceFilter(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)

	var analysis models.EnergyAnalysis
	decodeJSON(t, rig.exec(t, http.MethodGet, "/api/energy/analysis?device_ids=1", rig.resident, nil), &analysis)
	assert.Equal(t, []int64{1}, breakdownIDs(analysis))

	// Filtering for a device outside the caller's view yields an empty
	// report, not a leak.
	decodeJSON(t, rig.exec(t, http.MethodGet, "/api/energy/analysis?device_ids=3", rig.resident, nil), &analysis)
	assert.Empty(t, analysis.DeviceBreakdown)
	assert.Equal(t, 0.0, analysis.Total.EnergyKWh)

	w := rig.exec(t, http.MethodGet, "/api/energy/analysis?device_ids=1,zzz", rig.resident, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid device_ids")
}

func TestEnergyExportCSV(t *testing.T) {
	rig := newAPIRig(t, seedDevices()...)
	require.NoError(t, rig.history.Insert(context.Background(), 1, apiNow.Add(-2*time.Hour), models.StateMap{"on": true}))

	w := rig.exec(t, http.MethodGet, "/api/energy/analysis/export", rig.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=energy_analysis_24h.csv", w.Header().Get("Content-Disposition"))

	records, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4, "header plus one row per device")

	assert.Equal(t, []string{
		"device_id", "name", "location", "type", "type_display",
		"energy_kwh", "cost", "peak_power_w", "avg_power_w", "monthly_runtime_hours",
	}, records[0])

	lamp := records[1]
	assert.Equal(t, "1", lamp[0], "the only consuming device sorts first")
	assert.Equal(t, "Bedroom Lamp", lamp[1])
	assert.Equal(t, "LAMP_SWITCH", lamp[3])
	assert.Equal(t, "Lamp Switch", lamp[4])
	assert.Equal(t, "0.018", lamp[5])
	assert.Equal(t, "2", lamp[9], "trackable actuators report month-to-date runtime")

	sensor := records[2]
	assert.Equal(t, "2", sensor[0])
	assert.Equal(t, "", sensor[9], "sensors have no runtime column")
}
