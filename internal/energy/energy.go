package energy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/sleep4at/Smart-Home-System/internal/store"
	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

// DefaultRange is used when a request names an unknown window.
const DefaultRange = "24h"

var rangeToDelta = map[string]time.Duration{
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"3d":  72 * time.Hour,
	"7d":  168 * time.Hour,
	"30d": 720 * time.Hour,
}

// NormalizeRange maps a requested window onto a supported bucket.
func NormalizeRange(value string) string {
	if _, ok := rangeToDelta[value]; ok {
		return value
	}
	return DefaultRange
}

// RangeDuration returns the window length of a normalized bucket.
func RangeDuration(value string) time.Duration {
	return rangeToDelta[NormalizeRange(value)]
}

// Runtime hours are only meaningful for actuators that draw load while on.
var runtimeTrackableTypes = map[string]bool{
	models.DeviceTypeLampSwitch: true,
	models.DeviceTypeFanSwitch:  true,
	models.DeviceTypeACSwitch:   true,
}

// Engine reconstructs power curves from device report history and turns
// them into energy totals, per-device breakdowns and monthly projections.
type Engine struct {
	history store.DeviceDataStore
	profile Profile
	price   float64
}

func NewEngine(history store.DeviceDataStore, profile Profile, pricePerKWh float64) *Engine {
	return &Engine{history: history, profile: profile, price: pricePerKWh}
}

// PricePerKWh returns the tariff the engine prices energy with.
func (e *Engine) PricePerKWh() float64 {
	return e.price
}

type seriesPoint struct {
	ts     time.Time
	powerW float64
}

type deviceResult struct {
	device           models.Device
	series           []seriesPoint
	energyKWh        float64
	peakW            float64
	avgW             float64
	cost             float64
	runtimeHours     float64
	runtimeTrackable bool
}

// measuredPowerW extracts a reported wattage from a state snapshot. The
// power_w key wins over power even when it holds a null.
func measuredPowerW(state models.StateMap) (float64, bool) {
	value, ok := state["power_w"]
	if !ok {
		value, ok = state["power"]
	}
	if !ok || value == nil {
		return 0, false
	}
	f, ok := models.Float(value)
	if !ok {
		return 0, false
	}
	return math.Max(0, f), true
}

// EstimatePowerW models a device's draw from its state when no measured
// wattage is reported.
func (e *Engine) EstimatePowerW(deviceType string, state models.StateMap) float64 {
	on := models.Truthy(state["on"])

	switch deviceType {
	case models.DeviceTypeLampSwitch:
		if on {
			return e.profile.LampOnW
		}
		return 0

	case models.DeviceTypeFanSwitch:
		if !on {
			return 0
		}
		speed := 1
		if f, ok := models.Float(state["speed"]); ok {
			speed = int(f)
		}
		switch {
		case speed <= 1:
			return e.profile.FanSpeed1W
		case speed == 2:
			return e.profile.FanSpeed2W
		default:
			return e.profile.FanSpeed3W
		}

	case models.DeviceTypeACSwitch:
		if !on {
			return 0
		}
		temp := 26.0
		if f, ok := models.Float(state["temp"]); ok {
			temp = f
		}
		estimated := e.profile.ACBaseW + (26.0-temp)*e.profile.ACTempStepW
		return math.Max(e.profile.ACMinW, math.Min(e.profile.ACMaxW, estimated))

	case models.DeviceTypeTempHumi, models.DeviceTypeLight, models.DeviceTypePressure,
		models.DeviceTypePIR, models.DeviceTypeSmoke:
		if len(state) > 0 {
			return e.profile.SensorIdleW
		}
		return 0
	}
	return 0
}

func (e *Engine) powerFromState(device models.Device, state models.StateMap) float64 {
	if measured, ok := measuredPowerW(state); ok {
		return measured
	}
	return e.EstimatePowerW(device.Type, state)
}

// isRunning decides whether a trackable actuator accrues runtime. An
// explicit on flag wins; otherwise any positive draw counts.
func isRunning(state models.StateMap, powerW float64) bool {
	if value, ok := state["on"]; ok {
		return models.Truthy(value)
	}
	return powerW > 0
}

// applyReport merges a history row into the running state. A row that only
// says the device turned off drops stale measured power so the estimate
// takes over; a row that carries its own reading keeps it.
func applyReport(state models.StateMap, report models.StateMap) models.StateMap {
	next := make(models.StateMap, len(state)+len(report))
	for k, v := range state {
		next[k] = v
	}
	for k, v := range report {
		next[k] = v
	}
	if value, ok := report["on"]; ok && !models.Truthy(value) {
		_, hasPowerW := report["power_w"]
		_, hasPower := report["power"]
		if !hasPowerW && !hasPower {
			delete(next, "power_w")
			delete(next, "power")
		}
	}
	return next
}

// deviceEnergyInRange integrates one device's power curve over [start, end].
// The newest report before start seeds the curve; each in-range report holds
// the previous power level until its timestamp, then switches to the new one.
func (e *Engine) deviceEnergyInRange(ctx context.Context, device models.Device, start, end time.Time) (deviceResult, error) {
	currentState := models.StateMap{}
	currentPower := 0.0

	baseline, err := e.history.LastBefore(ctx, device.ID, start)
	switch {
	case err == nil:
		currentState = make(models.StateMap, len(baseline.Data))
		for k, v := range baseline.Data {
			currentState[k] = v
		}
		// A baseline that says "off" must not carry a stale reading into
		// the window, even if the off report came bundled with one.
		if value, ok := currentState["on"]; ok && !models.Truthy(value) {
			delete(currentState, "power_w")
			delete(currentState, "power")
		}
		currentPower = e.powerFromState(device, currentState)
	case errors.Is(err, store.ErrNotFound):
		// No history before the window: the curve starts at 0 W.
	default:
		return deviceResult{}, fmt.Errorf("load baseline: %w", err)
	}

	rows, err := e.history.HistoryRange(ctx, device.ID, start, end)
	if err != nil {
		return deviceResult{}, fmt.Errorf("load history: %w", err)
	}

	trackable := runtimeTrackableTypes[device.Type]
	series := []seriesPoint{{ts: start, powerW: currentPower}}
	energyKWh := 0.0
	runtimeHours := 0.0
	cursor := start

	for _, row := range rows {
		ts := row.Timestamp
		if !ts.After(cursor) {
			// Duplicate or boundary timestamp: fold the state in without
			// accruing time.
			currentState = applyReport(currentState, row.Data)
			currentPower = e.powerFromState(device, currentState)
			continue
		}

		hours := ts.Sub(cursor).Hours()
		energyKWh += currentPower * hours / 1000.0
		if trackable && isRunning(currentState, currentPower) {
			runtimeHours += hours
		}

		nextState := applyReport(currentState, row.Data)
		nextPower := e.powerFromState(device, nextState)
		if nextPower != currentPower {
			series = append(series, seriesPoint{ts: ts, powerW: nextPower})
		}
		currentState = nextState
		currentPower = nextPower
		cursor = ts
	}

	if end.After(cursor) {
		hours := end.Sub(cursor).Hours()
		energyKWh += currentPower * hours / 1000.0
		if trackable && isRunning(currentState, currentPower) {
			runtimeHours += hours
		}
	}
	if !series[len(series)-1].ts.Equal(end) {
		series = append(series, seriesPoint{ts: end, powerW: currentPower})
	}

	peakW := 0.0
	for _, p := range series {
		if p.powerW > peakW {
			peakW = p.powerW
		}
	}
	windowHours := math.Max(end.Sub(start).Hours(), 1e-6)

	return deviceResult{
		device:           device,
		series:           series,
		energyKWh:        energyKWh,
		peakW:            peakW,
		avgW:             energyKWh * 1000.0 / windowHours,
		cost:             energyKWh * e.price,
		runtimeHours:     runtimeHours,
		runtimeTrackable: trackable,
	}, nil
}

type aggregateTotals struct {
	series    []seriesPoint
	energyKWh float64
	peakW     float64
	avgW      float64
	cost      float64
}

// aggregateDevices overlays per-device step curves into one total-power
// series. Each step contributes a signed delta at its timestamp; walking
// the sorted deltas from the summed start level rebuilds the total curve.
func (e *Engine) aggregateDevices(results []deviceResult, start, end time.Time) aggregateTotals {
	if len(results) == 0 {
		return aggregateTotals{series: []seriesPoint{{ts: start}, {ts: end}}}
	}

	initialTotal := 0.0
	for _, r := range results {
		if len(r.series) > 0 {
			initialTotal += r.series[0].powerW
		}
	}

	type deltaEvent struct {
		ts    time.Time
		delta float64
	}
	events := make(map[int64]*deltaEvent)
	for _, r := range results {
		for i := 1; i < len(r.series); i++ {
			ts := r.series[i].ts
			if ts.Before(start) || ts.After(end) {
				continue
			}
			delta := r.series[i].powerW - r.series[i-1].powerW
			if delta == 0 {
				continue
			}
			key := ts.UnixNano()
			if ev, ok := events[key]; ok {
				ev.delta += delta
			} else {
				events[key] = &deltaEvent{ts: ts, delta: delta}
			}
		}
	}

	keys := make([]int64, 0, len(events))
	for key := range events {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	series := []seriesPoint{{ts: start, powerW: initialTotal}}
	currentTotal := initialTotal
	for _, key := range keys {
		ev := events[key]
		if !ev.ts.After(start) || ev.ts.After(end) {
			continue
		}
		currentTotal += ev.delta
		series = append(series, seriesPoint{ts: ev.ts, powerW: currentTotal})
	}
	if !series[len(series)-1].ts.Equal(end) {
		series = append(series, seriesPoint{ts: end, powerW: currentTotal})
	}

	energyKWh := 0.0
	for _, r := range results {
		energyKWh += r.energyKWh
	}
	peakW := 0.0
	for _, p := range series {
		if p.powerW > peakW {
			peakW = p.powerW
		}
	}
	windowHours := math.Max(end.Sub(start).Hours(), 1e-6)

	return aggregateTotals{
		series:    series,
		energyKWh: energyKWh,
		peakW:     peakW,
		avgW:      energyKWh * 1000.0 / windowHours,
		cost:      energyKWh * e.price,
	}
}

// monthlyEstimate integrates the current month so far and projects the
// full-month figure from the elapsed fraction.
func (e *Engine) monthlyEstimate(ctx context.Context, devices []models.Device, now time.Time) (*models.MonthlyEstimate, map[int64]float64, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	daysInMonth := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, now.Location()).Day()
	monthEnd := monthStart.AddDate(0, 0, daysInMonth)

	results := make([]deviceResult, 0, len(devices))
	for _, device := range devices {
		result, err := e.deviceEnergyInRange(ctx, device, monthStart, now)
		if err != nil {
			return nil, nil, fmt.Errorf("device %d month-to-date: %w", device.ID, err)
		}
		results = append(results, result)
	}
	summary := e.aggregateDevices(results, monthStart, now)

	runtimeByDevice := make(map[int64]float64)
	runtimeOut := make(map[string]float64)
	for _, r := range results {
		if !r.runtimeTrackable {
			continue
		}
		hours := round2(r.runtimeHours)
		runtimeByDevice[r.device.ID] = hours
		runtimeOut[strconv.FormatInt(r.device.ID, 10)] = hours
	}

	elapsedSeconds := math.Max(now.Sub(monthStart).Seconds(), 1.0)
	monthSeconds := monthEnd.Sub(monthStart).Seconds()
	projected := summary.energyKWh / elapsedSeconds * monthSeconds

	return &models.MonthlyEstimate{
		Month:                fmt.Sprintf("%04d-%02d", now.Year(), int(now.Month())),
		EnergyKWhSoFar:       round3(summary.energyKWh),
		CostSoFar:            round2(summary.cost),
		ProjectedEnergyKWh:   round3(projected),
		ProjectedCost:        round2(projected * e.price),
		ElapsedDays:          round2(elapsedSeconds / 86400.0),
		DaysInMonth:          daysInMonth,
		RuntimeHoursByDevice: runtimeOut,
	}, runtimeByDevice, nil
}

// BuildAnalysis produces the full energy report for a set of devices: the
// windowed totals and per-device breakdown plus the month-to-date estimate.
func (e *Engine) BuildAnalysis(ctx context.Context, devices []models.Device, rangeValue string, now time.Time) (models.EnergyAnalysis, error) {
	bucket := NormalizeRange(rangeValue)
	end := now
	start := now.Add(-rangeToDelta[bucket])

	results := make([]deviceResult, 0, len(devices))
	for _, device := range devices {
		result, err := e.deviceEnergyInRange(ctx, device, start, end)
		if err != nil {
			return models.EnergyAnalysis{}, fmt.Errorf("device %d energy: %w", device.ID, err)
		}
		results = append(results, result)
	}
	total := e.aggregateDevices(results, start, end)

	monthly, runtimeByDevice, err := e.monthlyEstimate(ctx, devices, now)
	if err != nil {
		return models.EnergyAnalysis{}, fmt.Errorf("monthly estimate: %w", err)
	}

	breakdown := make([]models.DeviceEnergy, 0, len(results))
	for _, r := range results {
		entry := models.DeviceEnergy{
			DeviceID:    r.device.ID,
			Name:        r.device.Name,
			Location:    r.device.Location,
			Type:        r.device.Type,
			TypeDisplay: models.DeviceTypeDisplay(r.device.Type),
			EnergyKWh:   round3(r.energyKWh),
			Cost:        round2(r.cost),
			PeakW:       round1(r.peakW),
			AvgW:        round1(r.avgW),
		}
		if hours, ok := runtimeByDevice[r.device.ID]; ok {
			h := hours
			entry.MonthlyRuntimeHours = &h
		}
		breakdown = append(breakdown, entry)
	}
	sort.SliceStable(breakdown, func(i, j int) bool {
		return breakdown[i].EnergyKWh > breakdown[j].EnergyKWh
	})

	series := make([]models.EnergySeriesPoint, 0, len(total.series))
	for _, p := range total.series {
		series = append(series, models.EnergySeriesPoint{Timestamp: p.ts, PowerW: round1(p.powerW)})
	}

	return models.EnergyAnalysis{
		Range:       bucket,
		Start:       start,
		End:         end,
		PricePerKWh: e.price,
		Total: models.EnergyTotals{
			EnergyKWh: round3(total.energyKWh),
			Cost:      round2(total.cost),
			PeakW:     round1(total.peakW),
			AvgW:      round1(total.avgW),
		},
		Series:          series,
		DeviceBreakdown: breakdown,
		MonthlyEstimate: monthly,
	}, nil
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
