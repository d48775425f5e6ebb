package models

import "time"

// EnergyTotals aggregates consumption across the selected devices.
type EnergyTotals struct {
	EnergyKWh float64 `json:"energy_kwh"`
	Cost      float64 `json:"cost"`
	PeakW     float64 `json:"peak_power_w"`
	AvgW      float64 `json:"avg_power_w"`
}

// EnergySeriesPoint is one step of the total-power curve.
type EnergySeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	PowerW    float64   `json:"power_w"`
}

// DeviceEnergy is the per-device slice of an energy report.
type DeviceEnergy struct {
	DeviceID            int64   `json:"device_id"`
	Name                string  `json:"name"`
	Location            string  `json:"location"`
	Type                string  `json:"type"`
	TypeDisplay         string  `json:"type_display"`
	EnergyKWh           float64  `json:"energy_kwh"`
	Cost                float64  `json:"cost"`
	PeakW               float64  `json:"peak_power_w"`
	AvgW                float64  `json:"avg_power_w"`
	MonthlyRuntimeHours *float64 `json:"monthly_runtime_hours"`
}

// MonthlyEstimate projects the current month's consumption from the
// elapsed fraction.
type MonthlyEstimate struct {
	Month                string             `json:"month"`
	EnergyKWhSoFar       float64            `json:"energy_kwh_so_far"`
	CostSoFar            float64            `json:"cost_so_far"`
	ProjectedEnergyKWh   float64            `json:"projected_energy_kwh"`
	ProjectedCost        float64            `json:"projected_cost"`
	ElapsedDays          float64            `json:"elapsed_days"`
	DaysInMonth          int                `json:"days_in_month"`
	RuntimeHoursByDevice map[string]float64 `json:"runtime_hours_by_device"`
}

// EnergyAnalysis is the full energy report returned by the API.
type EnergyAnalysis struct {
	Range           string              `json:"range"`
	Start           time.Time           `json:"start"`
	End             time.Time           `json:"end"`
	PricePerKWh     float64             `json:"price_per_kwh"`
	Total           EnergyTotals        `json:"total"`
	Series          []EnergySeriesPoint `json:"series"`
	DeviceBreakdown []DeviceEnergy      `json:"device_breakdown"`
	MonthlyEstimate *MonthlyEstimate    `json:"monthly_estimate,omitempty"`
}
