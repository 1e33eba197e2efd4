package types

import "time"

const (
	CurrentEnergyStatsVersion  = 1
	CurrentPriceHistoryVersion = 1
)

// DecisionReason represents why the optimizer picked an action for a slot.
type DecisionReason string

const (
	DecisionReasonHold             DecisionReason = "hold"
	DecisionReasonSolarSurplus     DecisionReason = "solarSurplus"
	DecisionReasonCheapPrice       DecisionReason = "cheapPrice"
	DecisionReasonPreChargeSurge   DecisionReason = "preChargeSurge"
	DecisionReasonCoverDeficit     DecisionReason = "coverDeficit"
	DecisionReasonExpensivePrice   DecisionReason = "expensivePrice"
	DecisionReasonBatteryFull      DecisionReason = "batteryFull"
	DecisionReasonReserveReached   DecisionReason = "reserveReached"
	DecisionReasonMissingCapacity  DecisionReason = "missingCapacity"
	DecisionReasonPatternDischarge DecisionReason = "patternDischarge"
)

// ChargingDecision is the battery action scheduled for one horizon slot.
type ChargingDecision struct {
	OffsetMinutes int `json:"offsetMinutes"`
	// TargetPowerW is positive to charge, negative to discharge and 0 to hold.
	TargetPowerW     float64        `json:"targetPowerW"`
	TargetSOCPercent float64        `json:"targetSOCPercent"`
	Reason           DecisionReason `json:"reason"`
	Rationale        string         `json:"rationale"`
	PatternKeys      []string       `json:"patternKeys,omitempty"`
}

// IsCharge returns true if the decision charges the battery.
func (d ChargingDecision) IsCharge() bool {
	return d.TargetPowerW > 0
}

// IsDischarge returns true if the decision discharges the battery.
func (d ChargingDecision) IsDischarge() bool {
	return d.TargetPowerW < 0
}

// BatteryState is the battery state a decision cycle starts from.
type BatteryState struct {
	SOCPercent float64 `json:"socPercent"` // 0-100
	CapacityWh float64 `json:"capacityWh"`
}

// EnergyStats represents aggregated energy statistics for an hourly period.
type EnergyStats struct {
	TSHourStart time.Time `json:"tsHourStart"`

	// Battery Stats
	MinBatterySOC float64 `json:"minBatterySOC"`
	MaxBatterySOC float64 `json:"maxBatterySOC"`

	// Totals
	BatteryChargedKWH float64 `json:"batteryChargedKWH"`
	BatteryUsedKWH    float64 `json:"batteryUsedKWH"`
	SolarKWH          float64 `json:"solarKWH"`
	HomeKWH           float64 `json:"homeKWH"`
	GridExportKWH     float64 `json:"gridExportKWH"`
	GridImportKWH     float64 `json:"gridImportKWH"`
}

// SystemStatus represents the current battery system status.
type SystemStatus struct {
	Timestamp         time.Time `json:"timestamp"`
	BatterySOC        float64   `json:"batterySOC"`        // 0-100
	BatteryW          float64   `json:"batteryW"`          // Positive for charge, negative for discharge
	BatteryCapacityWh float64   `json:"batteryCapacityWh"` // Total capacity of the battery (Wh)
	MaxChargeW        float64   `json:"maxChargeW"`        // Maximum charge rate of the battery (W)
	MaxDischargeW     float64   `json:"maxDischargeW"`     // Maximum discharge rate of the battery (W)
	SolarW            float64   `json:"solarW"`            // Solar generation (W)
	HomeW             float64   `json:"homeW"`             // Home consumption (W)
	GridW             float64   `json:"gridW"`             // Grid import/export (W, + import, - export)

	// Energy since the previous status read, used to report outcomes.
	PeriodSolarKWH      float64 `json:"periodSolarKWH"`
	PeriodHomeKWH       float64 `json:"periodHomeKWH"`
	PeriodGridImportKWH float64 `json:"periodGridImportKWH"`
}
