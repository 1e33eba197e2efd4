package types

import "time"

// ESSSimState represents the internal state of the simulated battery.
type ESSSimState struct {
	Timestamp     time.Time              `json:"timestamp"`
	BatterySOC    float64                `json:"batterySOC"`
	TargetPowerW  float64                `json:"targetPowerW"`
	DailyHistory  map[string]EnergyStats `json:"dailyHistory"`
	PeriodSolarWh float64                `json:"periodSolarWh"`
	PeriodHomeWh  float64                `json:"periodHomeWh"`
	PeriodGridWh  float64                `json:"periodGridWh"`
}
