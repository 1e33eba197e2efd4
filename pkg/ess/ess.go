package ess

import (
	"context"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/solarautopilot/solarautopilot/pkg/types"
)

// System defines the interface for interacting with an Energy Storage System.
type System interface {
	// GetStatus returns the current status of the system. The period energy
	// totals cover the time since the previous GetStatus call.
	GetStatus(ctx context.Context) (types.SystemStatus, error)

	// ApplyDecision makes the system follow the decision's target power until
	// the next decision is applied.
	ApplyDecision(ctx context.Context, decision types.ChargingDecision) error

	// ApplySettings updates the system using the provided global settings.
	ApplySettings(ctx context.Context, settings types.Settings) error

	// GetEnergyHistory returns the hourly energy history for the specified period.
	GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.EnergyStats, error)
}

// StateStore persists the simulated battery between runs.
type StateStore interface {
	GetESSSimState(ctx context.Context) (types.ESSSimState, error)
	UpdateESSSimState(ctx context.Context, state types.ESSSimState) error
}

// Configured sets up a simulated battery from flags that persists its state
// in the given store.
func Configured(store StateStore) *Simulated {
	cfg := DefaultSimConfig()
	lflag.JSON(&cfg.CapacityWh, "ess-capacity-wh", cfg.CapacityWh, "Usable capacity of the simulated battery (Wh)")
	lflag.JSON(&cfg.MaxChargeW, "ess-max-charge-w", cfg.MaxChargeW, "Maximum charge rate of the simulated battery (W)")
	lflag.JSON(&cfg.MaxDischargeW, "ess-max-discharge-w", cfg.MaxDischargeW, "Maximum discharge rate of the simulated battery (W)")
	lflag.JSON(&cfg.PeakSolarW, "ess-peak-solar-w", cfg.PeakSolarW, "Midday peak of the simulated solar array (W)")
	lflag.JSON(&cfg.BaseLoadW, "ess-base-load-w", cfg.BaseLoadW, "Overnight load of the simulated home (W)")
	location := lflag.String("ess-location", cfg.Location, "Time zone the simulated site lives in")

	s := &Simulated{store: store, now: time.Now}

	lflag.Do(func() {
		cfg.Location = *location
		if err := s.setup(cfg); err != nil {
			panic(fmt.Sprintf("ess validation failed: %v", err))
		}
	})

	return s
}
