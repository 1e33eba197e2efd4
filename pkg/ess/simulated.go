package ess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/solarautopilot/solarautopilot/pkg/log"
	"github.com/solarautopilot/solarautopilot/pkg/types"
)

const (
	simStep = 5 * time.Minute
	// hours of DailyHistory kept in the persisted state
	simHistoryRetention = 48 * time.Hour
	simInitialSOC       = 50.0
)

// SimConfig describes the simulated site.
type SimConfig struct {
	CapacityWh    float64
	MaxChargeW    float64
	MaxDischargeW float64
	PeakSolarW    float64
	BaseLoadW     float64
	Location      string
}

// DefaultSimConfig returns a mid-sized home battery with a 6 kW array.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		CapacityWh:    13500,
		MaxChargeW:    5000,
		MaxDischargeW: 5000,
		PeakSolarW:    6000,
		BaseLoadW:     600,
		Location:      "America/Chicago",
	}
}

// Validate checks the configuration is usable.
func (c SimConfig) Validate() error {
	if c.CapacityWh <= 0 {
		return errors.New("capacity must be positive")
	}
	if c.MaxChargeW <= 0 || c.MaxDischargeW <= 0 {
		return errors.New("charge and discharge limits must be positive")
	}
	if c.PeakSolarW < 0 || c.BaseLoadW < 0 {
		return errors.New("solar peak and base load cannot be negative")
	}
	if _, err := time.LoadLocation(c.Location); err != nil {
		return fmt.Errorf("invalid location %q: %w", c.Location, err)
	}
	return nil
}

// Simulated is a battery with a synthetic solar array and home load. Time
// advances in 5 minute steps whenever the state is read, and the battery
// follows the last applied target power within its limits.
type Simulated struct {
	store StateStore
	now   func() time.Time

	mu            sync.Mutex
	cfg           SimConfig
	location      *time.Location
	minReserveSOC float64
}

// NewSimulated returns a simulated battery persisting its state in store.
func NewSimulated(store StateStore, cfg SimConfig) (*Simulated, error) {
	s := &Simulated{store: store, now: time.Now}
	if err := s.setup(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Simulated) setup(cfg SimConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.location = loc
	return nil
}

// ApplySettings saves the reserve the simulation keeps in the battery.
func (s *Simulated) ApplySettings(ctx context.Context, settings types.Settings) error {
	if settings.MinReserveSOC < 0 || settings.MinReserveSOC > 100 {
		return fmt.Errorf("invalid reserve SOC: %v", settings.MinReserveSOC)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minReserveSOC = settings.MinReserveSOC
	return nil
}

func getMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// solarW is a bell curve between 6:00 and 19:00 peaking early afternoon.
func (s *Simulated) solarW(hour float64) float64 {
	if hour < 6 || hour > 19 {
		return 0
	}
	return s.cfg.PeakSolarW * math.Sin((hour-6)/13*math.Pi)
}

// homeW has a morning bump and a larger evening peak over the base load.
func (s *Simulated) homeW(hour float64) float64 {
	w := s.cfg.BaseLoadW
	switch {
	case hour >= 6 && hour < 9:
		w *= 1.8
	case hour >= 17 && hour < 22:
		w *= 3
	case hour >= 9 && hour < 17:
		w *= 1.2
	}
	return w
}

type simReading struct {
	batteryW, solarW, homeW, gridW float64
}

// load reads the persisted state, starting a fresh simulation at the previous
// midnight when nothing has been stored yet.
func (s *Simulated) load(ctx context.Context, now time.Time) (types.ESSSimState, error) {
	state, err := s.store.GetESSSimState(ctx)
	if err != nil {
		return state, fmt.Errorf("failed to load simulated state: %w", err)
	}
	if state.Timestamp.IsZero() {
		log.Ctx(ctx).InfoContext(ctx, "starting new battery simulation")
		state.Timestamp = getMidnight(now.In(s.location)).AddDate(0, 0, -1)
		state.BatterySOC = simInitialSOC
	}
	if state.DailyHistory == nil {
		state.DailyHistory = make(map[string]types.EnergyStats)
	}
	return state, nil
}

func (s *Simulated) advanceState(state *types.ESSSimState, now time.Time) simReading {
	var reading simReading
	now = now.In(s.location)
	stepStart := state.Timestamp.In(s.location)
	capacity := s.cfg.CapacityWh

	for stepStart.Before(now) {
		stepEnd := stepStart.Add(simStep)
		if stepEnd.After(now) {
			stepEnd = now
		}
		hours := stepEnd.Sub(stepStart).Hours()
		if hours <= 0 {
			break
		}
		stepMid := stepStart.Add(stepEnd.Sub(stepStart) / 2)
		hour := float64(stepMid.Hour()) + float64(stepMid.Minute())/60.0

		solar := s.solarW(hour)
		home := s.homeW(hour)

		// stay within the power limits and the energy between the reserve and full
		var battery float64
		switch target := state.TargetPowerW; {
		case target > 0:
			spaceWh := (100 - state.BatterySOC) / 100 * capacity
			battery = min(target, s.cfg.MaxChargeW, spaceWh/hours)
		case target < 0:
			usableWh := max(state.BatterySOC-s.minReserveSOC, 0) / 100 * capacity
			battery = -min(-target, s.cfg.MaxDischargeW, usableWh/hours)
		}
		grid := home - solar + battery

		state.BatterySOC += battery * hours / capacity * 100
		state.BatterySOC = min(max(state.BatterySOC, 0), 100)

		tsHourStart := stepStart.Truncate(time.Hour)
		hourKey := tsHourStart.UTC().Format(time.RFC3339)
		stats := state.DailyHistory[hourKey]
		if stats.TSHourStart.IsZero() {
			stats.TSHourStart = tsHourStart.UTC()
			stats.MinBatterySOC = 100
		}
		stats.MinBatterySOC = min(stats.MinBatterySOC, state.BatterySOC)
		stats.MaxBatterySOC = max(stats.MaxBatterySOC, state.BatterySOC)
		stats.SolarKWH += solar * hours / 1000
		stats.HomeKWH += home * hours / 1000
		if battery > 0 {
			stats.BatteryChargedKWH += battery * hours / 1000
		} else {
			stats.BatteryUsedKWH += -battery * hours / 1000
		}
		if grid > 0 {
			stats.GridImportKWH += grid * hours / 1000
			state.PeriodGridWh += grid * hours
		} else {
			stats.GridExportKWH += -grid * hours / 1000
		}
		state.DailyHistory[hourKey] = stats

		state.PeriodSolarWh += solar * hours
		state.PeriodHomeWh += home * hours

		reading = simReading{batteryW: battery, solarW: solar, homeW: home, gridW: grid}
		stepStart = stepEnd
	}

	if now.After(state.Timestamp) {
		state.Timestamp = now
	}
	cutoff := now.Add(-simHistoryRetention)
	for key, stats := range state.DailyHistory {
		if stats.TSHourStart.Before(cutoff) {
			delete(state.DailyHistory, key)
		}
	}
	return reading
}

// GetStatus advances the simulation to now and returns the instantaneous
// readings along with the energy since the previous status read.
func (s *Simulated) GetStatus(ctx context.Context) (types.SystemStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	state, err := s.load(ctx, now)
	if err != nil {
		return types.SystemStatus{}, err
	}
	r := s.advanceState(&state, now)

	status := types.SystemStatus{
		Timestamp:           now,
		BatterySOC:          state.BatterySOC,
		BatteryW:            r.batteryW,
		BatteryCapacityWh:   s.cfg.CapacityWh,
		MaxChargeW:          s.cfg.MaxChargeW,
		MaxDischargeW:       s.cfg.MaxDischargeW,
		SolarW:              r.solarW,
		HomeW:               r.homeW,
		GridW:               r.gridW,
		PeriodSolarKWH:      state.PeriodSolarWh / 1000,
		PeriodHomeKWH:       state.PeriodHomeWh / 1000,
		PeriodGridImportKWH: state.PeriodGridWh / 1000,
	}
	state.PeriodSolarWh = 0
	state.PeriodHomeWh = 0
	state.PeriodGridWh = 0

	if err := s.store.UpdateESSSimState(ctx, state); err != nil {
		return types.SystemStatus{}, fmt.Errorf("failed to save simulated state: %w", err)
	}
	return status, nil
}

// ApplyDecision runs the simulation up to now with the previous target and
// then switches to the decision's target power.
func (s *Simulated) ApplyDecision(ctx context.Context, decision types.ChargingDecision) error {
	if math.IsNaN(decision.TargetPowerW) || math.IsInf(decision.TargetPowerW, 0) {
		return fmt.Errorf("invalid target power: %v", decision.TargetPowerW)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	state, err := s.load(ctx, now)
	if err != nil {
		return err
	}
	s.advanceState(&state, now)
	state.TargetPowerW = decision.TargetPowerW

	log.Ctx(ctx).DebugContext(
		ctx,
		"applying decision to simulated battery",
		slog.Float64("targetPowerW", decision.TargetPowerW),
		slog.String("reason", string(decision.Reason)),
	)
	if err := s.store.UpdateESSSimState(ctx, state); err != nil {
		return fmt.Errorf("failed to save simulated state: %w", err)
	}
	return nil
}

// GetEnergyHistory advances the simulation to now and returns the retained
// hourly stats that start within [start, end), sorted by hour.
func (s *Simulated) GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.EnergyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	state, err := s.load(ctx, now)
	if err != nil {
		return nil, err
	}
	if state.Timestamp.Before(now) {
		s.advanceState(&state, now)
		if err := s.store.UpdateESSSimState(ctx, state); err != nil {
			return nil, fmt.Errorf("failed to save simulated state: %w", err)
		}
	}

	var history []types.EnergyStats
	for _, stats := range state.DailyHistory {
		if !stats.TSHourStart.Before(start) && stats.TSHourStart.Before(end) {
			history = append(history, stats)
		}
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].TSHourStart.Before(history[j].TSHourStart)
	})
	return history, nil
}
