// Package engine orchestrates the forecasters, the pattern detector and the
// optimizer into a decision engine with an explicit lifecycle.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/solarautopilot/solarautopilot/pkg/history"
	"github.com/solarautopilot/solarautopilot/pkg/log"
	"github.com/solarautopilot/solarautopilot/pkg/optimizer"
	"github.com/solarautopilot/solarautopilot/pkg/types"
)

// InitResult reports which path Initialize took.
type InitResult struct {
	Success bool                `json:"success"`
	Mode    types.EngineState   `json:"mode"`
	Samples int                 `json:"samples"`
	Stages  []types.StageResult `json:"stages,omitempty"`
}

// Engine is the decision engine.
type Engine struct {
	cfg     Config
	models  Models
	metrics *metrics
	// cycle serializes Initialize and MakePredictions.
	cycle *semaphore.Weighted
	now   func() time.Time

	mu              sync.RWMutex
	state           types.EngineState
	initialized     bool
	learning        bool
	prices          PriceService
	performance     types.PerformanceMetrics
	accuracySamples int
	current         *types.Prediction
	previous        *types.Prediction
	training        []types.StageResult
}

// New returns an uninitialized engine.
func New(cfg Config, models Models) *Engine {
	e := &Engine{}
	e.setup(cfg, models)
	return e
}

func (e *Engine) setup(cfg Config, models Models) {
	e.cfg = cfg
	e.models = models
	e.metrics = newMetrics()
	e.cycle = semaphore.NewWeighted(1)
	e.now = time.Now
	e.state = types.EngineStateUninitialized
}

// Initialize loads history and trains every model, or enters learning mode
// when there is not enough history. Not having enough history is not an
// error. If ctx is cancelled before training finishes every model is reset
// and the engine goes back to uninitialized.
func (e *Engine) Initialize(ctx context.Context, provider history.Provider, prices PriceService) (InitResult, error) {
	if !e.cycle.TryAcquire(1) {
		return InitResult{}, ErrCycleInFlight
	}
	defer e.cycle.Release(1)

	ctx = log.Component(ctx, "engine")
	e.mu.Lock()
	e.state = types.EngineStateLoading
	e.prices = prices
	e.mu.Unlock()
	log.Ctx(ctx).InfoContext(ctx, "initializing engine", slog.Int("lookbackDays", e.cfg.LookbackDays))

	ds, err := e.loadHistory(ctx, provider)
	if ctx.Err() != nil {
		return e.abort(ctx)
	}
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "history unavailable, entering learning mode", slog.Any("error", err))
		e.metrics.degraded.WithLabelValues("history").Inc()
		return e.finishInitialize(ctx, true, len(ds.Solar), nil), nil
	}
	if len(ds.Solar) < e.cfg.MinSamples {
		log.Ctx(ctx).InfoContext(
			ctx,
			"not enough history, entering learning mode",
			slog.Int("samples", len(ds.Solar)),
			slog.Int("minSamples", e.cfg.MinSamples),
		)
		return e.finishInitialize(ctx, true, len(ds.Solar), nil), nil
	}

	stages, ok, err := e.train(ctx, ds, prices)
	if err != nil {
		return e.abort(ctx)
	}
	return e.finishInitialize(ctx, !ok, len(ds.Solar), stages), nil
}

func (e *Engine) abort(ctx context.Context) (InitResult, error) {
	log.Ctx(ctx).WarnContext(ctx, "initialization cancelled, discarding training", slog.Any("error", ctx.Err()))
	e.models.reset()
	e.mu.Lock()
	e.state = types.EngineStateUninitialized
	e.initialized = false
	e.learning = false
	e.training = nil
	e.mu.Unlock()
	return InitResult{Mode: types.EngineStateUninitialized}, ctx.Err()
}

func (e *Engine) finishInitialize(ctx context.Context, learning bool, samples int, stages []types.StageResult) InitResult {
	mode := types.EngineStateTrained
	if learning {
		mode = types.EngineStateLearning
	}

	e.mu.Lock()
	e.state = mode
	e.initialized = true
	e.learning = learning
	e.training = stages
	e.mu.Unlock()

	if learning {
		e.metrics.learning.Set(1)
	} else {
		e.metrics.learning.Set(0)
	}
	log.Ctx(ctx).InfoContext(ctx, "engine initialized", slog.String("mode", string(mode)), slog.Int("samples", samples))
	return InitResult{
		Success: true,
		Mode:    mode,
		Samples: samples,
		Stages:  stages,
	}
}

// MakePredictions runs one decision cycle: forecasts, prices and patterns are
// gathered and handed to the optimizer, and the resulting Prediction replaces
// the current one. A capacityWh above zero overrides state.CapacityWh.
func (e *Engine) MakePredictions(ctx context.Context, state types.BatteryState, capacityWh float64) (*types.Prediction, error) {
	e.mu.RLock()
	initialized := e.initialized
	prices := e.prices
	e.mu.RUnlock()
	if !initialized {
		return nil, ErrNotInitialized
	}
	if !e.cycle.TryAcquire(1) {
		return nil, ErrCycleInFlight
	}
	defer e.cycle.Release(1)

	ctx = log.Component(ctx, "engine")
	if capacityWh > 0 {
		state.CapacityWh = capacityWh
	}
	now := e.now()
	horizon := time.Duration(e.cfg.HorizonHours) * time.Hour

	var forecastPrices []types.Price
	if prices != nil {
		forecastPrices = prices.CurrentForecast(ctx)
	}
	if len(forecastPrices) == 0 {
		e.metrics.degraded.WithLabelValues("prices").Inc()
	}

	e.mu.RLock()
	solar := slices.Collect(e.models.Solar.Predict(now, e.cfg.HorizonHours))
	load := slices.Collect(e.models.Load.Predict(now, e.cfg.HorizonHours))
	patterns := e.models.Patterns.RelevantPatternsWithin(now, horizon)
	if len(patterns) == 0 {
		e.metrics.degraded.WithLabelValues("patterns").Inc()
		log.Ctx(ctx).DebugContext(ctx, "no patterns match the horizon")
	}
	decisions := e.models.Optimizer.Optimize(ctx, optimizer.OptimizeContext{
		Start:    now,
		State:    state,
		Solar:    solar,
		Load:     load,
		Prices:   forecastPrices,
		Patterns: patterns,
	})
	learning := e.learning
	e.mu.RUnlock()

	pred := &types.Prediction{
		ID:        uuid.NewString(),
		Timestamp: now,
		Solar:     solar,
		Load:      load,
		Charging:  decisions,
		Prices:    forecastPrices,
		Learning:  learning,
	}

	e.mu.Lock()
	pred.Confidence = e.confidenceLocked()
	e.previous = e.current
	e.current = pred
	e.state = types.EngineStateReady
	e.mu.Unlock()

	e.metrics.predictions.Inc()
	e.metrics.confidence.Set(pred.Confidence)
	log.Ctx(ctx).InfoContext(
		ctx,
		"made prediction",
		slog.String("id", pred.ID),
		slog.Float64("confidence", pred.Confidence),
		slog.Bool("learning", learning),
		slog.Int("slots", len(decisions)),
		slog.Int("patterns", len(patterns)),
		slog.Int("prices", len(forecastPrices)),
	)
	return pred, nil
}

// relativeAccuracy is 1 minus the relative error, clamped to [0, 1]. An
// actual of zero counts as no error.
func relativeAccuracy(actual, predicted float64) float64 {
	if actual == 0 {
		return 1
	}
	acc := 1 - math.Abs(actual-predicted)/math.Abs(actual)
	if math.IsNaN(acc) {
		return 0
	}
	return math.Max(0, math.Min(1, acc))
}

func firstPower(points []types.ForecastPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	return points[0].PowerW
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// LearnFromOutcome compares the first point of a prediction against the
// observed outcome and updates the performance metrics. A zero ref means the
// current prediction. In learning mode the outcome is also fed to every
// model.
func (e *Engine) LearnFromOutcome(ctx context.Context, ref types.PredictionRef, out types.Outcome) error {
	ctx = log.Component(ctx, "engine")

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return ErrNotInitialized
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = e.now()
	}

	var pred *types.Prediction
	switch {
	case ref.IsZero():
		pred = e.current
	case e.current != nil && e.current.ID == ref.ID:
		pred = e.current
	case e.previous != nil && e.previous.ID == ref.ID:
		pred = e.previous
	default:
		return fmt.Errorf("prediction %s: %w", ref.ID, ErrUnknownPrediction)
	}
	if pred == nil {
		log.Ctx(ctx).DebugContext(ctx, "no prediction to learn from")
		return nil
	}

	if finite(out.SolarW) && finite(out.LoadW) {
		solarAcc := relativeAccuracy(out.SolarW, firstPower(pred.Solar))
		loadAcc := relativeAccuracy(out.LoadW, firstPower(pred.Load))
		if e.cfg.AccuracyMode == AccuracyModeEMA && e.accuracySamples > 0 {
			a := e.cfg.AccuracySmoothing
			solarAcc = (1-a)*e.performance.SolarAccuracy + a*solarAcc
			loadAcc = (1-a)*e.performance.LoadAccuracy + a*loadAcc
		}
		e.performance.SolarAccuracy = solarAcc
		e.performance.LoadAccuracy = loadAcc
		e.accuracySamples++
	} else {
		log.Ctx(ctx).WarnContext(ctx, "ignoring non-finite outcome", slog.Float64("solarW", out.SolarW), slog.Float64("loadW", out.LoadW))
	}

	// savings are the import avoided for an hour of the observed deficit
	// minus what was actually paid
	if len(pred.Prices) > 0 && finite(out.Cost) && finite(out.SolarW) && finite(out.LoadW) {
		for _, p := range pred.Prices {
			if !p.Contains(pred.Timestamp) {
				continue
			}
			deficitKWH := math.Max(out.LoadW-out.SolarW, 0) / 1000
			e.performance.CostSavings += deficitKWH*p.Total() - out.Cost
			break
		}
	}

	if e.learning {
		if err := e.models.Solar.Update(out); err != nil {
			log.Ctx(ctx).DebugContext(ctx, "solar update rejected", slog.Any("error", err))
		}
		if err := e.models.Load.Update(out); err != nil {
			log.Ctx(ctx).DebugContext(ctx, "load update rejected", slog.Any("error", err))
		}
		if err := e.models.Optimizer.UpdateRewards(out); err != nil {
			log.Ctx(ctx).DebugContext(ctx, "reward update rejected", slog.Any("error", err))
		}
	}

	e.metrics.outcomes.Inc()
	e.metrics.accuracy.WithLabelValues("solar").Set(e.performance.SolarAccuracy)
	e.metrics.accuracy.WithLabelValues("load").Set(e.performance.LoadAccuracy)
	e.metrics.costSavings.Set(e.performance.CostSavings)
	log.Ctx(ctx).DebugContext(
		ctx,
		"learned from outcome",
		slog.String("prediction", pred.ID),
		slog.Float64("solarAccuracy", e.performance.SolarAccuracy),
		slog.Float64("loadAccuracy", e.performance.LoadAccuracy),
		slog.Float64("costSavings", e.performance.CostSavings),
	)
	return nil
}

// Confidence returns the engine's current confidence.
func (e *Engine) Confidence() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.confidenceLocked()
}

func (e *Engine) confidenceLocked() float64 {
	return e.cfg.Confidence.Compute(e.learning || !e.initialized, e.performance.SolarAccuracy, e.performance.LoadAccuracy)
}

// Current returns the current prediction, or nil if none was made yet.
func (e *Engine) Current() *types.Prediction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Initialized returns true once Initialize has completed.
func (e *Engine) Initialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// ApplySettings applies the dynamic battery settings to the optimizer.
func (e *Engine) ApplySettings(s types.Settings) error {
	err := e.models.Optimizer.ApplyLimits(optimizer.Limits{
		MinReserveSOC: s.MinReserveSOC,
		MaxChargeW:    s.MaxChargeW,
		MaxDischargeW: s.MaxDischargeW,
	})
	if err != nil {
		return fmt.Errorf("failed to apply settings: %w", err)
	}
	return nil
}

// Status returns a read-only snapshot of the engine.
func (e *Engine) Status() types.StatusSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := types.StatusSnapshot{
		State:       e.state,
		Initialized: e.initialized,
		Learning:    e.learning,
		Confidence:  e.confidenceLocked(),
		Performance: e.performance,
		Models: types.ModelsStatus{
			Solar:     e.models.Solar.Status(),
			Load:      e.models.Load.Status(),
			Optimizer: e.models.Optimizer.Status(),
			Patterns:  e.models.Patterns.Status(),
		},
		Training: slices.Clone(e.training),
	}
	if e.current != nil {
		snap.LastPrediction = &types.PredictionSummary{
			ID:         e.current.ID,
			Timestamp:  e.current.Timestamp,
			Confidence: e.current.Confidence,
		}
	}
	return snap
}
