package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/solarautopilot/solarautopilot/pkg/forecast"
	"github.com/solarautopilot/solarautopilot/pkg/history"
	"github.com/solarautopilot/solarautopilot/pkg/log"
	"github.com/solarautopilot/solarautopilot/pkg/types"
)

// loadHistory queries every metric under the fetch timeout. A price failure
// is not fatal, training simply has no historical prices.
func (e *Engine) loadHistory(ctx context.Context, provider history.Provider) (types.Dataset, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	var ds types.Dataset
	var err error
	ds.Solar, err = provider.Query(ctx, types.MetricSolar, e.cfg.LookbackDays)
	if err != nil {
		return ds, fmt.Errorf("failed to query solar history: %w", err)
	}
	ds.Load, err = provider.Query(ctx, types.MetricLoad, e.cfg.LookbackDays)
	if err != nil {
		return ds, fmt.Errorf("failed to query load history: %w", err)
	}
	ds.Price, err = provider.Query(ctx, types.MetricPrice, e.cfg.LookbackDays)
	if err != nil {
		if ctx.Err() != nil {
			return ds, fmt.Errorf("failed to query price history: %w", err)
		}
		log.Ctx(ctx).WarnContext(ctx, "price history unavailable, training without prices", slog.Any("error", err))
		e.metrics.degraded.WithLabelValues("price_history").Inc()
		ds.Price = nil
	}
	return ds, nil
}

type stage struct {
	name string
	run  func(ctx context.Context) error
}

// train runs the four training stages in order. It reports whether every
// stage succeeded. An error is only returned if ctx was cancelled, in which
// case the results must be discarded.
func (e *Engine) train(ctx context.Context, ds types.Dataset, prices PriceService) ([]types.StageResult, bool, error) {
	samples := ds.Aligned()

	stages := []stage{
		{"solar", func(ctx context.Context) error { return e.models.Solar.Train(ctx, ds.Solar) }},
		{"load", func(ctx context.Context) error { return e.models.Load.Train(ctx, ds.Load) }},
		{"patterns", func(ctx context.Context) error { return e.models.Patterns.Analyze(ctx, samples) }},
		{"optimizer", func(ctx context.Context) error { return e.models.Optimizer.Train(ctx, samples, prices) }},
	}

	results := make([]types.StageResult, 0, len(stages))
	ok := true
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return results, false, err
		}
		start := time.Now()
		err := s.run(ctx)
		if ctx.Err() != nil {
			return results, false, ctx.Err()
		}
		res := types.StageResult{
			Name:     s.name,
			OK:       err == nil,
			Duration: time.Since(start),
		}
		e.metrics.stageDuration.WithLabelValues(s.name).Observe(res.Duration.Seconds())
		if err != nil {
			ok = false
			res.Error = err.Error()
			e.metrics.stageFailures.WithLabelValues(s.name).Inc()
			if errors.Is(err, forecast.ErrInsufficientData) {
				log.Ctx(ctx).InfoContext(ctx, "not enough history for stage", slog.String("stage", s.name), slog.Any("error", err))
			} else {
				log.Ctx(ctx).WarnContext(ctx, "training stage failed", slog.String("stage", s.name), slog.Any("error", err))
			}
		} else {
			log.Ctx(ctx).DebugContext(ctx, "training stage finished", slog.String("stage", s.name), slog.Duration("duration", res.Duration))
		}
		results = append(results, res)
	}
	return results, ok, nil
}
