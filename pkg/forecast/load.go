package forecast

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/solarautopilot/solarautopilot/pkg/log"
	"github.com/solarautopilot/solarautopilot/pkg/types"
)

// outlierMultiple times the 99th percentile marks a training sample as an
// outlier.
const outlierMultiple = 3.0

const (
	rowWeekday = 0
	rowWeekend = 1
)

func dayRow(t time.Time) int {
	if types.DayTypeOf(t) == types.DayTypeWeekend {
		return rowWeekend
	}
	return rowWeekday
}

// residentialShape is a generic household profile relative to the base load:
// a quiet night, a morning peak, and a larger evening peak. Weekends have a
// later morning and a busier middle of the day.
func residentialShape(row, hour int) float64 {
	switch {
	case hour < 6:
		return 0.8
	case hour < 9:
		if row == rowWeekend {
			return 1.0
		}
		return 1.4
	case hour < 17:
		if row == rowWeekend {
			return 1.3
		}
		return 1.0
	case hour < 22:
		return 2.0
	default:
		return 1.2
	}
}

// Load forecasts household consumption from a day type x hour-of-day
// profile.
type Load struct {
	cfg Config

	mu            sync.RWMutex
	table         profile
	ceilingW      float64
	trained       bool
	lastTrainedAt time.Time
	samples       int
	updates       int
	outliers      int
}

// NewLoad returns an untrained load forecaster.
func NewLoad(cfg Config) *Load {
	return &Load{
		cfg:   cfg,
		table: newProfile(2),
	}
}

// Train rebuilds the profile from the given load history.
func (l *Load) Train(ctx context.Context, history []types.MetricValue) error {
	valid := make([]types.MetricValue, 0, len(history))
	for _, v := range history {
		if !finite(v.Value) || v.Value < 0 {
			continue
		}
		valid = append(valid, v)
	}
	if len(valid) < l.cfg.LoadMinSamples {
		return &InsufficientDataError{Model: "load", Have: len(valid), Need: l.cfg.LoadMinSamples}
	}

	sorted := make([]float64, len(valid))
	for i, v := range valid {
		sorted[i] = v.Value
	}
	sort.Float64s(sorted)
	limit := outlierMultiple * stat.Quantile(0.99, stat.Empirical, sorted, nil)

	loc := l.cfg.location()
	values := make([][]float64, 2*24)
	var maxW float64
	var outliers int
	for _, v := range valid {
		if limit > 0 && v.Value > limit {
			log.Ctx(ctx).DebugContext(
				ctx,
				"ignoring outlier load sample",
				slog.Time("ts", v.Timestamp),
				slog.Float64("loadW", v.Value),
				slog.Float64("limitW", limit),
			)
			outliers++
			continue
		}
		ts := v.Timestamp.In(loc)
		idx := dayRow(ts)*24 + ts.Hour()
		values[idx] = append(values[idx], v.Value)
		maxW = math.Max(maxW, v.Value)
	}

	table := newProfile(2)
	table.fill(values)

	l.mu.Lock()
	l.table = table
	l.ceilingW = l.cfg.CeilingMultiple * maxW
	l.trained = true
	l.lastTrainedAt = time.Now()
	l.samples = len(valid) - outliers
	l.updates = 0
	l.outliers = outliers
	l.mu.Unlock()

	log.Ctx(ctx).DebugContext(
		ctx,
		"trained load profile",
		slog.Int("samples", len(valid)-outliers),
		slog.Int("outliers", outliers),
		slog.Float64("ceilingW", l.cfg.CeilingMultiple*maxW),
	)
	return nil
}

// Predict returns one forecast point per hour of the horizon starting at ref.
// Like Solar.Predict, the returned sequence is restartable.
func (l *Load) Predict(ref time.Time, horizonHours int) iter.Seq[types.ForecastPoint] {
	l.mu.RLock()
	table := l.table.clone()
	ceiling := l.ceilingW
	trained := l.trained
	l.mu.RUnlock()

	cfg := l.cfg
	loc := cfg.location()
	return func(yield func(types.ForecastPoint) bool) {
		for h := 0; h < horizonHours; h++ {
			t := ref.Add(time.Duration(h) * time.Hour).In(loc)
			row := dayRow(t)
			prior := cfg.BaseLoadW * residentialShape(row, t.Hour())
			value, weight := shrink(table.at(row, t.Hour()), prior, cfg.ShrinkSamples)
			value = math.Max(0, value)
			if ceiling > 0 {
				value = math.Min(value, ceiling)
			}
			conf := pointConfidence(weight, float64(h), cfg.DecayHours)
			if !trained {
				conf = math.Min(conf, cfg.UntrainedConfidence)
			}
			if !yield(types.ForecastPoint{
				OffsetMinutes: h * 60,
				PowerW:        value,
				Confidence:    conf,
			}) {
				return
			}
		}
	}
}

// Update blends an observed load into its bucket. Observations beyond the
// sanity ceiling are rejected.
func (l *Load) Update(o types.Outcome) error {
	if !finite(o.LoadW) || o.LoadW < 0 {
		return fmt.Errorf("load %v: %w", o.LoadW, ErrRejectedObservation)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ceilingW > 0 && o.LoadW > l.ceilingW {
		return fmt.Errorf("load %v above ceiling %v: %w", o.LoadW, l.ceilingW, ErrRejectedObservation)
	}
	ts := o.Timestamp.In(l.cfg.location())
	l.table.observe(dayRow(ts), ts.Hour(), o.LoadW, l.cfg.Smoothing)
	l.updates++
	return nil
}

// Reset discards everything learned.
func (l *Load) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.table = newProfile(2)
	l.ceilingW = 0
	l.trained = false
	l.lastTrainedAt = time.Time{}
	l.samples = 0
	l.updates = 0
	l.outliers = 0
}

// Trained returns true once Train has succeeded.
func (l *Load) Trained() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.trained
}

func (l *Load) Status() types.ModelStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return types.ModelStatus{
		Name:          "load",
		Trained:       l.trained,
		LastTrainedAt: l.lastTrainedAt,
		Samples:       l.samples,
		Updates:       l.updates,
		Detail: map[string]float64{
			"ceilingW": l.ceilingW,
			"outliers": float64(l.outliers),
			"buckets":  float64(l.table.populated()),
		},
	}
}
