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

// seasonBins splits the year into bins of roughly 15 days.
const seasonBins = 24

// maxDayLengthHours is the longest day the generic curve produces.
const maxDayLengthHours = 15.0

func seasonBin(t time.Time) int {
	return (t.YearDay() - 1) * seasonBins / 366
}

// binYearDay returns the day of year at the center of a season bin.
func binYearDay(bin int) int {
	return int((float64(bin)+0.5)*366/seasonBins) + 1
}

// dayLengthHours approximates hours of daylight on the given day of year.
func dayLengthHours(yearDay int) float64 {
	return 12 + 3*math.Sin(2*math.Pi*float64(yearDay-80)/365)
}

// solarShape is the generic production curve relative to the yearly peak: a
// bell curve centered at noon whose width and height follow the day length.
func solarShape(yearDay int, hour float64) float64 {
	d := dayLengthHours(yearDay)
	sunrise, sunset := 12-d/2, 12+d/2
	if hour <= sunrise || hour >= sunset {
		return 0
	}
	// the day spans +/- 3 sigma
	sigma := d / 6
	bell := math.Exp(-math.Pow(hour-12, 2) / (2 * sigma * sigma))
	return bell * d / maxDayLengthHours
}

// Solar forecasts photovoltaic output from a season x hour-of-day profile.
type Solar struct {
	cfg Config

	mu            sync.RWMutex
	table         profile
	peakW         float64
	trained       bool
	lastTrainedAt time.Time
	samples       int
	updates       int
}

// NewSolar returns an untrained solar predictor.
func NewSolar(cfg Config) *Solar {
	return &Solar{
		cfg:   cfg,
		table: newProfile(seasonBins),
		peakW: cfg.DefaultPeakW,
	}
}

// Train rebuilds the profile from the given solar history.
func (s *Solar) Train(ctx context.Context, history []types.MetricValue) error {
	loc := s.cfg.location()
	values := make([][]float64, seasonBins*24)
	var valid int
	for _, v := range history {
		if !finite(v.Value) {
			continue
		}
		w := math.Max(0, v.Value)
		ts := v.Timestamp.In(loc)
		idx := seasonBin(ts)*24 + ts.Hour()
		values[idx] = append(values[idx], w)
		valid++
	}
	if valid < s.cfg.SolarMinSamples {
		return &InsufficientDataError{Model: "solar", Have: valid, Need: s.cfg.SolarMinSamples}
	}

	raw := newProfile(seasonBins)
	raw.fill(values)
	table := smoothSeasons(raw)
	peak := estimatePeak(raw)
	if peak <= 0 {
		log.Ctx(ctx).DebugContext(ctx, "no daylight solar found, keeping default peak", slog.Float64("peakW", s.cfg.DefaultPeakW))
		peak = s.cfg.DefaultPeakW
	}

	s.mu.Lock()
	s.table = table
	s.peakW = peak
	s.trained = true
	s.lastTrainedAt = time.Now()
	s.samples = valid
	s.updates = 0
	s.mu.Unlock()

	log.Ctx(ctx).DebugContext(
		ctx,
		"trained solar profile",
		slog.Int("samples", valid),
		slog.Int("buckets", table.populated()),
		slog.Float64("peakW", peak),
	)
	return nil
}

// smoothSeasons smooths every hour across neighbouring season bins with a
// circular 1-2-1 kernel weighted by bucket support.
func smoothSeasons(raw profile) profile {
	out := newProfile(raw.rows)
	for bin := 0; bin < raw.rows; bin++ {
		prev := (bin - 1 + raw.rows) % raw.rows
		next := (bin + 1) % raw.rows
		for hour := 0; hour < 24; hour++ {
			l, c, r := raw.at(prev, hour), raw.at(bin, hour), raw.at(next, hour)
			total := l.support + 2*c.support + r.support
			if total == 0 {
				continue
			}
			out.buckets[bin*24+hour] = bucket{
				mean:    (l.support*l.mean + 2*c.support*c.mean + r.support*r.mean) / total,
				support: c.support + (l.support+r.support)/2,
			}
		}
	}
	return out
}

// estimatePeak scales the generic curve to the observed production. Only
// buckets near the middle of the day are used so that edge noise doesn't
// blow the estimate up.
func estimatePeak(raw profile) float64 {
	var estimates []float64
	for bin := 0; bin < raw.rows; bin++ {
		yearDay := binYearDay(bin)
		for hour := 0; hour < 24; hour++ {
			b := raw.at(bin, hour)
			if b.support == 0 || b.mean <= 0 {
				continue
			}
			shape := solarShape(yearDay, float64(hour)+0.5)
			if shape < 0.4 {
				continue
			}
			estimates = append(estimates, b.mean/shape)
		}
	}
	if len(estimates) == 0 {
		return 0
	}
	sort.Float64s(estimates)
	return stat.Quantile(0.9, stat.Empirical, estimates, nil)
}

// Predict returns one forecast point per hour of the horizon starting at ref.
// The model parameters are captured when Predict is called so the sequence
// can be ranged over any number of times.
func (s *Solar) Predict(ref time.Time, horizonHours int) iter.Seq[types.ForecastPoint] {
	s.mu.RLock()
	table := s.table.clone()
	peak := s.peakW
	trained := s.trained
	s.mu.RUnlock()

	cfg := s.cfg
	loc := cfg.location()
	return func(yield func(types.ForecastPoint) bool) {
		for h := 0; h < horizonHours; h++ {
			t := ref.Add(time.Duration(h) * time.Hour).In(loc)
			prior := peak * solarShape(t.YearDay(), float64(t.Hour())+0.5)
			value, weight := shrink(table.at(seasonBin(t), t.Hour()), prior, cfg.ShrinkSamples)
			conf := pointConfidence(weight, float64(h), cfg.DecayHours)
			if !trained {
				conf = math.Min(conf, cfg.UntrainedConfidence)
			}
			if !yield(types.ForecastPoint{
				OffsetMinutes: h * 60,
				PowerW:        math.Max(0, value),
				Confidence:    conf,
			}) {
				return
			}
		}
	}
}

// Update blends an observed solar output into its bucket.
func (s *Solar) Update(o types.Outcome) error {
	if !finite(o.SolarW) {
		return fmt.Errorf("solar %v: %w", o.SolarW, ErrRejectedObservation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := o.Timestamp.In(s.cfg.location())
	s.table.observe(seasonBin(ts), ts.Hour(), math.Max(0, o.SolarW), s.cfg.Smoothing)
	s.updates++
	return nil
}

// Reset discards everything learned.
func (s *Solar) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = newProfile(seasonBins)
	s.peakW = s.cfg.DefaultPeakW
	s.trained = false
	s.lastTrainedAt = time.Time{}
	s.samples = 0
	s.updates = 0
}

// Trained returns true once Train has succeeded.
func (s *Solar) Trained() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trained
}

func (s *Solar) Status() types.ModelStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.ModelStatus{
		Name:          "solar",
		Trained:       s.trained,
		LastTrainedAt: s.lastTrainedAt,
		Samples:       s.samples,
		Updates:       s.updates,
		Detail: map[string]float64{
			"peakW":   s.peakW,
			"buckets": float64(s.table.populated()),
		},
	}
}
