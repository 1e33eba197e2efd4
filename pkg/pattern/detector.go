package pattern

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/solarautopilot/solarautopilot/pkg/log"
	"github.com/solarautopilot/solarautopilot/pkg/types"
)

// ErrNoHistory is returned by Analyze when it is given no samples.
var ErrNoHistory = errors.New("no history to analyze")

type window struct {
	name  string
	start int
	end   int
}

// windows are the fixed parts of the day patterns are mined over.
var windows = []window{
	{"night", 0, 6},
	{"morning", 6, 10},
	{"midday", 10, 15},
	{"afternoon", 15, 18},
	{"evening", 18, 21},
	{"late", 21, 24},
}

// candidate accumulates the evidence for one pattern.
type candidate struct {
	kind    types.PatternKind
	rule    types.Rule
	days    int
	support int
	effects []float64
}

// Detector mines recurring time-of-day patterns from aligned history.
type Detector struct {
	cfg Config

	mu            sync.RWMutex
	patterns      []types.Pattern
	trained       bool
	lastTrainedAt time.Time
	samples       int
	days          int
}

// NewDetector returns a detector with no patterns.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

type day struct {
	dayType types.DayType
	season  types.Season
	samples []types.HistoricalSample
}

// Analyze replaces the stored patterns with the ones found in samples.
func (d *Detector) Analyze(ctx context.Context, samples []types.HistoricalSample) error {
	if len(samples) == 0 {
		return ErrNoHistory
	}

	loc := d.cfg.location()
	days := make(map[string]*day)
	var order []string
	for _, s := range samples {
		s.Timestamp = s.Timestamp.In(loc)
		key := s.Timestamp.Format(time.DateOnly)
		dd, ok := days[key]
		if !ok {
			dd = &day{
				dayType: types.DayTypeOf(s.Timestamp),
				season:  types.SeasonOf(s.Timestamp),
			}
			days[key] = dd
			order = append(order, key)
		}
		dd.samples = append(dd.samples, s)
	}

	candidates := make(map[string]*candidate)
	get := func(key string, kind types.PatternKind, rule types.Rule) *candidate {
		c, ok := candidates[key]
		if !ok {
			c = &candidate{kind: kind, rule: rule}
			candidates[key] = c
		}
		return c
	}

	for _, key := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		dd := days[key]
		dayLoad, dayPrice, hasPrice := dayMeans(dd.samples)

		for _, w := range windows {
			var load, surplus, price []float64
			for _, s := range dd.samples {
				if h := s.Timestamp.Hour(); h < w.start || h >= w.end {
					continue
				}
				load = append(load, s.LoadW)
				surplus = append(surplus, s.SolarW-s.LoadW)
				if s.Price != nil {
					price = append(price, *s.Price)
				}
			}
			if len(load) == 0 {
				continue
			}
			rule := types.Rule{HourStart: w.start, HourEnd: w.end, DayType: dd.dayType}
			prefix := string(dd.dayType) + ":" + w.name + ":"

			if dayLoad > 0 {
				windowLoad := stat.Mean(load, nil)
				delta := windowLoad - dayLoad

				surge := get(prefix+string(types.PatternLoadSurge), types.PatternLoadSurge, rule)
				surge.days++
				if windowLoad >= (1+d.cfg.LoadThreshold)*dayLoad {
					surge.support++
					surge.effects = append(surge.effects, delta)
				}

				dip := get(prefix+string(types.PatternLoadDip), types.PatternLoadDip, rule)
				dip.days++
				if windowLoad <= (1-d.cfg.LoadThreshold)*dayLoad {
					dip.support++
					dip.effects = append(dip.effects, delta)
				}
			}

			seasonRule := rule
			seasonRule.Seasons = []types.Season{dd.season}
			sp := get(string(dd.season)+":"+prefix+string(types.PatternSolarSurplus), types.PatternSolarSurplus, seasonRule)
			sp.days++
			if windowSurplus := stat.Mean(surplus, nil); windowSurplus >= d.cfg.SurplusW {
				sp.support++
				sp.effects = append(sp.effects, windowSurplus)
			}

			if hasPrice && len(price) > 0 {
				delta := stat.Mean(price, nil) - dayPrice
				threshold := d.cfg.PriceThreshold * math.Abs(dayPrice)

				peak := get(prefix+string(types.PatternPricePeak), types.PatternPricePeak, rule)
				peak.days++
				if delta > 0 && delta >= threshold {
					peak.support++
					peak.effects = append(peak.effects, delta)
				}

				valley := get(prefix+string(types.PatternPriceValley), types.PatternPriceValley, rule)
				valley.days++
				if delta < 0 && -delta >= threshold {
					valley.support++
					valley.effects = append(valley.effects, delta)
				}
			}
		}
	}

	patterns := make([]types.Pattern, 0)
	for key, c := range candidates {
		if c.support < d.cfg.MinSupport {
			continue
		}
		occurrence := float64(c.support) / float64(c.days)
		if occurrence < d.cfg.MinOccurrence {
			log.Ctx(ctx).DebugContext(
				ctx,
				"discarding infrequent pattern",
				slog.String("key", key),
				slog.Int("support", c.support),
				slog.Int("days", c.days),
			)
			continue
		}
		p := types.Pattern{
			Key:        key,
			Kind:       c.kind,
			Rule:       c.rule,
			Support:    c.support,
			Occurrence: occurrence,
		}
		effect := stat.Mean(c.effects, nil)
		switch c.kind {
		case types.PatternLoadSurge, types.PatternLoadDip:
			p.Effect.LoadDeltaW = effect
		case types.PatternSolarSurplus:
			p.Effect.SolarDeltaW = effect
		case types.PatternPricePeak, types.PatternPriceValley:
			p.Effect.PriceDelta = effect
		}
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		return patterns[i].Key < patterns[j].Key
	})

	d.mu.Lock()
	d.patterns = patterns
	d.trained = true
	d.lastTrainedAt = time.Now()
	d.samples = len(samples)
	d.days = len(order)
	d.mu.Unlock()

	log.Ctx(ctx).DebugContext(
		ctx,
		"analyzed patterns",
		slog.Int("days", len(order)),
		slog.Int("candidates", len(candidates)),
		slog.Int("patterns", len(patterns)),
	)
	return nil
}

// dayMeans returns the mean load and, if any sample has one, the mean price of
// a day.
func dayMeans(samples []types.HistoricalSample) (float64, float64, bool) {
	load := make([]float64, 0, len(samples))
	var price []float64
	for _, s := range samples {
		load = append(load, s.LoadW)
		if s.Price != nil {
			price = append(price, *s.Price)
		}
	}
	if len(price) == 0 {
		return stat.Mean(load, nil), 0, false
	}
	return stat.Mean(load, nil), stat.Mean(price, nil), true
}

// Patterns returns every stored pattern ordered by key.
func (d *Detector) Patterns() []types.Pattern {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]types.Pattern(nil), d.patterns...)
}

// RelevantPatterns returns the stored patterns whose rule matches ref.
func (d *Detector) RelevantPatterns(ref time.Time) []types.Pattern {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ref = ref.In(d.cfg.location())
	var out []types.Pattern
	for _, p := range d.patterns {
		if p.Rule.Matches(ref) {
			out = append(out, p)
		}
	}
	return out
}

// RelevantPatternsWithin returns the patterns that match any hour between ref
// and ref+horizon, ordered by key.
func (d *Detector) RelevantPatternsWithin(ref time.Time, horizon time.Duration) []types.Pattern {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ref = ref.In(d.cfg.location())
	var out []types.Pattern
	for _, p := range d.patterns {
		for offset := time.Duration(0); offset < horizon || offset == 0; offset += time.Hour {
			if p.Rule.Matches(ref.Add(offset)) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// Reset discards every stored pattern.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patterns = nil
	d.trained = false
	d.lastTrainedAt = time.Time{}
	d.samples = 0
	d.days = 0
}

// Trained returns true once Analyze has succeeded.
func (d *Detector) Trained() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.trained
}

func (d *Detector) Status() types.ModelStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	detail := map[string]float64{
		"patterns": float64(len(d.patterns)),
		"days":     float64(d.days),
	}
	for _, p := range d.patterns {
		detail[string(p.Kind)]++
	}
	return types.ModelStatus{
		Name:          "patterns",
		Trained:       d.trained,
		LastTrainedAt: d.lastTrainedAt,
		Samples:       d.samples,
		Detail:        detail,
	}
}

// Keys returns the keys of the given patterns joined for logs and rationales.
func Keys(patterns []types.Pattern) string {
	keys := make([]string, 0, len(patterns))
	for _, p := range patterns {
		keys = append(keys, p.Key)
	}
	return strings.Join(keys, ",")
}
