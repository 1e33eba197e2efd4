package pattern

import (
	"context"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarautopilot/solarautopilot/pkg/types"
)

func price(v float64) *float64 {
	return &v
}

// household builds hourly history ending at end. surge decides whether a day
// gets an evening load surge.
func household(end time.Time, days int, withPrices bool, surge func(ts time.Time) bool) []types.HistoricalSample {
	start := end.Add(-time.Duration(days) * 24 * time.Hour)
	var out []types.HistoricalSample
	for ts := start; ts.Before(end); ts = ts.Add(time.Hour) {
		h := ts.Hour()
		s := types.HistoricalSample{Timestamp: ts, LoadW: 500}
		if types.DayTypeOf(ts) == types.DayTypeWeekend {
			s.LoadW = 800
		} else if h >= 18 && h < 21 && surge(ts) {
			s.LoadW = 2000
		}
		if h > 6 && h < 18 {
			s.SolarW = 3000 * math.Sin(math.Pi*float64(h-6)/12)
		}
		if withPrices {
			switch {
			case h < 6:
				s.Price = price(0.05)
			case h >= 18 && h < 21:
				s.Price = price(0.25)
			default:
				s.Price = price(0.10)
			}
		}
		out = append(out, s)
	}
	return out
}

func always(time.Time) bool { return true }

func keys(patterns []types.Pattern) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, p.Key)
	}
	return out
}

func TestAnalyze(t *testing.T) {
	ctx := context.Background()
	// Monday
	end := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	t.Run("Empty History", func(t *testing.T) {
		d := NewDetector(DefaultConfig())
		assert.ErrorIs(t, d.Analyze(ctx, nil), ErrNoHistory)
		assert.False(t, d.Trained())
	})

	t.Run("Weekday Evening Surge", func(t *testing.T) {
		d := NewDetector(DefaultConfig())
		require.NoError(t, d.Analyze(ctx, household(end, 56, false, always)))
		assert.True(t, d.Trained())

		var surge *types.Pattern
		for _, p := range d.Patterns() {
			if p.Key == "weekday:evening:load_surge" {
				surge = &p
			}
		}
		require.NotNil(t, surge)
		assert.Equal(t, types.PatternLoadSurge, surge.Kind)
		assert.Equal(t, 40, surge.Support)
		assert.InDelta(t, 1.0, surge.Occurrence, 0.0001)
		assert.Equal(t, types.Rule{HourStart: 18, HourEnd: 21, DayType: types.DayTypeWeekday}, surge.Rule)
		// 2000 - (21*500 + 3*2000)/24
		assert.InDelta(t, 1312.5, surge.Effect.LoadDeltaW, 0.001)
		assert.Equal(t, "weekday 18:00-21:00", surge.Rule.String())

		all := keys(d.Patterns())
		assert.NotContains(t, all, "weekend:evening:load_surge")
		assert.NotContains(t, all, "weekday:night:load_dip")
		assert.Contains(t, all, "winter:weekday:midday:solar_surplus")
		assert.Contains(t, all, "winter:weekend:midday:solar_surplus")
		// only the first two days of March are in the history
		assert.NotContains(t, all, "spring:weekend:midday:solar_surplus")
		assert.True(t, sort.StringsAreSorted(all))

		for _, p := range d.Patterns() {
			assert.NotEqual(t, types.PatternPricePeak, p.Kind, "no prices were given")
		}
	})

	t.Run("Rare Surges Are Discarded", func(t *testing.T) {
		d := NewDetector(DefaultConfig())
		// only two surging days
		n := 0
		rare := func(ts time.Time) bool {
			return ts.Day() == 10 || ts.Day() == 11
		}
		require.NoError(t, d.Analyze(ctx, household(end, 56, false, rare)))
		for _, p := range d.Patterns() {
			if p.Kind == types.PatternLoadSurge {
				n++
			}
		}
		assert.Equal(t, 0, n)
	})

	t.Run("Infrequent Surges Are Discarded", func(t *testing.T) {
		d := NewDetector(DefaultConfig())
		// Fridays only: 8 of 40 weekdays
		fridays := func(ts time.Time) bool {
			return ts.Weekday() == time.Friday
		}
		require.NoError(t, d.Analyze(ctx, household(end, 56, false, fridays)))
		assert.NotContains(t, keys(d.Patterns()), "weekday:evening:load_surge")

		cfg := DefaultConfig()
		cfg.MinOccurrence = 0.1
		d = NewDetector(cfg)
		require.NoError(t, d.Analyze(ctx, household(end, 56, false, fridays)))
		assert.Contains(t, keys(d.Patterns()), "weekday:evening:load_surge")
	})

	t.Run("Price Peaks And Valleys", func(t *testing.T) {
		d := NewDetector(DefaultConfig())
		require.NoError(t, d.Analyze(ctx, household(end, 56, true, always)))

		all := keys(d.Patterns())
		assert.Contains(t, all, "weekday:evening:price_peak")
		assert.Contains(t, all, "weekend:evening:price_peak")
		assert.Contains(t, all, "weekday:night:price_valley")
		assert.NotContains(t, all, "weekday:midday:price_peak")
		assert.NotContains(t, all, "weekday:midday:price_valley")

		for _, p := range d.Patterns() {
			if p.Key == "weekday:evening:price_peak" {
				// 0.25 - (6*0.05 + 3*0.25 + 15*0.10)/24
				assert.InDelta(t, 0.14375, p.Effect.PriceDelta, 0.00001)
			}
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		history := household(end, 56, true, always)
		d1 := NewDetector(DefaultConfig())
		d2 := NewDetector(DefaultConfig())
		require.NoError(t, d1.Analyze(ctx, history))
		require.NoError(t, d2.Analyze(ctx, history))
		assert.Equal(t, d1.Patterns(), d2.Patterns())
	})

	t.Run("Cancelled", func(t *testing.T) {
		d := NewDetector(DefaultConfig())
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, d.Analyze(cctx, household(end, 7, false, always)), context.Canceled)
		assert.False(t, d.Trained())
	})
}

func TestRelevantPatterns(t *testing.T) {
	ctx := context.Background()
	end := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	d := NewDetector(DefaultConfig())
	require.NoError(t, d.Analyze(ctx, household(end, 56, false, always)))

	// Tuesday
	evening := time.Date(2025, 2, 25, 19, 0, 0, 0, time.UTC)
	assert.Contains(t, keys(d.RelevantPatterns(evening)), "weekday:evening:load_surge")

	night := time.Date(2025, 2, 25, 3, 0, 0, 0, time.UTC)
	assert.NotContains(t, keys(d.RelevantPatterns(night)), "weekday:evening:load_surge")

	saturday := time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC)
	assert.NotContains(t, keys(d.RelevantPatterns(saturday)), "weekday:evening:load_surge")

	t.Run("Within Horizon", func(t *testing.T) {
		noon := time.Date(2025, 2, 25, 12, 0, 0, 0, time.UTC)
		assert.NotContains(t, keys(d.RelevantPatterns(noon)), "weekday:evening:load_surge")

		within := d.RelevantPatternsWithin(noon, 12*time.Hour)
		assert.Contains(t, keys(within), "weekday:evening:load_surge")
		assert.Contains(t, keys(within), "winter:weekday:midday:solar_surplus")
		assert.True(t, sort.StringsAreSorted(keys(within)))

		assert.Equal(t, d.RelevantPatterns(noon), d.RelevantPatternsWithin(noon, 0))
	})

	t.Run("Reset", func(t *testing.T) {
		d.Reset()
		assert.Empty(t, d.RelevantPatterns(evening))
		status := d.Status()
		assert.False(t, status.Trained)
		assert.Equal(t, 0.0, status.Detail["patterns"])
	})
}

func TestSiteLocation(t *testing.T) {
	ctx := context.Background()
	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Location = chicago

	local := household(time.Date(2025, 3, 3, 0, 0, 0, 0, chicago), 56, true, always)
	stored := make([]types.HistoricalSample, len(local))
	for i, s := range local {
		s.Timestamp = s.Timestamp.UTC()
		stored[i] = s
	}

	fromLocal := NewDetector(cfg)
	require.NoError(t, fromLocal.Analyze(ctx, local))
	fromUTC := NewDetector(cfg)
	require.NoError(t, fromUTC.Analyze(ctx, stored))
	assert.Equal(t, fromLocal.Patterns(), fromUTC.Patterns())

	// Tuesday 19:00 in Chicago is Wednesday 01:00 UTC
	evening := time.Date(2025, 2, 25, 19, 0, 0, 0, chicago).UTC()
	assert.Contains(t, keys(fromUTC.RelevantPatterns(evening)), "weekday:evening:load_surge")
	assert.Contains(t, keys(fromUTC.RelevantPatterns(evening)), "weekday:evening:price_peak")
	assert.NotContains(t, keys(fromUTC.RelevantPatterns(evening)), "weekday:night:price_valley")
}
