package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetAligned(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return start.Add(time.Duration(h) * time.Hour) }

	d := Dataset{
		Solar: []MetricValue{{at(2), 200}, {at(0), 0}, {at(1), 100}, {at(3), 300}},
		// hour 2 is missing from the load series
		Load:  []MetricValue{{at(0), 500}, {at(1), 600}, {at(3), 800}},
		Price: []MetricValue{{at(1), 0.12}},
	}

	samples := d.Aligned()
	require.Len(t, samples, 3)
	assert.Equal(t, at(0), samples[0].Timestamp)
	assert.Equal(t, at(1), samples[1].Timestamp)
	assert.Equal(t, at(3), samples[2].Timestamp, "gaps are skipped, not zero filled")

	assert.Nil(t, samples[0].Price)
	require.NotNil(t, samples[1].Price)
	assert.Equal(t, 0.12, *samples[1].Price)
	assert.Equal(t, 300.0, samples[2].SolarW)
	assert.Equal(t, 800.0, samples[2].LoadW)
}

func TestRuleMatches(t *testing.T) {
	// 2024-07-03 is a Wednesday
	wed := time.Date(2024, 7, 3, 19, 30, 0, 0, time.UTC)
	sat := time.Date(2024, 7, 6, 19, 30, 0, 0, time.UTC)

	evening := Rule{HourStart: 18, HourEnd: 21, DayType: DayTypeWeekday}
	assert.True(t, evening.Matches(wed))
	assert.False(t, evening.Matches(sat))
	assert.False(t, evening.Matches(wed.Add(-2*time.Hour)))
	assert.False(t, evening.Matches(time.Date(2024, 7, 3, 21, 0, 0, 0, time.UTC)), "end hour is exclusive")

	summer := Rule{HourStart: 0, HourEnd: 24, Seasons: []Season{SeasonSummer}}
	assert.True(t, summer.Matches(sat))
	assert.False(t, summer.Matches(time.Date(2024, 1, 6, 12, 0, 0, 0, time.UTC)))

	assert.Equal(t, "weekday 18:00-21:00", evening.String())
}

func TestSeasonOf(t *testing.T) {
	assert.Equal(t, SeasonWinter, SeasonOf(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, SeasonSpring, SeasonOf(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, SeasonSummer, SeasonOf(time.Date(2024, 8, 31, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, SeasonAutumn, SeasonOf(time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)))
}
