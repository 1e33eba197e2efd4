package types

import (
	"fmt"
	"time"
)

// PatternKind describes what kind of recurring behavior a pattern captures.
type PatternKind string

const (
	PatternLoadSurge    PatternKind = "load_surge"
	PatternLoadDip      PatternKind = "load_dip"
	PatternSolarSurplus PatternKind = "solar_surplus"
	PatternPricePeak    PatternKind = "price_peak"
	PatternPriceValley  PatternKind = "price_valley"
)

// DayType groups days by routine.
type DayType string

const (
	DayTypeAny     DayType = ""
	DayTypeWeekday DayType = "weekday"
	DayTypeWeekend DayType = "weekend"
)

// DayTypeOf returns the day type of t.
func DayTypeOf(t time.Time) DayType {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return DayTypeWeekend
	default:
		return DayTypeWeekday
	}
}

// Season is a meteorological season (northern hemisphere months).
type Season string

const (
	SeasonWinter Season = "winter"
	SeasonSpring Season = "spring"
	SeasonSummer Season = "summer"
	SeasonAutumn Season = "autumn"
)

// SeasonOf returns the meteorological season of t.
func SeasonOf(t time.Time) Season {
	switch t.Month() {
	case time.December, time.January, time.February:
		return SeasonWinter
	case time.March, time.April, time.May:
		return SeasonSpring
	case time.June, time.July, time.August:
		return SeasonSummer
	default:
		return SeasonAutumn
	}
}

// Rule is the applicability predicate of a Pattern.
type Rule struct {
	// HourStart is inclusive and HourEnd is exclusive.
	HourStart int      `json:"hourStart"`
	HourEnd   int      `json:"hourEnd"`
	DayType   DayType  `json:"dayType,omitempty"`
	Seasons   []Season `json:"seasons,omitempty"`
}

// Matches returns true if t falls within the rule. Hours, days and seasons
// are read from t as is, so t must already be in the site's time zone.
func (r Rule) Matches(t time.Time) bool {
	if h := t.Hour(); h < r.HourStart || h >= r.HourEnd {
		return false
	}
	if r.DayType != DayTypeAny && DayTypeOf(t) != r.DayType {
		return false
	}
	if len(r.Seasons) > 0 {
		season := SeasonOf(t)
		var found bool
		for _, s := range r.Seasons {
			if s == season {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// String renders the rule for rationales and logs.
func (r Rule) String() string {
	s := fmt.Sprintf("%02d:00-%02d:00", r.HourStart, r.HourEnd)
	if r.DayType != DayTypeAny {
		s = string(r.DayType) + " " + s
	}
	for _, season := range r.Seasons {
		s += " " + string(season)
	}
	return s
}

// Effect is the expected deviation from the day's baseline while a pattern
// applies.
type Effect struct {
	LoadDeltaW  float64 `json:"loadDeltaW,omitempty"`
	SolarDeltaW float64 `json:"solarDeltaW,omitempty"`
	// PriceDelta is in $/kWh.
	PriceDelta float64 `json:"priceDelta,omitempty"`
}

// Pattern is a statistically supported recurring relationship between a time
// context and energy behavior.
type Pattern struct {
	Key    string      `json:"key"`
	Kind   PatternKind `json:"kind"`
	Rule   Rule        `json:"rule"`
	Effect Effect      `json:"effect"`
	// Support is the number of historical days that confirmed the pattern.
	Support int `json:"support"`
	// Occurrence is Support divided by the number of days the rule could have
	// applied to.
	Occurrence float64 `json:"occurrence"`
}
