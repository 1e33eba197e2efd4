package types

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// PriceLevel buckets a price relative to the surrounding prices.
type PriceLevel string

const (
	PriceLevelVeryCheap     PriceLevel = "very_cheap"
	PriceLevelCheap         PriceLevel = "cheap"
	PriceLevelNormal        PriceLevel = "normal"
	PriceLevelExpensive     PriceLevel = "expensive"
	PriceLevelVeryExpensive PriceLevel = "very_expensive"
)

// Price represents the cost of electricity in a time interval.
type Price struct {
	Provider string    `json:"provider"`
	TSStart  time.Time `json:"tsStart"`
	TSEnd    time.Time `json:"tsEnd"`

	// DollarsPerKWH is the base cost of electricity in the time interval.
	DollarsPerKWH float64 `json:"dollarsPerKWH"`

	// GridAddlDollarsPerKWH is the additional cost of electricity for it to be
	// delivered to the home via the grid in the time interval.
	GridAddlDollarsPerKWH float64 `json:"gridAddlDollarsPerKWH"`

	Level PriceLevel `json:"level,omitempty"`

	SampleCount int `json:"-"`
}

// Total returns the full cost of importing one kWh in the interval.
func (p Price) Total() float64 {
	return p.DollarsPerKWH + p.GridAddlDollarsPerKWH
}

// Contains returns true if t falls within the price interval.
func (p Price) Contains(t time.Time) bool {
	return !t.Before(p.TSStart) && t.Before(p.TSEnd)
}

// ClassifyPrices assigns a Level to every price based on the ratio of its
// total to the mean total of the given prices. The slice is modified in place
// and also returned.
func ClassifyPrices(prices []Price) []Price {
	if len(prices) == 0 {
		return prices
	}
	totals := make([]float64, len(prices))
	for i, p := range prices {
		totals[i] = p.Total()
	}
	mean := stat.Mean(totals, nil)
	for i, p := range prices {
		if mean <= 0 {
			// ratios are meaningless around zero or negative prices
			if p.Total() < mean {
				prices[i].Level = PriceLevelCheap
			} else {
				prices[i].Level = PriceLevelNormal
			}
			continue
		}
		ratio := p.Total() / mean
		switch {
		case ratio <= 0.6:
			prices[i].Level = PriceLevelVeryCheap
		case ratio <= 0.9:
			prices[i].Level = PriceLevelCheap
		case ratio < 1.15:
			prices[i].Level = PriceLevelNormal
		case ratio < 1.4:
			prices[i].Level = PriceLevelExpensive
		default:
			prices[i].Level = PriceLevelVeryExpensive
		}
	}
	return prices
}
