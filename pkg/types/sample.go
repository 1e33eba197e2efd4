package types

import (
	"sort"
	"time"
)

// Metric names one historical series.
type Metric string

const (
	MetricSolar Metric = "solar"
	MetricLoad  Metric = "load"
	MetricPrice Metric = "price"
)

// MetricValue is one point of a single metric series.
type MetricValue struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// HistoricalSample is one aligned point of solar, load and (optionally) price
// history on the hourly sampling grid.
type HistoricalSample struct {
	Timestamp time.Time `json:"timestamp"`
	SolarW    float64   `json:"solarW"`
	LoadW     float64   `json:"loadW"`
	Price     *float64  `json:"price,omitempty"`
}

// Dataset holds the raw series loaded from a history provider.
type Dataset struct {
	Solar []MetricValue `json:"solar"`
	Load  []MetricValue `json:"load"`
	Price []MetricValue `json:"price"`
}

// Aligned joins solar and load on timestamp. Timestamps missing from either
// series are skipped rather than treated as zero. Price is attached when the
// price series has a value for the same timestamp.
func (d Dataset) Aligned() []HistoricalSample {
	load := make(map[int64]float64, len(d.Load))
	for _, v := range d.Load {
		load[v.Timestamp.Unix()] = v.Value
	}
	price := make(map[int64]float64, len(d.Price))
	for _, v := range d.Price {
		price[v.Timestamp.Unix()] = v.Value
	}

	samples := make([]HistoricalSample, 0, len(d.Solar))
	for _, s := range d.Solar {
		key := s.Timestamp.Unix()
		l, ok := load[key]
		if !ok {
			continue
		}
		sample := HistoricalSample{
			Timestamp: s.Timestamp,
			SolarW:    s.Value,
			LoadW:     l,
		}
		if p, ok := price[key]; ok {
			sample.Price = &p
		}
		samples = append(samples, sample)
	}
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples
}

// Outcome is an observed result reported after a decision cycle. It is the
// data point used for incremental learning.
type Outcome struct {
	Timestamp time.Time `json:"timestamp"`
	SolarW    float64   `json:"solarW"`
	LoadW     float64   `json:"loadW"`
	// Cost is the observed cost in dollars over the reporting period.
	Cost float64 `json:"cost"`
}
