package types

import "time"

// ForecastPoint is one point of a forecast relative to the time the forecast
// was made.
type ForecastPoint struct {
	OffsetMinutes int     `json:"offsetMinutes"`
	PowerW        float64 `json:"powerW"`
	Confidence    float64 `json:"confidence"` // 0-1
}

// PredictionRef identifies a single Prediction. The zero value refers to the
// engine's current prediction.
type PredictionRef struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// IsZero returns true if the reference does not name a prediction.
func (r PredictionRef) IsZero() bool {
	return r.ID == ""
}

// Prediction is the output of one decision cycle.
type Prediction struct {
	ID         string             `json:"id"`
	Timestamp  time.Time          `json:"timestamp"`
	Solar      []ForecastPoint    `json:"solar"`
	Load       []ForecastPoint    `json:"load"`
	Charging   []ChargingDecision `json:"charging"`
	Prices     []Price            `json:"prices,omitempty"`
	Confidence float64            `json:"confidence"`
	Learning   bool               `json:"learning"`
}

// Ref returns the handle used to report an outcome for this prediction.
func (p *Prediction) Ref() PredictionRef {
	return PredictionRef{ID: p.ID, Timestamp: p.Timestamp}
}

// PredictionSummary is the part of a Prediction reported in status snapshots.
type PredictionSummary struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}
