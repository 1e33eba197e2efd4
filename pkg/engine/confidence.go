package engine

import "math"

// ConfidencePolicy holds the constants of the confidence formula.
type ConfidencePolicy struct {
	// LearningBase is the base confidence while in learning mode.
	LearningBase float64 `json:"learningBase"`
	// TrainedBase is the base confidence once every model is trained.
	TrainedBase float64 `json:"trainedBase"`
	// AccuracyWeight scales the mean of solar and load accuracy.
	AccuracyWeight float64 `json:"accuracyWeight"`
	// Ceiling caps the result.
	Ceiling float64 `json:"ceiling"`
}

// DefaultConfidencePolicy returns the default policy.
func DefaultConfidencePolicy() ConfidencePolicy {
	return ConfidencePolicy{
		LearningBase:   0.3,
		TrainedBase:    0.8,
		AccuracyWeight: 0.2,
		Ceiling:        0.95,
	}
}

// Compute returns the confidence for the given mode and accuracies.
func (p ConfidencePolicy) Compute(learning bool, solarAccuracy, loadAccuracy float64) float64 {
	base := p.TrainedBase
	if learning {
		base = p.LearningBase
	}
	bonus := (solarAccuracy + loadAccuracy) / 2 * p.AccuracyWeight
	if math.IsNaN(bonus) || math.IsInf(bonus, 0) || bonus < 0 {
		bonus = 0
	}
	return math.Min(base+bonus, p.Ceiling)
}
