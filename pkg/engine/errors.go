package engine

import "errors"

var (
	// ErrNotInitialized is returned when a prediction or outcome is
	// requested before Initialize has completed.
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrCycleInFlight is returned when Initialize or MakePredictions is
	// called while another one is still running.
	ErrCycleInFlight = errors.New("decision cycle already in flight")

	// ErrUnknownPrediction is returned by LearnFromOutcome when the reference
	// names neither the current nor the previous prediction.
	ErrUnknownPrediction = errors.New("unknown prediction")
)
