package types

import "time"

// EngineState is a lifecycle state of the decision engine.
type EngineState string

const (
	EngineStateUninitialized EngineState = "uninitialized"
	EngineStateLoading       EngineState = "loading"
	EngineStateLearning      EngineState = "learning"
	EngineStateTrained       EngineState = "trained"
	EngineStateReady         EngineState = "ready"
)

// PerformanceMetrics are running scalars describing how well the engine has
// been doing.
type PerformanceMetrics struct {
	SolarAccuracy float64 `json:"solarAccuracy"`
	LoadAccuracy  float64 `json:"loadAccuracy"`
	// CostSavings is the accumulated estimated savings in dollars.
	CostSavings float64 `json:"costSavings"`
	// SelfConsumption is reported by downstream reporting and is not computed
	// by the engine.
	SelfConsumption float64 `json:"selfConsumption"`
}

// ModelStatus is the observable state of one model.
type ModelStatus struct {
	Name          string             `json:"name"`
	Trained       bool               `json:"trained"`
	LastTrainedAt time.Time          `json:"lastTrainedAt"`
	Samples       int                `json:"samples"`
	Updates       int                `json:"updates"`
	Detail        map[string]float64 `json:"detail,omitempty"`
}

// StageResult reports one stage of the training pipeline.
type StageResult struct {
	Name     string        `json:"name"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ModelsStatus groups the status of every model.
type ModelsStatus struct {
	Solar     ModelStatus `json:"solar"`
	Load      ModelStatus `json:"load"`
	Optimizer ModelStatus `json:"optimizer"`
	Patterns  ModelStatus `json:"patterns"`
}

// StatusSnapshot is a read-only view of the decision engine.
type StatusSnapshot struct {
	State          EngineState        `json:"state"`
	Initialized    bool               `json:"initialized"`
	Learning       bool               `json:"learning"`
	Confidence     float64            `json:"confidence"`
	Performance    PerformanceMetrics `json:"performance"`
	LastPrediction *PredictionSummary `json:"lastPrediction"`
	Models         ModelsStatus       `json:"models"`
	Training       []StageResult      `json:"training,omitempty"`
}
