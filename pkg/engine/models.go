package engine

import (
	"context"
	"iter"
	"time"

	"github.com/solarautopilot/solarautopilot/pkg/forecast"
	"github.com/solarautopilot/solarautopilot/pkg/optimizer"
	"github.com/solarautopilot/solarautopilot/pkg/pattern"
	"github.com/solarautopilot/solarautopilot/pkg/types"
)

// PriceService provides the current price forecast. A nil or empty result
// means there is no price signal.
type PriceService interface {
	CurrentForecast(ctx context.Context) []types.Price
}

// Forecaster is a model that forecasts one power series.
type Forecaster interface {
	Train(ctx context.Context, history []types.MetricValue) error
	Predict(ref time.Time, horizonHours int) iter.Seq[types.ForecastPoint]
	Update(o types.Outcome) error
	Reset()
	Status() types.ModelStatus
}

// PatternMiner finds recurring patterns in aligned history.
type PatternMiner interface {
	Analyze(ctx context.Context, samples []types.HistoricalSample) error
	RelevantPatternsWithin(ref time.Time, horizon time.Duration) []types.Pattern
	Reset()
	Status() types.ModelStatus
}

// Scheduler turns forecasts into a charging schedule.
type Scheduler interface {
	Train(ctx context.Context, history []types.HistoricalSample, prices optimizer.PriceForecaster) error
	Optimize(ctx context.Context, oc optimizer.OptimizeContext) []types.ChargingDecision
	UpdateRewards(o types.Outcome) error
	ApplyLimits(l optimizer.Limits) error
	Reset()
	Status() types.ModelStatus
}

// Models are the four models the engine composes.
type Models struct {
	Solar     Forecaster
	Load      Forecaster
	Patterns  PatternMiner
	Optimizer Scheduler
}

// DefaultModels returns untrained models built from the given configs.
func DefaultModels(fc forecast.Config, pc pattern.Config, oc optimizer.Config) Models {
	return Models{
		Solar:     forecast.NewSolar(fc),
		Load:      forecast.NewLoad(fc),
		Patterns:  pattern.NewDetector(pc),
		Optimizer: optimizer.New(oc),
	}
}

func (m Models) reset() {
	m.Solar.Reset()
	m.Load.Reset()
	m.Patterns.Reset()
	m.Optimizer.Reset()
}
