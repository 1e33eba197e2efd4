// Package history provides the time series the decision engine trains on.
package history

import (
	"context"

	"github.com/solarautopilot/solarautopilot/pkg/types"
)

// Provider returns the samples of one metric over the last lookbackDays days.
// Samples are aligned to an hourly grid shared by every metric and gaps are
// left out rather than filled with zero.
type Provider interface {
	Query(ctx context.Context, metric types.Metric, lookbackDays int) ([]types.MetricValue, error)
}
