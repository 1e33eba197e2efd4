package history

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/solarautopilot/solarautopilot/pkg/log"
	"github.com/solarautopilot/solarautopilot/pkg/types"
)

// Store is the part of the storage layer the history provider reads from.
type Store interface {
	GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.EnergyStats, error)
	GetPriceHistory(ctx context.Context, start, end time.Time) ([]types.Price, error)
}

// Storage serves the metric series out of the stored hourly energy history
// and price history. Solar and load are the average power of each hour, the
// price is the mean all-in price of the intervals starting in that hour.
type Storage struct {
	store Store
	now   func() time.Time
}

// NewStorage returns a Provider backed by store.
func NewStorage(store Store) *Storage {
	return &Storage{
		store: store,
		now:   time.Now,
	}
}

// window returns the hourly aligned range ending at the start of the current
// hour so the partial hour is never returned.
func (s *Storage) window(lookbackDays int) (time.Time, time.Time) {
	end := s.now().Truncate(time.Hour)
	return end.AddDate(0, 0, -lookbackDays), end
}

// Query implements Provider.
func (s *Storage) Query(ctx context.Context, metric types.Metric, lookbackDays int) ([]types.MetricValue, error) {
	if lookbackDays <= 0 {
		return nil, fmt.Errorf("invalid lookback of %d days", lookbackDays)
	}
	start, end := s.window(lookbackDays)

	switch metric {
	case types.MetricSolar, types.MetricLoad:
		stats, err := s.store.GetEnergyHistory(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to get energy history: %w", err)
		}
		return energySeries(ctx, stats, metric), nil
	case types.MetricPrice:
		prices, err := s.store.GetPriceHistory(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to get price history: %w", err)
		}
		return priceSeries(prices), nil
	default:
		return nil, fmt.Errorf("unknown metric: %s", metric)
	}
}

func energySeries(ctx context.Context, stats []types.EnergyStats, metric types.Metric) []types.MetricValue {
	byHour := make(map[int64]types.MetricValue, len(stats))
	for _, h := range stats {
		if h.TSHourStart.IsZero() {
			continue
		}
		kwh := h.SolarKWH
		if metric == types.MetricLoad {
			kwh = h.HomeKWH
		}
		if math.IsNaN(kwh) || math.IsInf(kwh, 0) {
			log.Ctx(ctx).DebugContext(ctx, "skipping non-finite energy history", slog.Time("hour", h.TSHourStart))
			continue
		}
		ts := h.TSHourStart.Truncate(time.Hour)
		// one kWh over one hour is an average of 1000W
		byHour[ts.Unix()] = types.MetricValue{Timestamp: ts, Value: kwh * 1000}
	}
	return sortedValues(byHour)
}

func priceSeries(prices []types.Price) []types.MetricValue {
	totals := make(map[int64][]float64)
	hours := make(map[int64]time.Time)
	for _, p := range prices {
		if p.TSStart.IsZero() || math.IsNaN(p.Total()) || math.IsInf(p.Total(), 0) {
			continue
		}
		ts := p.TSStart.Truncate(time.Hour)
		totals[ts.Unix()] = append(totals[ts.Unix()], p.Total())
		hours[ts.Unix()] = ts
	}
	byHour := make(map[int64]types.MetricValue, len(totals))
	for k, vs := range totals {
		byHour[k] = types.MetricValue{Timestamp: hours[k], Value: stat.Mean(vs, nil)}
	}
	return sortedValues(byHour)
}

func sortedValues(byHour map[int64]types.MetricValue) []types.MetricValue {
	out := make([]types.MetricValue, 0, len(byHour))
	for _, v := range byHour {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
