package utility

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarautopilot/solarautopilot/pkg/types"
)

type fakeProvider struct {
	current    types.Price
	currentErr error
	future     []types.Price
	futureErr  error
	confirmed  []types.Price
	calls      int
}

func (f *fakeProvider) GetCurrentPrice(context.Context) (types.Price, error) {
	f.calls++
	return f.current, f.currentErr
}

func (f *fakeProvider) GetFuturePrices(context.Context) ([]types.Price, error) {
	f.calls++
	return f.future, f.futureErr
}

func (f *fakeProvider) GetConfirmedPrices(context.Context, time.Time, time.Time) ([]types.Price, error) {
	f.calls++
	return f.confirmed, f.futureErr
}

func hourly(start time.Time, dollars ...float64) []types.Price {
	prices := make([]types.Price, len(dollars))
	for i, d := range dollars {
		ts := start.Add(time.Duration(i) * time.Hour)
		prices[i] = types.Price{Provider: "test", TSStart: ts, TSEnd: ts.Add(time.Hour), DollarsPerKWH: d}
	}
	return prices
}

func testConfig() ServiceConfig {
	return ServiceConfig{
		DeliveryDollarsPerKWH: 0.05,
		BreakerFailures:       2,
		BreakerTimeout:        time.Hour,
	}
}

func TestCurrentForecast(t *testing.T) {
	ctx := context.Background()
	hour := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	now := hour.Add(20 * time.Minute)

	newService := func(p Provider) *Service {
		s := NewService(p, testConfig())
		s.now = func() time.Time { return now }
		return s
	}

	t.Run("Merges Current Into Day Ahead", func(t *testing.T) {
		p := &fakeProvider{
			future:  hourly(hour.Add(-time.Hour), 0.03, 0.04, 0.02, 0.01, 0.10, 0.12),
			current: types.Price{Provider: "test", TSStart: hour, TSEnd: hour.Add(15 * time.Minute), DollarsPerKWH: 0.06},
		}
		prices := newService(p).CurrentForecast(ctx)
		require.Len(t, prices, 5)

		assert.True(t, prices[0].TSStart.Equal(hour), "past hours are dropped")
		assert.InDelta(t, 0.06, prices[0].DollarsPerKWH, 1e-9, "running average replaces day ahead")
		assert.True(t, prices[0].Contains(now))
		assert.True(t, prices[0].TSEnd.Equal(hour.Add(time.Hour)))
		for i, p := range prices {
			assert.InDelta(t, 0.05, p.GridAddlDollarsPerKWH, 1e-9)
			assert.NotEmpty(t, p.Level)
			if i > 0 {
				assert.True(t, p.TSStart.After(prices[i-1].TSStart))
			}
		}
		// 0.01 + 0.05 is the cheapest, 0.12 + 0.05 the most expensive
		assert.Equal(t, types.PriceLevelVeryCheap, prices[2].Level)
		assert.Equal(t, types.PriceLevelVeryExpensive, prices[4].Level)
	})

	t.Run("Current Only", func(t *testing.T) {
		p := &fakeProvider{
			current: types.Price{TSStart: hour, TSEnd: hour.Add(20 * time.Minute), DollarsPerKWH: 0.06},
		}
		prices := newService(p).CurrentForecast(ctx)
		require.Len(t, prices, 1)
		assert.Equal(t, types.PriceLevelNormal, prices[0].Level)
	})

	t.Run("Stale Current Is Ignored", func(t *testing.T) {
		p := &fakeProvider{
			current: types.Price{TSStart: hour.Add(-2 * time.Hour), DollarsPerKWH: 0.06},
		}
		assert.Nil(t, newService(p).CurrentForecast(ctx))
	})

	t.Run("Future Failure Keeps Current", func(t *testing.T) {
		p := &fakeProvider{
			futureErr: errors.New("pjm down"),
			current:   types.Price{TSStart: hour, DollarsPerKWH: 0.06},
		}
		prices := newService(p).CurrentForecast(ctx)
		require.Len(t, prices, 1)
	})

	t.Run("Breaker Opens After Failures", func(t *testing.T) {
		p := &fakeProvider{
			currentErr: errors.New("comed down"),
			futureErr:  errors.New("pjm down"),
		}
		s := newService(p)

		assert.Nil(t, s.CurrentForecast(ctx))
		assert.Equal(t, 2, p.calls)
		assert.Equal(t, gobreaker.StateOpen, s.BreakerState())

		assert.Nil(t, s.CurrentForecast(ctx))
		assert.Equal(t, 2, p.calls, "open circuit does not reach the provider")

		_, err := s.GetConfirmedPrices(ctx, hour.Add(-time.Hour), hour)
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	})
}

func TestGetConfirmedPrices(t *testing.T) {
	ctx := context.Background()
	hour := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	p := &fakeProvider{confirmed: hourly(hour, 0.02, 0.03)}
	s := NewService(p, testConfig())

	prices, err := s.GetConfirmedPrices(ctx, hour, hour.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.InDelta(t, 0.07, prices[0].Total(), 1e-9)
	assert.InDelta(t, 0.08, prices[1].Total(), 1e-9)
	assert.Equal(t, 0.0, p.confirmed[0].GridAddlDollarsPerKWH, "provider prices are not modified")
}

func TestServiceConfigValidate(t *testing.T) {
	assert.NoError(t, testConfig().Validate())

	c := testConfig()
	c.DeliveryDollarsPerKWH = -1
	assert.Error(t, c.Validate())

	c = testConfig()
	c.BreakerFailures = 0
	assert.Error(t, c.Validate())
}
