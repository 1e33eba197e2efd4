package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/solarautopilot/solarautopilot/pkg/storage/storagemock"
	"github.com/solarautopilot/solarautopilot/pkg/types"
)

func TestStorageQuery(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 14, 35, 0, 0, time.UTC)
	hour := now.Truncate(time.Hour)

	newStorage := func(db *storagemock.MockDatabase) *Storage {
		s := NewStorage(db)
		s.now = func() time.Time { return now }
		return s
	}

	t.Run("Solar And Load", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		stats := []types.EnergyStats{
			{TSHourStart: hour.Add(-2 * time.Hour), SolarKWH: 3.2, HomeKWH: 0.8},
			// gap at -3h stays missing
			{TSHourStart: hour.Add(-4 * time.Hour), SolarKWH: 1.5, HomeKWH: 0.6},
			{TSHourStart: hour.Add(-1 * time.Hour), SolarKWH: 2.5, HomeKWH: 1.1},
		}
		db.On("GetEnergyHistory", mock.Anything, hour.AddDate(0, 0, -7), hour).Return(stats, nil)
		s := newStorage(db)

		solar, err := s.Query(ctx, types.MetricSolar, 7)
		require.NoError(t, err)
		require.Len(t, solar, 3)
		assert.Equal(t, hour.Add(-4*time.Hour), solar[0].Timestamp)
		assert.InDelta(t, 1500, solar[0].Value, 0.001)
		assert.InDelta(t, 3200, solar[1].Value, 0.001)
		assert.InDelta(t, 2500, solar[2].Value, 0.001)

		load, err := s.Query(ctx, types.MetricLoad, 7)
		require.NoError(t, err)
		require.Len(t, load, 3)
		assert.InDelta(t, 600, load[0].Value, 0.001)
		assert.InDelta(t, 1100, load[2].Value, 0.001)
		db.AssertExpectations(t)
	})

	t.Run("Prices Are Averaged Per Hour", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		h := hour.Add(-time.Hour)
		prices := []types.Price{
			{TSStart: h, TSEnd: h.Add(5 * time.Minute), DollarsPerKWH: 0.02, GridAddlDollarsPerKWH: 0.05},
			{TSStart: h.Add(5 * time.Minute), TSEnd: h.Add(10 * time.Minute), DollarsPerKWH: 0.04, GridAddlDollarsPerKWH: 0.05},
			{TSStart: hour, TSEnd: hour.Add(time.Hour), DollarsPerKWH: 0.10},
		}
		db.On("GetPriceHistory", mock.Anything, hour.AddDate(0, 0, -1), hour).Return(prices, nil)
		s := newStorage(db)

		values, err := s.Query(ctx, types.MetricPrice, 1)
		require.NoError(t, err)
		require.Len(t, values, 2)
		assert.Equal(t, h, values[0].Timestamp)
		assert.InDelta(t, 0.08, values[0].Value, 0.0001)
		assert.InDelta(t, 0.10, values[1].Value, 0.0001)
	})

	t.Run("Errors", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetEnergyHistory", mock.Anything, mock.Anything, mock.Anything).Return([]types.EnergyStats(nil), errors.New("unavailable"))
		s := newStorage(db)

		_, err := s.Query(ctx, types.MetricSolar, 7)
		assert.ErrorContains(t, err, "unavailable")

		_, err = s.Query(ctx, types.MetricSolar, 0)
		assert.Error(t, err)

		_, err = s.Query(ctx, types.Metric("wind"), 7)
		assert.ErrorContains(t, err, "unknown metric")
	})
}
