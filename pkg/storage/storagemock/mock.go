package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/solarautopilot/solarautopilot/pkg/storage"
	"github.com/solarautopilot/solarautopilot/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context) (types.Settings, int, error) {
	args := m.Called(ctx)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	args := m.Called(ctx, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) UpsertPrice(ctx context.Context, price types.Price, version int) error {
	args := m.Called(ctx, price, version)
	return args.Error(0)
}

func (m *MockDatabase) UpsertEnergyHistory(ctx context.Context, stats types.EnergyStats, version int) error {
	args := m.Called(ctx, stats, version)
	return args.Error(0)
}

func (m *MockDatabase) InsertPrediction(ctx context.Context, pred types.Prediction) error {
	args := m.Called(ctx, pred)
	return args.Error(0)
}

func (m *MockDatabase) UpdateESSSimState(ctx context.Context, state types.ESSSimState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *MockDatabase) GetESSSimState(ctx context.Context) (types.ESSSimState, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.ESSSimState), args.Error(1)
	}
	return types.ESSSimState{}, nil
}

func (m *MockDatabase) GetPriceHistory(ctx context.Context, start, end time.Time) ([]types.Price, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.Price), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.EnergyStats, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.EnergyStats), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetLatestEnergyHistoryTime(ctx context.Context) (time.Time, int, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(time.Time), args.Int(1), args.Error(2)
	}
	return time.Time{}, 0, nil
}

func (m *MockDatabase) GetLatestPriceHistoryTime(ctx context.Context) (time.Time, int, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(time.Time), args.Int(1), args.Error(2)
	}
	return time.Time{}, 0, nil
}

func (m *MockDatabase) GetLatestPrediction(ctx context.Context) (types.Prediction, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.Prediction), args.Error(1)
	}
	return types.Prediction{}, storage.ErrNotFound
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
