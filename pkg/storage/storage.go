// Package storage persists the history, prices, predictions and settings of
// the installation.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/solarautopilot/solarautopilot/pkg/types"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// Database defines the interface for persisting data and retrieving settings.
type Database interface {
	// Settings
	GetSettings(ctx context.Context) (types.Settings, int, error)
	SetSettings(ctx context.Context, settings types.Settings, version int) error

	// Data Persistence
	// UpsertPrice adds or updates a price record.
	UpsertPrice(ctx context.Context, price types.Price, version int) error
	UpsertEnergyHistory(ctx context.Context, stats types.EnergyStats, version int) error
	InsertPrediction(ctx context.Context, pred types.Prediction) error
	UpdateESSSimState(ctx context.Context, state types.ESSSimState) error
	GetESSSimState(ctx context.Context) (types.ESSSimState, error)

	// History
	GetPriceHistory(ctx context.Context, start, end time.Time) ([]types.Price, error)
	GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.EnergyStats, error)
	GetLatestEnergyHistoryTime(ctx context.Context) (time.Time, int, error)
	GetLatestPriceHistoryTime(ctx context.Context) (time.Time, int, error)
	// GetLatestPrediction returns ErrNotFound if no prediction was stored.
	GetLatestPrediction(ctx context.Context) (types.Prediction, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
