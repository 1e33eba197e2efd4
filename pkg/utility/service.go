// Package utility fetches electricity prices and serves the price forecast
// the decision engine plans against.
package utility

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/sony/gobreaker"

	"github.com/solarautopilot/solarautopilot/pkg/log"
	"github.com/solarautopilot/solarautopilot/pkg/types"
)

// Provider defines the interface for fetching energy prices.
type Provider interface {
	// GetCurrentPrice returns the current price of electricity.
	GetCurrentPrice(ctx context.Context) (types.Price, error)

	// GetFuturePrices returns a list of future prices.
	GetFuturePrices(ctx context.Context) ([]types.Price, error)

	// GetConfirmedPrices returns confirmed prices for a specific time range.
	// This should be used for syncing historical data.
	GetConfirmedPrices(ctx context.Context, start, end time.Time) ([]types.Price, error)
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// DeliveryDollarsPerKWH is added to every price as the grid delivery
	// charge.
	DeliveryDollarsPerKWH float64
	// BreakerFailures is the number of consecutive failures that open the
	// circuit.
	BreakerFailures uint32
	// BreakerTimeout is how long the circuit stays open.
	BreakerTimeout time.Duration
}

// Validate ensures the configuration is usable.
func (c ServiceConfig) Validate() error {
	if c.DeliveryDollarsPerKWH < 0 {
		return fmt.Errorf("utility-delivery-dollars-per-kwh cannot be negative: %v", c.DeliveryDollarsPerKWH)
	}
	if c.BreakerFailures == 0 {
		return fmt.Errorf("utility-breaker-failures must be positive")
	}
	if c.BreakerTimeout <= 0 {
		return fmt.Errorf("utility-breaker-timeout must be positive: %v", c.BreakerTimeout)
	}
	return nil
}

// Service wraps a Provider with a circuit breaker, adds the delivery charge
// and classifies prices into levels.
type Service struct {
	provider Provider
	cfg      ServiceConfig
	breaker  *gobreaker.CircuitBreaker
	now      func() time.Time
}

// NewService returns a Service fetching from provider.
func NewService(provider Provider, cfg ServiceConfig) *Service {
	s := &Service{
		now: time.Now,
	}
	s.setup(provider, cfg)
	return s
}

func (s *Service) setup(provider Provider, cfg ServiceConfig) {
	s.provider = provider
	s.cfg = cfg
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "price-service",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			ctx := context.Background()
			log.Ctx(ctx).WarnContext(
				ctx,
				"price service circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
}

// BreakerState returns the state of the circuit breaker.
func (s *Service) BreakerState() gobreaker.State {
	return s.breaker.State()
}

func (s *Service) execute(fn func() (any, error)) (any, error) {
	res, err := s.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("price provider unavailable: %w", err)
	}
	return res, err
}

func (s *Service) withDelivery(p types.Price) types.Price {
	p.GridAddlDollarsPerKWH += s.cfg.DeliveryDollarsPerKWH
	return p
}

// CurrentForecast returns the hourly prices from the current hour onward,
// classified into levels. Failures are logged and yield whatever could be
// fetched, possibly nothing.
func (s *Service) CurrentForecast(ctx context.Context) []types.Price {
	now := s.now()
	byStart := make(map[int64]types.Price)

	res, err := s.execute(func() (any, error) {
		return s.provider.GetFuturePrices(ctx)
	})
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get future prices", slog.Any("error", err))
	} else {
		for _, p := range res.([]types.Price) {
			if !p.TSEnd.After(now) {
				continue
			}
			byStart[p.TSStart.Unix()] = p
		}
	}

	res, err = s.execute(func() (any, error) {
		return s.provider.GetCurrentPrice(ctx)
	})
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get current price", slog.Any("error", err))
	} else if cur := res.(types.Price); !cur.TSStart.After(now) && cur.TSStart.Add(time.Hour).After(now) {
		// the running average of this hour replaces its day-ahead price
		cur.TSEnd = cur.TSStart.Add(time.Hour)
		byStart[cur.TSStart.Unix()] = cur
	}

	if len(byStart) == 0 {
		return nil
	}
	prices := make([]types.Price, 0, len(byStart))
	for _, p := range byStart {
		prices = append(prices, s.withDelivery(p))
	}
	sort.Slice(prices, func(i, j int) bool {
		return prices[i].TSStart.Before(prices[j].TSStart)
	})
	types.ClassifyPrices(prices)

	log.Ctx(ctx).DebugContext(
		ctx,
		"built price forecast",
		slog.Int("count", len(prices)),
		slog.Time("first", prices[0].TSStart),
		slog.Time("last", prices[len(prices)-1].TSStart),
	)
	return prices
}

// GetConfirmedPrices returns the confirmed prices in [start, end) including
// the delivery charge.
func (s *Service) GetConfirmedPrices(ctx context.Context, start, end time.Time) ([]types.Price, error) {
	res, err := s.execute(func() (any, error) {
		return s.provider.GetConfirmedPrices(ctx, start, end)
	})
	if err != nil {
		return nil, err
	}
	prices := res.([]types.Price)
	out := make([]types.Price, len(prices))
	for i, p := range prices {
		out[i] = s.withDelivery(p)
	}
	return out, nil
}
