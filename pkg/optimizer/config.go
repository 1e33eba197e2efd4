package optimizer

import (
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
)

// Weights scale the terms of the reward function.
type Weights struct {
	Solar   float64 `json:"solar"`
	Price   float64 `json:"price"`
	Pattern float64 `json:"pattern"`
}

// Limits are the hard constraints every decision respects.
type Limits struct {
	// MinReserveSOC is the lowest SOC the schedule may reach.
	MinReserveSOC float64 `json:"minReserveSOC"`
	MaxChargeW    float64 `json:"maxChargeW"`
	MaxDischargeW float64 `json:"maxDischargeW"`
}

// Config holds the optimizer tunables.
type Config struct {
	Weights Weights
	Limits  Limits
	// LearningRate is the step UpdateRewards nudges a weight by.
	LearningRate float64
	// PreChargeHours is how far ahead of a surge or price peak charging is
	// favored.
	PreChargeHours int
	// Location is the site's time zone pattern rules are matched in.
	Location *time.Location
}

const (
	minWeight = 0.05
	maxWeight = 5.0
)

// DefaultConfig returns the default optimizer configuration.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Solar:   1.0,
			Price:   1.0,
			Pattern: 0.5,
		},
		Limits: Limits{
			MinReserveSOC: 20,
			MaxChargeW:    5000,
			MaxDischargeW: 5000,
		},
		LearningRate:   0.05,
		PreChargeHours: 3,
		Location:       time.UTC,
	}
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// Validate ensures the limits can be honored.
func (l Limits) Validate() error {
	if l.MinReserveSOC < 0 || l.MinReserveSOC > 100 {
		return fmt.Errorf("min reserve SOC must be in [0, 100]: %v", l.MinReserveSOC)
	}
	if l.MaxChargeW <= 0 {
		return fmt.Errorf("max charge power must be positive: %v", l.MaxChargeW)
	}
	if l.MaxDischargeW <= 0 {
		return fmt.Errorf("max discharge power must be positive: %v", l.MaxDischargeW)
	}
	return nil
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	if c.LearningRate < 0 || c.LearningRate > 1 {
		return fmt.Errorf("optimizer-learning-rate must be in [0, 1]: %v", c.LearningRate)
	}
	if c.PreChargeHours < 0 {
		return fmt.Errorf("optimizer-pre-charge-hours must not be negative: %d", c.PreChargeHours)
	}
	return nil
}

// Configured registers the optimizer flags.
func Configured() *Config {
	c := DefaultConfig()
	lflag.JSON(&c.Weights, "optimizer-weights", c.Weights, "Initial reward weights as JSON, e.g. {\"solar\":1,\"price\":1,\"pattern\":0.5}")
	lflag.JSON(&c.Limits, "optimizer-limits", c.Limits, "Default battery limits as JSON until settings are applied")
	lflag.JSON(&c.LearningRate, "optimizer-learning-rate", c.LearningRate, "Step used when adjusting weights from observed outcomes")
	lflag.JSON(&c.PreChargeHours, "optimizer-pre-charge-hours", c.PreChargeHours, "Hours ahead of a load surge or price peak during which charging is favored")

	lflag.Do(func() {
		if err := c.Validate(); err != nil {
			panic(fmt.Sprintf("optimizer validation failed: %v", err))
		}
	})

	return &c
}
