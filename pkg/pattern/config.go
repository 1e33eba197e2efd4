package pattern

import (
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
)

// Config holds the thresholds used when mining patterns.
type Config struct {
	// LoadThreshold is the fractional deviation of a window's load from the
	// day's mean that counts as a surge or dip.
	LoadThreshold float64
	// PriceThreshold is the fractional deviation of a window's price from the
	// day's mean that counts as a peak or valley.
	PriceThreshold float64
	// SurplusW is the minimum mean solar minus load for a solar surplus.
	SurplusW float64
	// MinSupport is the minimum number of confirming days.
	MinSupport int
	// MinOccurrence is the minimum fraction of applicable days that confirm.
	MinOccurrence float64
	// Location is the site's time zone that windows and days are cut in.
	Location *time.Location
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{
		LoadThreshold:  0.3,
		PriceThreshold: 0.2,
		SurplusW:       200,
		MinSupport:     5,
		MinOccurrence:  0.5,
		Location:       time.UTC,
	}
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if c.LoadThreshold <= 0 || c.LoadThreshold >= 1 {
		return fmt.Errorf("pattern-load-threshold must be in (0, 1): %v", c.LoadThreshold)
	}
	if c.PriceThreshold <= 0 {
		return fmt.Errorf("pattern-price-threshold must be positive: %v", c.PriceThreshold)
	}
	if c.MinSupport < 1 {
		return fmt.Errorf("pattern-min-support must be at least 1: %d", c.MinSupport)
	}
	if c.MinOccurrence < 0 || c.MinOccurrence > 1 {
		return fmt.Errorf("pattern-min-occurrence must be in [0, 1]: %v", c.MinOccurrence)
	}
	return nil
}

// Configured registers the detector flags.
func Configured() *Config {
	c := DefaultConfig()
	lflag.JSON(&c.LoadThreshold, "pattern-load-threshold", c.LoadThreshold, "Fractional deviation from the daily mean load that counts as a surge or dip")
	lflag.JSON(&c.PriceThreshold, "pattern-price-threshold", c.PriceThreshold, "Fractional deviation from the daily mean price that counts as a peak or valley")
	lflag.JSON(&c.SurplusW, "pattern-surplus-w", c.SurplusW, "Minimum mean solar minus load (W) that counts as a solar surplus")
	lflag.JSON(&c.MinSupport, "pattern-min-support", c.MinSupport, "Minimum number of confirming days for a pattern to be kept")
	lflag.JSON(&c.MinOccurrence, "pattern-min-occurrence", c.MinOccurrence, "Minimum fraction of applicable days that must confirm a pattern")

	lflag.Do(func() {
		if err := c.Validate(); err != nil {
			panic(fmt.Sprintf("pattern validation failed: %v", err))
		}
	})

	return &c
}
