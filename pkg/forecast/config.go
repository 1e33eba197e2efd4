package forecast

import (
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
)

// Config holds the tunables shared by the solar and load forecasters.
type Config struct {
	// SolarMinSamples is the minimum number of solar samples Train accepts.
	SolarMinSamples int
	// LoadMinSamples is the minimum number of load samples Train accepts.
	LoadMinSamples int
	// Smoothing is the weight of a new observation in Update.
	Smoothing float64
	// DecayHours is the e-folding distance of per-point confidence.
	DecayHours float64
	// UntrainedConfidence caps per-point confidence before training.
	UntrainedConfidence float64
	// ShrinkSamples is the bucket support at which the learned mean and the
	// generic prior are weighted equally.
	ShrinkSamples float64
	// DefaultPeakW is the peak of the generic solar curve before training.
	DefaultPeakW float64
	// BaseLoadW scales the generic residential load profile.
	BaseLoadW float64
	// CeilingMultiple times the historical max is the load sanity ceiling.
	CeilingMultiple float64
	// Location is the site's time zone. Hour, day type and season buckets
	// are all in local time.
	Location *time.Location
}

// DefaultConfig returns the default forecaster configuration.
func DefaultConfig() Config {
	return Config{
		SolarMinSamples:     90,
		LoadMinSamples:      48,
		Smoothing:           0.2,
		DecayHours:          72,
		UntrainedConfidence: 0.25,
		ShrinkSamples:       3,
		DefaultPeakW:        3000,
		BaseLoadW:           500,
		CeilingMultiple:     3,
		Location:            time.UTC,
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
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		return fmt.Errorf("forecast-smoothing must be in (0, 1]: %v", c.Smoothing)
	}
	if c.DecayHours <= 0 {
		return fmt.Errorf("forecast-decay-hours must be positive: %v", c.DecayHours)
	}
	if c.UntrainedConfidence < 0 || c.UntrainedConfidence > 1 {
		return fmt.Errorf("forecast-untrained-confidence must be in [0, 1]: %v", c.UntrainedConfidence)
	}
	if c.CeilingMultiple < 1 {
		return fmt.Errorf("forecast-ceiling-multiple must be at least 1: %v", c.CeilingMultiple)
	}
	return nil
}

// Configured registers the forecaster flags and returns the config that is
// filled in once flags are parsed. Numeric flags are parsed as JSON.
func Configured() *Config {
	c := DefaultConfig()
	lflag.JSON(&c.SolarMinSamples, "forecast-solar-min-samples", c.SolarMinSamples, "Minimum solar samples required to train the solar predictor")
	lflag.JSON(&c.LoadMinSamples, "forecast-load-min-samples", c.LoadMinSamples, "Minimum load samples required to train the load forecaster")
	lflag.JSON(&c.Smoothing, "forecast-smoothing", c.Smoothing, "Weight of a new observation when updating a profile bucket")
	decay := lflag.Duration("forecast-decay", 72*time.Hour, "Forecast distance over which per-point confidence decays by 1/e")
	lflag.JSON(&c.UntrainedConfidence, "forecast-untrained-confidence", c.UntrainedConfidence, "Confidence cap for forecasts from an untrained model")
	lflag.JSON(&c.DefaultPeakW, "forecast-default-solar-peak-w", c.DefaultPeakW, "Peak solar power of the generic curve used before training (W)")
	lflag.JSON(&c.BaseLoadW, "forecast-base-load-w", c.BaseLoadW, "Base household load of the generic profile used before training (W)")
	lflag.JSON(&c.CeilingMultiple, "forecast-load-ceiling-multiple", c.CeilingMultiple, "Multiple of the historical max load beyond which load is clipped")

	lflag.Do(func() {
		c.DecayHours = decay.Hours()
		if err := c.Validate(); err != nil {
			panic(fmt.Sprintf("forecast validation failed: %v", err))
		}
	})

	return &c
}
