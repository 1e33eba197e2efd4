package engine

import (
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/solarautopilot/solarautopilot/pkg/forecast"
	"github.com/solarautopilot/solarautopilot/pkg/optimizer"
	"github.com/solarautopilot/solarautopilot/pkg/pattern"
)

// AccuracyMode decides how a new accuracy measurement is folded into the
// running metric.
type AccuracyMode string

const (
	// AccuracyModeReplace overwrites the metric with the latest measurement.
	AccuracyModeReplace AccuracyMode = "replace"
	// AccuracyModeEMA blends the latest measurement with an exponential
	// moving average.
	AccuracyModeEMA AccuracyMode = "ema"
)

// Config holds the engine tunables.
type Config struct {
	// LookbackDays of history are loaded by Initialize.
	LookbackDays int
	// MinSamples is the number of solar samples required to train.
	MinSamples int
	// HorizonHours is the length of every forecast and schedule.
	HorizonHours int
	// FetchTimeout bounds the history load in Initialize.
	FetchTimeout time.Duration

	AccuracyMode      AccuracyMode
	AccuracySmoothing float64

	Confidence ConfidencePolicy

	// Location is the site's time zone. Configured hands it to every model.
	Location *time.Location
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		LookbackDays:      365,
		MinSamples:        100,
		HorizonHours:      48,
		FetchTimeout:      30 * time.Second,
		AccuracyMode:      AccuracyModeReplace,
		AccuracySmoothing: 0.3,
		Confidence:        DefaultConfidencePolicy(),
		Location:          time.UTC,
	}
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if c.LookbackDays <= 0 {
		return fmt.Errorf("engine-lookback-days must be positive: %d", c.LookbackDays)
	}
	if c.HorizonHours <= 0 {
		return fmt.Errorf("engine-horizon-hours must be positive: %d", c.HorizonHours)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("engine-fetch-timeout must be positive: %v", c.FetchTimeout)
	}
	switch c.AccuracyMode {
	case AccuracyModeReplace, AccuracyModeEMA:
	default:
		return fmt.Errorf("unknown engine-accuracy-mode: %s", c.AccuracyMode)
	}
	if c.AccuracySmoothing <= 0 || c.AccuracySmoothing > 1 {
		return fmt.Errorf("engine-accuracy-smoothing must be in (0, 1]: %v", c.AccuracySmoothing)
	}
	p := c.Confidence
	if p.LearningBase < 0 || p.TrainedBase < 0 || p.AccuracyWeight < 0 {
		return fmt.Errorf("engine-confidence values must not be negative")
	}
	if p.Ceiling <= 0 || p.Ceiling > 1 {
		return fmt.Errorf("engine-confidence ceiling must be in (0, 1]: %v", p.Ceiling)
	}
	if c.Location == nil {
		return fmt.Errorf("site-location is required")
	}
	return nil
}

// Configured registers the engine flags, along with the flags of every model,
// and returns an engine that is built once flags are parsed.
func Configured() *Engine {
	fc := forecast.Configured()
	pc := pattern.Configured()
	oc := optimizer.Configured()

	c := DefaultConfig()
	lflag.JSON(&c.LookbackDays, "engine-lookback-days", c.LookbackDays, "Days of history loaded when initializing")
	lflag.JSON(&c.MinSamples, "engine-min-samples", c.MinSamples, "Minimum solar samples required to train instead of entering learning mode")
	lflag.JSON(&c.HorizonHours, "engine-horizon-hours", c.HorizonHours, "Hours covered by every forecast and schedule")
	fetchTimeout := lflag.Duration("engine-fetch-timeout", c.FetchTimeout, "Maximum time to wait for history before entering learning mode")
	accuracyMode := lflag.String("engine-accuracy-mode", string(c.AccuracyMode), "How accuracy metrics are updated (available: replace, ema)")
	lflag.JSON(&c.AccuracySmoothing, "engine-accuracy-smoothing", c.AccuracySmoothing, "Weight of the latest measurement when engine-accuracy-mode is ema")
	lflag.JSON(&c.Confidence, "engine-confidence", c.Confidence, "Confidence policy as JSON (learningBase, trainedBase, accuracyWeight, ceiling)")
	location := lflag.String("site-location", "America/Chicago", "Time zone of the site, used for hour of day, day type and season")

	e := &Engine{}
	lflag.Do(func() {
		c.FetchTimeout = *fetchTimeout
		c.AccuracyMode = AccuracyMode(*accuracyMode)
		loc, err := time.LoadLocation(*location)
		if err != nil {
			panic(fmt.Sprintf("invalid site-location %q: %v", *location, err))
		}
		c.Location = loc
		if err := c.Validate(); err != nil {
			panic(fmt.Sprintf("engine validation failed: %v", err))
		}
		fc.Location = loc
		pc.Location = loc
		oc.Location = loc
		e.setup(c, DefaultModels(*fc, *pc, *oc))
	})

	return e
}
