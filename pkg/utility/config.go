package utility

import (
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/solarautopilot/solarautopilot/pkg/common"
)

// Configured sets up the price service and its ComEd provider based on flags.
func Configured() *Service {
	apiURL := lflag.String("comed-api-url", "https://hourlypricing.comed.com/api", "URL for the ComEd Hourly Pricing API")
	pjmURL := lflag.String("pjm-api-url", "https://api.pjm.com/api/v1/da_hrl_lmps", "URL for the PJM API")
	pjmKey := lflag.String("pjm-api-key", "", "API Key for PJM Data Miner 2 (optional, enables day-ahead prices)")
	cfg := ServiceConfig{
		DeliveryDollarsPerKWH: 0.065,
		BreakerFailures:       3,
	}
	lflag.JSON(&cfg.DeliveryDollarsPerKWH, "utility-delivery-dollars-per-kwh", cfg.DeliveryDollarsPerKWH, "Delivery charge added to every price ($/kWh)")
	lflag.JSON(&cfg.BreakerFailures, "utility-breaker-failures", cfg.BreakerFailures, "Consecutive price fetch failures before the circuit opens")
	timeout := lflag.Duration("utility-breaker-timeout", 5*time.Minute, "How long the price circuit stays open")

	s := &Service{now: time.Now}

	lflag.Do(func() {
		c := &ComEd{
			apiURL:    *apiURL,
			pjmAPIURL: *pjmURL,
			pjmAPIKey: *pjmKey,
			client:    common.HTTPClient(10 * time.Second),
			now:       time.Now,
		}
		if err := c.Validate(); err != nil {
			panic(fmt.Sprintf("comed validation failed: %v", err))
		}
		cfg.BreakerTimeout = *timeout
		if err := cfg.Validate(); err != nil {
			panic(fmt.Sprintf("utility validation failed: %v", err))
		}
		s.setup(c, cfg)
	})

	return s
}
