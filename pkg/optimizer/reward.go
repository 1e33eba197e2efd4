package optimizer

import (
	"math"
	"time"

	"github.com/solarautopilot/solarautopilot/pkg/types"
)

const (
	// maxSignal bounds the price signal and the pattern bias.
	maxSignal = 2.0
	// minPriceSpread keeps the price signal finite on flat tariffs ($/kWh).
	minPriceSpread = 0.01
	// minEnergyNormW keeps the solar term finite on tiny systems.
	minEnergyNormW = 100.0
	// defaultEnergyNormW is used before training.
	defaultEnergyNormW = 1000.0
)

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// priceSignal is positive when the price is below the reference price and
// negative when it is above, in units of the price spread.
func priceSignal(ref, spread, price float64) float64 {
	if spread < minPriceSpread || !finite(spread) {
		spread = minPriceSpread
	}
	return clamp((ref-price)/spread, -maxSignal, maxSignal)
}

// reward holds the scored terms for one slot. Each term is expressed in the
// charge direction: positive favors charging, negative favors discharging.
type reward struct {
	solar   float64
	deficit float64
	price   float64
	pattern float64

	chargeKeys    []string
	dischargeKeys []string
}

func (r reward) charge() float64 {
	return r.solar + r.price + r.pattern
}

func (r reward) discharge() float64 {
	return r.deficit - r.price - r.pattern
}

// upcoming returns true if the rule applies within the hours after t but not
// at t.
func upcoming(rule types.Rule, t time.Time, hours int) bool {
	for h := 1; h <= hours; h++ {
		if rule.Matches(t.Add(time.Duration(h) * time.Hour)) {
			return true
		}
	}
	return false
}

// patternBias returns the pattern term for a slot starting at t along with
// the keys of the patterns that pushed toward charging and discharging.
// Price patterns are ignored when there is no price signal.
func patternBias(t time.Time, patterns []types.Pattern, preChargeHours int, usePrices bool) (float64, []string, []string) {
	var bias float64
	var chargeKeys, dischargeKeys []string
	for _, p := range patterns {
		now := p.Rule.Matches(t)
		switch p.Kind {
		case types.PatternPricePeak, types.PatternPriceValley:
			if !usePrices {
				continue
			}
		}
		switch p.Kind {
		case types.PatternLoadSurge, types.PatternPricePeak:
			if now {
				bias -= p.Occurrence
				dischargeKeys = append(dischargeKeys, p.Key)
			} else if upcoming(p.Rule, t, preChargeHours) {
				bias += p.Occurrence
				chargeKeys = append(chargeKeys, p.Key)
			}
		case types.PatternPriceValley:
			if now {
				bias += p.Occurrence
				chargeKeys = append(chargeKeys, p.Key)
			}
		case types.PatternSolarSurplus:
			// leave headroom for free solar that is about to arrive
			if !now && upcoming(p.Rule, t, preChargeHours) {
				bias -= 0.5 * p.Occurrence
				dischargeKeys = append(dischargeKeys, p.Key)
			}
		}
	}
	return clamp(bias, -maxSignal, maxSignal), chargeKeys, dischargeKeys
}

// score computes the reward terms for one slot.
func score(w Weights, netW, energyNormW, signal, bias float64) reward {
	if energyNormW < minEnergyNormW || !finite(energyNormW) {
		energyNormW = minEnergyNormW
	}
	return reward{
		solar:   w.Solar * math.Max(netW, 0) / energyNormW,
		deficit: w.Solar * math.Max(-netW, 0) / energyNormW,
		price:   w.Price * signal,
		pattern: w.Pattern * bias,
	}
}
