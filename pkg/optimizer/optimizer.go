package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/solarautopilot/solarautopilot/pkg/log"
	"github.com/solarautopilot/solarautopilot/pkg/types"
)

// ErrRejectedOutcome is returned by UpdateRewards for outcomes that cannot be
// learned from.
var ErrRejectedOutcome = errors.New("outcome rejected")

// minPowerW is the smallest power worth scheduling.
const minPowerW = 1.0

// PriceForecaster provides the current price forecast.
type PriceForecaster interface {
	CurrentForecast(ctx context.Context) []types.Price
}

// OptimizeContext is everything one Optimize call works from.
type OptimizeContext struct {
	Start    time.Time
	State    types.BatteryState
	Solar    []types.ForecastPoint
	Load     []types.ForecastPoint
	Prices   []types.Price
	Patterns []types.Pattern
}

// Optimizer turns forecasts into a battery schedule using a rule-weighted
// reward function.
type Optimizer struct {
	cfg Config

	mu            sync.RWMutex
	weights       Weights
	limits        Limits
	refPrice      float64
	hasRefPrice   bool
	priceSpread   float64
	energyNormW   float64
	trained       bool
	lastTrainedAt time.Time
	samples       int
	updates       int

	// lastPowerW is the first decision of the latest schedule, the action the
	// next outcome is judged against.
	lastPowerW  float64
	lastSignal  float64
	costMean    float64
	costSamples int
}

// New returns an untrained optimizer.
func New(cfg Config) *Optimizer {
	return &Optimizer{
		cfg:         cfg,
		weights:     cfg.Weights,
		limits:      cfg.Limits,
		priceSpread: minPriceSpread,
		energyNormW: defaultEnergyNormW,
	}
}

// Train establishes the baseline reward model from history. The reference
// price comes from historical prices, falling back to the current forecast.
func (o *Optimizer) Train(ctx context.Context, history []types.HistoricalSample, prices PriceForecaster) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var historical []float64
	net := make([]float64, 0, len(history))
	for _, s := range history {
		if finite(s.SolarW) && finite(s.LoadW) {
			net = append(net, math.Abs(s.SolarW-s.LoadW))
		}
		if s.Price != nil && finite(*s.Price) {
			historical = append(historical, *s.Price)
		}
	}
	source := "history"
	if len(historical) == 0 && prices != nil {
		source = "forecast"
		for _, p := range prices.CurrentForecast(ctx) {
			if finite(p.Total()) {
				historical = append(historical, p.Total())
			}
		}
	}

	var ref float64
	spread := minPriceSpread
	if len(historical) > 0 {
		ref = stat.Mean(historical, nil)
		if len(historical) > 1 {
			spread = math.Max(stat.StdDev(historical, nil), minPriceSpread)
		}
	} else {
		source = "none"
	}
	norm := defaultEnergyNormW
	if len(net) > 0 {
		norm = math.Max(stat.Mean(net, nil), minEnergyNormW)
	}

	o.mu.Lock()
	o.weights = o.cfg.Weights
	o.refPrice = ref
	o.hasRefPrice = len(historical) > 0
	o.priceSpread = spread
	o.energyNormW = norm
	o.trained = true
	o.lastTrainedAt = time.Now()
	o.samples = len(history)
	o.updates = 0
	o.mu.Unlock()

	log.Ctx(ctx).DebugContext(
		ctx,
		"trained optimizer reward model",
		slog.String("priceSource", source),
		slog.Float64("referencePrice", ref),
		slog.Float64("priceSpread", spread),
		slog.Float64("energyNormW", norm),
	)
	return nil
}

// forecastReference derives a reference price and spread from a forecast
// when nothing was learned from history.
func forecastReference(prices []types.Price) (float64, float64) {
	totals := make([]float64, 0, len(prices))
	for _, p := range prices {
		if finite(p.Total()) {
			totals = append(totals, p.Total())
		}
	}
	if len(totals) == 0 {
		return 0, minPriceSpread
	}
	spread := minPriceSpread
	if len(totals) > 1 {
		spread = math.Max(stat.StdDev(totals, nil), minPriceSpread)
	}
	return stat.Mean(totals, nil), spread
}

func priceAt(prices []types.Price, t time.Time) (types.Price, bool) {
	for _, p := range prices {
		if p.Contains(t) {
			return p, true
		}
	}
	return types.Price{}, false
}

// slotHours returns the length of slot i in hours.
func slotHours(points []types.ForecastPoint, i int) float64 {
	var minutes int
	switch {
	case i+1 < len(points):
		minutes = points[i+1].OffsetMinutes - points[i].OffsetMinutes
	case i > 0:
		minutes = points[i].OffsetMinutes - points[i-1].OffsetMinutes
	}
	if minutes <= 0 {
		return 1
	}
	return float64(minutes) / 60
}

func power(p types.ForecastPoint) float64 {
	if !finite(p.PowerW) {
		return 0
	}
	return math.Max(p.PowerW, 0)
}

// Optimize emits one decision per slot of the shared solar/load horizon. The
// battery energy is simulated slot by slot so that no decision takes the SOC
// above 100% or below the reserve.
func (o *Optimizer) Optimize(ctx context.Context, oc OptimizeContext) []types.ChargingDecision {
	o.mu.RLock()
	weights := o.weights
	limits := o.limits
	ref, hasRef, spread := o.refPrice, o.hasRefPrice, o.priceSpread
	norm := o.energyNormW
	o.mu.RUnlock()

	n := min(len(oc.Solar), len(oc.Load))
	decisions := make([]types.ChargingDecision, 0, n)

	usePrices := len(oc.Prices) > 0
	if !usePrices {
		weights.Price = 0
		log.Ctx(ctx).WarnContext(ctx, "price forecast unavailable, optimizing on solar and load only")
	} else if !hasRef {
		ref, spread = forecastReference(oc.Prices)
	}

	capacity := oc.State.CapacityWh
	soc := clamp(oc.State.SOCPercent, 0, 100)
	if capacity <= 0 || !finite(capacity) {
		log.Ctx(ctx).WarnContext(ctx, "battery capacity unknown, holding", slog.Float64("capacityWh", capacity))
		for i := 0; i < n; i++ {
			decisions = append(decisions, types.ChargingDecision{
				OffsetMinutes:    oc.Solar[i].OffsetMinutes,
				TargetSOCPercent: soc,
				Reason:           types.DecisionReasonMissingCapacity,
				Rationale:        "Holding, battery capacity unknown.",
			})
		}
		return decisions
	}

	energy := capacity * soc / 100
	minWh := capacity * limits.MinReserveSOC / 100
	var firstSignal float64

	for i := 0; i < n; i++ {
		offset := oc.Solar[i].OffsetMinutes
		hours := slotHours(oc.Solar, i)
		t := oc.Start.Add(time.Duration(offset) * time.Minute)
		netW := power(oc.Solar[i]) - power(oc.Load[i])

		var signal float64
		price, hasPrice := priceAt(oc.Prices, t)
		if usePrices && hasPrice {
			signal = priceSignal(ref, spread, price.Total())
		}
		if i == 0 {
			firstSignal = signal
		}
		bias, chargeKeys, dischargeKeys := patternBias(t.In(o.cfg.location()), oc.Patterns, o.cfg.PreChargeHours, usePrices)
		r := score(weights, netW, norm, signal, bias)
		charge, discharge := r.charge(), r.discharge()

		d := types.ChargingDecision{OffsetMinutes: offset}
		var why []string
		switch {
		// an action has to beat holding, ties hold
		case charge > 0 && charge > discharge:
			p := limits.MaxChargeW
			d.Reason = types.DecisionReasonCheapPrice
			if r.solar >= r.price+r.pattern {
				p = math.Min(netW, limits.MaxChargeW)
				d.Reason = types.DecisionReasonSolarSurplus
			} else if r.pattern > r.price {
				d.Reason = types.DecisionReasonPreChargeSurge
			}
			room := (capacity - energy) / hours
			p = math.Min(p, room)
			if p < minPowerW {
				if room < minPowerW {
					d.Reason = types.DecisionReasonBatteryFull
					why = append(why, "Holding, battery full.")
				} else {
					d.Reason = types.DecisionReasonHold
					why = append(why, "Holding, surplus too small to charge.")
				}
				break
			}
			d.TargetPowerW = p
			d.PatternKeys = chargeKeys
			switch d.Reason {
			case types.DecisionReasonSolarSurplus:
				why = append(why, fmt.Sprintf("Charging %.0fW from solar surplus of %.0fW.", p, netW))
			case types.DecisionReasonPreChargeSurge:
				why = append(why, fmt.Sprintf("Charging %.0fW ahead of %s.", p, strings.Join(chargeKeys, ", ")))
			default:
				why = append(why, fmt.Sprintf("Charging %.0fW, price $%.3f below reference $%.3f.", p, price.Total(), ref))
			}
		case discharge > 0 && discharge > charge:
			p := limits.MaxDischargeW
			d.Reason = types.DecisionReasonExpensivePrice
			if r.deficit >= -(r.price + r.pattern) {
				p = math.Min(-netW, limits.MaxDischargeW)
				d.Reason = types.DecisionReasonCoverDeficit
			} else if -r.pattern > -r.price {
				d.Reason = types.DecisionReasonPatternDischarge
			}
			avail := (energy - minWh) / hours
			p = math.Min(p, avail)
			if p < minPowerW {
				if avail < minPowerW {
					d.Reason = types.DecisionReasonReserveReached
					why = append(why, "Holding, battery at reserve.")
				} else {
					d.Reason = types.DecisionReasonHold
					why = append(why, "Holding, deficit too small to discharge.")
				}
				break
			}
			d.TargetPowerW = -p
			d.PatternKeys = dischargeKeys
			switch d.Reason {
			case types.DecisionReasonCoverDeficit:
				why = append(why, fmt.Sprintf("Discharging %.0fW to cover deficit of %.0fW.", p, -netW))
			case types.DecisionReasonPatternDischarge:
				why = append(why, fmt.Sprintf("Discharging %.0fW during %s.", p, strings.Join(dischargeKeys, ", ")))
			default:
				why = append(why, fmt.Sprintf("Discharging %.0fW, price $%.3f above reference $%.3f.", p, price.Total(), ref))
			}
		default:
			d.Reason = types.DecisionReasonHold
			why = append(why, "Holding, no action beats holding.")
		}

		if usePrices && hasPrice && d.Reason != types.DecisionReasonCheapPrice && d.Reason != types.DecisionReasonExpensivePrice {
			if price.Level != "" {
				why = append(why, fmt.Sprintf("Price $%.3f (%s).", price.Total(), price.Level))
			} else {
				why = append(why, fmt.Sprintf("Price $%.3f.", price.Total()))
			}
		}
		if len(d.PatternKeys) > 0 && d.Reason != types.DecisionReasonPreChargeSurge && d.Reason != types.DecisionReasonPatternDischarge {
			why = append(why, fmt.Sprintf("Patterns: %s.", strings.Join(d.PatternKeys, ", ")))
		}
		d.Rationale = strings.Join(why, " ")

		energy += d.TargetPowerW * hours
		energy = math.Max(math.Min(energy, capacity), 0)
		d.TargetSOCPercent = energy / capacity * 100
		decisions = append(decisions, d)
	}

	if len(decisions) > 0 {
		o.mu.Lock()
		o.lastPowerW = decisions[0].TargetPowerW
		o.lastSignal = firstSignal
		o.mu.Unlock()

		log.Ctx(ctx).DebugContext(
			ctx,
			"optimized schedule",
			slog.Int("slots", len(decisions)),
			slog.String("firstReason", string(decisions[0].Reason)),
			slog.Float64("firstPowerW", decisions[0].TargetPowerW),
			slog.Float64("finalSOC", decisions[len(decisions)-1].TargetSOCPercent),
		)
	}
	return decisions
}

// UpdateRewards nudges the weights toward what would have scored better in
// hindsight given the observed outcome and the action that was taken.
//
// An action is judged against the running mean cost: charging is good when
// the period cost less than the mean and discharging is good when it cost
// more. The price weight follows the price term of the action's score, so it
// grows when the price signal backed a good action or opposed a bad one and
// shrinks otherwise.
func (o *Optimizer) UpdateRewards(out types.Outcome) error {
	if !finite(out.SolarW) || !finite(out.LoadW) || !finite(out.Cost) {
		return ErrRejectedOutcome
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	lr := o.cfg.LearningRate
	net := out.SolarW - out.LoadW
	switch {
	case net > 0 && o.lastPowerW <= 0:
		// surplus went unused
		o.weights.Solar += lr
	case net < 0 && o.lastPowerW > 0:
		// charged into a deficit
		o.weights.Solar -= lr
	}
	if o.costSamples > 0 && o.lastPowerW != 0 && out.Cost != o.costMean {
		direction := 1.0
		if o.lastPowerW < 0 {
			direction = -1
		}
		good := (direction > 0) == (out.Cost < o.costMean)
		judgement := -1.0
		if good {
			judgement = 1
		}
		o.weights.Price += lr * judgement * direction * o.lastSignal / maxSignal
	}
	o.costSamples++
	o.costMean += (out.Cost - o.costMean) / float64(o.costSamples)

	o.weights.Solar = clamp(o.weights.Solar, minWeight, maxWeight)
	o.weights.Price = clamp(o.weights.Price, minWeight, maxWeight)
	o.weights.Pattern = clamp(o.weights.Pattern, minWeight, maxWeight)
	o.updates++
	return nil
}

// ApplyLimits replaces the reserve SOC and power ratings.
func (o *Optimizer) ApplyLimits(l Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.limits = l
	return nil
}

// Limits returns the current limits.
func (o *Optimizer) Limits() Limits {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.limits
}

// Weights returns the current reward weights.
func (o *Optimizer) Weights() Weights {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.weights
}

// Reset discards everything learned. Limits are kept.
func (o *Optimizer) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.weights = o.cfg.Weights
	o.refPrice = 0
	o.hasRefPrice = false
	o.priceSpread = minPriceSpread
	o.energyNormW = defaultEnergyNormW
	o.trained = false
	o.lastTrainedAt = time.Time{}
	o.samples = 0
	o.updates = 0
	o.lastPowerW = 0
	o.lastSignal = 0
	o.costMean = 0
	o.costSamples = 0
}

// Trained returns true once Train has succeeded.
func (o *Optimizer) Trained() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.trained
}

func (o *Optimizer) Status() types.ModelStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return types.ModelStatus{
		Name:          "optimizer",
		Trained:       o.trained,
		LastTrainedAt: o.lastTrainedAt,
		Samples:       o.samples,
		Updates:       o.updates,
		Detail: map[string]float64{
			"solarWeight":    o.weights.Solar,
			"priceWeight":    o.weights.Price,
			"patternWeight":  o.weights.Pattern,
			"referencePrice": o.refPrice,
			"priceSpread":    o.priceSpread,
			"energyNormW":    o.energyNormW,
		},
	}
}
