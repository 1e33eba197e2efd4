// Command seed fills a local Firestore emulator with synthetic energy and
// price history so the engine has enough data to leave learning mode.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/solarautopilot/solarautopilot/pkg/log"
	"github.com/solarautopilot/solarautopilot/pkg/storage"
	"github.com/solarautopilot/solarautopilot/pkg/types"
)

func main() {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	}
	s := storage.Configured()
	days := 14
	lflag.JSON(&days, "seed-days", days, "Number of days of history to seed")
	lflag.Configure()
	defer s.Close()

	ctx := context.Background()
	log.Ctx(ctx).InfoContext(ctx, "seeding mock data", slog.Int("days", days))

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	const (
		capacityKWH = 13.5
		maxBatKW    = 5.0
		homeAvgKW   = 0.9
		solarPeakKW = 6.0
		deliveryFee = 0.04
	)
	soc := 50.0

	now := time.Now().UTC().Truncate(time.Hour)
	start := now.AddDate(0, 0, -days)
	for t := start; t.Before(now); t = t.Add(time.Hour) {
		hour := t.In(time.Local).Hour()

		price := 0.08
		switch {
		case hour >= 6 && hour < 9:
			price = 0.22
		case hour >= 10 && hour < 15:
			price = 0.05
		case hour >= 17 && hour < 21:
			price = 0.35
		case hour >= 21:
			price = 0.10
		}
		price += rng.Float64()*0.02 - 0.01

		// cloudy days scale the whole curve
		cloud := 0.6 + 0.4*rng.Float64()
		solarKW := 0.0
		if hour > 6 && hour < 19 {
			dist := float64(hour) - 13.0
			solarKW = solarPeakKW * cloud * math.Exp(-(dist*dist)/12.0)
		}
		homeKW := homeAvgKW * (0.8 + 0.4*rng.Float64())
		if hour >= 17 && hour < 22 {
			homeKW *= 2.5
		}

		// charge from surplus solar, discharge into the evening peak
		var chargedKWH, usedKWH float64
		if surplus := solarKW - homeKW; surplus > 0 {
			chargedKWH = math.Min(math.Min(surplus, maxBatKW), (100-soc)/100*capacityKWH)
		} else if price > 0.2 {
			usedKWH = math.Min(math.Min(-surplus, maxBatKW), math.Max(0, soc-20)/100*capacityKWH)
		}
		startSOC := soc
		soc += (chargedKWH - usedKWH) / capacityKWH * 100

		grid := homeKW - solarKW + chargedKWH - usedKWH
		stats := types.EnergyStats{
			TSHourStart:       t,
			MinBatterySOC:     math.Min(startSOC, soc),
			MaxBatterySOC:     math.Max(startSOC, soc),
			BatteryChargedKWH: chargedKWH,
			BatteryUsedKWH:    usedKWH,
			SolarKWH:          solarKW,
			HomeKWH:           homeKW,
		}
		if grid > 0 {
			stats.GridImportKWH = grid
		} else {
			stats.GridExportKWH = -grid
		}

		if err := s.UpsertEnergyHistory(ctx, stats, types.CurrentEnergyStatsVersion); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed energy stats", slog.Any("error", err))
			os.Exit(1)
		}
		err := s.UpsertPrice(ctx, types.Price{
			Provider:              "seed",
			TSStart:               t,
			TSEnd:                 t.Add(time.Hour),
			DollarsPerKWH:         price,
			GridAddlDollarsPerKWH: deliveryFee,
		}, types.CurrentPriceHistoryVersion)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed price", slog.Any("error", err))
			os.Exit(1)
		}

		if t.Hour() == 0 {
			fmt.Printf("Seeded %s (SOC: %.0f%%)\n", t.Format(time.DateOnly), soc)
		}
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully")
}
