package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/solarautopilot/solarautopilot/pkg/engine"
	"github.com/solarautopilot/solarautopilot/pkg/log"
	"github.com/solarautopilot/solarautopilot/pkg/types"
)

type updateResponse struct {
	Status     string                  `json:"status"`
	Prediction *types.Prediction       `json:"prediction,omitempty"`
	Decision   *types.ChargingDecision `json:"decision,omitempty"`
	Applied    bool                    `json:"applied"`
	DryRun     bool                    `json:"dryRun"`
	BatterySOC float64                 `json:"batterySOC"`
	Error      string                  `json:"error,omitempty"`
}

// handleUpdate runs one decision cycle.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := log.Component(r.Context(), "update")

	if !s.engine.Initialized() {
		writeJSONError(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}

	// 1. Get Settings and apply them to the engine and the battery
	settings, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	if err := s.engine.ApplySettings(settings); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to apply settings to engine", slog.Any("error", err))
		writeJSONError(w, "failed to apply settings", http.StatusInternalServerError)
		return
	}
	if err := s.ess.ApplySettings(ctx, settings); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to apply settings to ess", slog.Any("error", err))
		writeJSONError(w, "failed to apply settings", http.StatusInternalServerError)
		return
	}

	log.Ctx(ctx).DebugContext(ctx, "update: settings applied")

	// 2. Sync energy and price history
	s.syncEnergyHistory(ctx, settings.SyncHistoryDays)
	s.syncPriceHistory(ctx, settings.SyncHistoryDays)

	if settings.Pause {
		log.Ctx(ctx).InfoContext(ctx, "update: paused")
		// We return 200 OK so the scheduler doesn't think it failed
		writeJSON(w, updateResponse{Status: "paused"})
		return
	}

	// 3. Fetch current ESS status and report how the last prediction did
	status, err := s.ess.GetStatus(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get ess status", slog.Any("error", err))
		writeJSONError(w, "failed to get ess status", http.StatusInternalServerError)
		return
	}
	s.reportOutcome(ctx, status)

	// 4. Predict
	pred, err := s.engine.MakePredictions(ctx, types.BatteryState{
		SOCPercent: status.BatterySOC,
		CapacityWh: status.BatteryCapacityWh,
	}, 0)
	if err != nil {
		if errors.Is(err, engine.ErrCycleInFlight) {
			writeJSONError(w, "decision cycle already in flight", http.StatusConflict)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to make predictions", slog.Any("error", err))
		writeJSONError(w, "failed to make predictions", http.StatusInternalServerError)
		return
	}

	resp := updateResponse{
		Status:     "success",
		Prediction: pred,
		DryRun:     settings.DryRun,
		BatterySOC: status.BatterySOC,
	}

	// 5. Execute the first decision
	if len(pred.Charging) > 0 {
		decision := pred.Charging[0]
		resp.Decision = &decision
		log.Ctx(ctx).InfoContext(
			ctx,
			"update: decision made",
			slog.Float64("targetPowerW", decision.TargetPowerW),
			slog.String("reason", string(decision.Reason)),
			slog.String("rationale", decision.Rationale),
			slog.Float64("confidence", pred.Confidence),
			slog.Float64("batterySOC", status.BatterySOC),
		)
		if !settings.DryRun {
			if err := s.ess.ApplyDecision(ctx, decision); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to apply decision", slog.Any("error", err))
				resp.Error = "failed to apply decision"
			} else {
				resp.Applied = true
			}
		}
	}

	// 6. Log Prediction
	if err := s.storage.InsertPrediction(ctx, *pred); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to insert prediction", slog.Any("error", err))
	}

	writeJSON(w, resp)
}

// reportOutcome turns the energy measured since the previous cycle into an
// outcome for the prediction that cycle made.
func (s *Server) reportOutcome(ctx context.Context, status types.SystemStatus) {
	pred := s.engine.Current()
	if pred == nil {
		return
	}
	hours := status.Timestamp.Sub(pred.Timestamp).Hours()
	if hours <= 0 {
		log.Ctx(ctx).DebugContext(ctx, "status is not newer than the last prediction")
		return
	}

	// attribute the period to the hour the prediction was made for
	out := types.Outcome{
		Timestamp: pred.Timestamp,
		SolarW:    status.PeriodSolarKWH * 1000 / hours,
		LoadW:     status.PeriodHomeKWH * 1000 / hours,
	}
	for _, p := range pred.Prices {
		if p.Contains(pred.Timestamp) {
			out.Cost = status.PeriodGridImportKWH * p.Total()
			break
		}
	}

	if err := s.engine.LearnFromOutcome(ctx, pred.Ref(), out); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to learn from outcome", slog.String("prediction", pred.ID), slog.Any("error", err))
	}
}

// syncStart returns where to resume syncing: the hour of the last stored
// record, or the start of the day `days` ago when nothing recent and current
// is stored.
func (s *Server) syncStart(ctx context.Context, kind string, last time.Time, lastVersion, currentVersion, days int) time.Time {
	ago := s.now().AddDate(0, 0, -days)
	start := truncateDay(ago)
	if !last.IsZero() && lastVersion >= currentVersion && last.After(start) {
		return last.Truncate(time.Hour)
	} else if !last.IsZero() && lastVersion < currentVersion {
		log.Ctx(ctx).InfoContext(
			ctx,
			"backfilling history due to version mismatch",
			slog.String("kind", kind),
			slog.Int("lastVersion", lastVersion),
			slog.Int("currentVersion", currentVersion),
		)
	}
	return start
}

func (s *Server) syncEnergyHistory(ctx context.Context, days int) {
	// First, find out the last time we have history for
	last, lastVersion, err := s.storage.GetLatestEnergyHistoryTime(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get latest energy history time", slog.Any("error", err))
	}
	now := s.now()
	start := s.syncStart(ctx, "energy", last, lastVersion, types.CurrentEnergyStatsVersion, days)
	log.Ctx(ctx).DebugContext(ctx, "syncing energy history", slog.Time("since", start))

	// Loop day by day
	for t := start; t.Before(now); t = t.Add(24 * time.Hour) {
		end := t.Add(24 * time.Hour)
		if end.After(now) {
			end = now
		}
		stats, err := s.ess.GetEnergyHistory(ctx, t, end)
		if err != nil {
			// continue to next day even if this one failed
			log.Ctx(ctx).ErrorContext(ctx, "failed to get energy history from ess", slog.Any("error", err), slog.Time("start", t), slog.Time("end", end))
			continue
		}
		for _, h := range stats {
			if err := s.storage.UpsertEnergyHistory(ctx, h, types.CurrentEnergyStatsVersion); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to upsert energy history", slog.Any("error", err))
			}
		}
	}
}

func (s *Server) syncPriceHistory(ctx context.Context, days int) {
	last, lastVersion, err := s.storage.GetLatestPriceHistoryTime(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get latest price history time", slog.Any("error", err))
	}
	now := s.now()
	start := s.syncStart(ctx, "price", last, lastVersion, types.CurrentPriceHistoryVersion, days)
	log.Ctx(ctx).DebugContext(ctx, "syncing price history", slog.Time("since", start))

	for t := start; t.Before(now); t = t.Add(24 * time.Hour) {
		end := t.Add(24 * time.Hour)
		if end.After(now) {
			end = now
		}
		prices, err := s.prices.GetConfirmedPrices(ctx, t, end)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to get confirmed prices", slog.Any("error", err), slog.Time("start", t), slog.Time("end", end))
			continue
		}
		for _, p := range prices {
			if err := s.storage.UpsertPrice(ctx, p, types.CurrentPriceHistoryVersion); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to upsert price", slog.Any("error", err))
			}
		}
	}
}
