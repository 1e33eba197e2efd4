package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/solarautopilot/solarautopilot/pkg/log"
	"github.com/solarautopilot/solarautopilot/pkg/storage"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Status())
}

// handlePrediction returns the engine's current prediction, falling back to
// the last stored one after a restart.
func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if pred := s.engine.Current(); pred != nil {
		writeJSON(w, pred)
		return
	}

	pred, err := s.storage.GetLatestPrediction(ctx)
	if err == nil {
		writeJSON(w, pred)
		return
	}
	if !errors.Is(err, storage.ErrNotFound) {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get latest prediction", slog.Any("error", err))
		writeJSONError(w, "failed to get prediction", http.StatusInternalServerError)
		return
	}
	if !s.engine.Initialized() {
		writeJSONError(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}
	writeJSONError(w, "no prediction yet", http.StatusNotFound)
}
