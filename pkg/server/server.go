package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"

	"github.com/solarautopilot/solarautopilot/pkg/engine"
	"github.com/solarautopilot/solarautopilot/pkg/ess"
	"github.com/solarautopilot/solarautopilot/pkg/history"
	"github.com/solarautopilot/solarautopilot/pkg/log"
	"github.com/solarautopilot/solarautopilot/pkg/storage"
	"github.com/solarautopilot/solarautopilot/pkg/types"
)

// tokenVerifier is a function that validates an OIDC ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// priceService is what the server needs from the utility price service.
type priceService interface {
	engine.PriceService
	GetConfirmedPrices(ctx context.Context, start, end time.Time) ([]types.Price, error)
}

// Server handles the HTTP API and runs decision cycles. It orchestrates
// interactions between the price service, the battery, the decision engine
// and storage.
type Server struct {
	engine  *engine.Engine
	prices  priceService
	ess     ess.System
	storage storage.Database
	history history.Provider
	now     func() time.Time

	listenAddr string
	serverName string
	httpServer *http.Server

	updateEmail string
	verifier    tokenVerifier
	bypassAuth  bool

	initOnce sync.Once
	initDone chan struct{}
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(e *engine.Engine, p priceService, sys ess.System, db storage.Database) *Server {
	srv := &Server{
		engine:     e,
		prices:     p,
		ess:        sys,
		storage:    db,
		history:    history.NewStorage(db),
		now:        time.Now,
		serverName: "solarautopilot",
		initDone:   make(chan struct{}),
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	oidcIssuer := lflag.String("oidc-issuer", "https://accounts.google.com", "Issuer of the ID tokens accepted for updates")
	oidcAudience := lflag.String("oidc-audience", "", "Audience to validate ID tokens against. Empty disables authentication.")
	updateEmail := lflag.String("update-email", "", "email the ID token must carry to run updates or change settings")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.updateEmail = *updateEmail
		if *oidcAudience == "" {
			log.Ctx(context.Background()).Warn("no oidc-audience set, updates are unauthenticated")
			srv.bypassAuth = true
			return
		}
		if srv.updateEmail == "" {
			log.Ctx(context.Background()).Error("update-email is required with oidc-audience")
			os.Exit(1)
		}
		provider, err := oidc.NewProvider(context.Background(), *oidcIssuer)
		if err != nil {
			log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.Any("error", err))
			os.Exit(1)
		}
		srv.verifier = provider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/update", s.updateAuthMiddleware(http.HandlerFunc(s.handleUpdate)))
	mux.Handle("POST /api/settings", s.updateAuthMiddleware(http.HandlerFunc(s.handleUpdateSettings)))
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/prediction", s.handlePrediction)
	mux.Handle("GET /metrics", s.engine.MetricsHandler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// initialize trains the engine from stored history. It runs once per server.
func (s *Server) initialize(ctx context.Context) {
	s.initOnce.Do(func() {
		defer close(s.initDone)
		res, err := s.engine.Initialize(ctx, s.history, s.prices)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "engine initialization failed", slog.Any("error", err))
			return
		}
		log.Ctx(ctx).InfoContext(
			ctx,
			"engine initialized",
			slog.String("mode", string(res.Mode)),
			slog.Int("samples", res.Samples),
		)
	})
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// The engine is initialized in the background and initialization is aborted
// when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go s.initialize(ctx)

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		<-s.initDone
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
