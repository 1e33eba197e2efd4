package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/solarautopilot/solarautopilot/pkg/common"
	"github.com/solarautopilot/solarautopilot/pkg/engine"
	"github.com/solarautopilot/solarautopilot/pkg/ess"
	"github.com/solarautopilot/solarautopilot/pkg/log"
	"github.com/solarautopilot/solarautopilot/pkg/server"
	"github.com/solarautopilot/solarautopilot/pkg/storage"
	"github.com/solarautopilot/solarautopilot/pkg/utility"
)

func main() {
	// init packages
	db := storage.Configured()
	prices := utility.Configured()
	e := engine.Configured()
	sys := ess.Configured(db)

	// init server
	srv := server.Configured(e, prices, sys, db)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()), slog.String("version", common.Version()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// storage was opened inside lflag.Do, a failure there already panicked
	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	// Run blocks until the context is canceled or the listener fails
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
