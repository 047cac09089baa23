package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fortemi/core/internal/config"
	"github.com/fortemi/core/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config overlay")
	logLevel := flag.String("log-level", "info", "debug, info, warn, or error")
	flag.Parse()

	log := logging.New(os.Stdout, parseLevel(*logLevel))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		log.Error("FORTEMI_DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, log)
	if err != nil {
		log.Error("start app", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error("close app", "error", err)
		}
	}()

	log.Info("fortemi worker starting", "embedding_backend", cfg.EmbeddingBackend)
	if err := app.Worker.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("worker exited", "error", err)
		os.Exit(1)
	}
	log.Info("fortemi worker stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
