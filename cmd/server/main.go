package main

import (
	"context"
	"log/slog"
	"os"

	"go-docspace/internal/app"
	"go-docspace/internal/config"
	"go-docspace/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log, flush := logger.New(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	slog.SetDefault(log)
	defer func() { _ = flush() }()

	ctx := context.Background()
	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		_ = flush()
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		slog.Error("application run failed", "error", err)
		_ = flush()
		os.Exit(1)
	}
}
