package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/abctrading/tradeauth/internal/app"
	"github.com/abctrading/tradeauth/internal/config"
	"github.com/abctrading/tradeauth/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logging.New(cfg.ServiceName, cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting tradeauth",
		slog.String("environment", cfg.Environment),
		slog.String("http_addr", cfg.HTTP.Addr),
		slog.String("refresh_store", cfg.RefreshStoreBackend),
		slog.String("key_source", cfg.Keys.Source),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		log.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("tradeauth stopped")
}
