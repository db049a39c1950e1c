package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/utafrali/cartorder/internal/app"
	"github.com/utafrali/cartorder/internal/config"
	"github.com/utafrali/cartorder/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("cartorder service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New("cartorder-service", cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting cartorder service",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
	)

	application, err := app.NewApp(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		return err
	}
	log.Info("cartorder service stopped")
	return nil
}
