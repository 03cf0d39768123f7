package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"docproof/apps/backend/internal/app"
	"docproof/apps/backend/internal/config"
	"docproof/apps/backend/internal/logger"
)

func main() {
	// Initialize structured logger
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("application exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	a, err := app.New(cfg, deps.DB, deps.NSQProducer, logger, &app.Options{Cache: deps.Cache})
	if err != nil {
		return err
	}

	consumers, err := a.StartConsumers(cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range consumers {
			c.Stop()
			<-c.StopChan
		}
	}()

	if !cfg.EnableAPI {
		slog.Info("API disabled, running workers only")
		<-ctx.Done()
		return nil
	}

	return a.Run(ctx)
}
