// Package main runs a single rollup aggregation pass and exits.
// Intended for cron-style deployments and operational backfills; the
// API server runs the same aggregator on its internal scheduler.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shortstat/shortstat/internal/config"
	"github.com/shortstat/shortstat/internal/metrics"
	"github.com/shortstat/shortstat/internal/repository"
	"github.com/shortstat/shortstat/internal/rollup"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return 1
	}
	defer repo.Close()

	aggregator := rollup.NewAggregator(repo, logger, metrics.NewNoop())

	days, err := aggregator.Run(ctx)
	if err != nil {
		logger.Error("rollup run failed", "error", err, "days_aggregated", days)
		return 1
	}

	logger.Info("rollup run finished", "days_aggregated", days)
	return 0
}
