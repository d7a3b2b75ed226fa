// Command consumer persists valid station readings from weather_queue.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/couchcryptid/weather-station-pipeline/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/weather-station-pipeline/internal/adapter/kafka"
	"github.com/couchcryptid/weather-station-pipeline/internal/adapter/postgres"
	"github.com/couchcryptid/weather-station-pipeline/internal/config"
	"github.com/couchcryptid/weather-station-pipeline/internal/observability"
	"github.com/couchcryptid/weather-station-pipeline/internal/pipeline"
)

const service = "consumer"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, service)
	metrics := observability.NewMetrics(service)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, metrics); err != nil {
		logger.Error("consumer failed", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	store := postgres.NewStore(cfg, logger, metrics)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("storage close error", "error", err)
		}
	}()

	sub := kafkaadapter.NewSubscription(cfg, cfg.BrokerQueue, logger)
	defer func() {
		if err := sub.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}()

	deadLetters := kafkaadapter.NewDeadLetterWriter(cfg)
	defer func() {
		if err := deadLetters.Close(); err != nil {
			logger.Error("dead letter writer close error", "error", err)
		}
	}()

	persister := pipeline.NewPersister(store, pipeline.FailurePolicy(cfg.StorageFailurePolicy, deadLetters), logger, metrics)
	loop := pipeline.New("persistence", sub, persister, logger, metrics, cfg.BrokerRetryInterval)

	srv := httpadapter.NewServer(cfg.HTTPAddr, observability.AllReady(loop, store), prometheus.DefaultGatherer, logger)
	ctx = srv.Start(ctx, cfg.ShutdownTimeout)

	logger.Info("starting", "queue", cfg.BrokerQueue, "table", cfg.StorageTable, "failure_policy", cfg.StorageFailurePolicy)

	if err := kafkaadapter.WaitForExchange(ctx, cfg, logger); err != nil {
		return ignoreCancel(ctx, err)
	}
	if err := store.Prepare(ctx); err != nil {
		return ignoreCancel(ctx, err)
	}

	if err := loop.Run(ctx); err != nil {
		return err
	}
	return httpadapter.Failure(ctx)
}

// ignoreCancel drops err when it was caused by shutdown. A failed ops server
// is reported in its place.
func ignoreCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return httpadapter.Failure(ctx)
	}
	return err
}
