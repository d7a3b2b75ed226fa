// Command alerter raises email alerts for readings on alerts_queue that
// exceed the configured critical thresholds.
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
	"github.com/couchcryptid/weather-station-pipeline/internal/config"
	"github.com/couchcryptid/weather-station-pipeline/internal/notify"
	"github.com/couchcryptid/weather-station-pipeline/internal/observability"
	"github.com/couchcryptid/weather-station-pipeline/internal/pipeline"
)

const service = "alerter"

func main() {
	cfg, err := config.LoadAlerter()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, service)
	metrics := observability.NewMetrics(service)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub := kafkaadapter.NewSubscription(cfg, cfg.AlertQueue, logger)
	notifier := notify.New(cfg.Email, logger, metrics)
	alerter := pipeline.NewAlerter(cfg.Thresholds, notifier, logger, metrics)
	loop := pipeline.New("alerting", sub, alerter, logger, metrics, cfg.BrokerRetryInterval)

	srv := httpadapter.NewServer(cfg.HTTPAddr, loop, prometheus.DefaultGatherer, logger)
	ctx = srv.Start(ctx, cfg.ShutdownTimeout)

	logger.Info("starting", "queue", cfg.AlertQueue,
		"temperature_threshold", cfg.Thresholds.Temperature,
		"humidity_threshold", cfg.Thresholds.Humidity,
		"pressure_threshold", cfg.Thresholds.Pressure,
	)

	code := 0
	if err := kafkaadapter.WaitForExchange(ctx, cfg, logger); err == nil {
		if err := loop.Run(ctx); err != nil {
			logger.Error("alerter failed", "error", err)
			code = 1
		}
	}
	if err := httpadapter.Failure(ctx); err != nil {
		logger.Error("alerter failed", "error", err)
		code = 1
	}

	if err := sub.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	logger.Info("shutdown complete")
	if code != 0 {
		stop()
		os.Exit(code)
	}
}
