// Command producer publishes synthetic station readings to the weather_logs
// exchange.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/couchcryptid/weather-station-pipeline/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/weather-station-pipeline/internal/adapter/kafka"
	"github.com/couchcryptid/weather-station-pipeline/internal/config"
	"github.com/couchcryptid/weather-station-pipeline/internal/generator"
	"github.com/couchcryptid/weather-station-pipeline/internal/observability"
)

const service = "producer"

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

	pub := kafkaadapter.NewPublisher(cfg, logger, metrics)
	srv := httpadapter.NewServer(cfg.HTTPAddr, pub, prometheus.DefaultGatherer, logger)
	ctx = srv.Start(ctx, cfg.ShutdownTimeout)

	if err := kafkaadapter.WaitForExchange(ctx, cfg, logger); err == nil {
		gen := generator.New(pub, clockwork.NewRealClock(), nil, generator.OptionsFromConfig(cfg), logger)
		if _, err := gen.Run(ctx); err != nil {
			logger.Error("generator error", "error", err)
		}
	}

	if err := pub.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	logger.Info("shutdown complete")
	if err := httpadapter.Failure(ctx); err != nil {
		logger.Error("producer failed", "error", err)
		stop()
		os.Exit(1)
	}
}
