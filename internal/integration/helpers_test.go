//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/couchcryptid/weather-station-pipeline/internal/config"
	"github.com/couchcryptid/weather-station-pipeline/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) []string {
	t.Helper()
	ctr, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("weather-test"))
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start kafka")

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err)
	return brokers
}

func startPostgres(ctx context.Context, t *testing.T) config.PostgresConfig {
	t.Helper()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("weather"),
		tcpostgres.WithUsername("weather"),
		tcpostgres.WithPassword("weather"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start postgres")

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return config.PostgresConfig{
		Host:     host,
		Port:     port.Int(),
		DBName:   "weather",
		User:     "weather",
		Password: "weather",
		SSLMode:  "disable",
	}
}

// testConfig returns a configuration with unique queue names so tests do not
// share consumer group offsets.
func testConfig(brokers []string, pg config.PostgresConfig) *config.Config {
	suffix := strconv.FormatInt(time.Now().UnixNano(), 36)
	return &config.Config{
		BrokerAddrs:          brokers,
		BrokerExchange:       "weather_logs_" + suffix,
		BrokerRoutingKey:     "weather.station",
		BrokerQueue:          "weather_queue_" + suffix,
		AlertQueue:           "alerts_queue_" + suffix,
		BrokerDeadLetter:     "weather_logs_" + suffix + ".dead_letter",
		BrokerRetryInterval:  time.Second,
		StorageRetryInterval: time.Second,
		Postgres:             pg,
		StorageTable:         "weather_logs",
		StorageFailurePolicy: config.PolicyDiscard,
		PublishAttempts:      3,
		Thresholds:           domain.Thresholds{Temperature: 35, Humidity: 90, Pressure: 1050},
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a domain.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
}

func (n *recordingNotifier) snapshot() []domain.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Alert(nil), n.alerts...)
}

func reading(station string, temp, hum, pres float64) domain.Reading {
	return domain.Reading{
		StationID:   station,
		Timestamp:   time.Now().UTC().Truncate(time.Microsecond),
		Temperature: temp,
		Humidity:    hum,
		Pressure:    pres,
	}
}
