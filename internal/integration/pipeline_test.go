//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkaadapter "github.com/couchcryptid/weather-station-pipeline/internal/adapter/kafka"
	"github.com/couchcryptid/weather-station-pipeline/internal/adapter/postgres"
	"github.com/couchcryptid/weather-station-pipeline/internal/config"
	"github.com/couchcryptid/weather-station-pipeline/internal/domain"
	"github.com/couchcryptid/weather-station-pipeline/internal/observability"
	"github.com/couchcryptid/weather-station-pipeline/internal/pipeline"
)

type env struct {
	cfg   *config.Config
	store *postgres.Store
}

func setup(ctx context.Context, t *testing.T) env {
	t.Helper()
	brokers := startKafka(ctx, t)
	pg := startPostgres(ctx, t)
	cfg := testConfig(brokers, pg)

	store := postgres.NewStore(cfg, discardLogger(), observability.NewMetricsForTesting())
	require.NoError(t, store.Prepare(ctx))
	t.Cleanup(func() { _ = store.Close() })

	return env{cfg: cfg, store: store}
}

func publish(ctx context.Context, t *testing.T, cfg *config.Config, readings ...domain.Reading) {
	t.Helper()
	pub := kafkaadapter.NewPublisher(cfg, discardLogger(), observability.NewMetricsForTesting())
	defer pub.Close()
	for _, r := range readings {
		require.NoError(t, pub.Publish(ctx, r))
	}
}

// startLoop runs h against queue and returns a stop function that waits for
// the loop to exit.
func startLoop(ctx context.Context, t *testing.T, cfg *config.Config, queue string, h pipeline.Handler) func() {
	t.Helper()
	sub := kafkaadapter.NewSubscription(cfg, queue, discardLogger())
	loop := pipeline.New(queue, sub, h, discardLogger(), observability.NewMetricsForTesting(), time.Second)

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(loopCtx)
	}()
	return func() {
		cancel()
		<-done
		_ = sub.Close()
	}
}

func storedStations(ctx context.Context, t *testing.T, s *postgres.Store) []string {
	t.Helper()
	rows, err := s.ListReadings(ctx, postgres.Filter{})
	require.NoError(t, err)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.StationID)
	}
	return out
}

// TestPipeline_ConsumersActIndependently publishes before any consumer
// exists, then checks that persistence stores only the in-range reading while
// alerting evaluates both.
func TestPipeline_ConsumersActIndependently(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	e := setup(ctx, t)

	require.NoError(t, kafkaadapter.WaitForExchange(ctx, e.cfg, discardLogger()))
	normal := reading("ST-4821", 25, 40, 1010)
	extreme := reading("ST-1001", 42, 95, 1200)
	publish(ctx, t, e.cfg, normal, extreme)

	persister := pipeline.NewPersister(e.store, nil, discardLogger(), observability.NewMetricsForTesting())
	notifier := &recordingNotifier{}
	alerter := pipeline.NewAlerter(e.cfg.Thresholds, notifier, discardLogger(), observability.NewMetricsForTesting())

	stopPersist := startLoop(ctx, t, e.cfg, e.cfg.BrokerQueue, persister)
	defer stopPersist()
	stopAlert := startLoop(ctx, t, e.cfg, e.cfg.AlertQueue, alerter)
	defer stopAlert()

	require.Eventually(t, func() bool { return len(notifier.snapshot()) == 1 }, time.Minute, 200*time.Millisecond)
	require.Eventually(t, func() bool { return len(storedStations(ctx, t, e.store)) == 1 }, time.Minute, 200*time.Millisecond)

	// Give persistence time to (not) store the rejected reading.
	time.Sleep(2 * time.Second)
	assert.Equal(t, []string{"ST-4821"}, storedStations(ctx, t, e.store))

	rows, err := e.store.ListReadings(ctx, postgres.Filter{})
	require.NoError(t, err)
	assert.Equal(t, normal, rows[0].Reading)

	alert := notifier.snapshot()[0]
	assert.Equal(t, "ST-1001", alert.StationID)
	assert.Len(t, alert.Violations, 3)
}

// TestPersistence_RefusedInsertIsAcknowledged makes storage refuse one
// reading and checks that it is not redelivered after a restart.
func TestPersistence_RefusedInsertIsAcknowledged(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	e := setup(ctx, t)

	db, err := sql.Open("postgres", e.cfg.Postgres.DSN())
	require.NoError(t, err)
	defer db.Close()
	_, err = db.ExecContext(ctx, `ALTER TABLE weather_logs ADD CONSTRAINT no_bad_station CHECK (station_id <> 'ST-0000')`)
	require.NoError(t, err)

	require.NoError(t, kafkaadapter.WaitForExchange(ctx, e.cfg, discardLogger()))
	publish(ctx, t, e.cfg, reading("ST-0000", 10, 50, 1000), reading("ST-2222", 11, 51, 1001))

	persister := pipeline.NewPersister(e.store, nil, discardLogger(), observability.NewMetricsForTesting())
	stop := startLoop(ctx, t, e.cfg, e.cfg.BrokerQueue, persister)
	require.Eventually(t, func() bool { return len(storedStations(ctx, t, e.store)) == 1 }, time.Minute, 200*time.Millisecond)
	stop()

	// A restarted consumer on the same queue sees nothing new.
	publish(ctx, t, e.cfg, reading("ST-3333", 12, 52, 1002))
	stop = startLoop(ctx, t, e.cfg, e.cfg.BrokerQueue, persister)
	defer stop()
	require.Eventually(t, func() bool { return len(storedStations(ctx, t, e.store)) == 2 }, time.Minute, 200*time.Millisecond)
	time.Sleep(2 * time.Second)
	assert.ElementsMatch(t, []string{"ST-2222", "ST-3333"}, storedStations(ctx, t, e.store))
}

// TestPersistence_DeadLetterPolicy routes a refused reading to the
// dead-letter topic.
func TestPersistence_DeadLetterPolicy(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	e := setup(ctx, t)

	db, err := sql.Open("postgres", e.cfg.Postgres.DSN())
	require.NoError(t, err)
	defer db.Close()
	_, err = db.ExecContext(ctx, `ALTER TABLE weather_logs ADD CONSTRAINT no_bad_station CHECK (station_id <> 'ST-0000')`)
	require.NoError(t, err)

	require.NoError(t, kafkaadapter.WaitForExchange(ctx, e.cfg, discardLogger()))
	require.NoError(t, kafkaadapter.DeclareTopic(ctx, e.cfg.BrokerAddrs, e.cfg.BrokerDeadLetter))
	publish(ctx, t, e.cfg, reading("ST-0000", 10, 50, 1000))

	dl := kafkaadapter.NewDeadLetterWriter(e.cfg)
	defer dl.Close()
	persister := pipeline.NewPersister(e.store, pipeline.FailurePolicy(config.PolicyDeadLetter, dl),
		discardLogger(), observability.NewMetricsForTesting())
	stop := startLoop(ctx, t, e.cfg, e.cfg.BrokerQueue, persister)
	defer stop()

	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     e.cfg.BrokerAddrs,
		Topic:       e.cfg.BrokerDeadLetter,
		StartOffset: kafkago.FirstOffset,
	})
	defer r.Close()
	readCtx, readCancel := context.WithTimeout(ctx, time.Minute)
	defer readCancel()
	msg, err := r.ReadMessage(readCtx)
	require.NoError(t, err)

	raw, err := domain.DecodeReading(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, "ST-0000", raw.StationID())
	var reason string
	for _, h := range msg.Headers {
		if h.Key == kafkaadapter.HeaderError {
			reason = string(h.Value)
		}
	}
	assert.Contains(t, reason, "no_bad_station")
}

// TestConsumer_WaitsForUnreachableBroker checks that the broker wait keeps
// retrying rather than failing.
func TestConsumer_WaitsForUnreachableBroker(t *testing.T) {
	cfg := testConfig([]string{"127.0.0.1:1"}, config.PostgresConfig{})
	cfg.BrokerRetryInterval = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := kafkaadapter.WaitForExchange(ctx, cfg, discardLogger())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
}
