package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-station-pipeline/internal/config"
	"github.com/couchcryptid/weather-station-pipeline/internal/domain"
	"github.com/couchcryptid/weather-station-pipeline/internal/observability"
	"github.com/couchcryptid/weather-station-pipeline/internal/pipeline"
)

type mockStore struct {
	mu          sync.Mutex
	insertErrs  []error
	inserted    []domain.Reading
	ensureCalls int
}

func (s *mockStore) EnsureConnected(ctx context.Context) error {
	s.mu.Lock()
	s.ensureCalls++
	s.mu.Unlock()
	return ctx.Err()
}

func (s *mockStore) InsertReading(_ context.Context, r domain.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.insertErrs) > 0 {
		err := s.insertErrs[0]
		s.insertErrs = s.insertErrs[1:]
		if err != nil {
			return err
		}
	}
	s.inserted = append(s.inserted, r)
	return nil
}

func (s *mockStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

type mockDeadLetterer struct {
	err    error
	causes []error
	bodies []string
}

func (m *mockDeadLetterer) DeadLetter(_ context.Context, d domain.Delivery, cause error) error {
	m.causes = append(m.causes, cause)
	m.bodies = append(m.bodies, string(d.Value))
	return m.err
}

const readingTime = "2025-05-07T19:00:00Z"

func readingBody(station string, temp, hum, pres float64) string {
	return fmt.Sprintf(`{"station_id":%q,"timestamp":%q,"temperature":%v,"humidity":%v,"pressure":%v}`,
		station, readingTime, temp, hum, pres)
}

func delivery(body string) domain.Delivery {
	return domain.Delivery{Value: []byte(body)}
}

func TestPersister_StoresValidReading(t *testing.T) {
	store := &mockStore{}
	metrics := observability.NewMetricsForTesting()
	p := pipeline.NewPersister(store, nil, discardLogger(), metrics)

	require.NoError(t, p.Handle(context.Background(), delivery(readingBody("ST-4821", 25, 40, 1010))))

	require.Len(t, store.inserted, 1)
	assert.Equal(t, domain.Reading{
		StationID:   "ST-4821",
		Timestamp:   time.Date(2025, 5, 7, 19, 0, 0, 0, time.UTC),
		Temperature: 25,
		Humidity:    40,
		Pressure:    1010,
	}, store.inserted[0])
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Persisted), 0)
}

func TestPersister_RejectsInvalidReadings(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		reason string
	}{
		{"pressure above range", readingBody("ST-1001", 42, 95, 1200), "out_of_range"},
		{"not json", "not json", "decode"},
		{"missing humidity", `{"station_id":"ST-1","timestamp":"` + readingTime + `","temperature":20,"pressure":1000}`, "missing_field"},
		{"temperature as word", `{"station_id":"ST-1","timestamp":"` + readingTime + `","temperature":"hot","humidity":50,"pressure":1000}`, "wrong_type"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &mockStore{}
			metrics := observability.NewMetricsForTesting()
			p := pipeline.NewPersister(store, nil, discardLogger(), metrics)

			require.NoError(t, p.Handle(context.Background(), delivery(tc.body)))
			assert.Empty(t, store.inserted)
			assert.Zero(t, store.ensureCalls, "rejected readings never touch storage")
			assert.InDelta(t, 1, testutil.ToFloat64(metrics.Rejected.WithLabelValues(tc.reason)), 0)
		})
	}
}

func TestPersister_MalformedThenValidThroughLoop(t *testing.T) {
	events := &eventLog{}
	src := newMockSource(events, "{not json", readingBody("ST-2000", 10, 50, 1000))
	store := &mockStore{}
	p := pipeline.NewPersister(store, nil, discardLogger(), observability.NewMetricsForTesting())
	l := pipeline.New("persistence", src, p, discardLogger(), observability.NewMetricsForTesting(), time.Millisecond)

	require.NoError(t, runUntil(t, l, func() bool { return events.count("commit") == 2 }))
	require.Equal(t, 1, store.count())
	assert.Equal(t, "ST-2000", store.inserted[0].StationID)
}

func TestPersister_InsertFailureIsAcknowledged(t *testing.T) {
	events := &eventLog{}
	src := newMockSource(events,
		readingBody("ST-1", 10, 50, 1000),
		readingBody("ST-2", 11, 51, 1001),
	)
	store := &mockStore{insertErrs: []error{errors.New("constraint violation")}}
	metrics := observability.NewMetricsForTesting()
	p := pipeline.NewPersister(store, nil, discardLogger(), metrics)
	l := pipeline.New("persistence", src, p, discardLogger(), metrics, time.Millisecond)

	require.NoError(t, runUntil(t, l, func() bool { return events.count("commit") == 2 }))
	require.Equal(t, 1, store.count())
	assert.Equal(t, "ST-2", store.inserted[0].StationID)
	assert.Equal(t, 2, events.count("fetch"), "failed message is not redelivered")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Errors), 0)
}

func TestPersister_DeadLetterPolicy(t *testing.T) {
	body := readingBody("ST-1", 10, 50, 1000)
	cause := errors.New("constraint violation")
	store := &mockStore{insertErrs: []error{cause}}
	dl := &mockDeadLetterer{}
	metrics := observability.NewMetricsForTesting()
	p := pipeline.NewPersister(store, pipeline.FailurePolicy(config.PolicyDeadLetter, dl), discardLogger(), metrics)

	require.NoError(t, p.Handle(context.Background(), delivery(body)))
	assert.Equal(t, []string{body}, dl.bodies)
	assert.Equal(t, []error{cause}, dl.causes)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.DeadLettered), 0)
}

func TestPersister_DeadLetterFailureStillAcknowledges(t *testing.T) {
	store := &mockStore{insertErrs: []error{errors.New("constraint violation")}}
	dl := &mockDeadLetterer{err: errors.New("broker down")}
	metrics := observability.NewMetricsForTesting()
	p := pipeline.NewPersister(store, dl, discardLogger(), metrics)

	require.NoError(t, p.Handle(context.Background(), delivery(readingBody("ST-1", 10, 50, 1000))))
	assert.Len(t, dl.causes, 1)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.DeadLettered), 0)
}

func TestPersister_ConnectionLossRetriesSameReading(t *testing.T) {
	lost := fmt.Errorf("%w: connection reset", domain.ErrStorageUnavailable)
	store := &mockStore{insertErrs: []error{lost, lost, nil}}
	dl := &mockDeadLetterer{}
	p := pipeline.NewPersister(store, dl, discardLogger(), observability.NewMetricsForTesting())

	require.NoError(t, p.Handle(context.Background(), delivery(readingBody("ST-9", 10, 50, 1000))))
	require.Len(t, store.inserted, 1)
	assert.Equal(t, "ST-9", store.inserted[0].StationID)
	assert.Equal(t, 3, store.ensureCalls)
	assert.Empty(t, dl.causes, "connection loss is not a refused insert")
}

func TestPersister_ShutdownWhileDisconnected(t *testing.T) {
	store := &mockStore{}
	p := pipeline.NewPersister(store, nil, discardLogger(), observability.NewMetricsForTesting())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Handle(ctx, delivery(readingBody("ST-9", 10, 50, 1000)))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.inserted)
}

func TestFailurePolicy(t *testing.T) {
	dl := &mockDeadLetterer{}
	assert.Nil(t, pipeline.FailurePolicy(config.PolicyDiscard, dl))
	assert.Equal(t, dl, pipeline.FailurePolicy(config.PolicyDeadLetter, dl))
}
