package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/weather-station-pipeline/internal/config"
	"github.com/couchcryptid/weather-station-pipeline/internal/domain"
	"github.com/couchcryptid/weather-station-pipeline/internal/observability"
)

// ReadingStore is the write side of persistent storage.
type ReadingStore interface {
	// EnsureConnected blocks until a connection is available or ctx is done.
	EnsureConnected(ctx context.Context) error
	// InsertReading stores r. Errors wrapping domain.ErrStorageUnavailable
	// mean the connection was lost and r was not written.
	InsertReading(ctx context.Context, r domain.Reading) error
}

// DeadLetterer receives deliveries whose insert was refused by storage.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, d domain.Delivery, cause error) error
}

// Persister validates readings and writes the valid ones to storage.
type Persister struct {
	store      ReadingStore
	deadLetter DeadLetterer
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewPersister creates a Persister. With a nil dead letterer a reading that
// storage refuses is logged and dropped.
func NewPersister(store ReadingStore, dl DeadLetterer, logger *slog.Logger, metrics *observability.Metrics) *Persister {
	return &Persister{
		store:      store,
		deadLetter: dl,
		logger:     logger,
		metrics:    metrics,
	}
}

// FailurePolicy returns the dead letterer to use for policy, or nil for
// discard.
func FailurePolicy(policy string, dl DeadLetterer) DeadLetterer {
	if policy == config.PolicyDeadLetter {
		return dl
	}
	return nil
}

// Handle stores one reading. Rejected and refused readings are terminal and
// return nil so the delivery is acknowledged. An error is returned only when
// ctx ended before the reading was stored.
func (p *Persister) Handle(ctx context.Context, d domain.Delivery) error {
	raw, err := domain.DecodeReading(d.Value)
	if err == nil {
		var r domain.Reading
		if r, err = domain.Validate(raw); err == nil {
			return p.persist(ctx, d, r)
		}
	}

	reason := domain.RejectReason(err)
	p.metrics.Rejected.WithLabelValues(reason).Inc()
	p.logger.Error("reading rejected",
		"reason", reason,
		"error", err,
		"message_id", d.MessageID(),
		"body", string(d.Value),
	)
	return nil
}

func (p *Persister) persist(ctx context.Context, d domain.Delivery, r domain.Reading) error {
	for {
		if err := p.store.EnsureConnected(ctx); err != nil {
			return err
		}

		err := p.store.InsertReading(ctx, r)
		switch {
		case err == nil:
			p.metrics.Persisted.Inc()
			p.logger.Info("reading stored", "station_id", r.StationID, "message_id", d.MessageID())
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, domain.ErrStorageUnavailable):
			p.logger.Warn("storage connection lost, retrying reading", "error", err, "station_id", r.StationID)
		default:
			p.refused(ctx, d, r, err)
			return nil
		}
	}
}

func (p *Persister) refused(ctx context.Context, d domain.Delivery, r domain.Reading, cause error) {
	p.metrics.Errors.Inc()
	if p.deadLetter == nil {
		p.logger.Error("insert failed, reading dropped", "error", cause, "station_id", r.StationID)
		return
	}
	if err := p.deadLetter.DeadLetter(ctx, d, cause); err != nil {
		p.logger.Error("insert failed and dead letter failed, reading dropped",
			"error", cause, "dead_letter_error", err, "station_id", r.StationID)
		return
	}
	p.metrics.DeadLettered.Inc()
	p.logger.Error("insert failed, reading dead-lettered", "error", cause, "station_id", r.StationID)
}
