package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/weather-station-pipeline/internal/domain"
	"github.com/couchcryptid/weather-station-pipeline/internal/observability"
)

// commitTimeout bounds the acknowledgement sent after a message has been
// handled, including during shutdown.
const commitTimeout = 5 * time.Second

// Source hands out one delivery at a time from a queue.
type Source interface {
	Fetch(ctx context.Context) (domain.Delivery, error)
}

// Handler takes the terminal action for a delivery. A non-nil error means
// the action did not complete and the delivery must not be acknowledged.
type Handler interface {
	Handle(ctx context.Context, d domain.Delivery) error
}

// Loop consumes a queue strictly one message at a time: fetch, handle,
// acknowledge.
type Loop struct {
	name          string
	source        Source
	handler       Handler
	logger        *slog.Logger
	metrics       *observability.Metrics
	retryInterval time.Duration
	running       atomic.Bool
}

// New creates a Loop. retryInterval is the pause after a failed fetch.
func New(name string, src Source, h Handler, logger *slog.Logger, metrics *observability.Metrics, retryInterval time.Duration) *Loop {
	return &Loop{
		name:          name,
		source:        src,
		handler:       h,
		logger:        logger.With("consumer", name),
		metrics:       metrics,
		retryInterval: retryInterval,
	}
}

// CheckReadiness reports whether the loop is consuming.
func (l *Loop) CheckReadiness(_ context.Context) error {
	if !l.running.Load() {
		return errors.New("consumer " + l.name + " is not running")
	}
	return nil
}

// Run consumes until ctx is cancelled. It returns an error only when a
// handler fails for a reason other than cancellation; the unacknowledged
// message is then redelivered on the next start.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("consumer started")
	l.running.Store(true)
	l.metrics.ConsumerRunning.Set(1)
	defer func() {
		l.running.Store(false)
		l.metrics.ConsumerRunning.Set(0)
	}()

	for {
		if ctx.Err() != nil {
			l.logger.Info("consumer stopping", "reason", ctx.Err())
			return nil
		}

		d, err := l.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			l.logger.Error("fetch failed", "error", err)
			l.metrics.Errors.Inc()
			sleepWithContext(ctx, l.retryInterval)
			continue
		}
		l.metrics.MessagesReceived.Inc()

		if err := l.handler.Handle(ctx, d); err != nil {
			if ctx.Err() != nil {
				l.logger.Info("handling interrupted, message left unacknowledged",
					"offset", d.Offset, "message_id", d.MessageID())
				continue
			}
			l.metrics.Errors.Inc()
			l.logger.Error("handler failed, message left unacknowledged",
				"error", err, "offset", d.Offset, "message_id", d.MessageID())
			return err
		}

		l.ack(ctx, d)
	}
}

func (l *Loop) ack(ctx context.Context, d domain.Delivery) {
	if d.Commit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := d.Commit(ctx); err != nil {
		l.metrics.Errors.Inc()
		l.logger.Warn("commit offset failed", "error", err,
			"topic", d.Topic, "partition", d.Partition, "offset", d.Offset)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
