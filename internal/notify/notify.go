// Package notify delivers alerts by email. Delivery is fire-and-forget: a
// failure is logged and counted but never reaches the caller.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/weather-station-pipeline/internal/config"
	"github.com/couchcryptid/weather-station-pipeline/internal/domain"
	"github.com/couchcryptid/weather-station-pipeline/internal/observability"
)

// Email is a plain-text message to one recipient.
type Email struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Transport sends a single email.
type Transport interface {
	Send(ctx context.Context, e Email) error
}

// Dispatcher turns alerts into emails from the configured sender to the
// configured recipient.
type Dispatcher struct {
	from      string
	to        string
	transport Transport
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New picks the SMTP transport when a relay host is configured and the log
// transport otherwise.
func New(cfg config.EmailConfig, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	var t Transport = NewLogTransport(logger)
	if cfg.SMTPHost != "" {
		t = NewSMTPTransport(cfg)
	}
	d := NewDispatcher(cfg.From, cfg.To, t, logger, metrics)
	if cfg.SendTimeout > 0 {
		d.timeout = cfg.SendTimeout
	}
	return d
}

func NewDispatcher(from, to string, t Transport, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		from:      from,
		to:        to,
		transport: t,
		timeout:   defaultSendTimeout,
		logger:    logger,
		metrics:   metrics,
	}
}

// Notify emails a. It does not return an error, and it gives up once the
// send timeout elapses so a stalled relay cannot hold up the caller.
func (d *Dispatcher) Notify(ctx context.Context, a domain.Alert) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	e := Email{
		From:    d.from,
		To:      d.to,
		Subject: a.Subject(),
		Body:    a.Body(),
	}
	if err := d.transport.Send(ctx, e); err != nil {
		d.metrics.NotifyFailures.Inc()
		d.logger.Error("alert notification failed", "error", err, "station_id", a.StationID, "to", d.to)
		return
	}
	d.logger.Info("alert notification sent", "station_id", a.StationID, "to", d.to)
}

// LogTransport writes emails to the log instead of sending them.
type LogTransport struct {
	logger *slog.Logger
}

func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(_ context.Context, e Email) error {
	t.logger.Info("email",
		"from", e.From,
		"to", e.To,
		"subject", e.Subject,
		"body", e.Body,
	)
	return nil
}
