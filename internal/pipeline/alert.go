package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/weather-station-pipeline/internal/domain"
	"github.com/couchcryptid/weather-station-pipeline/internal/observability"
)

// Notifier delivers an alert. Delivery failures are the notifier's concern.
type Notifier interface {
	Notify(ctx context.Context, a domain.Alert)
}

// Alerter checks each reading against critical thresholds. It does not
// apply the validation ranges used for storage.
type Alerter struct {
	thresholds domain.Thresholds
	notifier   Notifier
	logger     *slog.Logger
	metrics    *observability.Metrics
}

func NewAlerter(t domain.Thresholds, n Notifier, logger *slog.Logger, metrics *observability.Metrics) *Alerter {
	return &Alerter{
		thresholds: t,
		notifier:   n,
		logger:     logger,
		metrics:    metrics,
	}
}

// Handle always returns nil: every outcome is terminal.
func (a *Alerter) Handle(ctx context.Context, d domain.Delivery) error {
	raw, err := domain.DecodeReading(d.Value)
	if err != nil {
		a.metrics.Rejected.WithLabelValues(domain.RejectReason(err)).Inc()
		a.logger.Warn("undecodable reading", "error", err, "message_id", d.MessageID(), "body", string(d.Value))
		return nil
	}

	alert, ok := domain.NewAlert(raw.StationID(), domain.Evaluate(raw, a.thresholds))
	if !ok {
		a.logger.Debug("reading within thresholds", "station_id", raw.StationID())
		return nil
	}

	a.metrics.AlertsRaised.Inc()
	a.logger.Warn("alert raised", "station_id", alert.StationID, "violations", len(alert.Violations))
	a.notifier.Notify(ctx, alert)
	return nil
}
