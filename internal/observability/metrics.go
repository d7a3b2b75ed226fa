package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather"

// Metrics holds the Prometheus collectors shared by the pipeline services.
// Each process registers one set, labelled by its service name.
type Metrics struct {
	MessagesSent     prometheus.Counter
	MessagesReceived prometheus.Counter
	Errors           prometheus.Counter
	Rejected         *prometheus.CounterVec // labels: reason={decode,missing_field,wrong_type,out_of_range}
	Persisted        prometheus.Counter
	DeadLettered     prometheus.Counter
	AlertsRaised     prometheus.Counter
	NotifyFailures   prometheus.Counter
	PublishLatency   prometheus.Histogram
	ConsumerRunning  prometheus.Gauge
	StorageConnected prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics(service string) *Metrics {
	m := newMetrics(prometheus.Labels{"service": service})
	m.MustRegister(prometheus.DefaultRegisterer)
	return m
}

// MustRegister adds every collector to reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.collectors()...)
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as many
// as they need.
func NewMetricsForTesting() *Metrics {
	return newMetrics(prometheus.Labels{"service": "test"})
}

func newMetrics(constLabels prometheus.Labels) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
	}

	return &Metrics{
		MessagesSent:     counter("messages_sent_total", "Total readings published to the broker."),
		MessagesReceived: counter("messages_received_total", "Total messages fetched from the broker."),
		Errors:           counter("errors_total", "Total processing, publish, and storage errors."),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "messages_rejected_total",
			Help:        "Messages discarded without processing, by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		Persisted:      counter("readings_persisted_total", "Readings committed to storage."),
		DeadLettered:   counter("messages_dead_lettered_total", "Messages routed to the dead-letter topic."),
		AlertsRaised:   counter("alerts_raised_total", "Alert notifications composed."),
		NotifyFailures: counter("notification_failures_total", "Alert notifications the transport failed to deliver."),
		PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "publish_latency_seconds",
			Help:        "Time taken by one broker publish.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		ConsumerRunning:  gauge("consumer_running", "1 while the consume loop is active."),
		StorageConnected: gauge("storage_connected", "1 while the storage connection is healthy."),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesSent,
		m.MessagesReceived,
		m.Errors,
		m.Rejected,
		m.Persisted,
		m.DeadLettered,
		m.AlertsRaised,
		m.NotifyFailures,
		m.PublishLatency,
		m.ConsumerRunning,
		m.StorageConnected,
	}
}
