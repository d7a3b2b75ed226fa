package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/weather-station-pipeline/internal/config"
	"github.com/couchcryptid/weather-station-pipeline/internal/domain"
	"github.com/couchcryptid/weather-station-pipeline/internal/observability"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type declareFunc func(ctx context.Context) error

// Publisher sends readings to the exchange topic with the routing key.
// Each Publish is a single attempt; retrying is up to the caller.
type Publisher struct {
	writer     messageWriter
	declare    declareFunc
	check      declareFunc
	routingKey string
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu       sync.Mutex
	declared bool
	lastErr  error
}

// NewPublisher creates a producer for the configured exchange. Writes wait
// for all in-sync replicas so the broker keeps the message across restarts.
func NewPublisher(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	w := newWriter(cfg.BrokerAddrs, cfg.BrokerExchange)
	w.Balancer = &kafkago.Hash{}
	w.MaxAttempts = 1
	brokers, topic := cfg.BrokerAddrs, cfg.BrokerExchange
	return &Publisher{
		writer:     w,
		declare:    func(ctx context.Context) error { return DeclareTopic(ctx, brokers, topic) },
		check:      func(ctx context.Context) error { return CheckTopic(ctx, brokers, topic) },
		routingKey: cfg.BrokerRoutingKey,
		logger:     logger,
		metrics:    metrics,
	}
}

// newWriter returns a writer that flushes every message on its own. Callers
// write one message at a time, so waiting for a fuller batch only adds the
// batch timeout to each write.
func newWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafkago.RequireAll,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Declare makes sure the exchange topic exists. After the first success it
// is a no-op.
func (p *Publisher) Declare(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.declared {
		return nil
	}
	if err := p.declare(ctx); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	p.declared = true
	return nil
}

// CheckReadiness reports ready once the exchange is declared, a broker still
// serves it, and the most recent publish, if any, succeeded.
func (p *Publisher) CheckReadiness(ctx context.Context) error {
	if err := p.Declare(ctx); err != nil {
		return err
	}
	if err := p.check(ctx); err != nil {
		return fmt.Errorf("exchange unreachable: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastErr != nil {
		return fmt.Errorf("last publish failed: %w", p.lastErr)
	}
	return nil
}

// Publish serializes r once and writes it to the broker.
func (p *Publisher) Publish(ctx context.Context, r domain.Reading) error {
	start := time.Now()
	err := p.publish(ctx, r)
	p.metrics.PublishLatency.Observe(time.Since(start).Seconds())
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	if err != nil {
		p.metrics.Errors.Inc()
		return err
	}
	p.metrics.MessagesSent.Inc()
	return nil
}

func (p *Publisher) publish(ctx context.Context, r domain.Reading) error {
	if err := p.Declare(ctx); err != nil {
		return err
	}
	msg, err := p.newMessage(r)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish reading: %w", err)
	}
	p.logger.Info("reading published",
		"message_id", headerValue(msg, domain.HeaderMessageID),
		"station_id", r.StationID,
		"body", string(msg.Value),
	)
	return nil
}

func (p *Publisher) newMessage(r domain.Reading) (kafkago.Message, error) {
	body, err := domain.Encode(r)
	if err != nil {
		return kafkago.Message{}, err
	}
	return kafkago.Message{
		Key:   []byte(p.routingKey),
		Value: body,
		Headers: []kafkago.Header{
			{Key: domain.HeaderMessageID, Value: []byte(uuid.NewString())},
			{Key: domain.HeaderRoutingKey, Value: []byte(p.routingKey)},
		},
	}, nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func headerValue(msg kafkago.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
