package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/weather-station-pipeline/internal/config"
	"github.com/couchcryptid/weather-station-pipeline/internal/domain"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Subscription is a named queue bound to the exchange by routing key. The
// queue name is the consumer group, so each queue receives every message
// published to the exchange and remembers its own position across restarts.
type Subscription struct {
	reader     messageReader
	queue      string
	routingKey string
	logger     *slog.Logger
}

// NewSubscription joins queue on the configured exchange. Commits are
// synchronous and the reader buffers one message at a time, so nothing past
// the message being handled is marked as delivered.
func NewSubscription(cfg *config.Config, queue string, logger *slog.Logger) *Subscription {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.BrokerAddrs,
		GroupID:        queue,
		Topic:          cfg.BrokerExchange,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		QueueCapacity:  1,
		CommitInterval: 0,
		StartOffset:    kafkago.FirstOffset,
	})
	return newSubscription(r, queue, cfg.BrokerRoutingKey, logger)
}

func newSubscription(r messageReader, queue, routingKey string, logger *slog.Logger) *Subscription {
	return &Subscription{
		reader:     r,
		queue:      queue,
		routingKey: routingKey,
		logger:     logger.With("queue", queue),
	}
}

// Fetch blocks until the next message carrying the bound routing key.
// Messages with other keys are not routed to this queue and are committed
// past without being returned.
func (s *Subscription) Fetch(ctx context.Context) (domain.Delivery, error) {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			return domain.Delivery{}, fmt.Errorf("fetch message: %w", err)
		}
		if string(msg.Key) == s.routingKey {
			return s.delivery(msg), nil
		}
		s.logger.Debug("skipping unrouted message", "routing_key", string(msg.Key), "offset", msg.Offset)
		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			return domain.Delivery{}, fmt.Errorf("commit unrouted message: %w", err)
		}
	}
}

func (s *Subscription) delivery(msg kafkago.Message) domain.Delivery {
	d := mapMessageToDelivery(msg)
	d.Commit = func(ctx context.Context) error {
		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
		return nil
	}
	return d
}

func (s *Subscription) Close() error {
	return s.reader.Close()
}

func mapMessageToDelivery(msg kafkago.Message) domain.Delivery {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.Delivery{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
