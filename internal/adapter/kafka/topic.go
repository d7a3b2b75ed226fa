package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/weather-station-pipeline/internal/config"
	"github.com/couchcryptid/weather-station-pipeline/internal/retry"
)

// DeclareTopic creates topic if it does not exist. It is safe to call
// repeatedly: an existing topic is success. A single partition keeps every
// subscription's view in publish order.
func DeclareTopic(ctx context.Context, brokers []string, topic string) error {
	if len(brokers) == 0 {
		return errors.New("declare topic: no brokers configured")
	}

	conn, err := kafkago.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("get controller: %w", err)
	}

	controllerConn, err := kafkago.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil && !errors.Is(err, kafkago.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	return nil
}

// CheckTopic reports whether some broker answers and still carries topic.
func CheckTopic(ctx context.Context, brokers []string, topic string) error {
	if len(brokers) == 0 {
		return errors.New("check topic: no brokers configured")
	}
	var errs []error
	for _, addr := range brokers {
		err := readPartitions(ctx, addr, topic)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func readPartitions(ctx context.Context, addr, topic string) error {
	conn, err := kafkago.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", addr, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}
	partitions, err := conn.ReadPartitions(topic)
	if err != nil {
		return fmt.Errorf("read partitions of %s: %w", topic, err)
	}
	if len(partitions) == 0 {
		return fmt.Errorf("topic %s has no partitions", topic)
	}
	return nil
}

// WaitForExchange declares the configured exchange, retrying every
// BrokerRetryInterval until the broker answers or ctx is done.
func WaitForExchange(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	err := retry.Forever(ctx, cfg.BrokerRetryInterval,
		func(err error, next time.Duration) {
			logger.Warn("broker unavailable, retrying", "error", err, "retry_in", next)
		},
		func() error { return DeclareTopic(ctx, cfg.BrokerAddrs, cfg.BrokerExchange) },
	)
	if err != nil {
		return fmt.Errorf("wait for exchange %s: %w", cfg.BrokerExchange, err)
	}
	logger.Info("exchange ready", "exchange", cfg.BrokerExchange, "brokers", cfg.BrokerAddrs)
	return nil
}
