package kafka

import (
	"context"
	"fmt"
	"strconv"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/weather-station-pipeline/internal/config"
	"github.com/couchcryptid/weather-station-pipeline/internal/domain"
)

// Dead-letter headers describing the failure and where the original message
// came from.
const (
	HeaderError           = "error"
	HeaderSourceTopic     = "source_topic"
	HeaderSourcePartition = "source_partition"
	HeaderSourceOffset    = "source_offset"
)

// DeadLetterWriter copies messages that could not be stored to a side topic.
type DeadLetterWriter struct {
	writer messageWriter
}

func NewDeadLetterWriter(cfg *config.Config) *DeadLetterWriter {
	w := newWriter(cfg.BrokerAddrs, cfg.BrokerDeadLetter)
	w.AllowAutoTopicCreation = true
	return &DeadLetterWriter{writer: w}
}

// DeadLetter publishes the original body and headers with the failure cause
// attached.
func (w *DeadLetterWriter) DeadLetter(ctx context.Context, d domain.Delivery, cause error) error {
	if err := w.writer.WriteMessages(ctx, deadLetterMessage(d, cause)); err != nil {
		return fmt.Errorf("write dead letter: %w", err)
	}
	return nil
}

func (w *DeadLetterWriter) Close() error {
	return w.writer.Close()
}

func deadLetterMessage(d domain.Delivery, cause error) kafkago.Message {
	headers := make([]kafkago.Header, 0, len(d.Headers)+4)
	for k, v := range d.Headers {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers,
		kafkago.Header{Key: HeaderError, Value: []byte(cause.Error())},
		kafkago.Header{Key: HeaderSourceTopic, Value: []byte(d.Topic)},
		kafkago.Header{Key: HeaderSourcePartition, Value: []byte(strconv.Itoa(d.Partition))},
		kafkago.Header{Key: HeaderSourceOffset, Value: []byte(strconv.FormatInt(d.Offset, 10))},
	)
	return kafkago.Message{
		Key:     d.Key,
		Value:   d.Value,
		Headers: headers,
	}
}
