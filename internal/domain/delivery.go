package domain

import (
	"context"
	"time"
)

// Delivery is one message handed to a consumer by the broker. Commit
// acknowledges it; until then the broker may redeliver it.
type Delivery struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// MessageID returns the producer-assigned id header, if any.
func (d Delivery) MessageID() string {
	return d.Headers[HeaderMessageID]
}

// Message header names set by the publisher.
const (
	HeaderMessageID  = "message_id"
	HeaderRoutingKey = "routing_key"
)
