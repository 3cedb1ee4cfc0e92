// Package bus defines the portable message-bus contract the workers consume:
// session-ordered delivery with explicit complete/abandon settlement. The
// Kafka-backed implementation approximates per-message locking with
// consumer-group offset commits: completing a delivery commits its offset,
// abandoning one leaves the offset uncommitted so a restart or rebalance
// redelivers it.
package bus

import (
	"context"
	"errors"
)

// ErrMalformed marks a delivery whose payload cannot be decoded into the
// expected shape. It is terminal: the caller should complete (not abandon)
// the delivery, since redelivery will never make a malformed payload valid.
var ErrMalformed = errors.New("bus: malformed message")

// Delivery is one received message. SessionID is the bus's ordering key:
// deliveries with the same SessionID arrive in publish order; a Receiver does
// not itself keep them out of concurrent processing (engine.Pump serializes
// them per SessionID). MessageID is an
// application-level identifier carried for correlation and logging; it has
// no bus-level meaning.
type Delivery struct {
	Topic     string
	Partition int
	Offset    int64
	SessionID string
	MessageID string
	Value     []byte

	ack any // receiver-specific settlement token, opaque to callers
}

// Publisher sends payloads to a single topic, partitioned by SessionID so
// that same-session messages land in the same partition and are observed in
// publish order by any one consumer.
type Publisher interface {
	Publish(ctx context.Context, sessionID, messageID string, payload []byte) error
	Close() error
}

// Receiver pulls deliveries from a single topic/subscription. Complete and
// Abandon settle a previously received Delivery; calling either on a
// Delivery not returned by this Receiver is undefined.
type Receiver interface {
	Receive(ctx context.Context) (Delivery, error)
	Complete(ctx context.Context, d Delivery) error
	Abandon(ctx context.Context, d Delivery) error
	Close() error
}
