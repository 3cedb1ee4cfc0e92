package bus

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/segmentio/kafka-go"
)

const headerMessageID = "message-id"

// KafkaPublisher implements Publisher against a single Kafka topic, keying
// every message by sessionID so the partitioner (kafka.Hash) routes all
// messages of a session to the same partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaPublisher dials no broker eagerly; kafka.Writer connects lazily on
// first WriteMessages call.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
		topic: topic,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, sessionID, messageID string, payload []byte) error {
	msg := kafka.Message{
		Key:   []byte(sessionID),
		Value: payload,
	}
	if messageID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: headerMessageID, Value: []byte(messageID)})
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("bus: publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaReceiver implements Receiver against a single Kafka topic and
// consumer group. It does not prefetch beyond the reader's own internal
// buffering; session-affinity ordering beyond per-partition FIFO is the
// caller's responsibility (see internal/engine's sessionGate).
type KafkaReceiver struct {
	reader *kafka.Reader
}

func NewKafkaReceiver(brokers []string, groupID, topic string) *KafkaReceiver {
	return &KafkaReceiver{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
	}
}

func (r *KafkaReceiver) Receive(ctx context.Context) (Delivery, error) {
	m, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return Delivery{}, err
	}
	d := Delivery{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		SessionID: string(m.Key),
		Value:     m.Value,
		ack:       m,
	}
	for _, h := range m.Headers {
		if h.Key == headerMessageID {
			d.MessageID = string(h.Value)
		}
	}
	return d, nil
}

// Complete commits the delivery's offset, marking it processed.
func (r *KafkaReceiver) Complete(ctx context.Context, d Delivery) error {
	m, ok := d.ack.(kafka.Message)
	if !ok {
		return fmt.Errorf("bus: delivery not owned by this receiver")
	}
	return r.reader.CommitMessages(ctx, m)
}

// Abandon leaves the delivery's offset uncommitted. Kafka has no per-message
// lock to release early; the next FetchMessage after a consumer restart or
// group rebalance will redeliver it.
func (r *KafkaReceiver) Abandon(ctx context.Context, d Delivery) error {
	return nil
}

func (r *KafkaReceiver) Close() error {
	return r.reader.Close()
}

// CheckBrokers dials each broker in turn until one succeeds or timeout elapses.
func CheckBrokers(ctx context.Context, brokers []string, timeout time.Duration) error {
	if len(brokers) == 0 {
		return fmt.Errorf("bus: no brokers configured")
	}
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		for _, b := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", b)
			if err == nil {
				_ = conn.Close()
				return nil
			}
			lastErr = err
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("bus: no broker reachable within %s: %w", timeout, lastErr)
}

// EnsureTopics creates any of the given topics that do not already exist,
// using single-partition-per-broker defaults suitable for development; a
// production cluster is expected to pre-provision topics with its own
// partition/replication policy.
func EnsureTopics(ctx context.Context, brokers []string, topics []string, partitions, replicationFactor int) error {
	if len(brokers) == 0 {
		return fmt.Errorf("bus: no brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("bus: dial %s: %w", brokers[0], err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("bus: controller lookup: %w", err)
	}
	addr := net.JoinHostPort(controller.Host, fmt.Sprint(controller.Port))
	ctrlConn, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("bus: dial controller %s: %w", addr, err)
	}
	defer ctrlConn.Close()

	for _, topic := range topics {
		parts, _ := ctrlConn.ReadPartitions(topic)
		if len(parts) > 0 {
			continue
		}
		cfg := kafka.TopicConfig{Topic: topic, NumPartitions: partitions, ReplicationFactor: replicationFactor}
		if err := ctrlConn.CreateTopics(cfg); err != nil {
			return fmt.Errorf("bus: create topic %s: %w", topic, err)
		}
	}
	return nil
}
