package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/config"
)

// Event is one message to publish. Key picks the partition, so events that
// must stay ordered share a key. Value is sent as JSON.
type Event struct {
	Key   string
	Value any
}

const contentTypeHeader = "content-type"

// messageWriter is the part of *kafka.Writer the producer drives.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes JSON events to a single topic.
type Producer struct {
	topic  string
	writer messageWriter
	logger *slog.Logger
}

// NewProducer returns a synchronous producer that waits for all in-sync
// replicas, hashing keys onto partitions.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return newProducer(topic, &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            3,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	})
}

func newProducer(topic string, w messageWriter) *Producer {
	return &Producer{
		topic:  topic,
		writer: w,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Publish writes events in one call. Nothing is written if any value fails
// to encode.
func (p *Producer) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, len(events))
	size := 0
	for i, ev := range events {
		msg, err := encode(ev)
		if err != nil {
			return err
		}
		msgs[i] = msg
		size += len(msg.Value)
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.ErrorContext(ctx, "publish failed", "count", len(msgs), "error", err)
		return fmt.Errorf("publishing %d events to %s: %w", len(msgs), p.topic, err)
	}
	p.logger.DebugContext(ctx, "events published", "count", len(msgs), "bytes", size)
	return nil
}

func encode(ev Event) (kafka.Message, error) {
	value, err := json.Marshal(ev.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding event %q: %w", ev.Key, err)
	}
	return kafka.Message{
		Key:     []byte(ev.Key),
		Value:   value,
		Headers: []kafka.Header{{Key: contentTypeHeader, Value: []byte("application/json")}},
	}, nil
}

// Close flushes pending writes.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Ping dials the first reachable broker, for readiness checks.
func Ping(ctx context.Context, brokers []string) error {
	var lastErr error
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	if lastErr == nil {
		return fmt.Errorf("no kafka brokers configured")
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}
