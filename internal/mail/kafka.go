package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig points the outbox writer at a topic.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes messages to an outbox topic consumed by a mail
// worker. A send succeeds once every in-sync replica has the record.
type KafkaSender struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

func NewKafkaSender(cfg KafkaConfig, logger *slog.Logger) *KafkaSender {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaSender{writer: w, topic: cfg.Topic, logger: logger}
}

func (s *KafkaSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal mail: %w", err)
	}

	record := kafka.Message{
		Key:   []byte(msg.To),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(msg.Kind)},
		},
	}
	if err := s.writer.WriteMessages(ctx, record); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish mail",
			slog.String("topic", s.topic),
			slog.String("kind", msg.Kind),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("publish mail to %s: %w", s.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
