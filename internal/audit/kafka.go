package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka writer behind KafkaSink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
}

// KafkaSink publishes events as JSON, keyed by user id so one user's events
// stay ordered within a partition.
type KafkaSink struct {
	writer MessageWriter
	topic  string
	source string
	logger *slog.Logger
}

// NewKafkaWriter returns a writer configured the way the sink expects.
func NewKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
}

// NewKafkaSink wraps w. The topic is informational when the writer already
// carries one.
func NewKafkaSink(w MessageWriter, topic, source string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{writer: w, topic: topic, source: source, logger: logger}
}

func (s *KafkaSink) Emit(ctx context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal audit event", slog.String("error", err.Error()))
		return
	}

	msg := kafka.Message{
		Key:   []byte(event.UserID),
		Value: data,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "source", Value: []byte(s.source)},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish audit event",
			slog.String("topic", s.topic),
			slog.String("event_type", event.EventType),
			slog.String("error", err.Error()),
		)
	}
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
