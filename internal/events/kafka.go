package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer for topic that waits for all in-sync
// replicas.
func NewKafkaWriter(brokers []string, topic string, logger *logging.Logger) *kafka.Writer {
	if logger == nil {
		logger = logging.Default()
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 50 * time.Millisecond,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error("kafka writer error", "detail", fmt.Sprintf(msg, args...))
		}),
	}
}

// KafkaPublisher delivers outbox entries as Envelope JSON keyed by
// aggregate, so events for one appointment stay ordered on a partition.
type KafkaPublisher struct {
	writer messageWriter
	logger *logging.Logger
}

func NewKafkaPublisher(writer *kafka.Writer, logger *logging.Logger) *KafkaPublisher {
	if writer == nil {
		panic("events: kafka writer required")
	}
	return newKafkaPublisher(writer, logger)
}

func newKafkaPublisher(writer messageWriter, logger *logging.Logger) *KafkaPublisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &KafkaPublisher{writer: writer, logger: logger}
}

func (p *KafkaPublisher) Handle(ctx context.Context, entry OutboxEntry) error {
	value, err := json.Marshal(EnvelopeFor(entry))
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(entry.Aggregate),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(entry.Type)},
			{Key: "event_id", Value: []byte(entry.ID.String())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", entry.Type, err)
	}
	p.logger.Debug("event published", "event_id", entry.ID, "type", entry.Type, "aggregate", entry.Aggregate)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
