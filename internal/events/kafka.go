package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = errors.New("event publisher is closed")

// KafkaConfig configures the Kafka event publisher.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" env:"BLAZEALERT_EVENTS_KAFKA_BROKERS" env-separator:","`
	Topic        string        `yaml:"topic" env:"BLAZEALERT_EVENTS_KAFKA_TOPIC" env-default:"blazealert.alerts"`
	BatchTimeout time.Duration `yaml:"batch_timeout" env:"BLAZEALERT_EVENTS_KAFKA_BATCH_TIMEOUT" env-default:"100ms"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"BLAZEALERT_EVENTS_KAFKA_WRITE_TIMEOUT" env-default:"10s"`
}

// Enabled reports whether brokers are configured.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON keyed by rule id, so one rule's
// events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	logger zerolog.Logger
	closed atomic.Bool

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewKafkaPublisher creates an async Kafka publisher.
func NewKafkaPublisher(cfg KafkaConfig, logger zerolog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}

	p := &KafkaPublisher{logger: logger}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion:   p.complete,
	}
	return p, nil
}

func newKafkaPublisherWithWriter(w messageWriter, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger}
}

// Publish enqueues event for delivery to Kafka.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.RuleID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
		Time: event.At,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// complete is called by the async writer once a batch is acknowledged.
func (p *KafkaPublisher) complete(messages []kafka.Message, err error) {
	if err != nil {
		p.failed.Add(uint64(len(messages)))
		keys := make([]string, 0, len(messages))
		for _, m := range messages {
			keys = append(keys, string(m.Key))
		}
		p.logger.Error().Err(err).Int("count", len(messages)).
			Str("rules", strings.Join(keys, ",")).Msg("kafka event batch failed")
		return
	}
	p.published.Add(uint64(len(messages)))
}

// Stats returns the number of events acknowledged and failed.
func (p *KafkaPublisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}

// Close flushes pending events and closes the writer.
func (p *KafkaPublisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}
