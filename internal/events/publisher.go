// Package events publishes job lifecycle events to Kafka. Publishing is
// best-effort: a failed write is logged and dropped, it never fails the
// operation that produced the event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Event types emitted over the job lifecycle.
const (
	EventJobStarted   = "job.started"
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
	EventJobPaused    = "job.paused"
)

// JobEvent is the wire format of a job lifecycle event.
type JobEvent struct {
	// EventID uniquely identifies this event instance.
	EventID string `json:"event_id"`

	// EventType is one of the EventJob* constants.
	EventType string `json:"event_type"`

	// JobID is the batch job the event concerns.
	JobID uuid.UUID `json:"job_id"`

	// OccurredAt is the event timestamp.
	OccurredAt time.Time `json:"occurred_at"`

	// TotalItems is the job size at the time of the event.
	TotalItems int `json:"total_items"`

	// ProcessedCount is the number of items finished so far.
	ProcessedCount int `json:"processed_count"`

	// ErrorCount is the number of items that ended in error.
	ErrorCount int `json:"error_count"`

	// NeedsReviewCount is the number of items flagged for review.
	NeedsReviewCount int `json:"needs_review_count"`

	// ErrorMessage carries the failure reason on job.failed events.
	ErrorMessage string `json:"error_message,omitempty"`
}

// Publisher emits job lifecycle events.
type Publisher interface {
	// Publish sends one event. Implementations must not block longer than
	// the context allows.
	Publish(ctx context.Context, event JobEvent) error

	// Close releases the publisher's resources.
	Close() error
}

// Config holds Kafka publisher settings.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string

	// Topic is the topic job lifecycle events are written to.
	Topic string

	// BatchSize is the maximum number of messages batched before a send.
	BatchSize int

	// BatchTimeout is the maximum wait for a batch to fill.
	BatchTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Topic == "" {
		c.Topic = "events.boq_matching.jobs"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
}

// KafkaPublisher writes job lifecycle events to a Kafka topic, keyed by job
// ID so events of one job stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a KafkaPublisher for the given brokers and topic.
func NewKafkaPublisher(cfg Config, logger zerolog.Logger) (*KafkaPublisher, error) {
	cfg.applyDefaults()
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaPublisher{
		writer: writer,
		logger: logger.With().Str("component", "events").Str("topic", cfg.Topic).Logger(),
	}, nil
}

// Publish writes the event to Kafka. The event ID and timestamp are filled
// in when empty.
func (p *KafkaPublisher) Publish(ctx context.Context, event JobEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.EventType, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.JobID.String()),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("write event %s: %w", event.EventType, err)
	}

	p.logger.Debug().
		Str("event_type", event.EventType).
		Str("job_id", event.JobID.String()).
		Msg("event published")
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher discards all events. Used when Kafka publishing is disabled.
type NoopPublisher struct{}

var _ Publisher = (*NoopPublisher)(nil)

// Publish discards the event.
func (NoopPublisher) Publish(context.Context, JobEvent) error { return nil }

// Close is a no-op.
func (NoopPublisher) Close() error { return nil }
