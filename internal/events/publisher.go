// Package events publishes harvest lifecycle events to Kafka so downstream
// consumers (the scribe app, analytics) can react to fresh reference data.
// Publish failures are reported to the caller but are expected to be treated
// as non-fatal: a harvest that stored its references has succeeded even when
// the completion event could not be delivered.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/medscribe/reference-harvester/internal/observability"
)

// DefaultTopic is the topic harvest events are published to.
const DefaultTopic = "events.reference_harvester"

// Event types emitted by the harvester.
const (
	EventTypeHarvestCompleted = "harvest.completed"
	EventTypeHarvestFailed    = "harvest.failed"
)

// HarvestEvent is the payload published after a harvest run.
type HarvestEvent struct {
	EventType        string    `json:"event_type"`
	HarvestID        string    `json:"harvest_id"`
	LiteratureQuery  string    `json:"literature_query"`
	TrialsQuery      string    `json:"trials_query"`
	ReferencesStored int       `json:"references_stored"`
	Error            string    `json:"error,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Publisher emits harvest events.
type Publisher interface {
	Publish(ctx context.Context, event HarvestEvent) error
	Close() error
}

// Config holds Kafka publisher configuration.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the topic to publish to.
	Topic string
	// WriteTimeout bounds each publish call.
	WriteTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// KafkaPublisher publishes harvest events to a Kafka topic.
type KafkaPublisher struct {
	writer  *kafka.Writer
	metrics *observability.Metrics
	logger  zerolog.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher writing to the configured brokers.
// metrics may be nil; publish outcomes are then not recorded.
func NewKafkaPublisher(cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *KafkaPublisher {
	cfg.applyDefaults()

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &KafkaPublisher{
		writer:  writer,
		metrics: metrics,
		logger:  logger.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish writes one harvest event, keyed by harvest ID so events for the
// same run land on the same partition.
func (p *KafkaPublisher) Publish(ctx context.Context, event HarvestEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.HarvestID),
		Value: payload,
	})
	if err != nil {
		p.recordOutcome("failure")
		p.logger.Error().
			Err(err).
			Str("event_type", event.EventType).
			Str("harvest_id", event.HarvestID).
			Msg("failed to publish harvest event")
		return fmt.Errorf("publish harvest event: %w", err)
	}

	p.recordOutcome("success")
	p.logger.Debug().
		Str("event_type", event.EventType).
		Str("harvest_id", event.HarvestID).
		Msg("harvest event published")
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) recordOutcome(outcome string) {
	if p.metrics != nil {
		p.metrics.RecordEventPublished(outcome)
	}
}

// NoopPublisher discards events. Used when event publishing is disabled.
type NoopPublisher struct{}

var _ Publisher = (*NoopPublisher)(nil)

// Publish discards the event.
func (NoopPublisher) Publish(context.Context, HarvestEvent) error { return nil }

// Close is a no-op.
func (NoopPublisher) Close() error { return nil }
