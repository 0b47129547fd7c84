// Package ingest consumes upstream payment events from Kafka and queues a
// webhook for each one.
//
// Messages are committed only after they are queued or found unusable, so a
// crash re-reads at most the messages that were in flight.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/xraph/payhook/delivery"
	"github.com/xraph/payhook/errs"
	"github.com/xraph/payhook/event"
	"github.com/xraph/payhook/observability"
)

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Enqueuer queues a payload for a merchant's active endpoint. Implemented
// by *payhook.Payhook.
type Enqueuer interface {
	Enqueue(ctx context.Context, merchantID string, p *event.Payload) (*delivery.JobHandle, error)
}

// Message is the upstream payment event.
type Message struct {
	MerchantID string         `json:"merchantId"`
	Payload    *event.Payload `json:"payload"`
}

// Config configures a Consumer.
type Config struct {
	// Attempts bounds how often a message is offered to the queue when the
	// failure looks transient.
	Attempts int

	// RetryDelay is the pause between those attempts.
	RetryDelay time.Duration

	Metrics *observability.Metrics
}

// Consumer reads payment events and queues webhooks.
type Consumer struct {
	reader   Reader
	enqueuer Enqueuer
	config   Config
	logger   *slog.Logger
}

// NewReader returns a consumer-group reader for topic.
func NewReader(brokers, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: strings.Split(brokers, ","),
		GroupID: groupID,
		Topic:   topic,
	})
}

// NewConsumer creates a consumer.
func NewConsumer(r Reader, e Enqueuer, cfg Config, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Consumer{reader: r, enqueuer: e, config: cfg, logger: logger}
}

// Run consumes until ctx ends. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.config.Metrics.RecordIngest(observability.IngestReadError)
			c.logger.ErrorContext(ctx, "ingest read failed", "error", err)
			if !sleep(ctx, c.config.RetryDelay) {
				return nil
			}
			continue
		}

		result := c.Handle(ctx, msg.Value)
		if result == observability.IngestFailed && ctx.Err() != nil {
			return nil
		}
		c.config.Metrics.RecordIngest(result)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.ErrorContext(ctx, "ingest commit failed",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// Handle decodes and queues one message value, returning the ingest result.
// Malformed and rejected messages are logged and skipped.
func (c *Consumer) Handle(ctx context.Context, value []byte) string {
	var m Message
	if err := json.Unmarshal(value, &m); err != nil {
		c.logger.WarnContext(ctx, "ingest message malformed", "error", err)
		return observability.IngestMalformed
	}
	if m.Payload == nil {
		c.logger.WarnContext(ctx, "ingest message has no payload")
		return observability.IngestMalformed
	}
	merchantID := m.MerchantID
	if merchantID == "" {
		merchantID = m.Payload.MerchantID
	}

	var err error
	for attempt := 1; attempt <= c.config.Attempts; attempt++ {
		var h *delivery.JobHandle
		h, err = c.enqueuer.Enqueue(ctx, merchantID, m.Payload)
		if err == nil {
			c.logger.DebugContext(ctx, "ingest message queued", "job_id", h.ID)
			return observability.IngestQueued
		}
		if permanent(err) {
			c.logger.WarnContext(ctx, "ingest message rejected",
				"merchant_id", merchantID,
				"transaction_id", m.Payload.TransactionID,
				"error", err,
			)
			return observability.IngestRejected
		}
		if attempt < c.config.Attempts && !sleep(ctx, c.config.RetryDelay) {
			break
		}
	}

	c.logger.ErrorContext(ctx, "ingest message dropped",
		"merchant_id", merchantID,
		"transaction_id", m.Payload.TransactionID,
		"error", fmt.Errorf("after %d attempts: %w", c.config.Attempts, err),
	)
	return observability.IngestFailed
}

// permanent reports whether retrying err cannot help. A duplicate job id
// means another submission of the transaction was queued in the same
// millisecond; the retry gets a later enqueue time and so its own job.
func permanent(err error) bool {
	return errs.IsValidation(err) || errs.IsNotFound(err)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
