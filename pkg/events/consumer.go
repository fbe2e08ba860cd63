package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"dev/bravebird/form-submitter/pkg/models"
)

//go:generate mockgen -source=consumer.go -destination=mock_reader_test.go -package=events

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Sink receives decoded events
type Sink interface {
	Emit(ctx context.Context, ev models.AttemptEvent) error
}

// Consumer replays attempt events published by workers into a local sink, such as
// the API's websocket hub
type Consumer struct {
	reader messageReader
	sink   Sink
	logger *zap.Logger
}

// NewConsumer joins groupID on topic
func NewConsumer(brokers []string, topic, groupID string, sink Sink, logger *zap.Logger) *Consumer {
	return NewConsumerWithReader(kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	}), sink, logger)
}

// NewConsumerWithReader builds a consumer using a custom reader (tests).
func NewConsumerWithReader(reader messageReader, sink Sink, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{reader: reader, sink: sink, logger: logger.Named("consumer")}
}

// Run reads until ctx is cancelled. Undecodable messages are logged and skipped.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to read event: %w", err)
		}

		var ev models.AttemptEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.logger.Warn("Skipping malformed event",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			continue
		}
		if err := c.sink.Emit(ctx, ev); err != nil {
			c.logger.Warn("Failed to forward event", zap.String("url", ev.URL), zap.Error(err))
		}
	}
}

// Close leaves the consumer group
func (c *Consumer) Close() error {
	return c.reader.Close()
}
