package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, msg Message) error

type Consumer struct {
	reader     *kafka.Reader
	handler    Handler
	logger     *zap.Logger
	maxRetries int
	backoff    time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, handler Handler, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		handler:    handler,
		logger:     logger,
		maxRetries: 5,
		backoff:    time.Second,
	}
}

// Run fetches, handles and commits messages until ctx is cancelled. A message is
// committed after the handler succeeds or after maxRetries failed attempts.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		msg := Message{Topic: m.Topic, Key: string(m.Key), Value: m.Value}
		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Dropping message after retries",
				zap.String("topic", m.Topic),
				zap.Int64("offset", m.Offset),
				zap.String("key", msg.Key),
				zap.Error(err))
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg Message) error {
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err = c.handler(ctx, msg); err == nil {
			return nil
		}
		c.logger.Warn("Message handler failed",
			zap.String("key", msg.Key),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}
	return err
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
