package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/storefront/pkg/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Actions carried by the envelope.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

type IDGenerator interface {
	NextID() (uint64, error)
}

// Envelope builds the payload consumers expect, e.g. {"order": {...}, "action": "create"}.
func Envelope(entity string, snapshot any, action string) map[string]any {
	return map[string]any{
		entity:   snapshot,
		"action": action,
	}
}

// Outbox writes events inside the caller's transaction.
type Outbox struct {
	ids   IDGenerator
	topic string
	kick  chan struct{}
}

func NewOutbox(ids IDGenerator, topic string) *Outbox {
	return &Outbox{
		ids:   ids,
		topic: topic,
		kick:  make(chan struct{}, 1),
	}
}

// Enqueue stores payload as an unpublished event. tx must be the transaction of the business write.
func (o *Outbox) Enqueue(tx *gorm.DB, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	id, err := o.ids.NextID()
	if err != nil {
		return fmt.Errorf("event id: %w", err)
	}

	event := models.OutboxEvent{
		ID:      id,
		Topic:   o.topic,
		Key:     key,
		Payload: string(data),
	}
	if err := tx.Create(&event).Error; err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// Kick wakes the relay after a commit. It never blocks.
func (o *Outbox) Kick() {
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

// Relay moves outbox rows to the publisher. Delivery is at-least-once: a row is
// stamped only after the broker accepted it.
type Relay struct {
	db        *gorm.DB
	outbox    *Outbox
	publisher Publisher
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

func NewRelay(db *gorm.DB, outbox *Outbox, publisher Publisher, interval time.Duration, batchSize int, logger *zap.Logger) *Relay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		db:        db,
		outbox:    outbox,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Outbox relay started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
		case <-r.outbox.kick:
		}

		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("Outbox flush failed", zap.Error(err))
		}
	}
}

// Flush publishes one batch of pending events and returns how many were published.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	var pending []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("created_at, id").
		Limit(r.batchSize).
		Find(&pending).Error
	if err != nil {
		return 0, fmt.Errorf("load outbox: %w", err)
	}

	published := 0
	for _, event := range pending {
		msg := Message{Topic: event.Topic, Key: event.Key, Value: []byte(event.Payload)}
		if err := r.publisher.Publish(ctx, msg); err != nil {
			r.markFailed(ctx, event, err)
			// keep ordering per relay: stop at the first failure and retry the rest next pass
			return published, fmt.Errorf("publish event %d: %w", event.ID, err)
		}

		now := time.Now()
		err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
			Where("id = ?", event.ID).
			Updates(map[string]interface{}{
				"published_at": now,
				"attempts":     event.Attempts + 1,
				"last_error":   nil,
			}).Error
		if err != nil {
			return published, fmt.Errorf("mark event %d published: %w", event.ID, err)
		}
		published++
	}

	if published > 0 {
		r.logger.Debug("Outbox events published", zap.Int("count", published))
	}
	return published, nil
}

func (r *Relay) markFailed(ctx context.Context, event models.OutboxEvent, cause error) {
	msg := cause.Error()
	err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", event.ID).
		Updates(map[string]interface{}{
			"attempts":   event.Attempts + 1,
			"last_error": msg,
		}).Error
	if err != nil {
		r.logger.Error("Failed to record outbox failure", zap.Uint64("event_id", event.ID), zap.Error(err))
	}
}
