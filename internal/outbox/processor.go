// Package outbox publishes payment status events. Events are written to the
// outbox table in the same database transaction as the status change, and a
// Processor later relays them to Kafka, so an event exists if and only if the
// change committed.
package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"coaching_payments_echo/internal/models"
)

const batchSize = 10

type Producer interface {
	Produce(ctx context.Context, key, topic string, value []byte) error
}

type Processor struct {
	db            *gorm.DB
	kafkaProducer Producer
	topic         string
	pollInterval  time.Duration
	pollTimeout   time.Duration
	logger        *zap.Logger
}

func NewProcessor(
	db *gorm.DB,
	kafkaProducer Producer,
	topic string,
	pollInterval time.Duration,
	pollTimeout time.Duration,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		db:            db,
		kafkaProducer: kafkaProducer,
		topic:         topic,
		pollInterval:  pollInterval,
		pollTimeout:   pollTimeout,
		logger:        logger.With(zap.String("component", "outbox")),
	}
}

// Run polls until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("Starting outbox processor...")
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error("Outbox batch failed", zap.Error(err))
			}
		case <-ctx.Done():
			p.logger.Info("Outbox processor stopped")
			return
		}
	}
}

// ProcessBatch publishes up to one batch of pending messages in creation
// order and returns how many were marked sent. A message that fails to
// publish stays pending and is retried on the next poll, so consumers must
// tolerate duplicates.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	queryCtx, cancel := context.WithTimeout(ctx, p.pollTimeout)
	defer cancel()

	var messages []models.OutboxMessage
	err := p.db.WithContext(queryCtx).
		Where("status = ?", models.OutboxStatusPending).
		Order("created_at ASC").
		Limit(batchSize).
		Find(&messages).Error
	if err != nil {
		return 0, fmt.Errorf("failed to get pending outbox messages: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	sent := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}

		if err := p.kafkaProducer.Produce(ctx, msg.TransactionID, p.topic, msg.Payload); err != nil {
			p.logger.Error("Failed to send message to Kafka",
				zap.String("message_id", msg.ID),
				zap.String("topic", p.topic),
				zap.Error(err))
			// keep per-transaction order: later events for the same key wait
			break
		}

		now := time.Now()
		err := p.db.WithContext(ctx).Model(&models.OutboxMessage{}).
			Where("id = ?", msg.ID).
			Updates(map[string]interface{}{"status": models.OutboxStatusSent, "sent_at": now}).Error
		if err != nil {
			p.logger.Error("Failed to update outbox message status to SENT", zap.String("message_id", msg.ID), zap.Error(err))
			break
		}
		sent++
	}

	p.logger.Debug("Outbox batch processed", zap.Int("found", len(messages)), zap.Int("sent", sent))
	return sent, nil
}
