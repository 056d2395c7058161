package models

import (
	"encoding/json"
	"time"
)

type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "PENDING"
	OutboxStatusSent    OutboxStatus = "SENT"
)

// OutboxMessage is written in the same database transaction as the status
// change it announces, and published to Kafka by the outbox processor.
type OutboxMessage struct {
	ID            string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	TransactionID string          `gorm:"type:varchar(36);index" json:"transaction_id"`
	EventType     string          `gorm:"type:varchar(100)" json:"event_type"`
	Payload       json.RawMessage `gorm:"type:jsonb" json:"payload"`
	Status        OutboxStatus    `gorm:"type:varchar(20);index" json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	SentAt        *time.Time      `json:"sent_at"`
}
