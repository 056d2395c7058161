package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"coaching_payments_echo/internal/models"
)

const EventPaymentStatusChanged = "payment.status_changed"

// PaymentStatusEvent is published once per status change of a transaction.
type PaymentStatusEvent struct {
	TransactionID    string    `json:"transaction_id"`
	GatewayReference string    `json:"gateway_reference,omitempty"`
	UserID           string    `json:"user_id"`
	ProductKind      string    `json:"product_kind"`
	Amount           string    `json:"amount"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// NewStatusMessage builds the outbox row announcing txn's current status.
func NewStatusMessage(txn *models.PaymentTransaction) (*models.OutboxMessage, error) {
	payload, err := json.Marshal(PaymentStatusEvent{
		TransactionID:    txn.ID,
		GatewayReference: txn.Reference(),
		UserID:           txn.UserID,
		ProductKind:      string(txn.ProductKind),
		Amount:           txn.Amount.StringFixed(2),
		Currency:         txn.Currency,
		Status:           string(txn.Status),
		FailureReason:    txn.FailureReason,
		Timestamp:        txn.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status event: %w", err)
	}

	return &models.OutboxMessage{
		ID:            uuid.NewString(),
		TransactionID: txn.ID,
		EventType:     EventPaymentStatusChanged,
		Payload:       payload,
		Status:        models.OutboxStatusPending,
	}, nil
}

// Enqueue writes the status message for txn through tx, so it commits or
// rolls back together with the status change.
func Enqueue(tx *gorm.DB, txn *models.PaymentTransaction) error {
	msg, err := NewStatusMessage(txn)
	if err != nil {
		return err
	}
	if err := tx.Create(msg).Error; err != nil {
		return fmt.Errorf("failed to write outbox message: %w", err)
	}
	return nil
}
