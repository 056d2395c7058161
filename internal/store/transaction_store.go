// Package store persists payment transactions. All mutation goes through
// TransactionStore, which checks every status change against the state
// machine and applies it as a compare-and-set.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"coaching_payments_echo/internal/apperrors"
	"coaching_payments_echo/internal/models"
)

const resourceTransaction = "payment_transaction"

// Effect is applied inside the same database transaction as a status change.
// Returning an error rolls back the status change as well.
type Effect func(tx *gorm.DB, txn *models.PaymentTransaction) error

type TransactionStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewTransactionStore(db *gorm.DB) *TransactionStore {
	return &TransactionStore{db: db, now: time.Now}
}

// Create inserts txn in status created and returns its new id. A second
// active transaction for the same user, product and idempotency key is
// rejected with a ConflictError naming the one already in flight.
func (s *TransactionStore) Create(ctx context.Context, txn *models.PaymentTransaction) (string, error) {
	txn.ID = uuid.NewString()
	txn.Status = models.TransactionStatusCreated
	txn.GatewayReference = nil

	err := s.db.WithContext(ctx).Create(txn).Error
	if err == nil {
		return txn.ID, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return "", fmt.Errorf("failed to create transaction: %w", err)
	}

	conflict := &apperrors.ConflictError{
		Resource: resourceTransaction,
		Message:  "a purchase for this product is already in progress",
	}
	if existing, findErr := s.FindActiveByIntent(ctx, txn.UserID, txn.ProductKind, txn.IdempotencyKey); findErr == nil {
		conflict.TransactionID = existing.ID
	}
	return "", conflict
}

// AttachGatewayReference sets the reference of transaction id. Attaching the
// same reference twice is a no-op; any other overwrite is a conflict.
func (s *TransactionStore) AttachGatewayReference(ctx context.Context, id, ref string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return attachReference(tx, id, ref)
	})
}

func attachReference(tx *gorm.DB, id, ref string) error {
	if ref == "" {
		return fmt.Errorf("transaction %s: empty gateway reference", id)
	}

	res := tx.Model(&models.PaymentTransaction{}).
		Where("id = ? AND gateway_reference IS NULL", id).
		Update("gateway_reference", ref)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			conflict := &apperrors.ConflictError{
				Resource: "gateway_reference",
				Message:  fmt.Sprintf("gateway reference %s is already attached to another transaction", ref),
			}
			var holder models.PaymentTransaction
			if err := tx.Select("id").Where("gateway_reference = ?", ref).First(&holder).Error; err == nil {
				conflict.TransactionID = holder.ID
			}
			return conflict
		}
		return fmt.Errorf("failed to attach gateway reference: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var current models.PaymentTransaction
	if err := tx.Where("id = ?", id).First(&current).Error; err != nil {
		return notFoundOr(err, id)
	}
	if current.Reference() == ref {
		return nil
	}
	return &apperrors.ConflictError{
		Resource:      "gateway_reference",
		TransactionID: id,
		Message:       "transaction already has a different gateway reference",
	}
}

func (s *TransactionStore) FindByID(ctx context.Context, id string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		return nil, notFoundOr(err, id)
	}
	return &txn, nil
}

func (s *TransactionStore) FindByGatewayReference(ctx context.Context, ref string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	if err := s.db.WithContext(ctx).Where("gateway_reference = ?", ref).First(&txn).Error; err != nil {
		return nil, notFoundOr(err, ref)
	}
	return &txn, nil
}

// FindActiveByIntent returns the created or pending transaction for a
// purchase intent.
func (s *TransactionStore) FindActiveByIntent(ctx context.Context, userID string, kind models.ProductKind, idempotencyKey string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND product_kind = ? AND idempotency_key = ?", userID, kind, idempotencyKey).
		Where("status IN ?", []models.TransactionStatus{models.TransactionStatusCreated, models.TransactionStatusPending}).
		First(&txn).Error
	if err != nil {
		return nil, notFoundOr(err, idempotencyKey)
	}
	return &txn, nil
}

// UpdateStatus moves transaction id to status `to` and runs effects in the
// same database transaction. The write only lands if the status read at the
// start is still current, so of two concurrent callers exactly one wins and
// the other gets an InvalidTransitionError.
func (s *TransactionStore) UpdateStatus(ctx context.Context, id string, to models.TransactionStatus, effects ...Effect) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&txn).Error; err != nil {
			return notFoundOr(err, id)
		}

		from := txn.Status
		if !from.CanTransitionTo(to) {
			return &apperrors.InvalidTransitionError{TransactionID: id, From: string(from), To: string(to)}
		}

		now := s.now()
		res := tx.Model(&models.PaymentTransaction{}).
			Where("id = ? AND status = ?", id, from).
			Updates(map[string]interface{}{"status": to, "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("failed to update transaction status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// lost the race; report what the winner left behind
			var current models.PaymentTransaction
			if err := tx.Select("status").Where("id = ?", id).First(&current).Error; err == nil {
				from = current.Status
			}
			return &apperrors.InvalidTransitionError{TransactionID: id, From: string(from), To: string(to)}
		}

		txn.Status = to
		txn.UpdatedAt = now
		for _, effect := range effects {
			if err := effect(tx, &txn); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// WithGatewayReference attaches ref as part of a status change, so a
// transaction never becomes pending without its reference.
func WithGatewayReference(ref string) Effect {
	return func(tx *gorm.DB, txn *models.PaymentTransaction) error {
		if err := attachReference(tx, txn.ID, ref); err != nil {
			return err
		}
		txn.GatewayReference = &ref
		return nil
	}
}

func WithFailureReason(reason string) Effect {
	return func(tx *gorm.DB, txn *models.PaymentTransaction) error {
		txn.FailureReason = reason
		return tx.Model(&models.PaymentTransaction{}).Where("id = ?", txn.ID).
			Update("failure_reason", reason).Error
	}
}

// WithMetadata merges values into the transaction metadata.
func WithMetadata(values map[string]string) Effect {
	return func(tx *gorm.DB, txn *models.PaymentTransaction) error {
		for k, v := range values {
			if v != "" {
				txn.SetMeta(k, v)
			}
		}
		return tx.Model(&models.PaymentTransaction{ID: txn.ID}).
			Select("metadata").
			Updates(&models.PaymentTransaction{Metadata: txn.Metadata}).Error
	}
}

// ListStale returns transactions in status that were created before cutoff,
// oldest first.
func (s *TransactionStore) ListStale(ctx context.Context, status models.TransactionStatus, cutoff time.Time, limit int) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", status, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale transactions: %w", err)
	}
	return txns, nil
}

// ListByUser returns a user's transactions, newest first.
func (s *TransactionStore) ListByUser(ctx context.Context, userID string, limit int) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}

func (s *TransactionStore) RecordCallback(ctx context.Context, entry *models.PaymentCallbackHistory) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to record callback: %w", err)
	}
	return nil
}

func notFoundOr(err error, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &apperrors.NotFoundError{Resource: resourceTransaction, Key: key}
	}
	return fmt.Errorf("failed to load transaction %s: %w", key, err)
}
