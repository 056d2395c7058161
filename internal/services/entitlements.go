package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coaching_payments_echo/internal/apperrors"
	"coaching_payments_echo/internal/models"
	"coaching_payments_echo/internal/store"
)

const (
	subscriptionPeriod = 30 * 24 * time.Hour
	boostPeriod        = 7 * 24 * time.Hour
)

// Entitlements unlocks the paid feature behind each product kind.
type Entitlements struct {
	db  *gorm.DB
	now func() time.Time
}

func NewEntitlements(db *gorm.DB) *Entitlements {
	return &Entitlements{db: db, now: time.Now}
}

// CheckEligible rejects a purchase whose product target is missing or not
// the buyer's to pay for.
func (e *Entitlements) CheckEligible(ctx context.Context, userID string, kind models.ProductKind, metadata map[string]string) error {
	switch kind {
	case models.ProductSubscriptionBlue, models.ProductSubscriptionGold:
		return nil
	case models.ProductPremiumBoost:
		postID, err := parsePostID(metadata[models.MetaPostID])
		if err != nil {
			return &apperrors.ValidationError{Field: models.MetaPostID, Message: "a numeric post id is required"}
		}
		var post models.Post
		if err := e.db.WithContext(ctx).Select("id", "author_id").First(&post, postID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &apperrors.NotFoundError{Resource: "post", Key: metadata[models.MetaPostID]}
			}
			return fmt.Errorf("failed to load post: %w", err)
		}
		if post.AuthorID != userID {
			return &apperrors.ValidationError{Field: models.MetaPostID, Message: "only the author can boost a post"}
		}
		return nil
	case models.ProductSessionFee:
		if metadata[models.MetaSessionID] == "" {
			return &apperrors.ValidationError{Field: models.MetaSessionID, Message: "is required"}
		}
		return nil
	default:
		return &apperrors.ValidationError{Field: "productKind", Message: "unknown product"}
	}
}

// Grant returns the effect that unlocks txn's product. It runs inside the
// succeeding status change, which is what makes it happen exactly once.
func (e *Entitlements) Grant() store.Effect {
	return func(tx *gorm.DB, txn *models.PaymentTransaction) error {
		switch txn.ProductKind {
		case models.ProductSubscriptionBlue:
			return e.extendSubscription(tx, txn, models.SubscriptionTierBlue)
		case models.ProductSubscriptionGold:
			return e.extendSubscription(tx, txn, models.SubscriptionTierGold)
		case models.ProductPremiumBoost:
			return e.boostPost(tx, txn)
		case models.ProductSessionFee:
			return e.grantSessionAccess(tx, txn)
		default:
			return fmt.Errorf("transaction %s: no entitlement for product %q", txn.ID, txn.ProductKind)
		}
	}
}

func (e *Entitlements) extendSubscription(tx *gorm.DB, txn *models.PaymentTransaction, tier models.SubscriptionTier) error {
	now := e.now()

	var sub models.UserSubscription
	err := tx.Where("user_id = ?", txn.UserID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		sub = models.UserSubscription{
			UserID:        txn.UserID,
			Tier:          tier,
			ActiveUntil:   now.Add(subscriptionPeriod),
			TransactionID: txn.ID,
		}
		return tx.Create(&sub).Error
	}
	if err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	// a renewal stacks on top of the time left
	start := now
	if sub.ActiveUntil.After(now) {
		start = sub.ActiveUntil
	}
	sub.Tier = tier
	sub.ActiveUntil = start.Add(subscriptionPeriod)
	sub.TransactionID = txn.ID
	return tx.Save(&sub).Error
}

func (e *Entitlements) boostPost(tx *gorm.DB, txn *models.PaymentTransaction) error {
	postID, err := parsePostID(txn.Meta(models.MetaPostID))
	if err != nil {
		return fmt.Errorf("transaction %s: %w", txn.ID, err)
	}

	until := e.now().Add(boostPeriod)
	res := tx.Model(&models.Post{}).Where("id = ?", postID).Updates(map[string]interface{}{
		"is_boosted":           true,
		"boosted_until":        until,
		"boost_transaction_id": txn.ID,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to boost post: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &apperrors.NotFoundError{Resource: "post", Key: txn.Meta(models.MetaPostID)}
	}
	return nil
}

func (e *Entitlements) grantSessionAccess(tx *gorm.DB, txn *models.PaymentTransaction) error {
	access := models.SessionAccess{
		SessionID:     txn.Meta(models.MetaSessionID),
		UserID:        txn.UserID,
		TransactionID: txn.ID,
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&access).Error
}

func parsePostID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid post id %q", raw)
	}
	return id, nil
}
