package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"coaching_payments_echo/internal/models"
	"coaching_payments_echo/internal/testutil"
)

func grant(t *testing.T, db *gorm.DB, e *Entitlements, txn *models.PaymentTransaction) error {
	t.Helper()
	return db.Transaction(func(tx *gorm.DB) error {
		return e.Grant()(tx, txn)
	})
}

func TestSubscriptionRenewalStacks(t *testing.T) {
	db := testutil.NewDB(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := &Entitlements{db: db, now: func() time.Time { return now }}

	require.NoError(t, grant(t, db, e, &models.PaymentTransaction{ID: "t1", UserID: "u1", ProductKind: models.ProductSubscriptionBlue}))
	require.NoError(t, grant(t, db, e, &models.PaymentTransaction{ID: "t2", UserID: "u1", ProductKind: models.ProductSubscriptionGold}))

	var sub models.UserSubscription
	require.NoError(t, db.Where("user_id = ?", "u1").First(&sub).Error)
	assert.Equal(t, models.SubscriptionTierGold, sub.Tier)
	assert.Equal(t, "t2", sub.TransactionID)
	assert.True(t, now.Add(2*subscriptionPeriod).Equal(sub.ActiveUntil), "got %s", sub.ActiveUntil)
}

func TestSubscriptionAfterLapseStartsNow(t *testing.T) {
	db := testutil.NewDB(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	e := &Entitlements{db: db, now: func() time.Time { return now }}

	require.NoError(t, db.Create(&models.UserSubscription{UserID: "u1", Tier: models.SubscriptionTierBlue, ActiveUntil: now.Add(-48 * time.Hour)}).Error)
	require.NoError(t, grant(t, db, e, &models.PaymentTransaction{ID: "t1", UserID: "u1", ProductKind: models.ProductSubscriptionBlue}))

	var sub models.UserSubscription
	require.NoError(t, db.Where("user_id = ?", "u1").First(&sub).Error)
	assert.True(t, now.Add(subscriptionPeriod).Equal(sub.ActiveUntil))
}

func TestSessionAccessGrantedOnce(t *testing.T) {
	db := testutil.NewDB(t)
	e := NewEntitlements(db)
	txn := &models.PaymentTransaction{ID: "t1", UserID: "u1", ProductKind: models.ProductSessionFee,
		Metadata: map[string]string{models.MetaSessionID: "s-9"}}

	require.NoError(t, grant(t, db, e, txn))
	require.NoError(t, grant(t, db, e, txn))

	var n int64
	require.NoError(t, db.Model(&models.SessionAccess{}).Where("session_id = ? AND user_id = ?", "s-9", "u1").Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestBoostMissingPostFails(t *testing.T) {
	db := testutil.NewDB(t)
	e := NewEntitlements(db)

	err := grant(t, db, e, &models.PaymentTransaction{ID: "t1", UserID: "u1", ProductKind: models.ProductPremiumBoost,
		Metadata: map[string]string{models.MetaPostID: "5"}})
	assert.Error(t, err)

	err = grant(t, db, e, &models.PaymentTransaction{ID: "t1", UserID: "u1", ProductKind: models.ProductPremiumBoost})
	assert.Error(t, err)
}
