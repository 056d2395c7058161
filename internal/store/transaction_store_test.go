package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"coaching_payments_echo/internal/apperrors"
	"coaching_payments_echo/internal/models"
	"coaching_payments_echo/internal/testutil"
)

func newTxn(user, key string) *models.PaymentTransaction {
	return &models.PaymentTransaction{
		Gateway:        models.PaymentGatewayDirect,
		UserID:         user,
		ProductKind:    models.ProductPremiumBoost,
		IdempotencyKey: key,
		Amount:         decimal.RequireFromString("499.00"),
		Currency:       "TRY",
		Metadata:       map[string]string{models.MetaPostID: "7"},
	}
}

func TestCreate(t *testing.T) {
	s := NewTransactionStore(testutil.NewDB(t))
	ctx := context.Background()

	id, err := s.Create(ctx, newTxn("u1", "abc"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCreated, got.Status)
	assert.Nil(t, got.GatewayReference)
	assert.True(t, decimal.RequireFromString("499").Equal(got.Amount))
	assert.Equal(t, "7", got.Meta(models.MetaPostID))
}

func TestCreateDuplicateActiveIntent(t *testing.T) {
	s := NewTransactionStore(testutil.NewDB(t))
	ctx := context.Background()

	first, err := s.Create(ctx, newTxn("u1", "abc"))
	require.NoError(t, err)

	_, err = s.Create(ctx, newTxn("u1", "abc"))
	var conflict *apperrors.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first, conflict.TransactionID)

	// a different key, user or product is a separate intent
	_, err = s.Create(ctx, newTxn("u1", "def"))
	assert.NoError(t, err)
	_, err = s.Create(ctx, newTxn("u2", "abc"))
	assert.NoError(t, err)
	other := newTxn("u1", "abc")
	other.ProductKind = models.ProductSessionFee
	_, err = s.Create(ctx, other)
	assert.NoError(t, err)
}

func TestCreateAllowedAfterTerminal(t *testing.T) {
	s := NewTransactionStore(testutil.NewDB(t))
	ctx := context.Background()

	first, err := s.Create(ctx, newTxn("u1", "abc"))
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, first, models.TransactionStatusFailed)
	require.NoError(t, err)

	second, err := s.Create(ctx, newTxn("u1", "abc"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestAttachGatewayReference(t *testing.T) {
	s := NewTransactionStore(testutil.NewDB(t))
	ctx := context.Background()

	a, err := s.Create(ctx, newTxn("u1", "a"))
	require.NoError(t, err)
	b, err := s.Create(ctx, newTxn("u1", "b"))
	require.NoError(t, err)

	require.NoError(t, s.AttachGatewayReference(ctx, a, "gw-123"))
	// idempotent for the same value
	require.NoError(t, s.AttachGatewayReference(ctx, a, "gw-123"))

	err = s.AttachGatewayReference(ctx, b, "gw-123")
	var conflict *apperrors.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, a, conflict.TransactionID)

	// never overwritten
	err = s.AttachGatewayReference(ctx, a, "gw-456")
	assert.True(t, apperrors.IsConflict(err))

	got, err := s.FindByGatewayReference(ctx, "gw-123")
	require.NoError(t, err)
	assert.Equal(t, a, got.ID)

	err = s.AttachGatewayReference(ctx, "missing", "gw-789")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestFindByGatewayReferenceNotFound(t *testing.T) {
	s := NewTransactionStore(testutil.NewDB(t))

	_, err := s.FindByGatewayReference(context.Background(), "nope")
	var nf *apperrors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.Key)
}

func TestUpdateStatus(t *testing.T) {
	s := NewTransactionStore(testutil.NewDB(t))
	ctx := context.Background()

	id, err := s.Create(ctx, newTxn("u1", "abc"))
	require.NoError(t, err)

	_, err = s.UpdateStatus(ctx, id, models.TransactionStatusSucceeded)
	var invalid *apperrors.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "created", invalid.From)
	assert.Equal(t, "succeeded", invalid.To)

	txn, err := s.UpdateStatus(ctx, id, models.TransactionStatusPending, WithGatewayReference("gw-1"))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusPending, txn.Status)
	assert.Equal(t, "gw-1", txn.Reference())

	_, err = s.UpdateStatus(ctx, id, models.TransactionStatusSucceeded)
	require.NoError(t, err)

	for _, to := range []models.TransactionStatus{
		models.TransactionStatusFailed,
		models.TransactionStatusExpired,
		models.TransactionStatusPending,
		models.TransactionStatusCreated,
	} {
		_, err = s.UpdateStatus(ctx, id, to)
		assert.True(t, apperrors.IsInvalidTransition(err), "succeeded -> %s", to)
	}

	_, err = s.UpdateStatus(ctx, "missing", models.TransactionStatusPending)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestUpdateStatusRollsBackOnEffectError(t *testing.T) {
	db := testutil.NewDB(t)
	s := NewTransactionStore(db)
	ctx := context.Background()

	a, err := s.Create(ctx, newTxn("u1", "a"))
	require.NoError(t, err)
	b, err := s.Create(ctx, newTxn("u1", "b"))
	require.NoError(t, err)
	require.NoError(t, s.AttachGatewayReference(ctx, a, "gw-1"))

	// b cannot take a's reference, so b must not become pending either
	_, err = s.UpdateStatus(ctx, b, models.TransactionStatusPending, WithGatewayReference("gw-1"))
	assert.True(t, apperrors.IsConflict(err))

	got, err := s.FindByID(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCreated, got.Status)
	assert.Nil(t, got.GatewayReference)
}

func TestUpdateStatusEffects(t *testing.T) {
	s := NewTransactionStore(testutil.NewDB(t))
	ctx := context.Background()

	id, err := s.Create(ctx, newTxn("u1", "abc"))
	require.NoError(t, err)

	_, err = s.UpdateStatus(ctx, id, models.TransactionStatusPending,
		WithGatewayReference("gw-1"),
		WithMetadata(map[string]string{models.MetaRedirectURL: "https://pay.example.com/gw-1", models.MetaSessionToken: ""}),
	)
	require.NoError(t, err)

	_, err = s.UpdateStatus(ctx, id, models.TransactionStatusFailed, WithFailureReason("card declined"))
	require.NoError(t, err)

	got, err := s.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/gw-1", got.Meta(models.MetaRedirectURL))
	assert.Equal(t, "7", got.Meta(models.MetaPostID))
	assert.Empty(t, got.Meta(models.MetaSessionToken))
	assert.Equal(t, "card declined", got.FailureReason)
}

func TestUpdateStatusConcurrentSingleWinner(t *testing.T) {
	s := NewTransactionStore(testutil.NewDB(t))
	ctx := context.Background()

	id, err := s.Create(ctx, newTxn("u1", "abc"))
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, id, models.TransactionStatusPending, WithGatewayReference("gw-1"))
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		wins    int
		losses  int
		applied int
		wg      sync.WaitGroup
	)
	count := func(tx *gorm.DB, txn *models.PaymentTransaction) error {
		mu.Lock()
		applied++
		mu.Unlock()
		return nil
	}

	targets := []models.TransactionStatus{
		models.TransactionStatusSucceeded,
		models.TransactionStatusFailed,
		models.TransactionStatusExpired,
		models.TransactionStatusSucceeded,
	}
	for _, to := range targets {
		wg.Add(1)
		go func(to models.TransactionStatus) {
			defer wg.Done()
			_, err := s.UpdateStatus(ctx, id, to, count)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if apperrors.IsInvalidTransition(err) {
				losses++
			}
		}(to)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, len(targets)-1, losses)
	assert.Equal(t, 1, applied)
}

func TestListStaleAndByUser(t *testing.T) {
	s := NewTransactionStore(testutil.NewDB(t))
	ctx := context.Background()

	old, err := s.Create(ctx, newTxn("u1", "old"))
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, old, models.TransactionStatusPending, WithGatewayReference("gw-old"))
	require.NoError(t, err)

	fresh, err := s.Create(ctx, newTxn("u1", "fresh"))
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, fresh, models.TransactionStatusPending, WithGatewayReference("gw-fresh"))
	require.NoError(t, err)

	_, err = s.Create(ctx, newTxn("u2", "other"))
	require.NoError(t, err)

	// backdate the first one
	require.NoError(t, s.db.Model(&models.PaymentTransaction{}).Where("id = ?", old).
		UpdateColumn("created_at", time.Now().Add(-2*time.Hour)).Error)

	stale, err := s.ListStale(ctx, models.TransactionStatusPending, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old, stale[0].ID)

	mine, err := s.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, fresh, mine[0].ID)
}

func TestRecordCallback(t *testing.T) {
	db := testutil.NewDB(t)
	s := NewTransactionStore(db)

	require.NoError(t, s.RecordCallback(context.Background(), &models.PaymentCallbackHistory{
		PaymentGateway:   models.PaymentGatewayDirect,
		GatewayReference: "gw-x",
		Disposition:      models.CallbackNotFound,
		Metadata:         []byte(`{"token":"gw-x"}`),
	}))

	var count int64
	require.NoError(t, db.Model(&models.PaymentCallbackHistory{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
