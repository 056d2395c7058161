package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"coaching_payments_echo/internal/models"
	"coaching_payments_echo/internal/testutil"
)

type produced struct {
	key, topic string
	value      []byte
}

type fakeProducer struct {
	sent   []produced
	failOn int
}

func (f *fakeProducer) Produce(ctx context.Context, key, topic string, value []byte) error {
	if f.failOn > 0 && len(f.sent)+1 == f.failOn {
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, produced{key: key, topic: topic, value: value})
	return nil
}

func sampleTxn(id string) *models.PaymentTransaction {
	ref := "gw-" + id
	return &models.PaymentTransaction{
		ID:               id,
		GatewayReference: &ref,
		UserID:           "u1",
		ProductKind:      models.ProductPremiumBoost,
		Amount:           decimal.RequireFromString("499"),
		Currency:         "TRY",
		Status:           models.TransactionStatusSucceeded,
		UpdatedAt:        time.Now(),
	}
}

func TestNewStatusMessage(t *testing.T) {
	msg, err := NewStatusMessage(sampleTxn("t1"))
	require.NoError(t, err)
	assert.Equal(t, models.OutboxStatusPending, msg.Status)
	assert.Equal(t, EventPaymentStatusChanged, msg.EventType)

	var event PaymentStatusEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &event))
	assert.Equal(t, "t1", event.TransactionID)
	assert.Equal(t, "gw-t1", event.GatewayReference)
	assert.Equal(t, "499.00", event.Amount)
	assert.Equal(t, "succeeded", event.Status)
}

func TestProcessBatch(t *testing.T) {
	db := testutil.NewDB(t)
	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, Enqueue(db, sampleTxn(id)))
		// distinct created_at so ordering is stable
		time.Sleep(2 * time.Millisecond)
	}

	producer := &fakeProducer{failOn: 2}
	p := NewProcessor(db, producer, "payment_status_updates", time.Second, time.Second, zap.NewNop())

	sent, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, producer.sent, 1)
	assert.Equal(t, "t1", producer.sent[0].key)
	assert.Equal(t, "payment_status_updates", producer.sent[0].topic)

	producer.failOn = 0
	sent, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, "t2", producer.sent[1].key)
	assert.Equal(t, "t3", producer.sent[2].key)

	var pending int64
	require.NoError(t, db.Model(&models.OutboxMessage{}).Where("status = ?", models.OutboxStatusPending).Count(&pending).Error)
	assert.Zero(t, pending)

	sent, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}
