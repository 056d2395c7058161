package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"coaching_payments_echo/internal/models"
	"coaching_payments_echo/internal/testutil"
)

type stubExpirer struct {
	window time.Duration
	n      int
	err    error
}

func (s *stubExpirer) ExpireStale(ctx context.Context, window time.Duration) (int, error) {
	s.window = window
	return s.n, s.err
}

type sentMail struct{ to, subject, body string }

type stubMailer struct {
	sent []sentMail
	err  error
}

func (m *stubMailer) Send(to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

func TestExpirePendingTask(t *testing.T) {
	exp := &stubExpirer{n: 4}
	def := &ExpirePendingTaskDef{payments: exp, window: 30 * time.Minute, logger: zap.NewNop()}

	result, err := def.HandleExecution(context.Background(), nil, models.ScheduledTask{})
	require.NoError(t, err)
	assert.Equal(t, 4, result["expired"])
	assert.Equal(t, 30*time.Minute, exp.window)

	_, err = def.HandleExecution(context.Background(), nil, models.ScheduledTask{Arguments: map[string]interface{}{"window_minutes": 90}})
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, exp.window)

	exp.err = errors.New("db down")
	_, err = def.HandleExecution(context.Background(), nil, models.ScheduledTask{})
	assert.Error(t, err)
}

func succeededTxn(t *testing.T, db *gorm.DB, email string) *models.PaymentTransaction {
	t.Helper()
	ref := "gw-123"
	txn := &models.PaymentTransaction{
		ID:               "txn-1",
		GatewayReference: &ref,
		Gateway:          "direct",
		UserID:           "u1",
		ProductKind:      models.ProductPremiumBoost,
		IdempotencyKey:   "abc",
		Amount:           decimal.RequireFromString("499.00"),
		Currency:         "TRY",
		Status:           models.TransactionStatusSucceeded,
	}
	if email != "" {
		txn.SetMeta(models.MetaUserEmail, email)
	}
	require.NoError(t, db.Create(txn).Error)
	return txn
}

func TestScheduleReceiptAndSend(t *testing.T) {
	db := testutil.NewDB(t)
	txn := succeededTxn(t, db, "u1@example.com")

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error { return ScheduleReceipt(tx, txn) }))

	var task models.ScheduledTask
	require.NoError(t, db.Where("task_name = ?", SendReceiptTaskID).First(&task).Error)
	assert.Equal(t, "txn-1", task.Arguments["transaction_id"])
	assert.Equal(t, 3, task.MaxAttempt)

	mailer := &stubMailer{}
	def := &SendReceiptTaskDef{mailer: mailer, logger: zap.NewNop()}
	result, err := def.HandleExecution(context.Background(), db, task)
	require.NoError(t, err)
	assert.Equal(t, "success", result["status"])

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "u1@example.com", mailer.sent[0].to)
	assert.Equal(t, "Payment receipt: Premium post boost (7 days)", mailer.sent[0].subject)
	assert.Contains(t, mailer.sent[0].body, "499.00 TRY")
	assert.Contains(t, mailer.sent[0].body, "gw-123")
}

func TestSendReceiptEdgeCases(t *testing.T) {
	db := testutil.NewDB(t)
	succeededTxn(t, db, "")
	task := models.ScheduledTask{Arguments: map[string]interface{}{"transaction_id": "txn-1"}}

	mailer := &stubMailer{}
	def := &SendReceiptTaskDef{mailer: mailer}
	result, err := def.HandleExecution(context.Background(), db, task)
	require.NoError(t, err)
	assert.Equal(t, "skipped", result["status"])
	assert.Empty(t, mailer.sent)

	_, err = def.HandleExecution(context.Background(), db, models.ScheduledTask{Arguments: map[string]interface{}{"transaction_id": "missing"}})
	assert.Error(t, err)

	_, err = def.HandleExecution(context.Background(), db, models.ScheduledTask{})
	assert.EqualError(t, err, "transaction_id is required")
}

func TestReceiptMessageEscapesHTML(t *testing.T) {
	ref := `<img src=x onerror="alert(1)">`
	txn := &models.PaymentTransaction{
		GatewayReference: &ref,
		ProductKind:      models.ProductKind("<b>gift</b>"),
		Amount:           decimal.RequireFromString("10"),
		Currency:         "<i>",
	}

	_, body := receiptMessage(txn)
	assert.NotContains(t, body, "<img")
	assert.NotContains(t, body, "<b>")
	assert.NotContains(t, body, "<i>")
	assert.Contains(t, body, "&lt;img src=x onerror=&#34;alert(1)&#34;&gt;")
	assert.Contains(t, body, "10.00 &lt;i&gt;")
}

func TestDefineTasksRegistersAll(t *testing.T) {
	r := DefineTasks(Dependencies{Logger: zap.NewNop()})
	for _, name := range []string{"log_info", ExpirePendingTaskID, SendReceiptTaskID} {
		_, ok := r.Get(name)
		assert.True(t, ok, name)
	}
}
