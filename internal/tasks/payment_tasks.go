package tasks

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"coaching_payments_echo/internal/models"
	"coaching_payments_echo/internal/services"
	"coaching_payments_echo/internal/store"
)

const (
	ExpirePendingTaskID = "expire_pending_transactions"
	SendReceiptTaskID   = "send_payment_receipt"
)

// Expirer is the part of the payment service the sweep needs.
type Expirer interface {
	ExpireStale(ctx context.Context, window time.Duration) (int, error)
}

type ExpirePendingArgs struct {
	// WindowMinutes overrides the configured expiry window when positive.
	WindowMinutes int `json:"window_minutes,omitempty"`
}

// ExpirePendingTaskDef closes out transactions whose buyer never came back
// from the gateway.
type ExpirePendingTaskDef struct {
	payments Expirer
	window   time.Duration
	logger   *zap.Logger
}

func (t *ExpirePendingTaskDef) TaskID() string {
	return ExpirePendingTaskID
}

func (t *ExpirePendingTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	if t.payments == nil {
		return nil, errors.New("payment service not configured")
	}
	var args ExpirePendingArgs
	if err := decodeArgs(task, &args); err != nil {
		return nil, err
	}

	window := t.window
	if args.WindowMinutes > 0 {
		window = time.Duration(args.WindowMinutes) * time.Minute
	}
	if window <= 0 {
		return nil, errors.New("expiry window must be positive")
	}

	expired, err := t.payments.ExpireStale(ctx, window)
	if err != nil {
		return map[string]interface{}{"expired": expired}, err
	}
	if expired > 0 && t.logger != nil {
		t.logger.Info("Expired stale payments", zap.Int("count", expired), zap.Duration("window", window))
	}
	return map[string]interface{}{
		"status":  "success",
		"expired": expired,
		"window":  window.String(),
	}, nil
}

type SendReceiptArgs struct {
	TransactionID string `json:"transaction_id"`
}

// SendReceiptTaskDef emails a receipt for a succeeded payment.
type SendReceiptTaskDef struct {
	mailer services.Mailer
	logger *zap.Logger
}

func (t *SendReceiptTaskDef) TaskID() string {
	return SendReceiptTaskID
}

// CreateTask builds a ScheduledTask record for this task
func (t *SendReceiptTaskDef) CreateTask(args SendReceiptArgs) (*models.ScheduledTask, error) {
	return BuildScheduledTask(t.TaskID(), args, time.Now(), nil, models.ScheduledTaskTypeOneTime, 3)
}

func (t *SendReceiptTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	var args SendReceiptArgs
	if err := decodeArgs(task, &args); err != nil {
		return nil, err
	}
	if args.TransactionID == "" {
		return nil, errors.New("transaction_id is required")
	}

	var txn models.PaymentTransaction
	if err := db.WithContext(ctx).Where("id = ?", args.TransactionID).First(&txn).Error; err != nil {
		return nil, fmt.Errorf("failed to load transaction %s: %w", args.TransactionID, err)
	}
	if txn.Status != models.TransactionStatusSucceeded {
		return nil, fmt.Errorf("transaction %s is %s, not succeeded", txn.ID, txn.Status)
	}

	to := txn.Meta(models.MetaUserEmail)
	if to == "" {
		return map[string]interface{}{"status": "skipped", "reason": "no email on transaction"}, nil
	}
	if t.mailer == nil {
		return nil, errors.New("mailer not configured")
	}

	subject, body := receiptMessage(&txn)
	if err := t.mailer.Send(to, subject, body); err != nil {
		return nil, fmt.Errorf("failed to send receipt: %w", err)
	}
	if t.logger != nil {
		t.logger.Info("Receipt sent", zap.String("transaction_id", txn.ID))
	}
	return map[string]interface{}{"status": "success", "to": to}, nil
}

// ScheduleReceipt is a success effect that queues the receipt email in the
// same database transaction as the status change.
func ScheduleReceipt(tx *gorm.DB, txn *models.PaymentTransaction) error {
	task, err := (&SendReceiptTaskDef{}).CreateTask(SendReceiptArgs{TransactionID: txn.ID})
	if err != nil {
		return err
	}
	return tx.Create(task).Error
}

var _ store.Effect = ScheduleReceipt

var productTitles = map[models.ProductKind]string{
	models.ProductSubscriptionBlue: "Blue subscription (30 days)",
	models.ProductSubscriptionGold: "Gold subscription (30 days)",
	models.ProductPremiumBoost:     "Premium post boost (7 days)",
	models.ProductSessionFee:       "Coaching session",
}

func receiptMessage(txn *models.PaymentTransaction) (string, string) {
	title, ok := productTitles[txn.ProductKind]
	if !ok {
		title = string(txn.ProductKind)
	}

	var b strings.Builder
	b.WriteString("<p>Thank you for your payment.</p>")
	b.WriteString("<table>")
	fmt.Fprintf(&b, "<tr><td>Product</td><td>%s</td></tr>", html.EscapeString(title))
	fmt.Fprintf(&b, "<tr><td>Amount</td><td>%s %s</td></tr>", txn.Amount.StringFixed(2), html.EscapeString(txn.Currency))
	fmt.Fprintf(&b, "<tr><td>Reference</td><td>%s</td></tr>", html.EscapeString(txn.Reference()))
	fmt.Fprintf(&b, "<tr><td>Date</td><td>%s</td></tr>", txn.UpdatedAt.Format("2006-01-02 15:04 MST"))
	b.WriteString("</table>")

	return "Payment receipt: " + title, b.String()
}
