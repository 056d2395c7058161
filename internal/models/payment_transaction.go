package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionStatusCreated   TransactionStatus = "created"
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusSucceeded TransactionStatus = "succeeded"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusExpired   TransactionStatus = "expired"
)

// transitions lists every status reachable in one step.
var transitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusCreated: {TransactionStatusPending, TransactionStatusFailed},
	TransactionStatusPending: {TransactionStatusSucceeded, TransactionStatusFailed, TransactionStatusExpired},
}

// IsTerminal reports whether no further transition is possible.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusSucceeded || s == TransactionStatusFailed || s == TransactionStatusExpired
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

type ProductKind string

const (
	ProductSubscriptionBlue ProductKind = "subscription-blue"
	ProductSubscriptionGold ProductKind = "subscription-gold"
	ProductPremiumBoost     ProductKind = "premium-boost"
	ProductSessionFee       ProductKind = "session-fee"
)

func (k ProductKind) IsValid() bool {
	switch k {
	case ProductSubscriptionBlue, ProductSubscriptionGold, ProductPremiumBoost, ProductSessionFee:
		return true
	}
	return false
}

// Metadata keys understood by the payment core.
const (
	MetaReturnURL    = "return_url"
	MetaRedirectURL  = "redirect_url"
	MetaSessionToken = "session_token"
	MetaPostID       = "post_id"
	MetaSessionID    = "session_id"
	MetaUserEmail    = "user_email"
)

// ServerMetaKey reports whether k is written by the payment core itself and
// must never be accepted from a client.
func ServerMetaKey(k string) bool {
	switch k {
	case MetaRedirectURL, MetaSessionToken, MetaUserEmail:
		return true
	}
	return false
}

// PaymentTransaction is one charge attempt for a product. Rows are never deleted.
type PaymentTransaction struct {
	ID               string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	GatewayReference *string           `gorm:"type:varchar(128);uniqueIndex" json:"gateway_reference,omitempty"`
	Gateway          PaymentGateway    `gorm:"type:varchar(50);not null" json:"gateway"`
	UserID           string            `gorm:"type:varchar(128);not null;uniqueIndex:idx_txn_active_intent,where:status = 'created' OR status = 'pending';index" json:"user_id"`
	ProductKind      ProductKind       `gorm:"type:varchar(50);not null;uniqueIndex:idx_txn_active_intent,where:status = 'created' OR status = 'pending'" json:"product_kind"`
	IdempotencyKey   string            `gorm:"type:varchar(128);not null;uniqueIndex:idx_txn_active_intent,where:status = 'created' OR status = 'pending'" json:"-"`
	Amount           decimal.Decimal   `gorm:"type:decimal(15,2);not null" json:"amount"`
	Currency         string            `gorm:"type:varchar(3);not null" json:"currency"`
	Status           TransactionStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Metadata         map[string]string `gorm:"serializer:json" json:"metadata,omitempty"`
	FailureReason    string            `gorm:"type:text" json:"failure_reason,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Reference returns the gateway reference or an empty string before initiation.
func (t *PaymentTransaction) Reference() string {
	if t.GatewayReference == nil {
		return ""
	}
	return *t.GatewayReference
}

func (t *PaymentTransaction) Meta(key string) string {
	if t.Metadata == nil {
		return ""
	}
	return t.Metadata[key]
}

func (t *PaymentTransaction) SetMeta(key, value string) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	t.Metadata[key] = value
}
