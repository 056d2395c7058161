package models

import (
	"encoding/json"
	"time"
)

type PaymentGateway string

const (
	PaymentGatewayDirect PaymentGateway = "direct"
	PaymentGatewayRelay  PaymentGateway = "relay"
)

type CallbackDisposition string

const (
	CallbackApplied   CallbackDisposition = "applied"
	CallbackDuplicate CallbackDisposition = "duplicate"
	CallbackNotFound  CallbackDisposition = "not_found"
	CallbackPending   CallbackDisposition = "pending"
	CallbackError     CallbackDisposition = "error"
)

// PaymentCallbackHistory is the audit trail of every inbound gateway callback,
// including forged or unknown ones.
type PaymentCallbackHistory struct {
	ID               uint                `gorm:"primaryKey" json:"id"`
	PaymentGateway   PaymentGateway      `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	GatewayReference string              `gorm:"type:varchar(128);index" json:"gateway_reference"`
	TransactionID    string              `gorm:"type:varchar(36);index" json:"transaction_id,omitempty"`
	Disposition      CallbackDisposition `gorm:"type:varchar(20)" json:"disposition"`
	VerifiedOutcome  string              `gorm:"type:varchar(20)" json:"verified_outcome,omitempty"`
	Detail           string              `gorm:"type:text" json:"detail,omitempty"`
	Metadata         json.RawMessage     `gorm:"type:jsonb" json:"metadata"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}
