// Package gateway talks to external payment gateways. Each Adapter turns an
// internal PaymentRequest into a gateway call and reads the gateway's
// callbacks and status answers back into internal results.
//
// Adapters never retry. A resent purchase request could charge twice, so the
// caller decides whether to try again with a fresh idempotency key.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// Outcome is a gateway's verdict on a charge.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	// OutcomePending means the gateway has not reached a final verdict yet.
	OutcomePending Outcome = "pending"
	// OutcomeUnknown is used when a callback carries no status claim at all.
	OutcomeUnknown Outcome = ""
)

// PaymentRequest is what the orchestrator asks a gateway to charge.
type PaymentRequest struct {
	TransactionID string
	UserID        string
	UserEmail     string
	Amount        decimal.Decimal
	Currency      string
	ProductKind   string
	CallbackURL   string
	// AuthToken is the caller's bearer credential, forwarded to the relay
	// function. Empty means the anonymous relay key is used.
	AuthToken string
}

// GatewayResult is a successfully initiated charge.
type GatewayResult struct {
	GatewayReference string
	RedirectURL      string
	SessionToken     string
}

// CallbackPayload is an inbound callback flattened to string fields.
type CallbackPayload struct {
	Fields map[string]string
}

// CallbackResult is what a callback claims. The claim is unauthenticated and
// must be confirmed with Verify before any state change.
type CallbackResult struct {
	GatewayReference string
	Claimed          Outcome
}

type Adapter interface {
	Name() string
	Initiate(ctx context.Context, req PaymentRequest) (*GatewayResult, error)
	ParseCallback(payload CallbackPayload) (*CallbackResult, error)
	// Verify asks the gateway itself for the charge's current outcome.
	Verify(ctx context.Context, callback CallbackResult) (Outcome, error)
}
