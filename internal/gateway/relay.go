package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"coaching_payments_echo/internal/apperrors"
)

const (
	RelayName = "relay"
	// RelayCurrency is the only currency the relay's gateway charges, in
	// whole units.
	RelayCurrency = "IDR"

	RelayTokenPath  = "/relay/token"
	RelayStatusPath = "/relay/status"
)

type RelayConfig struct {
	BaseURL string
	AnonKey string
	Client  *http.Client
}

// RelayAdapter never sees a gateway secret. It asks the trusted relay function
// for a short-lived session token that a client-side widget redeems.
type RelayAdapter struct {
	cfg RelayConfig
}

func NewRelayAdapter(cfg RelayConfig) *RelayAdapter {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &RelayAdapter{cfg: cfg}
}

func (a *RelayAdapter) Name() string {
	return RelayName
}

// RelayTokenRequest and the types below are shared with the relay function's
// handlers so both ends agree on the wire format.
type RelayTokenRequest struct {
	RequestID string `json:"requestId" validate:"required"`
}

type RelayTokenResponse struct {
	Token       string `json:"token" validate:"required"`
	RedirectURL string `json:"redirect_url"`
}

type RelayStatusRequest struct {
	RequestID string `json:"requestId" validate:"required"`
}

type RelayStatusResponse struct {
	Status string `json:"status" validate:"required,oneof=succeeded failed pending"`
}

// Initiate uses the transaction id as the relay request id, which the relay
// function also uses as the gateway order id and so becomes the reference.
func (a *RelayAdapter) Initiate(ctx context.Context, req PaymentRequest) (*GatewayResult, error) {
	var resp RelayTokenResponse
	if err := a.post(ctx, RelayTokenPath, req.AuthToken, RelayTokenRequest{RequestID: req.TransactionID}, &resp); err != nil {
		return nil, err
	}
	return &GatewayResult{
		GatewayReference: req.TransactionID,
		RedirectURL:      resp.RedirectURL,
		SessionToken:     resp.Token,
	}, nil
}

// ParseCallback reads a gateway notification (JSON) relayed to the callback
// endpoint.
func (a *RelayAdapter) ParseCallback(payload CallbackPayload) (*CallbackResult, error) {
	orderID := strings.TrimSpace(payload.Fields["order_id"])
	if orderID == "" {
		return nil, &apperrors.GatewayError{Gateway: RelayName, Message: "callback missing order_id"}
	}
	claimed := MidtransOutcome(payload.Fields["transaction_status"], payload.Fields["fraud_status"])
	return &CallbackResult{GatewayReference: orderID, Claimed: claimed}, nil
}

// Verify asks the relay function, which re-queries the gateway with the
// server key, for the authoritative status.
func (a *RelayAdapter) Verify(ctx context.Context, callback CallbackResult) (Outcome, error) {
	var resp RelayStatusResponse
	if err := a.post(ctx, RelayStatusPath, "", RelayStatusRequest{RequestID: callback.GatewayReference}, &resp); err != nil {
		return OutcomeUnknown, err
	}
	return Outcome(resp.Status), nil
}

func (a *RelayAdapter) post(ctx context.Context, path, bearer string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &apperrors.GatewayError{Gateway: RelayName, Message: "failed to encode request", Err: err}
	}
	if bearer == "" {
		bearer = a.cfg.AnonKey
	}
	headers := map[string]string{"Authorization": "Bearer " + bearer}
	return doJSON(ctx, a.cfg.Client, RelayName, fmt.Sprintf("%s%s", a.cfg.BaseURL, path), headers, body, out)
}

// MidtransOutcome maps a Midtrans transaction_status / fraud_status pair.
// A "challenge" capture is still under review and stays pending.
func MidtransOutcome(transactionStatus, fraudStatus string) Outcome {
	switch transactionStatus {
	case "capture":
		if fraudStatus == "accept" || fraudStatus == "" {
			return OutcomeSucceeded
		}
		if fraudStatus == "deny" {
			return OutcomeFailed
		}
		return OutcomePending
	case "settlement":
		return OutcomeSucceeded
	case "deny", "cancel", "expire", "failure":
		return OutcomeFailed
	case "pending", "authorize":
		return OutcomePending
	case "":
		return OutcomeUnknown
	default:
		return OutcomePending
	}
}
