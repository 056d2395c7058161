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
	DirectName = "direct"

	checkoutInitializePath = "/payment/iyzipos/checkoutform/initialize/auth/ecom"
	checkoutDetailPath     = "/payment/iyzipos/checkoutform/auth/ecom/detail"
)

type DirectConfig struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	Locale    string
	Client    *http.Client
	// NewNonce defaults to NewNonce; tests pin it.
	NewNonce func() string
}

// DirectAdapter signs and posts checkout requests to the gateway itself. It
// holds the secret key and must only run on a trusted server.
type DirectAdapter struct {
	cfg DirectConfig
}

func NewDirectAdapter(cfg DirectConfig) *DirectAdapter {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.NewNonce == nil {
		cfg.NewNonce = NewNonce
	}
	if cfg.Locale == "" {
		cfg.Locale = "tr"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &DirectAdapter{cfg: cfg}
}

func (a *DirectAdapter) Name() string {
	return DirectName
}

type checkoutBuyer struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

type checkoutBasketItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Category1 string `json:"category1"`
	ItemType  string `json:"itemType"`
	Price     string `json:"price"`
}

// checkoutInitializeRequest field order is the canonical body order; the
// signature covers these exact bytes.
type checkoutInitializeRequest struct {
	Locale         string               `json:"locale"`
	ConversationID string               `json:"conversationId"`
	Price          string               `json:"price"`
	PaidPrice      string               `json:"paidPrice"`
	Currency       string               `json:"currency"`
	BasketID       string               `json:"basketId"`
	PaymentGroup   string               `json:"paymentGroup"`
	CallbackURL    string               `json:"callbackUrl"`
	Buyer          checkoutBuyer        `json:"buyer"`
	BasketItems    []checkoutBasketItem `json:"basketItems"`
}

type checkoutInitializeResponse struct {
	Status         string `json:"status" validate:"required,oneof=success failure"`
	ErrorCode      string `json:"errorCode"`
	ErrorMessage   string `json:"errorMessage"`
	Token          string `json:"token" validate:"required_if=Status success"`
	PaymentPageURL string `json:"paymentPageUrl" validate:"required_if=Status success"`
}

type checkoutDetailRequest struct {
	Locale string `json:"locale"`
	Token  string `json:"token"`
}

type checkoutDetailResponse struct {
	Status        string `json:"status" validate:"required,oneof=success failure"`
	ErrorCode     string `json:"errorCode"`
	ErrorMessage  string `json:"errorMessage"`
	Token         string `json:"token"`
	PaymentStatus string `json:"paymentStatus"`
}

func (a *DirectAdapter) Initiate(ctx context.Context, req PaymentRequest) (*GatewayResult, error) {
	price := req.Amount.StringFixed(2)
	body := checkoutInitializeRequest{
		Locale:         a.cfg.Locale,
		ConversationID: req.TransactionID,
		Price:          price,
		PaidPrice:      price,
		Currency:       req.Currency,
		BasketID:       req.TransactionID,
		PaymentGroup:   paymentGroupFor(req.ProductKind),
		CallbackURL:    req.CallbackURL,
		Buyer:          checkoutBuyer{ID: req.UserID, Email: req.UserEmail},
		BasketItems: []checkoutBasketItem{{
			ID:        req.ProductKind,
			Name:      req.ProductKind,
			Category1: "coaching",
			ItemType:  "VIRTUAL",
			Price:     price,
		}},
	}

	var resp checkoutInitializeResponse
	if err := a.signedPost(ctx, checkoutInitializePath, body, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, &apperrors.GatewayError{Gateway: DirectName, StatusCode: http.StatusOK, Message: resp.ErrorMessage}
	}

	return &GatewayResult{
		GatewayReference: resp.Token,
		RedirectURL:      resp.PaymentPageURL,
	}, nil
}

// ParseCallback reads the form post the gateway sends to the callback URL.
// Only the token is trusted as a lookup key; the status field, when present,
// is an unverified claim.
func (a *DirectAdapter) ParseCallback(payload CallbackPayload) (*CallbackResult, error) {
	token := strings.TrimSpace(payload.Fields["token"])
	if token == "" {
		return nil, &apperrors.GatewayError{Gateway: DirectName, Message: "callback missing token"}
	}

	claimed := OutcomeUnknown
	switch strings.ToLower(payload.Fields["status"]) {
	case "success":
		claimed = OutcomeSucceeded
	case "failure":
		claimed = OutcomeFailed
	}
	return &CallbackResult{GatewayReference: token, Claimed: claimed}, nil
}

// Verify retrieves the checkout result from the gateway's detail endpoint.
func (a *DirectAdapter) Verify(ctx context.Context, callback CallbackResult) (Outcome, error) {
	var resp checkoutDetailResponse
	body := checkoutDetailRequest{Locale: a.cfg.Locale, Token: callback.GatewayReference}
	if err := a.signedPost(ctx, checkoutDetailPath, body, &resp); err != nil {
		return OutcomeUnknown, err
	}
	if resp.Status != "success" {
		return OutcomeUnknown, &apperrors.GatewayError{Gateway: DirectName, StatusCode: http.StatusOK, Message: resp.ErrorMessage}
	}
	if resp.Token != "" && resp.Token != callback.GatewayReference {
		return OutcomeUnknown, &apperrors.GatewayError{Gateway: DirectName, StatusCode: http.StatusOK, Message: "detail token does not match callback token"}
	}

	switch strings.ToUpper(resp.PaymentStatus) {
	case "SUCCESS":
		return OutcomeSucceeded, nil
	case "FAILURE":
		return OutcomeFailed, nil
	default:
		return OutcomePending, nil
	}
}

func (a *DirectAdapter) signedPost(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &apperrors.GatewayError{Gateway: DirectName, Message: "failed to encode request", Err: err}
	}

	auth := Sign(a.cfg.APIKey, a.cfg.SecretKey, a.cfg.NewNonce(), body)
	headers := map[string]string{
		"Authorization": auth.Authorization,
		NonceHeader:     auth.Nonce,
	}
	return doJSON(ctx, a.cfg.Client, DirectName, fmt.Sprintf("%s%s", a.cfg.BaseURL, path), headers, body, out)
}

func paymentGroupFor(productKind string) string {
	if strings.HasPrefix(productKind, "subscription-") {
		return "SUBSCRIPTION"
	}
	return "PRODUCT"
}
