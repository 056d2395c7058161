package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"coaching_payments_echo/internal/middleware"
	"coaching_payments_echo/internal/models"
	"coaching_payments_echo/internal/services"
)

type PaymentHandler struct {
	payments *services.PaymentService
	appURL   string
}

func NewPaymentHandler(payments *services.PaymentService, appURL string) *PaymentHandler {
	return &PaymentHandler{payments: payments, appURL: strings.TrimRight(appURL, "/")}
}

type createPaymentRequest struct {
	ProductKind    string            `json:"productKind" validate:"required,oneof=subscription-blue subscription-gold premium-boost session-fee"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency" validate:"required,len=3"`
	IdempotencyKey string            `json:"idempotencyKey" validate:"required,max=128"`
	Gateway        string            `json:"gateway" validate:"omitempty,oneof=direct relay"`
	Metadata       map[string]string `json:"metadata"`
	ReturnURL      string            `json:"returnUrl" validate:"omitempty,url"`
}

type createPaymentResponse struct {
	TransactionID    string `json:"transactionId"`
	GatewayReference string `json:"gatewayReference"`
	RedirectURL      string `json:"redirectUrl,omitempty"`
	SessionToken     string `json:"sessionToken,omitempty"`
	Status           string `json:"status"`
	Existing         bool   `json:"existing"`
}

type paymentStatusResponse struct {
	GatewayReference string    `json:"gatewayReference"`
	Status           string    `json:"status"`
	ProductKind      string    `json:"productKind"`
	Amount           string    `json:"amount"`
	Currency         string    `json:"currency"`
	FailureReason    string    `json:"failureReason,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// CreatePayment starts a purchase for the authenticated user.
func (h *PaymentHandler) CreatePayment(c echo.Context) error {
	var req createPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		if k == models.MetaReturnURL || models.ServerMetaKey(k) {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("metadata key %q is reserved", k))
		}
		metadata[k] = v
	}
	if req.ReturnURL != "" {
		if !h.allowedReturnURL(req.ReturnURL) {
			return echo.NewHTTPError(http.StatusBadRequest, "returnUrl must point to this application")
		}
		metadata[models.MetaReturnURL] = req.ReturnURL
	}

	result, err := h.payments.Begin(c.Request().Context(), services.BeginRequest{
		UserID:         stringFromContext(c, middleware.ContextUserUID),
		UserEmail:      stringFromContext(c, middleware.ContextUserEmail),
		ProductKind:    models.ProductKind(req.ProductKind),
		Amount:         req.Amount,
		Currency:       strings.ToUpper(req.Currency),
		IdempotencyKey: req.IdempotencyKey,
		Gateway:        models.PaymentGateway(req.Gateway),
		Metadata:       metadata,
		AuthToken:      stringFromContext(c, middleware.ContextAuthToken),
	})
	if err != nil {
		return err
	}

	code := http.StatusCreated
	if result.Existing {
		code = http.StatusOK
	}
	return c.JSON(code, createPaymentResponse{
		TransactionID:    result.TransactionID,
		GatewayReference: result.GatewayReference,
		RedirectURL:      result.RedirectURL,
		SessionToken:     result.SessionToken,
		Status:           string(result.Status),
		Existing:         result.Existing,
	})
}

// GetPayment returns the status of one of the user's payments.
func (h *PaymentHandler) GetPayment(c echo.Context) error {
	txn, err := h.payments.Status(c.Request().Context(), stringFromContext(c, middleware.ContextUserUID), c.Param("ref"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toStatusResponse(txn))
}

// ListPayments returns the user's payment history, newest first.
func (h *PaymentHandler) ListPayments(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	txns, err := h.payments.History(c.Request().Context(), stringFromContext(c, middleware.ContextUserUID), limit)
	if err != nil {
		return err
	}
	out := make([]paymentStatusResponse, 0, len(txns))
	for i := range txns {
		out = append(out, toStatusResponse(&txns[i]))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PaymentHandler) allowedReturnURL(u string) bool {
	return withinApp(h.appURL, u)
}

// withinApp reports whether u is appURL itself or a path beneath it. appURL
// carries no trailing slash.
func withinApp(appURL, u string) bool {
	return appURL != "" && (u == appURL || strings.HasPrefix(u, appURL+"/"))
}

func toStatusResponse(txn *models.PaymentTransaction) paymentStatusResponse {
	return paymentStatusResponse{
		GatewayReference: txn.Reference(),
		Status:           string(txn.Status),
		ProductKind:      string(txn.ProductKind),
		Amount:           txn.Amount.StringFixed(2),
		Currency:         txn.Currency,
		FailureReason:    txn.FailureReason,
		CreatedAt:        txn.CreatedAt,
		UpdatedAt:        txn.UpdatedAt,
	}
}

func stringFromContext(c echo.Context, key string) string {
	if v, ok := c.Get(key).(string); ok {
		return v
	}
	return ""
}
