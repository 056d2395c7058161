package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/midtrans/midtrans-go/snap"
	"go.uber.org/zap"

	"coaching_payments_echo/internal/apperrors"
	"coaching_payments_echo/internal/gateway"
	"coaching_payments_echo/internal/models"
)

type sessionIssuer interface {
	CreateSessionToken(txn *models.PaymentTransaction, finishURL string) (*snap.Response, error)
	CheckStatus(orderID string) (gateway.Outcome, error)
}

type transactionFinder interface {
	FindByID(ctx context.Context, id string) (*models.PaymentTransaction, error)
}

// RelayHandler is the trusted relay in front of Midtrans. It holds the
// server key so the main API never has to.
type RelayHandler struct {
	transactions     transactionFinder
	midtrans         sessionIssuer
	appURL           string
	defaultReturnURL string
	logger           *zap.Logger
}

func NewRelayHandler(transactions transactionFinder, midtrans sessionIssuer, appURL, defaultReturnURL string, logger *zap.Logger) *RelayHandler {
	return &RelayHandler{
		transactions:     transactions,
		midtrans:         midtrans,
		appURL:           strings.TrimRight(appURL, "/"),
		defaultReturnURL: defaultReturnURL,
		logger:           logger.With(zap.String("component", "relay")),
	}
}

// CreateToken opens a Snap session for a relay transaction that is still
// being initiated. The transaction is read from the database, so the caller
// cannot choose the amount.
func (h *RelayHandler) CreateToken(c echo.Context) error {
	var req gateway.RelayTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	txn, err := h.transactions.FindByID(c.Request().Context(), req.RequestID)
	if err != nil {
		return err
	}
	if txn.Gateway != models.PaymentGateway(gateway.RelayName) {
		return &apperrors.NotFoundError{Resource: "payment_transaction", Key: req.RequestID}
	}
	if txn.Status.IsTerminal() {
		return echo.NewHTTPError(http.StatusConflict, "Transaction is already "+string(txn.Status))
	}

	finishURL := h.defaultReturnURL
	if u := txn.Meta(models.MetaReturnURL); u != "" && withinApp(h.appURL, u) {
		finishURL = u
	}
	resp, err := h.midtrans.CreateSessionToken(txn, finishURL)
	if err != nil {
		h.logger.Error("Snap token request failed", zap.String("request_id", req.RequestID), zap.Error(err))
		return err
	}

	return c.JSON(http.StatusOK, gateway.RelayTokenResponse{Token: resp.Token, RedirectURL: resp.RedirectURL})
}

// CheckStatus reports the gateway's verified outcome for a request id.
func (h *RelayHandler) CheckStatus(c echo.Context) error {
	var req gateway.RelayStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	outcome, err := h.midtrans.CheckStatus(req.RequestID)
	if err != nil {
		h.logger.Warn("Status check failed", zap.String("request_id", req.RequestID), zap.Error(err))
		return err
	}
	if outcome == gateway.OutcomeUnknown {
		outcome = gateway.OutcomePending
	}
	return c.JSON(http.StatusOK, gateway.RelayStatusResponse{Status: string(outcome)})
}
