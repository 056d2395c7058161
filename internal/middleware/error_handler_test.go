package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"coaching_payments_echo/internal/apperrors"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"http error", echo.NewHTTPError(http.StatusUnauthorized, "Session expired"), 401, "Session expired"},
		{"validation", &apperrors.ValidationError{Field: "amount", Message: "must be positive"}, 400, "invalid amount: must be positive"},
		{"conflict", &apperrors.ConflictError{Resource: "payment_transaction", Message: "x"}, 409, "A payment for this purchase is already in progress."},
		{"not found", fmt.Errorf("lookup: %w", &apperrors.NotFoundError{Resource: "payment_transaction", Key: "r"}), 404, "Payment not found."},
		{"transition", &apperrors.InvalidTransitionError{TransactionID: "t", From: "succeeded", To: "failed"}, 409, "This payment has already been completed."},
		{"gateway", &apperrors.GatewayError{Gateway: "direct", StatusCode: 200, Message: "Kart reddedildi"}, 502, "Kart reddedildi"},
		{"config", &apperrors.ConfigurationError{Key: "K", Message: "m"}, 503, "Payments are temporarily unavailable."},
		{"internal", errors.New("pq: deadlock detected"), 500, "Something went wrong. Please try again later."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := describe(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.message, msg)
		})
	}
}
