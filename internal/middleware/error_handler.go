package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"coaching_payments_echo/internal/apperrors"
)

type errorResponse struct {
	Message string `json:"message"`
}

// NewErrorHandler renders every error as JSON. Payment core errors get their
// status from apperrors.HTTPStatus; internal details stay in the log.
func NewErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, message := describe(err)
		if code >= http.StatusInternalServerError {
			logger.Error("Request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", code),
				zap.Error(err))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, errorResponse{Message: message})
		}
		if err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
	}
}

func describe(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok && msg != "" {
			return he.Code, msg
		}
		return he.Code, http.StatusText(he.Code)
	}

	code := apperrors.HTTPStatus(err)

	var (
		validation *apperrors.ValidationError
		gateway    *apperrors.GatewayError
	)
	switch {
	case errors.As(err, &validation):
		return code, validation.Error()
	case apperrors.IsConflict(err):
		return code, "A payment for this purchase is already in progress."
	case apperrors.IsInvalidTransition(err):
		return code, "This payment has already been completed."
	case apperrors.IsNotFound(err):
		return code, "Payment not found."
	case errors.As(err, &gateway):
		if gateway.Message != "" {
			return code, gateway.Message
		}
		return code, "The payment provider rejected the request."
	case code == http.StatusServiceUnavailable:
		return code, "Payments are temporarily unavailable."
	default:
		return code, "Something went wrong. Please try again later."
	}
}
