package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"coaching_payments_echo/internal/apperrors"
	"coaching_payments_echo/internal/gateway"
	"coaching_payments_echo/internal/models"
	"coaching_payments_echo/internal/services"
)

const maxCallbackBody = 64 << 10

type reconciler interface {
	Reconcile(ctx context.Context, gatewayName string, payload gateway.CallbackPayload) (*services.ReconcileResult, error)
}

// CallbackHandler receives gateway callbacks. The gateway redirects the
// buyer's browser here, so every answer is either a redirect or a short
// human-readable page.
type CallbackHandler struct {
	payments         reconciler
	appURL           string
	defaultReturnURL string
	logger           *zap.Logger
}

func NewCallbackHandler(payments reconciler, appURL, defaultReturnURL string, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		payments:         payments,
		appURL:           strings.TrimRight(appURL, "/"),
		defaultReturnURL: defaultReturnURL,
		logger:           logger.With(zap.String("component", "callback_handler")),
	}
}

// HandleCallback reconciles one callback and sends the buyer back to the app.
func (h *CallbackHandler) HandleCallback(c echo.Context) error {
	gatewayName := c.Param("gateway")

	payload, err := readCallback(c.Request())
	if err != nil {
		h.logger.Warn("Unreadable callback", zap.String("gateway", gatewayName), zap.Error(err))
		return c.String(http.StatusInternalServerError, "We could not read the payment response. Please check your payment status in the app.")
	}

	result, err := h.payments.Reconcile(c.Request().Context(), gatewayName, payload)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return c.String(http.StatusNotFound, "Not Found")
		}
		h.logger.Error("Callback failed", zap.String("gateway", gatewayName), zap.Error(err))
		return c.String(http.StatusInternalServerError, "We could not confirm your payment yet. Please check your payment status in the app in a few minutes.")
	}

	return c.Redirect(http.StatusFound, h.returnURL(result))
}

func (h *CallbackHandler) returnURL(result *services.ReconcileResult) string {
	target := h.defaultReturnURL
	if result.Transaction != nil {
		if u := result.Transaction.Meta(models.MetaReturnURL); u != "" && h.allowed(u) {
			target = u
		}
	}

	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("token", result.GatewayReference)
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *CallbackHandler) allowed(u string) bool {
	return withinApp(h.appURL, u)
}

// readCallback flattens a form or JSON callback body into string fields.
// Query parameters are merged in, since some gateways append the token to
// the callback URL.
func readCallback(r *http.Request) (gateway.CallbackPayload, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		return gateway.CallbackPayload{}, fmt.Errorf("failed to read body: %w", err)
	}

	contentType := r.Header.Get(echo.HeaderContentType)
	fields := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}

	switch {
	case strings.HasPrefix(contentType, echo.MIMEApplicationJSON):
		var body map[string]interface{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				return gateway.CallbackPayload{}, fmt.Errorf("invalid JSON body: %w", err)
			}
		}
		for k, v := range body {
			switch val := v.(type) {
			case string:
				fields[k] = val
			case float64, bool:
				fields[k] = fmt.Sprint(val)
			}
		}
	default:
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return gateway.CallbackPayload{}, fmt.Errorf("invalid form body: %w", err)
		}
		for k, v := range values {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}
	}

	return gateway.CallbackPayload{Fields: fields}, nil
}
