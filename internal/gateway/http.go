package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"coaching_payments_echo/internal/apperrors"
)

const maxResponseBytes = 1 << 20

// responseValidator checks required fields on decoded gateway responses.
// Unknown fields are ignored by encoding/json.
var responseValidator = newResponseValidator()

func newResponseValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// doJSON posts body to url and decodes a 2xx answer into out. Every failure is
// reported as a *apperrors.GatewayError tagged with the gateway name.
func doJSON(ctx context.Context, client *http.Client, gatewayName, url string, headers map[string]string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &apperrors.GatewayError{Gateway: gatewayName, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &apperrors.GatewayError{Gateway: gatewayName, Message: "gateway request timed out", Err: err}
		}
		return &apperrors.GatewayError{Gateway: gatewayName, Message: "gateway unreachable", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &apperrors.GatewayError{Gateway: gatewayName, StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apperrors.GatewayError{Gateway: gatewayName, StatusCode: resp.StatusCode, Message: errorMessageFrom(raw)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &apperrors.GatewayError{Gateway: gatewayName, StatusCode: resp.StatusCode, Message: "malformed response", Err: err}
	}
	if err := responseValidator.Struct(out); err != nil {
		return &apperrors.GatewayError{Gateway: gatewayName, StatusCode: resp.StatusCode, Message: fmt.Sprintf("response missing required fields: %v", err), Err: err}
	}
	return nil
}

// errorMessageFrom extracts the gateway's own wording from an error body.
func errorMessageFrom(raw []byte) string {
	var body struct {
		ErrorMessage string `json:"errorMessage"`
		Error        string `json:"error"`
		Message      string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		switch {
		case body.ErrorMessage != "":
			return body.ErrorMessage
		case body.Error != "":
			return body.Error
		case body.Message != "":
			return body.Message
		}
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		return "empty response"
	}
	return msg
}
