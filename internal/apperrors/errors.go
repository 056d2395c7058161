package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ConfigurationError reports a missing or invalid setting detected at startup.
type ConfigurationError struct {
	Key     string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Message)
}

// GatewayError carries the gateway's own message and HTTP status.
// StatusCode is 0 when the gateway could not be reached at all.
type GatewayError struct {
	Gateway    string
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s gateway error (status %d): %s", e.Gateway, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s gateway error: %s", e.Gateway, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// ConflictError is returned for a duplicate active purchase or a gateway
// reference that already belongs to another transaction.
type ConflictError struct {
	Resource      string
	TransactionID string
	Message       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Message)
}

// InvalidTransitionError is returned when a status change is not reachable
// from the transaction's current status.
type InvalidTransitionError struct {
	TransactionID string
	From          string
	To            string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transaction %s: invalid transition %s -> %s", e.TransactionID, e.From, e.To)
}

// NotFoundError is returned when a lookup matches no record.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// ValidationError rejects a purchase request before any record is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}

func IsGateway(err error) bool {
	var target *GatewayError
	return errors.As(err, &target)
}

// HTTPStatus maps an error from the payment core to the status code shown to
// an authenticated API caller.
func HTTPStatus(err error) int {
	var (
		notFound   *NotFoundError
		conflict   *ConflictError
		transition *InvalidTransitionError
		gateway    *GatewayError
		config     *ConfigurationError
		validation *ValidationError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &transition):
		return http.StatusConflict
	case errors.As(err, &gateway):
		return http.StatusBadGateway
	case errors.As(err, &config):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
