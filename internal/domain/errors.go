package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrProductAlreadyExists = errors.New("product_already_exists")
	ErrProductNotFound      = errors.New("product_not_found")
	ErrOrderNotFound        = errors.New("order_not_found")
	ErrOutOfStock           = errors.New("out_of_stock")
	ErrPriceStale           = errors.New("price_stale")
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrInsufficientStock    = errors.New("insufficient_stock")
	ErrNotOrderOwner        = errors.New("not_order_owner")
	ErrConfiguration        = errors.New("configuration_error")
	ErrUnavailable          = errors.New("unavailable")
	ErrWebhookNotFound      = errors.New("webhook_not_found")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// DemandOverflowError is returned by a store when adding an order's
// quantity would push a product's demand past the int64 range.
func DemandOverflowError(productID string) *ValidationError {
	return &ValidationError{Message: "order quantity would overflow the demand of product " + productID}
}

// ConfigError reports a malformed product definition. It is fatal for the
// product being onboarded and never retriable.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "configuration error [" + e.Field + "]: " + e.Err.Error()
}

// Is lets errors.Is(err, ErrConfiguration) match any ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// StoreError wraps a backing store failure. Retriable marks failures worth
// another attempt (lock contention, dropped connections).
type StoreError struct {
	Op        string
	Err       error
	Retriable bool
}

func (e *StoreError) Error() string {
	return "store " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsRetriable reports whether err is a transient store failure. Business
// rule rejections are never retriable.
func IsRetriable(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Retriable
	}
	return false
}
