package domain

import "errors"

// Error kinds. Callers wrap them with fmt.Errorf("...: %w", ErrX) to add
// context; the HTTP layer maps them with errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidState       = errors.New("invalid state")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrConflict           = errors.New("conflict")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected the request")
	ErrEmptyCart          = errors.New("cart is empty, nothing to settle")
	ErrPaymentNotCaptured = errors.New("payment not captured")
)
