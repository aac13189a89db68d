package errors

import (
	"errors"
	"fmt"
)

var (
	// Payment errors
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrInvalidPaymentMethod   = errors.New("invalid payment method")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrDuplicateActivePayment = errors.New("an active payment already exists for this document")

	// Invoice errors
	ErrInvoiceNotFound    = errors.New("invoice not found")
	ErrInvoiceAlreadyPaid = errors.New("invoice is already paid")

	// Gateway errors
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// Webhook errors
	ErrAuthenticationFailed = errors.New("webhook authentication failed")
	ErrMalformedPayload     = errors.New("malformed webhook payload")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// GatewayRejectedError is returned when the gateway answers a request with a
// definitive 4xx. The upstream reason is attached and the call is never retried.
type GatewayRejectedError struct {
	Operation string
	Reason    string
}

func (e *GatewayRejectedError) Error() string {
	return fmt.Sprintf("gateway rejected %s: %s", e.Operation, e.Reason)
}

// NewGatewayRejectedError creates a new gateway rejection error.
func NewGatewayRejectedError(operation, reason string) *GatewayRejectedError {
	return &GatewayRejectedError{Operation: operation, Reason: reason}
}
