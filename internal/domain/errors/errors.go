package errors

import (
	"errors"
	"fmt"
)

var (
	// Source-system errors
	ErrAccountNotFound   = errors.New("account not found in source system")
	ErrSourceUnavailable = errors.New("source system unavailable")

	// Ledger errors
	ErrLedgerUnavailable = errors.New("idempotency ledger unavailable")

	// Target-system errors
	ErrTargetUnavailable = errors.New("target system unavailable")
	ErrTargetRejected    = errors.New("payload rejected by target system")

	// Dead-letter errors
	ErrDeadLetterNotFound = errors.New("dead-letter record not found")

	// Lock errors
	ErrLockBusy    = errors.New("entity lock held by another worker")
	ErrLockNotHeld = errors.New("lock not held")

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

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
