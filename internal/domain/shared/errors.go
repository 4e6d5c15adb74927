package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	ErrNotFound      = errors.New("entity not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrAlreadyClosed = errors.New("already closed")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrPermissionDenied   = errors.New("permission denied")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "presence", "session", "scan"
	Op      string // Operation that failed, e.g., "Record", "Deliver"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Scanner errors
var (
	ErrScannerAdapterOff       = NewDomainError("scan", "Subscribe", ErrServiceUnavailable, "bluetooth adapter is off")
	ErrScannerPermissionDenied = NewDomainError("scan", "Subscribe", ErrPermissionDenied, "bluetooth permission denied")
	ErrScannerClosed           = NewDomainError("scan", "Subscribe", ErrAlreadyClosed, "scan source closed")
)

// Side-effect errors
var (
	ErrRecorderUnavailable = NewDomainError("session", "Record", ErrServiceUnavailable, "session recorder unavailable")
	ErrSinkUnavailable     = NewDomainError("reminder", "Deliver", ErrServiceUnavailable, "reminder sink unavailable")
	ErrStudentNotCheckedIn = NewDomainError("preferences", "StudentID", ErrNotFound, "no student checked in")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
