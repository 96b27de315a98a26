// Package domain defines the core domain models for the ledger backup tool.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a backup/restore error with a structured error code.
//
// Codes are stable strings of the form LB-<AREA>-<NNNN>. errors.Is compares
// codes, so a wrapped DomainError matches its sentinel regardless of details.
type DomainError struct {
	Code    string // Error code (e.g., "LB-DATA-4220")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithDetailsf is WithDetails with formatting.
func (e *DomainError) WithDetailsf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
// A cause that already carries a DomainError code is returned unchanged so
// the first classification wins.
func (e *DomainError) Wrap(cause error) error {
	if cause == nil {
		return nil
	}
	if IsDomainError(cause, "") {
		return cause
	}
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsRetryable reports whether retrying the same operation may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrStorage)
}

// ============================================================================
// Transport Errors (CONN)
// ============================================================================

var (
	// ErrConnection indicates the backup service is unreachable or a stream
	// was dropped. Callers may retry.
	ErrConnection = NewDomainError("LB-CONN-5030", "backup service connection failed")
)

// ============================================================================
// Version Errors (VER)
// ============================================================================

var (
	// ErrNotFound indicates the requested version was never committed.
	ErrNotFound = NewDomainError("LB-VER-4040", "version not found")
)

// ============================================================================
// Storage Errors (STOR)
// ============================================================================

var (
	// ErrStorage indicates a backup storage backend I/O failure.
	ErrStorage = NewDomainError("LB-STOR-5000", "backup storage error")

	// ErrAlreadyExists indicates a write-once identifier is already taken.
	ErrAlreadyExists = NewDomainError("LB-STOR-4090", "backup artifact already exists")
)

// ============================================================================
// Data Integrity Errors (DATA)
// ============================================================================

var (
	// ErrCorruption indicates an artifact failed structural or proof checks.
	ErrCorruption = NewDomainError("LB-DATA-4220", "backup artifact corrupted")

	// ErrVerification indicates the restored root hash disagrees with the
	// manifest. Always fatal.
	ErrVerification = NewDomainError("LB-DATA-5001", "root hash verification failed")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("LB-ARG-4000", "invalid argument")
)
