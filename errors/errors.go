// Package errors provides error handling for vouch.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, sql.ErrNoRows) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint      = crdb.WithHint
	WithHintf     = crdb.WithHintf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// Error inspection and marking
var (
	Is         = crdb.Is
	IsAny      = crdb.IsAny
	As         = crdb.As
	Mark       = crdb.Mark
	Unwrap     = crdb.Unwrap
	UnwrapOnce = crdb.UnwrapOnce
	UnwrapAll  = crdb.UnwrapAll
)

// Stack trace access
var (
	GetReportableStackTrace = crdb.GetReportableStackTrace
)

// Assertions and panics
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Common sentinel errors.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrServiceUnavailable indicates a required service is not available
	ErrServiceUnavailable = New("service unavailable")

	// ErrTimeout indicates an operation or phase deadline elapsed
	ErrTimeout = New("operation timed out")

	// ErrCancelled indicates the operation was cancelled by an external request
	ErrCancelled = New("cancelled")
)

// Admission sentinels. The engine rejects submissions with one of these;
// a rejection is not a job failure and never reaches the ledger.
var (
	// ErrUserBusy indicates the user already has a non-terminal job
	ErrUserBusy = New("user already has an active verification")

	// ErrCapacity indicates the global concurrency cap is reached
	ErrCapacity = New("job capacity reached")

	// ErrInventoryEmpty indicates no candidate records are available
	ErrInventoryEmpty = New("no candidate records available")

	// ErrNoProxy indicates every proxy endpoint is checked out or quarantined
	ErrNoProxy = New("no proxy endpoints available")

	// ErrQuotaExceeded indicates the per-user daily limit is exhausted
	ErrQuotaExceeded = New("daily verification limit reached")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
// Also tolerates string-based "not found" errors from sql stores.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrNotFound) {
		return true
	}
	errMsg := err.Error()
	return len(errMsg) >= 9 && (errMsg == "not found" ||
		errMsg[len(errMsg)-9:] == "not found" ||
		len(errMsg) > 10 && errMsg[:10] == "not found:")
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsAdmissionReject reports whether an error is one of the admission
// sentinels, i.e. the submission was refused before a job existed.
func IsAdmissionReject(err error) bool {
	return err != nil && IsAny(err, ErrUserBusy, ErrCapacity, ErrInventoryEmpty, ErrNoProxy, ErrQuotaExceeded)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}
