// Package errors provides the error taxonomy shared by the session layer.
package errors

import "fmt"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeContractViolation is a caller programming error: a container key
	// reused with another kind, a duplicate binding, an invalid config.
	CodeContractViolation Code = "CONTRACT_VIOLATION"
	// CodeValidationRejection is a value that cannot be committed to a
	// shared container. It is recovered locally.
	CodeValidationRejection Code = "VALIDATION_REJECTION"
	// CodeTransportFailure is a connect or reconnect failure.
	CodeTransportFailure Code = "TRANSPORT_FAILURE"
	// CodeResourceMisuse is an operation on a closed handle, container or
	// binding.
	CodeResourceMisuse Code = "RESOURCE_MISUSE"
)

// Sentinels for errors.Is checks against a code.
var (
	ErrContractViolation   = New(CodeContractViolation, "contract violation")
	ErrValidationRejection = New(CodeValidationRejection, "validation rejection")
	ErrTransportFailure    = New(CodeTransportFailure, "transport failure")
	ErrResourceMisuse      = New(CodeResourceMisuse, "resource misuse")
)

// Error is the domain error type.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Internal message for logs
	Cause   error  // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the code of the first domain error in err's chain, or
// CodeUnknown.
func CodeOf(err error) Code {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return CodeUnknown
}
