// Package errors provides the coded error type shared by the matching engine.
// Always import it as perr.
package errors

import (
	stderrs "errors"
	"fmt"
)

// ErrorCode classifies an error for callers. Values travel over the wire
// in reply payloads, so never renumber them.
type ErrorCode uint16

const (
	// ErrorCodeUnknown is for unclassified errors
	ErrorCodeUnknown ErrorCode = iota

	// ErrorCodeUnavailable is for transient store or network failures where a retry may succeed
	ErrorCodeUnavailable

	// ErrorCodeTooManyRequests is for rate limiting
	ErrorCodeTooManyRequests

	// ErrorCodeConflict is for a create-if-absent that found an existing record
	ErrorCodeConflict

	// ErrorCodeValidation is for rejected input (self-swipe, missing id, bad direction)
	ErrorCodeValidation

	// ErrorCodeNotFound is for missing resources
	ErrorCodeNotFound

	// ErrorCodeInvalidState is for operations called in the wrong state
	ErrorCodeInvalidState
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeUnavailable:
		return "unavailable"
	case ErrorCodeTooManyRequests:
		return "too_many_requests"
	case ErrorCodeConflict:
		return "conflict"
	case ErrorCodeValidation:
		return "validation"
	case ErrorCodeNotFound:
		return "not_found"
	case ErrorCodeInvalidState:
		return "invalid_state"
	default:
		return "unknown"
	}
}

// Error is the structured error type.
// msg is developer facing, code is machine facing, field names the offending
// input and op tags the operation that failed.
type Error struct {
	orig  error
	msg   string
	code  ErrorCode
	field string
	op    string
}

// Wire is the JSON form carried in reply payloads.
type Wire struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.orig != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.orig)
	}
	return e.msg
}

// Unwrap returns the wrapped cause, if any
func (e *Error) Unwrap() error { return e.orig }

// Code returns the error code
func (e *Error) Code() ErrorCode { return e.code }

// Field returns the offending field, if any
func (e *Error) Field() string { return e.field }

// Op returns the operation label, if set
func (e *Error) Op() string { return e.op }

// ToWire converts an *Error to its wire payload
func (e *Error) ToWire() Wire { return Wire{Code: e.code, Message: e.Error(), Field: e.field} }

// WireFrom converts any error into a Wire payload. A nil error yields nil.
func WireFrom(err error) *Wire {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		w := e.ToWire()
		return &w
	}
	return &Wire{Code: ErrorCodeUnknown, Message: err.Error()}
}

// FromWire rebuilds a coded error from a wire payload. A nil payload yields nil.
func FromWire(w *Wire) error {
	if w == nil {
		return nil
	}
	return &Error{code: w.Code, msg: w.Message, field: w.Field}
}

// As unwraps and returns (*Error, true) if err is one of ours
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf extracts the ErrorCode from any error, defaulting to Unknown
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.code
	}
	return ErrorCodeUnknown
}

// IsCode reports whether err carries the given code
func IsCode(err error, code ErrorCode) bool { return err != nil && CodeOf(err) == code }

// IsRetryable reports whether the caller may retry the same operation.
func IsRetryable(err error) bool { return IsCode(err, ErrorCodeUnavailable) }

// WithField attaches a field to an *Error (copy-on-write). Foreign errors are returned unchanged.
func WithField(err error, field string) error {
	if e, ok := As(err); ok {
		c := *e
		c.field = field
		return &c
	}
	return err
}

// WithOp attaches an operation label to an *Error (copy-on-write). Foreign errors are returned unchanged.
func WithOp(err error, op string) error {
	if e, ok := As(err); ok {
		c := *e
		c.op = op
		return &c
	}
	return err
}

// New returns a new *Error with the given code and message
func New(code ErrorCode, msg string) error { return &Error{code: code, msg: msg} }

// Newf returns a new *Error with code and formatted message
func Newf(code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...)}
}

// Wrap returns a new *Error that wraps orig with code and message
func Wrap(orig error, code ErrorCode, msg string) error {
	return &Error{code: code, msg: msg, orig: orig}
}

// Validationf returns a validation error naming the offending field
func Validationf(field, format string, a ...any) error {
	return &Error{code: ErrorCodeValidation, msg: fmt.Sprintf(format, a...), field: field}
}

// Unavailable wraps a store or transport failure as retryable
func Unavailable(orig error, msg string) error { return Wrap(orig, ErrorCodeUnavailable, msg) }
