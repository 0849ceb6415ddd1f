// Package errors defines the coded error type shared by the battle engine,
// the lobby and both transports.
package errors

import (
	"errors"
	"fmt"
)

// Error is a structured failure carrying a Code, a client-safe message and
// an optional cause that is never exposed to clients.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Cause   error          `json:"-"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithMeta attaches a metadata entry and returns e.
func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err, preserving its code when it is already an *Error and
// defaulting to CodeInternal otherwise.
//
// Postcondition: Returns nil when err is nil.
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: message, Cause: err, Meta: existing.Meta}
	}
	return &Error{Code: CodeInternal, Message: message, Cause: err}
}

// WrapWithCode wraps err under an explicit code.
//
// Postcondition: Returns nil when err is nil.
func WrapWithCode(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// CodeOf returns the Code carried by err, CodeInternal for foreign errors,
// and the empty Code for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Message returns the client-safe message for err. Foreign errors are
// reported as a generic internal failure.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Validation creates a VALIDATION error.
func Validation(message string) *Error { return New(CodeValidation, message) }

// Validationf creates a VALIDATION error with a formatted message.
func Validationf(format string, args ...any) *Error { return Newf(CodeValidation, format, args...) }

// NotFound creates a NOT_FOUND error.
func NotFound(message string) *Error { return New(CodeNotFound, message) }

// NotFoundf creates a NOT_FOUND error with a formatted message.
func NotFoundf(format string, args ...any) *Error { return Newf(CodeNotFound, format, args...) }

// Forbidden creates a FORBIDDEN error.
func Forbidden(message string) *Error { return New(CodeForbidden, message) }

// OutOfTurn creates an OUT_OF_TURN error.
func OutOfTurn(message string) *Error { return New(CodeOutOfTurn, message) }

// InvalidState creates an INVALID_STATE error.
func InvalidState(message string) *Error { return New(CodeInvalidState, message) }

// InvalidStatef creates an INVALID_STATE error with a formatted message.
func InvalidStatef(format string, args ...any) *Error { return Newf(CodeInvalidState, format, args...) }

// InvalidSelection creates an INVALID_SELECTION error.
func InvalidSelection(message string) *Error { return New(CodeInvalidSelection, message) }

// Conflict creates a CONFLICT error.
func Conflict(message string) *Error { return New(CodeConflict, message) }

// Unauthenticated creates an UNAUTHENTICATED error.
func Unauthenticated(message string) *Error { return New(CodeUnauthenticated, message) }

// Internal wraps err as an INTERNAL error with a client-safe message.
func Internal(err error, message string) *Error { return WrapWithCode(err, CodeInternal, message) }
