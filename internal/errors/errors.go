// Package errors defines the typed error taxonomy shared by every layer of the
// workflow service. Business-rule failures carry a Code so transports can render
// a specific message; anything without a Code is treated as an infrastructure failure.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers.
type Code string

const (
	ErrCodeNotFound          Code = "NOT_FOUND"
	ErrCodeInvalidInput      Code = "VALIDATION_ERROR"
	ErrCodeUnauthorized      Code = "UNAUTHORIZED"
	ErrCodeIllegalTransition Code = "ILLEGAL_TRANSITION"
	ErrCodeConflict          Code = "CONFLICT"
	ErrCodeInternal          Code = "INTERNAL"
)

// Error is a coded application error.
type Error struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports an unknown resource id.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s '%s' not found", resource, id)}
}

// InvalidInput reports a validation failure on a single field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Message: message, Field: field}
}

// Unauthorized reports a gate or role denial.
func Unauthorized(message string) *Error {
	return &Error{Code: ErrCodeUnauthorized, Message: message}
}

// IllegalTransition reports a state machine move that is not in the transition table.
func IllegalTransition(from, to string) *Error {
	return &Error{
		Code:    ErrCodeIllegalTransition,
		Message: fmt.Sprintf("illegal transition from '%s' to '%s'", from, to),
	}
}

// Conflict reports a concurrent write detected by the locking discipline.
func Conflict(message string) *Error {
	return &Error{Code: ErrCodeConflict, Message: message}
}

// CodeOf returns the code carried by err, or ErrCodeInternal for uncoded errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// As is a re-export of the standard library helper so callers importing this
// package under the name "errors" keep access to it.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// HTTPStatus maps an error to the status code rendered by the HTTP surface.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusForbidden
	case ErrCodeIllegalTransition, ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
