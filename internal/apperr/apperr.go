// Package apperr defines the business-rule error taxonomy shared by the
// scheduling, execution and approval packages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a business-rule failure.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindState      Kind = "state"
	KindForbidden  Kind = "forbidden"
)

// Error is a business-rule violation reported to the caller. It is never
// retried by the core.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
}

func (e *Error) Error() string { return e.Message }

// With attaches a detail and returns e.
func (e *Error) With(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input.
func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

// Conflict reports a schedule overlap or an already-consumed resource.
func Conflict(format string, args ...interface{}) *Error {
	return newf(KindConflict, format, args...)
}

// NotFound reports an unknown entity.
func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

// State reports an operation attempted on a locked or terminal entity.
func State(format string, args ...interface{}) *Error {
	return newf(KindState, format, args...)
}

// Forbidden reports an actor acting outside their assignment.
func Forbidden(format string, args ...interface{}) *Error {
	return newf(KindForbidden, format, args...)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}
