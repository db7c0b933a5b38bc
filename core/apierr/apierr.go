// Package apierr defines the orchestrator's error taxonomy and maps it to
// HTTP status codes at the surface boundary.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of error the HTTP surface knows how to render.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindInvalidInput Kind = "invalid_input"
	KindUnauthorized Kind = "unauthorized"
	KindTransient    Kind = "transient"
	KindInternal     Kind = "internal"
)

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidInput builds a KindInvalidInput error.
func InvalidInput(format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized builds a KindUnauthorized error.
func Unauthorized(format string, args ...any) error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a Kind, preserving it for errors.Unwrap/errors.Is.
func Wrap(kind Kind, message string, err error) error {
	return &Error{Kind: kind, Message: message, Cause: err}
}

// KindOf extracts the Kind of err, defaulting to KindInternal for anything
// that wasn't constructed through this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// StatusCode maps a Kind to the HTTP status the surface should return.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindTransient:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
