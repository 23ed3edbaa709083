// Package apperr defines the error kinds returned by the freight services.
// Every kind except KindInternal is safe to show to a caller verbatim.
package apperr

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindAuthentication    Kind = "authentication_error"
	KindForbidden         Kind = "forbidden"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInvalidTransition Kind = "invalid_state_transition"
	KindInternal          Kind = "internal_error"
)

const internalMessage = "internal error"

type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Error struct {
	Kind       Kind
	Message    string
	Violations []Violation

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// PublicMessage is the text that may be returned to a client.
func (e *Error) PublicMessage() string {
	if e.Kind == KindInternal {
		return internalMessage
	}
	return e.Message
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(field, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{
		Kind:       KindValidation,
		Message:    fmt.Sprintf("%s: %s", field, msg),
		Violations: []Violation{{Field: field, Message: msg}},
	}
}

// Violations builds a single validation error out of per-field problems.
// Returns nil when vs is empty.
func Violations(vs []Violation) error {
	if len(vs) == 0 {
		return nil
	}
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return &Error{
		Kind:       KindValidation,
		Message:    strings.Join(parts, "; "),
		Violations: vs,
	}
}

func Authentication(format string, args ...any) *Error {
	return newf(KindAuthentication, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return newf(KindForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newf(KindConflict, format, args...)
}

func InvalidTransition(format string, args ...any) *Error {
	return newf(KindInvalidTransition, format, args...)
}

// Internal wraps an unexpected failure. The cause keeps its stack for logs.
func Internal(err error, msg string) *Error {
	return &Error{Kind: KindInternal, Message: msg, cause: errors.WithStack(err)}
}

// As returns the *Error in err's chain, or an internal error wrapping err.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: internalMessage, cause: err}
}

func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return As(err).Kind
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
