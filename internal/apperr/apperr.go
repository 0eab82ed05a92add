// Package apperr defines the closed set of application error kinds and the
// translation from those kinds to transport-level responses.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
)

// Kind is a closed taxonomy of error categories. Handlers switch on Kind to
// decide status codes; they never inspect error strings.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindInvalidTransition   Kind = "invalid_transition"
	KindOfferNotFound       Kind = "offer_not_found"
	KindOfferAlreadyResponded Kind = "offer_already_responded"
	KindUnauthorized        Kind = "unauthorized"
	KindValidationFailed    Kind = "validation_failed"
	KindPricingUnavailable  Kind = "pricing_unavailable"
	KindExternalTimeout     Kind = "external_timeout"
	KindConflictingState    Kind = "conflicting_state"
	KindFatal               Kind = "fatal"
)

// Error is the application error type carried across package boundaries.
// It wraps an underlying cause while exposing a stable Kind for routing.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around an existing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: errors.Wrap(cause, message)}
}

// NotFound is a convenience constructor for the most common kind.
func NotFound(resource string, id fmt.Stringer) *Error {
	return New(KindNotFound, fmt.Sprintf("%s %s not found", resource, id))
}

// As extracts an *Error from err, returning ok=false if err does not wrap one.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else KindFatal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindFatal
}

// HTTPStatus maps a Kind to the status code handlers should respond with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound, KindOfferNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindValidationFailed:
		return http.StatusBadRequest
	case KindInvalidTransition, KindOfferAlreadyResponded, KindConflictingState:
		return http.StatusConflict
	case KindPricingUnavailable, KindExternalTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine-readable error code surfaced in responses.
func (e *Error) Code() string {
	return string(e.Kind)
}
