// Package apperr is the error taxonomy shared by the HTTP and socket
// ingress layers: every internal component returns one of these kinds so
// the transport layer has a single place to map errors onto status codes
// or socket events.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport-layer handling.
type Kind string

const (
	KindAuth           Kind = "auth"            // missing/invalid token
	KindAuthz          Kind = "authz"           // role insufficient
	KindValidation     Kind = "validation"      // malformed input
	KindLocationReject Kind = "location_reject" // validator gate failed
	KindConflict       Kind = "conflict"        // shift/timer already active
	KindNotFound       Kind = "not_found"
	KindStorage        Kind = "storage"    // DB unavailable
	KindCache          Kind = "cache"      // cache unavailable, never surfaced
	KindDownstream     Kind = "downstream" // push/attendance, logged not fatal
	KindFatal          Kind = "fatal"
)

// Error wraps a Kind with a message and optional reason code (used by
// LocationRejected to carry a machine-readable reason alongside the text).
type Error struct {
	Kind   Kind
	Reason string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap creates an Error of the given kind wrapping err.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// LocationRejected creates a KindLocationReject error carrying reason.
func LocationRejected(reason, msg string) *Error {
	return &Error{Kind: KindLocationReject, Reason: reason, Msg: msg}
}

// As extracts an *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps a Kind to the HTTP status code it surfaces as.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindAuthz:
		return http.StatusForbidden
	case KindValidation, KindLocationReject:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindStorage, KindFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
