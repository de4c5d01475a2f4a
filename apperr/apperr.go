// Package apperr defines the closed set of request-level failures and the
// HTTP status each one maps to.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnauthenticated Kind = iota + 1
	KindForbidden
	KindBadRequest
	KindNotFound
	KindUpstream
	KindConfig
	KindTooLarge
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	case KindConfig:
		return "config"
	case KindTooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// ConfigMessage is the only text a client ever sees for a configuration error.
const ConfigMessage = "Server configuration error."

// Error is a classified failure. Message is safe to show to the caller;
// Err carries the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code for the error's kind.
func (e *Error) Status() int { return e.Kind.Status() }

func Unauthenticated(msg string) *Error { return &Error{Kind: KindUnauthenticated, Message: msg} }

func Forbidden(msg string) *Error { return &Error{Kind: KindForbidden, Message: msg} }

func BadRequest(msg string) *Error { return &Error{Kind: KindBadRequest, Message: msg} }

func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Message: msg} }

func TooLarge(msg string) *Error { return &Error{Kind: KindTooLarge, Message: msg} }

// Upstream wraps a failure of the identity provider, Stripe or the workflow engine.
func Upstream(msg string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: msg, Err: err}
}

// Config reports a missing or invalid server setting. detail is logged,
// never returned to the client.
func Config(detail string) *Error {
	return &Error{Kind: KindConfig, Message: ConfigMessage, Err: errors.New(detail)}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusOf returns the status for err, 500 when err is unclassified.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status()
	}
	return http.StatusInternalServerError
}

// MessageOf returns the client-facing message for err.
func MessageOf(err error) string {
	if e, ok := As(err); ok {
		return e.Message
	}
	return "Internal server error"
}
