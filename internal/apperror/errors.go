// Package apperror defines the error kinds shared by the Gmail client,
// the OAuth layer and the HTTP/MCP boundaries.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the transport boundary.
type Kind int

const (
	// Internal is the zero Kind so that unclassified errors map to 500.
	Internal Kind = iota
	// Unauthenticated means no usable credentials exist for the caller.
	Unauthenticated
	// InvalidArgument means the request is malformed or missing fields.
	InvalidArgument
	// NotFound means the referenced message does not exist.
	NotFound
	// UpstreamFailure means the provider (Google) failed or is unavailable.
	UpstreamFailure
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case UpstreamFailure:
		return "upstream_failure"
	default:
		return "internal"
	}
}

// HTTPStatus returns the status code used when the kind reaches the HTTP
// boundary. Unauthenticated requests are redirected by the server before
// this status is ever written.
func (k Kind) HTTPStatus() int {
	switch k {
	case Unauthenticated:
		return http.StatusUnauthorized
	case InvalidArgument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case UpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a Kind, a client-safe message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind without a cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around err.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the message to expose to clients. Errors without a kind
// expose their full text, matching the plain {"error": "..."} contract.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return err.Error()
}
