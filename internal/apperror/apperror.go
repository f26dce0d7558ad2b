// Package apperror defines the error taxonomy shared by the sync engine.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingCredential indicates no hosting-API credential was available.
	ErrMissingCredential = errors.New("missing credential")
	// ErrUnauthorized indicates a bad or expired credential. Not retryable
	// with the same credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates insufficient scope or a private resource.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates the repository or branch does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUpstream indicates a network failure, timeout, or 5xx from the hosting API.
	ErrUpstream = errors.New("upstream error")
	// ErrInvalidDestination indicates a malformed notification webhook URL.
	ErrInvalidDestination = errors.New("invalid destination")
	// ErrPersistence indicates a snapshot or notification store failure.
	ErrPersistence = errors.New("persistence error")
)

// Error carries a taxonomy kind plus a human-readable message.
type Error struct {
	Kind    error
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the taxonomy kind to errors.Is.
func (e *Error) Unwrap() error {
	return e.Kind
}

// MissingCredential reports an absent hosting-API credential.
func MissingCredential() *Error {
	return &Error{Kind: ErrMissingCredential, Message: "no hosting API credential available"}
}

// Unauthorized reports a rejected credential.
func Unauthorized(message string) *Error {
	return &Error{Kind: ErrUnauthorized, Message: message}
}

// Forbidden reports an access-scope failure.
func Forbidden(message string) *Error {
	return &Error{Kind: ErrForbidden, Message: message}
}

// NotFound reports a missing resource.
func NotFound(resource string) *Error {
	return &Error{Kind: ErrNotFound, Message: resource + " not found"}
}

// Upstream reports a transient hosting-API failure.
func Upstream(message string, err error) *Error {
	return &Error{Kind: ErrUpstream, Message: message, Err: err}
}

// InvalidDestination reports a notification URL that failed provider validation.
func InvalidDestination(provider, url string) *Error {
	return &Error{Kind: ErrInvalidDestination, Message: fmt.Sprintf("%s destination %q is not valid", provider, url)}
}

// Persistence reports a store failure.
func Persistence(message string, err error) *Error {
	return &Error{Kind: ErrPersistence, Message: message, Err: err}
}

// HTTPStatus maps a taxonomy error to the status code returned to on-demand callers.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingCredential), errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Reason returns the short machine-readable reason for a taxonomy error.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUpstream):
		return "upstream_error"
	case errors.Is(err, ErrInvalidDestination):
		return "invalid_destination"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	default:
		return "internal_error"
	}
}
