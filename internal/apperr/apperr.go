// Package apperr defines the error taxonomy shared by the ingestion engine and
// its HTTP surface.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrConfiguration       = errors.New("configuration error")
	ErrInvalidState        = errors.New("invalid or unknown oauth state")
	ErrStateExpired        = errors.New("oauth state expired")
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrProfileFetchFailed  = errors.New("profile fetch failed")
	ErrReauthRequired      = errors.New("reauthorization required")
	ErrDecryption          = errors.New("decryption failed")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrTokenRejected       = errors.New("provider rejected access token")
	ErrNotConnected        = fmt.Errorf("%w: provider not connected", ErrNotFound)
	ErrSignatureMismatch   = errors.New("request signature mismatch")
	ErrConflict            = errors.New("already exists")
)

// Error decorates a sentinel with a client-facing message and optional
// diagnostic details.
type Error struct {
	Err     error
	Message string
	Details any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetails wraps err so that Message and Details reach the response body.
func WithDetails(err error, message string, details any) error {
	return &Error{Err: err, Message: message, Details: details}
}

// Status maps an error to the HTTP status code a caller should see.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrReauthRequired),
		errors.Is(err, ErrTokenRejected),
		errors.Is(err, ErrSignatureMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrStateExpired),
		errors.Is(err, ErrTokenExchangeFailed),
		errors.Is(err, ErrProfileFetchFailed),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrNotConnected):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing message for err. Server errors never
// expose their cause.
func Message(err error) string {
	status := Status(err)
	if status >= http.StatusInternalServerError && !errors.Is(err, ErrConfiguration) && !errors.Is(err, ErrProviderUnavailable) {
		return http.StatusText(status)
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	for _, sentinel := range []error{
		ErrUnauthenticated, ErrConfiguration, ErrInvalidState, ErrStateExpired,
		ErrTokenExchangeFailed, ErrProfileFetchFailed, ErrReauthRequired,
		ErrNotConnected, ErrNotFound, ErrInvalidInput, ErrTokenRejected,
		ErrSignatureMismatch, ErrProviderUnavailable, ErrConflict,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return http.StatusText(status)
}

// Details returns diagnostic details attached anywhere in the chain.
func Details(err error) any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}
