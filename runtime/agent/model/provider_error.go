package model

import (
	"errors"
	"fmt"
	"net/http"
)

// ProviderErrorKind classifies provider failures for retry and UX decisions.
type ProviderErrorKind string

const (
	ProviderErrorKindAuth           ProviderErrorKind = "auth"
	ProviderErrorKindInvalidRequest ProviderErrorKind = "invalid_request"
	ProviderErrorKindRateLimited    ProviderErrorKind = "rate_limited"
	ProviderErrorKindUnavailable    ProviderErrorKind = "unavailable"
	ProviderErrorKindUnknown        ProviderErrorKind = "unknown"
)

// ProviderError describes a failure returned by an LLM provider. Errors of
// kind rate_limited match ErrRateLimited with errors.Is.
type ProviderError struct {
	Provider   string
	HTTPStatus int
	Kind       ProviderErrorKind
	Code       string
	Message    string
	Cause      error
}

// NewProviderError classifies a provider failure from its HTTP status.
func NewProviderError(provider string, status int, code, message string, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		HTTPStatus: status,
		Kind:       KindFromStatus(status),
		Code:       code,
		Message:    message,
		Cause:      cause,
	}
}

// KindFromStatus maps an HTTP status to a ProviderErrorKind.
func KindFromStatus(status int) ProviderErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ProviderErrorKindAuth
	case status == http.StatusTooManyRequests:
		return ProviderErrorKindRateLimited
	case status == http.StatusRequestTimeout || status >= 500:
		return ProviderErrorKindUnavailable
	case status >= 400:
		return ProviderErrorKindInvalidRequest
	default:
		return ProviderErrorKindUnknown
	}
}

// Retryable reports whether retrying the same request may succeed.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ProviderErrorKindRateLimited || e.Kind == ProviderErrorKindUnavailable
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg == "" {
		msg = "provider error"
	}
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s %s (%d): %s", e.Provider, e.Kind, e.HTTPStatus, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Kind, msg)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Is makes rate-limited provider errors match ErrRateLimited.
func (e *ProviderError) Is(target error) bool {
	return target == ErrRateLimited && e.Kind == ProviderErrorKindRateLimited
}

// AsProviderError returns the first ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
