package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Kind tags an Error with its §7 error-taxonomy category.
type Kind string

const (
	KindAuth          Kind = "auth"
	KindRateLimit     Kind = "rate_limit"
	KindBackend       Kind = "backend"
	KindNetwork       Kind = "network"
	KindSerialization Kind = "serialization"
	KindConfig        Kind = "config"
	KindCancelled     Kind = "cancelled"
	KindInternal      Kind = "internal"
)

// RateLimitInfo carries the server's advisory wait for a KindRateLimit error.
type RateLimitInfo struct {
	RetryAfter time.Duration
	LimitType  string
}

// Error is the tagged-variant error every Backend returns.
type Error struct {
	Kind       Kind
	Message    string
	RateLimit  *RateLimitInfo
	StatusCode int
	Provider   string
	cause      error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches an underlying error for errors.Is/As chaining.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// WithProvider attaches the originating provider's name.
func (e *Error) WithProvider(name string) *Error {
	e.Provider = name
	return e
}

// NewError builds a tagged Error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// IsRetryable reports whether the error is one of the four explicitly
// retryable kinds per spec.md §7: Network, Backend (5xx), RateLimit, and
// an initial Auth failure (401) when credentials might be refreshable is
// handled by the caller, not here.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindNetwork, KindRateLimit:
		return true
	case KindBackend:
		return e.StatusCode == 0 || e.StatusCode >= 500
	default:
		return false
	}
}

// ShouldFailover reports whether a client should try the next fallback
// provider for this error. Fallback MUST NOT be attempted on auth or
// configuration errors.
func ShouldFailover(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Kind == KindAuth || e.Kind == KindConfig {
		return false
	}
	return IsRetryable(err)
}

// ClassifyStatusCode maps an HTTP status code (and optional Retry-After
// header value) to a tagged Error.
func ClassifyStatusCode(statusCode int, retryAfterHeader string, body string) *Error {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &Error{Kind: KindAuth, Message: body, StatusCode: statusCode}
	case statusCode == http.StatusTooManyRequests:
		return &Error{
			Kind:       KindRateLimit,
			Message:    body,
			StatusCode: statusCode,
			RateLimit:  parseRetryAfter(retryAfterHeader),
		}
	case statusCode >= 500:
		return &Error{Kind: KindBackend, Message: body, StatusCode: statusCode}
	case statusCode >= 400:
		return &Error{Kind: KindBackend, Message: body, StatusCode: statusCode}
	default:
		return &Error{Kind: KindInternal, Message: fmt.Sprintf("unexpected status %d: %s", statusCode, body), StatusCode: statusCode}
	}
}

// parseRetryAfter parses a Retry-After header (seconds, or omitted) into a
// RateLimitInfo. An unparsable or empty header falls back to zero wait,
// leaving the caller's configured backoff in charge.
func parseRetryAfter(header string) *RateLimitInfo {
	if header == "" {
		return &RateLimitInfo{}
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return &RateLimitInfo{RetryAfter: time.Duration(secs) * time.Second}
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return &RateLimitInfo{RetryAfter: d}
		}
	}
	return &RateLimitInfo{}
}

// ClassifyNetworkError wraps a transport-level error (dial/timeout/EOF) as
// a retryable KindNetwork error.
func ClassifyNetworkError(err error) *Error {
	return (&Error{Kind: KindNetwork, Message: err.Error()}).WithCause(err)
}
