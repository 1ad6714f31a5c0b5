// Package provider defines the shared error taxonomy for external LLM and
// embedding providers.
//
// Both the embedding and generation gateways return *Error for provider
// failures so callers can distinguish transient conditions (rate limits,
// timeouts, outages) from permanent ones (bad credentials, malformed
// output) and decide between retry, fallback, and surfacing the failure.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a provider failure.
type Kind string

const (
	// KindRateLimited indicates the provider rejected the call due to
	// rate limiting or quota exhaustion. Retryable with backoff.
	KindRateLimited Kind = "rate_limited"

	// KindTimeout indicates the call exceeded its deadline. Retryable.
	KindTimeout Kind = "timeout"

	// KindUnavailable indicates a transient provider or network outage.
	// Retryable.
	KindUnavailable Kind = "unavailable"

	// KindAuth indicates missing or rejected credentials. Not retryable.
	KindAuth Kind = "auth"

	// KindBadResponse indicates the provider returned empty or malformed
	// output. Not retryable: repeating the identical request is unlikely
	// to produce different output.
	KindBadResponse Kind = "bad_response"
)

// Error is a typed provider failure.
type Error struct {
	Provider string // stable provider identifier, e.g. "openai"
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindUnavailable:
		return true
	default:
		return false
	}
}

// Errorf constructs a provider error with a formatted message.
func Errorf(name string, kind Kind, format string, args ...any) *Error {
	return &Error{Provider: name, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// retryablePatterns groups error substrings by failure kind, matched
// case-insensitively against err.Error().
//
// NOTE: string matching is used because most provider SDKs do not expose
// typed errors for transient failures. Classify prefers structured
// signals (context errors) and falls back to patterns.
var retryablePatterns = []struct {
	kind     Kind
	patterns []string
}{
	{KindRateLimited, []string{"rate limit", "quota exceeded", "429", "too many requests"}},
	{KindTimeout, []string{"timeout", "deadline exceeded"}},
	{KindUnavailable, []string{"500", "502", "503", "504", "unavailable", "connection reset", "connection refused", "temporary"}},
	{KindAuth, []string{"401", "403", "unauthorized", "forbidden", "api key", "permission denied"}},
}

// Classify wraps err in an *Error with the best-guess Kind for the named
// provider. Context cancellation passes through unwrapped so callers can
// distinguish client disconnects from provider failures. An err that is
// already an *Error is returned unchanged.
func Classify(name string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Provider: name, Kind: KindTimeout, Err: err}
	}

	msg := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		for _, pattern := range group.patterns {
			if strings.Contains(msg, pattern) {
				return &Error{Provider: name, Kind: group.kind, Err: err}
			}
		}
	}
	return &Error{Provider: name, Kind: KindUnavailable, Err: err}
}

// IsRetryable reports whether err is a transient provider failure.
// Non-provider errors are not retryable.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}
