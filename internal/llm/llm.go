// Package llm defines the uniform analysis capability every language-model provider
// implements, and the shared failure taxonomy the provider chain dispatches on.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"radar-backend/internal/analysis"
)

// Provider turns note text into a validated analysis.Result.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, noteText string) (analysis.Result, error)
}

// Kind classifies a provider failure.
type Kind int

const (
	KindUnavailable Kind = iota
	KindTimeout
	KindRateLimited
	KindMalformedResponse
	KindAuthFailure
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindMalformedResponse:
		return "malformed_response"
	case KindAuthFailure:
		return "auth_failure"
	default:
		return "unavailable"
	}
}

// Retryable reports whether the same provider may be tried again.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindUnavailable:
		return true
	default:
		return false
	}
}

// Error is a classified provider failure.
type Error struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

// NewError builds a classified error.
func NewError(provider string, kind Kind, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Err: err}
}

// Classify maps any error returned by a provider call into the taxonomy. Errors that
// are already classified pass through; unknown failures are treated as Unavailable.
func Classify(provider string, err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(provider, KindTimeout, err)
	}
	if errors.Is(err, analysis.ErrInvalid) {
		return NewError(provider, KindMalformedResponse, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(provider, KindTimeout, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "client.timeout") || strings.Contains(msg, "tls handshake timeout") {
		return NewError(provider, KindTimeout, err)
	}
	return NewError(provider, KindUnavailable, err)
}

// FromStatus classifies a non-2xx HTTP response.
func FromStatus(provider string, status int, detail string) *Error {
	err := fmt.Errorf("http status %d: %s", status, truncate(detail, 300))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(provider, KindAuthFailure, err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return NewError(provider, KindTimeout, err)
	case status == http.StatusTooManyRequests:
		return NewError(provider, KindRateLimited, err)
	case status >= 500:
		return NewError(provider, KindUnavailable, err)
	default:
		// Other client errors will not change on retry.
		return NewError(provider, KindMalformedResponse, err)
	}
}

// UserMessage is the end-user safe description of a terminal failure kind.
func UserMessage(kind Kind) string {
	switch kind {
	case KindTimeout:
		return "the analysis service timed out"
	case KindRateLimited:
		return "the analysis service is over capacity"
	case KindMalformedResponse:
		return "the analysis service returned an unusable response"
	case KindAuthFailure:
		return "the analysis service rejected our credentials"
	default:
		return "the analysis service is unavailable"
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
