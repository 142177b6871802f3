package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies adapter failures so the orchestrator can decide between
// retry and terminal failure, and so a failed job carries exactly one
// taxonomy value.
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"      // rejected before any provider call
	KindUpload            Kind = "upload_error"       // transient storage failure
	KindNetwork           Kind = "network_error"      // transient transport failure
	KindAuth              Kind = "auth_error"         // bad credentials, never retried
	KindQuotaExceeded     Kind = "quota_exceeded"     // provider throttling, retried with longer backoff
	KindTimeout           Kind = "timeout"            // job exceeded its polling deadline
	KindResultUnavailable Kind = "result_unavailable" // fetch before completion
	KindRateLimited       Kind = "rate_limited"       // streaming chunk rejected
)

// Retryable reports whether a failure of this kind is worth another attempt.
func (k Kind) Retryable() bool {
	switch k {
	case KindUpload, KindNetwork, KindQuotaExceeded:
		return true
	}
	return false
}

// Error is an adapter failure tagged with its taxonomy kind. It wraps the
// underlying cause for errors.Is/As inspection.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a taxonomy kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf builds a tagged error from a format string.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the taxonomy kind from err, defaulting to KindNetwork for
// untagged errors (the conservative, retryable choice) and KindTimeout for
// context deadline expiry.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindNetwork
}

// classifyHTTP maps a provider API status code to a taxonomy kind.
func classifyHTTP(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindQuotaExceeded
	case status >= 500:
		return KindNetwork
	default:
		return KindUpload
	}
}

// httpError tags an unexpected provider API response with the kind implied by
// its status code.
func httpError(op string, status int, body []byte) *Error {
	return NewError(classifyHTTP(status), fmt.Errorf("%s: status %d: %s", op, status, truncate(body, 256)))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
