// Package genai provides the generation capability used by the decomposition
// and elaboration stages. Both roles share one polymorphic client routed
// through the rate limiter, differing only in prompt shape and response
// schema.
package genai

import (
	"context"
	"errors"
	"fmt"

	"github.com/procflow-ai/procflow/internal/ratelimit"
)

// Request describes one generation call.
type Request struct {
	// Role selects the rate-limiter budget and classifies the call.
	Role ratelimit.Role
	// Model optionally overrides the client's configured model.
	Model string
	// System is the system prompt, may be empty.
	System string
	// Prompt is the user-visible prompt context.
	Prompt string
	// MaxTokens caps the response length. Zero means the client default.
	MaxTokens int64
}

// Response is the raw text outcome of a generation call. Stages parse it
// into their structured shapes.
type Response struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Generator is the abstract generation capability.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// CallError classifies a failed generation call as transient (retryable:
// timeouts, rate rejection, 5xx-equivalent) or permanent (malformed or
// invalid response, 4xx-equivalent).
type CallError struct {
	// Transient reports whether the caller may retry.
	Transient bool
	// Reason is a short machine-friendly label (e.g. "timeout",
	// "rate_limited", "api_status_500").
	Reason string
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	class := "permanent"
	if e.Transient {
		class = "transient"
	}
	if e.Err != nil {
		return fmt.Sprintf("genai: %s call failure (%s): %v", class, e.Reason, e.Err)
	}
	return fmt.Sprintf("genai: %s call failure (%s)", class, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *CallError) Unwrap() error { return e.Err }

// TransientError builds a retryable call error.
func TransientError(reason string, err error) *CallError {
	return &CallError{Transient: true, Reason: reason, Err: err}
}

// PermanentError builds a non-retryable call error.
func PermanentError(reason string, err error) *CallError {
	return &CallError{Transient: false, Reason: reason, Err: err}
}

// IsTransient reports whether err is a retryable call failure. Context
// cancellation is never treated as transient: the caller is shutting down.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Transient
	}
	return false
}
