// Package llm defines the reasoning service abstraction used by graph nodes,
// a Gemini implementation built on eino, a scriptable mock, and helpers
// for pulling JSON out of free-form model output.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Client is a reasoning service.
type Client interface {
	// Complete runs one completion. Implementations must honor ctx
	// cancellation and return *Error for service failures.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ErrNoClient is returned by nodes that need a reasoning service when none
// is configured.
var ErrNoClient = errors.New("llm: no client configured")

// Error wraps a failed completion with the operation name and whether a
// retry could succeed.
type Error struct {
	Op        string
	Err       error
	Retryable bool
}

// NewError creates an Error.
func NewError(op string, err error, retryable bool) *Error {
	return &Error{Op: op, Err: err, Retryable: retryable}
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is an *Error marked retryable.
func IsRetryable(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}
