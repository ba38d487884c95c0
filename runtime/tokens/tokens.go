// Package tokens defines the token counting collaborator used by the editing
// pipeline and a deterministic offline estimator.
package tokens

import (
	"context"
	"errors"

	"goa.design/acontext/runtime/message"
)

type (
	// Counter returns the number of tokens the given parts consume.
	// Implementations must be safe for concurrent use.
	Counter interface {
		Count(ctx context.Context, parts ...message.Part) (int, error)
	}

	// CounterFunc adapts a function to Counter.
	CounterFunc func(ctx context.Context, parts ...message.Part) (int, error)
)

var (
	// ErrUnavailable indicates the counter could not produce a count.
	// Callers treat the affected parts as costing zero tokens.
	ErrUnavailable = errors.New("token counter unavailable")

	// ErrRateLimited indicates a remote counter rejected the request for
	// exceeding its rate limit. Remote counters return it joined with
	// ErrUnavailable.
	ErrRateLimited = errors.New("token counter rate limited")
)

// Count implements Counter.
func (f CounterFunc) Count(ctx context.Context, parts ...message.Part) (int, error) {
	return f(ctx, parts...)
}

// CountMessage sums the tokens of every part of m.
func CountMessage(ctx context.Context, c Counter, m *message.Message) (int, error) {
	return c.Count(ctx, m.Parts...)
}
