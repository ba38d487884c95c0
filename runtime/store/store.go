// Package store defines the message persistence boundary used by ingestion
// and retrieval. Durability and transactions belong to implementations.
package store

import (
	"context"
	"errors"

	"goa.design/acontext/runtime/message"
)

// Store persists canonical messages per session.
type Store interface {
	// Append stores msgs at the end of the session history. Messages must
	// carry an id and a creation time.
	Append(ctx context.Context, sessionID string, msgs ...*message.Message) error
	// List returns the session history in chronological order. An unknown
	// session yields an empty history.
	List(ctx context.Context, sessionID string) ([]*message.Message, error)
}

// ErrDuplicateMessage is returned when a message id is already stored.
var ErrDuplicateMessage = errors.New("duplicate message id")
