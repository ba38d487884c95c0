// Package mongo provides a MongoDB-backed store.Store. Use clients/mongo to
// build the low-level client and pass it to NewStore.
package mongo

import (
	"context"
	"errors"

	clientsmongo "goa.design/acontext/features/store/mongo/clients/mongo"
	"goa.design/acontext/runtime/message"
)

// Options configures the Store wrapper.
type Options struct {
	Client clientsmongo.Client
}

// Store implements store.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed message store using the provided client.
func NewStore(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: opts.Client}, nil
}

// NewStoreFromMongo instantiates the underlying client using the given
// options.
func NewStoreFromMongo(opts clientsmongo.Options) (*Store, error) {
	client, err := clientsmongo.New(opts)
	if err != nil {
		return nil, err
	}
	return NewStore(Options{Client: client})
}

// Append stores msgs at the end of the session history.
func (s *Store) Append(ctx context.Context, sessionID string, msgs ...*message.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.client.AppendMessages(ctx, sessionID, msgs)
}

// List returns the session history in chronological order.
func (s *Store) List(ctx context.Context, sessionID string) ([]*message.Message, error) {
	return s.client.ListMessages(ctx, sessionID)
}

// Client returns the underlying client, for health checks.
func (s *Store) Client() clientsmongo.Client {
	return s.client
}
