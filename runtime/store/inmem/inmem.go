// Package inmem provides an in-memory store.Store for tests and single
// process deployments.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"goa.design/acontext/runtime/message"
	"goa.design/acontext/runtime/store"
)

// Store keeps session histories in memory. Messages are cloned on the way in
// and out so callers never share state with the store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string][]*message.Message
	ids      map[string]struct{}
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string][]*message.Message),
		ids:      make(map[string]struct{}),
	}
}

// Append implements store.Store. Either every message is stored or none.
func (s *Store) Append(_ context.Context, sessionID string, msgs ...*message.Message) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m == nil || m.ID == "" {
			return errors.New("message id is required")
		}
		if _, ok := s.ids[m.ID]; ok {
			return fmt.Errorf("%w: %s", store.ErrDuplicateMessage, m.ID)
		}
		if _, ok := seen[m.ID]; ok {
			return fmt.Errorf("%w: %s", store.ErrDuplicateMessage, m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	for _, m := range msgs {
		s.ids[m.ID] = struct{}{}
		s.sessions[sessionID] = append(s.sessions[sessionID], m.Clone())
	}
	return nil
}

// List implements store.Store.
func (s *Store) List(_ context.Context, sessionID string) ([]*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return message.CloneAll(s.sessions[sessionID]), nil
}
