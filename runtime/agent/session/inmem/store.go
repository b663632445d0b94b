// Package inmem provides an in-memory implementation of session.Store.
//
// It is intended for tests, local development and single-instance
// deployments. Use features/session/redis to share history across instances.
package inmem

import (
	"context"
	"slices"
	"sync"

	"github.com/helioai/lio-agent/runtime/agent/session"
)

type (
	// Store is an in-memory implementation of session.Store.
	// It is safe for concurrent use.
	Store struct {
		mu      sync.RWMutex
		limit   int
		history map[string][]session.Message
	}
)

var _ session.Store = (*Store)(nil)

// New returns an empty Store retaining at most limit messages per session.
// A limit <= 0 uses session.DefaultLimit.
func New(limit int) *Store {
	if limit <= 0 {
		limit = session.DefaultLimit
	}
	return &Store{
		limit:   limit,
		history: make(map[string][]session.Message),
	}
}

// Append implements session.Store.
func (s *Store) Append(_ context.Context, sessionID string, msg session.Message) error {
	if sessionID == "" {
		return session.ErrSessionIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.history[sessionID]
	if slices.ContainsFunc(msgs, func(m session.Message) bool { return session.SameEntry(m, msg) }) {
		return nil
	}
	msgs = append(msgs, msg)
	if over := len(msgs) - s.limit; over > 0 {
		msgs = slices.Clone(msgs[over:])
	}
	s.history[sessionID] = msgs
	return nil
}

// History implements session.Store.
func (s *Store) History(_ context.Context, sessionID string, limit int) ([]session.Message, error) {
	if sessionID == "" {
		return nil, session.ErrSessionIDRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.history[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return slices.Clone(msgs), nil
}

// Clear implements session.Store.
func (s *Store) Clear(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return session.ErrSessionIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.history, sessionID)
	return nil
}
