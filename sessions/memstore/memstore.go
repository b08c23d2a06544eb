// Package memstore provides an in-memory sessions.Store for tests and
// single-process deployments.
package memstore

import (
	"context"
	"sync"

	"github.com/parleyproto/parley/sessions"
)

// Store is an in-memory implementation of sessions.Store. Records are deep
// copied on every Load and Save so callers never alias store state, matching
// the isolation a persistent backend would provide.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessions.Session
}

var _ sessions.Store = (*Store)(nil)

func New() *Store {
	return &Store{sessions: make(map[string]*sessions.Session)}
}

func (s *Store) Load(ctx context.Context, id string) (*sessions.Session, error) {
	s.mu.RLock()
	rec, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) Save(ctx context.Context, sess *sessions.Session) error {
	cp := sess.Clone()
	s.mu.Lock()
	s.sessions[sess.ID] = cp
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}
