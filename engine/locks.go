package engine

import "sync"

// sessionLocks hands out one mutex per session id so that ledger
// mutations and store writes for a session are serialized without a
// global lock. Entries are refcounted and dropped when unused.
type sessionLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{entries: make(map[string]*lockEntry)}
}

// Lock acquires the session's mutex and returns the matching unlock.
func (l *sessionLocks) Lock(sessID string) (unlock func()) {
	l.mu.Lock()
	ent, ok := l.entries[sessID]
	if !ok {
		ent = &lockEntry{}
		l.entries[sessID] = ent
	}
	ent.refs++
	l.mu.Unlock()

	ent.mu.Lock()
	return func() {
		ent.mu.Unlock()
		l.mu.Lock()
		ent.refs--
		if ent.refs == 0 {
			delete(l.entries, sessID)
		}
		l.mu.Unlock()
	}
}
