// Package membus is a process-local WakeBus. It exists for tests and
// for embedding several handlers in one process; it cannot reach
// subscribers in other processes.
package membus

import (
	"context"
	"sync"

	"github.com/parleyproto/parley/broker"
)

type Bus struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

var _ broker.WakeBus = (*Bus)(nil)

func New() *Bus {
	return &Bus{subs: make(map[string]map[chan struct{}]struct{})}
}

func (b *Bus) Publish(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[sessionID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, sessionID string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	set, found := b.subs[sessionID]
	if !found {
		set = make(map[chan struct{}]struct{})
		b.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, found := b.subs[sessionID]; found {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, sessionID)
			}
		}
	}
	return ch, cancel, nil
}
