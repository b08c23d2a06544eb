package engine

import "sync"

// wakeHub fans session activity out to the stream drivers watching
// that session. A driver subscribes while it streams; enqueuing a
// message, resolving a pending entry or finishing an execution wakes
// it so it can drain immediately instead of polling on a timer.
type wakeHub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func newWakeHub() *wakeHub {
	return &wakeHub{subs: make(map[string]map[chan struct{}]struct{})}
}

func (h *wakeHub) Subscribe(sessID string) chan struct{} {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	set, ok := h.subs[sessID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.subs[sessID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *wakeHub) Unsubscribe(sessID string, ch chan struct{}) {
	h.mu.Lock()
	if set, ok := h.subs[sessID]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(h.subs, sessID)
		}
	}
	h.mu.Unlock()
}

// Wake nudges every subscriber without blocking; a subscriber that
// already has a wake queued does not need another.
func (h *wakeHub) Wake(sessID string) {
	h.mu.Lock()
	for ch := range h.subs[sessID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	h.mu.Unlock()
}
