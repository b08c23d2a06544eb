// Package broker carries cross-node wake signals for sessions. A single
// process never needs one: the engine's in-process hub already wakes
// local stream drivers. Behind a load balancer, an answer can land on a
// node other than the one holding the stream, and a WakeBus is what
// lets the first node nudge the second.
package broker

import "context"

// WakeBus distributes per-session wake signals between nodes. Signals
// are advisory and carry no payload: a woken driver re-reads session
// state from the store, so coalesced or spurious wakes are harmless.
type WakeBus interface {
	// Publish signals activity on the session to every subscriber,
	// including those on other nodes.
	Publish(ctx context.Context, sessionID string) error

	// Subscribe returns a channel that receives after each Publish for
	// the session. The channel coalesces: a slow reader sees at least
	// one delivery for any burst of publishes. The cancel func releases
	// the subscription and must be called exactly once.
	Subscribe(ctx context.Context, sessionID string) (ch <-chan struct{}, cancel func(), err error)
}
