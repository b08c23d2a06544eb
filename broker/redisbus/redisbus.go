// Package redisbus implements the wake bus on Redis pub/sub. Each
// session gets its own channel; wake signals are empty messages, so
// the bus carries no session state and nothing needs replaying after
// a reconnect.
package redisbus

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/parleyproto/parley/broker"
)

const defaultChannelPrefix = "parley:wake:"

type Bus struct {
	client        redis.UniversalClient
	channelPrefix string
}

var _ broker.WakeBus = (*Bus)(nil)

type Option func(*Bus)

// WithChannelPrefix overrides the pub/sub channel prefix. All nodes
// sharing a session store must agree on it.
func WithChannelPrefix(p string) Option {
	return func(b *Bus) { b.channelPrefix = p }
}

func New(client redis.UniversalClient, opts ...Option) *Bus {
	b := &Bus{client: client, channelPrefix: defaultChannelPrefix}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) channel(sessionID string) string {
	return b.channelPrefix + sessionID
}

func (b *Bus) Publish(ctx context.Context, sessionID string) error {
	return b.client.Publish(ctx, b.channel(sessionID), "").Err()
}

func (b *Bus) Subscribe(ctx context.Context, sessionID string) (<-chan struct{}, func(), error) {
	sub := b.client.Subscribe(ctx, b.channel(sessionID))
	// Force the subscription onto the wire before returning so a wake
	// published immediately after cannot be missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	// ch is never closed: a closed channel would spin any select
	// waiting on it. A dropped subscription simply goes quiet, and the
	// engine's expiry timers keep the driver making progress.
	ch := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		msgs := sub.Channel()
		for {
			select {
			case <-done:
				return
			case _, open := <-msgs:
				if !open {
					return
				}
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()

	cancel := func() {
		close(done)
		_ = sub.Close()
	}
	return ch, cancel, nil
}
