// Package redistore persists sessions as JSON blobs in Redis with a sliding
// TTL, suitable for horizontally scaled deployments where any instance may
// serve any request of a conversation.
package redistore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/parleyproto/parley/sessions"
	"github.com/redis/go-redis/v9"
)

const defaultTTL = 1 * time.Hour

// Store is a Redis-backed sessions.Store.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

var _ sessions.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the sliding per-session TTL (default 1h).
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithKeyPrefix overrides the key namespace (default "parley:sess:").
func WithKeyPrefix(p string) Option {
	return func(s *Store) { s.keyPrefix = p }
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, keyPrefix: "parley:sess:", ttl: defaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(id string) string {
	return s.keyPrefix + id
}

func (s *Store) Load(ctx context.Context, id string) (*sessions.Session, error) {
	b, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sessions.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get session %s: %w", id, err)
	}
	var rec sessions.Session
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	// Sliding expiration: a read keeps an active conversation alive.
	_ = s.client.Expire(ctx, s.key(id), s.ttl).Err()
	return &rec, nil
}

func (s *Store) Save(ctx context.Context, sess *sessions.Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	if err := s.client.Set(ctx, s.key(sess.ID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("redis del session %s: %w", id, err)
	}
	return nil
}
