package sessions

import (
	"context"
	"errors"
)

// ErrSessionNotFound is returned by Store.Load for unknown or expired ids.
var ErrSessionNotFound = errors.New("session not found")

// Store persists sessions by id. Implementations must be safe for concurrent
// use and must make a Save visible to the next Load, including a Load issued
// by another process for the distributed backends. No transactional
// guarantees are required beyond per-id read-modify-write.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, id string) error
}
