// Package authtest provides trivial authenticators for tests and local
// development.
package authtest

import (
	"context"

	"github.com/parleyproto/parley/auth"
)

// NoAuth accepts every request as the configured user. Use only in
// tests and development environments.
type NoAuth struct {
	UserID string
}

var _ auth.Authenticator = (*NoAuth)(nil)

// NewNoAuth creates a NoAuth authenticator. An empty userID defaults to
// "test-user".
func NewNoAuth(userID string) *NoAuth {
	if userID == "" {
		userID = "test-user"
	}
	return &NoAuth{UserID: userID}
}

func (n *NoAuth) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	return &noAuthUserInfo{userID: n.UserID}, nil
}

type noAuthUserInfo struct {
	userID string
}

func (n *noAuthUserInfo) UserID() string { return n.userID }

func (n *noAuthUserInfo) Claims(ref any) error { return nil }
