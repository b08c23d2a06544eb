// Package parley wires the pieces of a session-correlated suspend/resume
// protocol server together: a durable session store, an engine that
// suspends handler executions on client sub-requests, and an HTTP
// transport that picks between an immediate JSON reply and a
// Server-Sent-Events stream.
//
// Most programs only need NewHandler:
//
//	h, err := parley.NewHandler(ctx, "https://example.com/rpc",
//		memstore.New(), myHandler, myAuthenticator)
//	http.ListenAndServe(":8080", h)
package parley

import (
	"context"
	"net/http"

	"github.com/parleyproto/parley/auth"
	"github.com/parleyproto/parley/engine"
	"github.com/parleyproto/parley/sessions"
	"github.com/parleyproto/parley/streaminghttp"
)

// Handler is implemented by the application side of the protocol; see
// [engine.Handler].
type Handler = engine.Handler

// HandlerFunc adapts a function into a request-only [Handler].
type HandlerFunc = engine.HandlerFunc

// Client is a handler's channel back to the remote caller; see
// [engine.Client].
type Client = engine.Client

// Request is an inbound message handed to a handler.
type Request = engine.Request

// NewHandler builds an HTTP handler serving the protocol endpoint at
// publicEndpoint, backed by the given store, application handler and
// authenticator.
func NewHandler(ctx context.Context, publicEndpoint string, store sessions.Store, handler Handler, authenticator auth.Authenticator, opts ...streaminghttp.Option) (http.Handler, error) {
	return streaminghttp.New(ctx, publicEndpoint, store, handler, authenticator, opts...)
}
