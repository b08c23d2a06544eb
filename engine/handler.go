package engine

import (
	"context"
	"encoding/json"

	"github.com/parleyproto/parley/sessions"
)

// Request is an inbound client message handed to a [Handler].
type Request struct {
	// Method names the operation the client invoked.
	Method string
	// Params is the raw parameter payload, nil when absent.
	Params json.RawMessage
	// ID is the string form of the request's correlation id. It is
	// empty for notifications.
	ID string
	// Session is the session the request arrived on. Handlers must
	// treat it as read-only; durable state changes go through
	// [Client] calls or session metadata before dispatch.
	Session *sessions.Session
}

// Handler implements the application side of the protocol.
//
// HandleRequest runs on its own goroutine and may block on [Client]
// sub-requests for as long as its context allows; the engine keeps the
// session's streams alive while it does. The returned value is
// serialized as the request's result. Returning a [*Error] controls
// the error object put on the wire; any other error is reported to the
// client as an internal error and logged with its detail server-side.
type Handler interface {
	HandleRequest(ctx context.Context, client Client, req *Request) (any, error)
	HandleNotification(ctx context.Context, client Client, req *Request) error
}

// HandlerFunc adapts a function to a request-only [Handler];
// notifications are ignored.
type HandlerFunc func(ctx context.Context, client Client, req *Request) (any, error)

func (f HandlerFunc) HandleRequest(ctx context.Context, client Client, req *Request) (any, error) {
	return f(ctx, client, req)
}

func (f HandlerFunc) HandleNotification(context.Context, Client, *Request) error {
	return nil
}
