package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parleyproto/parley/elicit"
	"github.com/parleyproto/parley/internal/jsonrpc"
)

// MethodElicit is the sub-request method used by [Client.Elicit].
const MethodElicit = "client/elicit"

// Client is a handler's channel back to the client that opened the
// session. Calls suspend the handler until the client answers on a
// later exchange; notifications are fire-and-forget.
type Client interface {
	// Call issues a sub-request and blocks until the client's reply
	// arrives, the sub-request times out, ctx is canceled, or the
	// session ends. A reply carrying an error surfaces as
	// [*ClientError]; a timeout as [*RequestTimedOutError].
	Call(ctx context.Context, method string, params any, opts ...CallOption) (json.RawMessage, error)

	// Notify enqueues a notification for the client without awaiting
	// anything.
	Notify(ctx context.Context, method string, params any) error

	// Elicit asks the client for structured input shaped like out. On
	// accept, the content is decoded into out.
	Elicit(ctx context.Context, message string, out any, opts ...CallOption) (elicit.Action, error)
}

type callConfig struct {
	timeout time.Duration
}

// CallOption adjusts a single sub-request.
type CallOption func(*callConfig)

// WithTimeout overrides the engine's default reply deadline for one
// sub-request.
func WithTimeout(d time.Duration) CallOption {
	return func(c *callConfig) { c.timeout = d }
}

// clientCaller is the Client handed to handlers. ex is nil for
// notification handlers, which may notify but not call.
type clientCaller struct {
	eng *Engine
	out *Outcome
	ex  *execution
}

func (c *clientCaller) Call(ctx context.Context, method string, params any, opts ...CallOption) (json.RawMessage, error) {
	if c.ex == nil {
		return nil, errors.New("notification handlers cannot issue sub-requests")
	}

	cfg := callConfig{timeout: c.eng.callTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	corr := uuid.NewString()
	req, err := jsonrpc.NewRequest(jsonrpc.NewID(corr), method, params)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal sub-request: %w", err)
	}

	sess := c.out.sess

	// The waiter must exist before the sub-request becomes visible to
	// any client, or an instant answer could race past us.
	waiter := c.eng.addWaiter(sess.ID, corr)

	unlock := c.eng.locks.Lock(sess.ID)
	sess.AddPending(corr, cfg.timeout, method)
	sess.EnqueueOutgoing(b)
	sess.Touch(time.Now())
	saveErr := c.eng.store.Save(context.WithoutCancel(ctx), sess)
	unlock()
	if saveErr != nil {
		c.eng.removeWaiter(sess.ID, corr)
		return nil, fmt.Errorf("persist sub-request: %w", saveErr)
	}

	c.eng.log.InfoContext(ctx, "engine.call.start",
		"sessionId", sess.ID, "correlationId", corr, "method", method)

	c.eng.wake(ctx, sess.ID)
	c.ex.markSuspended()

	select {
	case res := <-waiter:
		if res.err != nil {
			c.eng.log.InfoContext(ctx, "engine.call.fail",
				"sessionId", sess.ID, "correlationId", corr, "err", res.err)
			return nil, res.err
		}
		c.eng.log.InfoContext(ctx, "engine.call.ok",
			"sessionId", sess.ID, "correlationId", corr)
		return res.raw, nil
	case <-ctx.Done():
		c.eng.removeWaiter(sess.ID, corr)
		c.eng.abandonPending(sess.ID, corr)
		return nil, context.Cause(ctx)
	}
}

func (c *clientCaller) Notify(ctx context.Context, method string, params any) error {
	note, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	b, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	sess := c.out.sess
	unlock := c.eng.locks.Lock(sess.ID)
	sess.EnqueueOutgoing(b)
	sess.Touch(time.Now())
	saveErr := c.eng.store.Save(context.WithoutCancel(ctx), sess)
	unlock()
	if saveErr != nil {
		return fmt.Errorf("persist notification: %w", saveErr)
	}

	c.eng.wake(ctx, sess.ID)
	return nil
}

func (c *clientCaller) Elicit(ctx context.Context, message string, out any, opts ...CallOption) (elicit.Action, error) {
	schema, err := elicit.SchemaFor(out)
	if err != nil {
		return "", err
	}

	raw, err := c.Call(ctx, MethodElicit, &elicit.Request{Message: message, Schema: schema}, opts...)
	if err != nil {
		return "", err
	}

	var res elicit.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("decode elicitation reply: %w", err)
	}
	switch res.Action {
	case elicit.ActionAccept:
		if err := elicit.DecodeInto(res.Content, out); err != nil {
			return res.Action, err
		}
	case elicit.ActionDecline, elicit.ActionCancel:
	default:
		return "", fmt.Errorf("elicitation reply carried unknown action %q", res.Action)
	}
	return res.Action, nil
}
