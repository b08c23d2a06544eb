package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/parleyproto/parley/sessions"
)

// SinkFunc receives each outbound message drained from the session
// queue, in order. Returning an error stops the stream; undelivered
// messages stay queued for a later exchange.
type SinkFunc func(data json.RawMessage) error

// Stream drives a suspended batch to completion: it drains the session
// queue into sink as messages appear, fails sub-requests whose
// deadlines pass, and returns once every execution in the batch has
// settled and its terminal response has been delivered.
//
// A canceled ctx abandons the stream without disturbing the
// executions; they continue detached and their results accumulate in
// the durable session queue.
func (e *Engine) Stream(ctx context.Context, out *Outcome, sink SinkFunc) error {
	sess := out.sess
	wake := e.hub.Subscribe(sess.ID)
	defer e.hub.Unsubscribe(sess.ID, wake)

	var busWake <-chan struct{}
	if e.bus != nil {
		ch, cancel, err := e.bus.Subscribe(ctx, sess.ID)
		if err != nil {
			e.log.WarnContext(ctx, "engine.wake.subscribe.fail", "sessionId", sess.ID, "err", err.Error())
		} else {
			defer cancel()
			busWake = ch
		}
	}

	for {
		e.resolveExpired(ctx, sess)
		if err := e.drainTo(ctx, sess, sink); err != nil {
			return err
		}

		if out.Settled() {
			// Terminal responses are enqueued before the batch settles;
			// one more drain picks up anything that landed after the
			// drain above.
			return e.drainTo(ctx, sess, sink)
		}

		var timer *time.Timer
		var expiry <-chan time.Time
		if deadline, ok := e.pendingDeadline(sess); ok {
			wait := time.Until(deadline)
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
			expiry = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-out.Done():
		case <-wake:
		case <-busWake:
		case <-expiry:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// DrainOutgoing atomically empties the session queue and persists the
// removal, returning the drained messages in production order.
func (e *Engine) DrainOutgoing(ctx context.Context, sess *sessions.Session) ([]json.RawMessage, error) {
	unlock := e.locks.Lock(sess.ID)
	defer unlock()
	batch := sess.DrainOutgoing()
	if batch == nil {
		return nil, nil
	}
	if err := e.store.Save(context.WithoutCancel(ctx), sess); err != nil {
		sess.RequeueOutgoing(batch)
		return nil, err
	}
	return batch, nil
}

// drainTo flushes the session queue into sink. Messages the sink did
// not take are requeued in order.
func (e *Engine) drainTo(ctx context.Context, sess *sessions.Session, sink SinkFunc) error {
	unlock := e.locks.Lock(sess.ID)
	batch := sess.DrainOutgoing()
	var saveErr error
	if batch != nil {
		saveErr = e.store.Save(context.WithoutCancel(ctx), sess)
	}
	unlock()
	if saveErr != nil {
		e.log.ErrorContext(ctx, "session.save.fail", "sessionId", sess.ID, "err", saveErr)
	}

	for i, msg := range batch {
		if err := sink(msg); err != nil {
			unlock := e.locks.Lock(sess.ID)
			sess.RequeueOutgoing(batch[i:])
			if reqErr := e.store.Save(context.WithoutCancel(ctx), sess); reqErr != nil {
				e.log.ErrorContext(ctx, "session.save.fail", "sessionId", sess.ID, "err", reqErr)
			}
			unlock()
			return err
		}
	}
	return nil
}

func (e *Engine) pendingDeadline(sess *sessions.Session) (time.Time, bool) {
	unlock := e.locks.Lock(sess.ID)
	defer unlock()
	return sess.NextDeadline()
}
