package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/parleyproto/parley/internal/jsonrpc"
	"github.com/parleyproto/parley/sessions"
)

// Outcome describes what Dispatch did with a batch: which session
// instance the surviving executions mutate, whether any of them
// suspended, and a channel that closes when the last one settles.
type Outcome struct {
	eng  *Engine
	sess *sessions.Session

	// borrowed is set before the Outcome escapes Dispatch and is
	// read-only afterwards.
	borrowed bool

	suspended atomic.Bool
	ended     atomic.Bool

	mu        sync.Mutex
	execs     []*execution
	remaining int
	doneCh    chan struct{}
}

func newOutcome(e *Engine, sess *sessions.Session) *Outcome {
	return &Outcome{eng: e, sess: sess, doneCh: make(chan struct{})}
}

// Session returns the live session instance the executions write to.
func (o *Outcome) Session() *sessions.Session { return o.sess }

// Suspended reports whether any execution in the batch suspended on a
// sub-request at least once. Transports use it to choose between an
// immediate reply and a streamed one.
func (o *Outcome) Suspended() bool { return o.suspended.Load() }

// Borrowed reports whether the batch attached to a session that already
// had a live streaming batch. Its messages were routed to that batch's
// session instance, so anything it put on the queue belongs to the live
// stream and the dispatching exchange must not drain it.
func (o *Outcome) Borrowed() bool { return o.borrowed }

// Done closes when every execution started by the batch has settled
// and its terminal response has been enqueued on the session.
func (o *Outcome) Done() <-chan struct{} { return o.doneCh }

// Settled reports without blocking whether all executions finished.
func (o *Outcome) Settled() bool {
	select {
	case <-o.doneCh:
		return true
	default:
		return false
	}
}

func (o *Outcome) execFinished() {
	o.mu.Lock()
	o.remaining--
	last := o.remaining == 0
	o.mu.Unlock()
	if last {
		o.eng.releaseActive(o.sess.ID, o)
		close(o.doneCh)
	}
}

// execution is one handler invocation for one inbound request.
type execution struct {
	out    *Outcome
	req    *jsonrpc.Request
	cancel context.CancelCauseFunc

	suspendOnce sync.Once
	suspendedCh chan struct{}

	doneOnce sync.Once
	done     chan struct{}
}

func newExecution(o *Outcome, req *jsonrpc.Request, cancel context.CancelCauseFunc) *execution {
	return &execution{
		out:         o,
		req:         req,
		cancel:      cancel,
		suspendedCh: make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// markSuspended records the first suspension and unblocks Dispatch's
// wait for this execution.
func (ex *execution) markSuspended() {
	ex.out.suspended.Store(true)
	ex.suspendOnce.Do(func() { close(ex.suspendedCh) })
}

// waitSuspendedOrDone blocks until the execution either suspends for
// the first time or settles, so Dispatch can decide the response shape
// before the transport commits to a status code.
func (ex *execution) waitSuspendedOrDone() {
	select {
	case <-ex.suspendedCh:
	case <-ex.done:
	}
}
