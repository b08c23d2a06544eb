package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyproto/parley/broker"
	"github.com/parleyproto/parley/internal/jsonrpc"
	"github.com/parleyproto/parley/sessions"
)

// DefaultSubRequestTimeout bounds how long a sub-request waits for a
// client reply when the caller does not override it.
const DefaultSubRequestTimeout = 120 * time.Second

// Engine correlates inbound client messages with the handler
// executions and suspended sub-requests of each session.
type Engine struct {
	store       sessions.Store
	handler     Handler
	log         *slog.Logger
	callTimeout time.Duration

	locks *sessionLocks
	hub   *wakeHub
	bus   broker.WakeBus

	mu      sync.Mutex
	active  map[string]*Outcome
	waiters map[waiterKey]chan waitResult
}

type waiterKey struct {
	sessID string
	corrID string
}

type waitResult struct {
	raw json.RawMessage
	err error
}

// Option adjusts a new Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithSubRequestTimeout sets the default reply deadline for
// sub-requests issued without an explicit timeout.
func WithSubRequestTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// WithWakeBus adds a cross-node wake bus. Session activity is published
// to the bus in addition to the in-process hub, and stream drivers
// subscribe to it, so an answer landing on one node wakes a stream held
// by another. Single-node deployments do not need one.
func WithWakeBus(bus broker.WakeBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// New builds an engine over the given session store and handler.
func New(store sessions.Store, handler Handler, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		handler:     handler,
		log:         slog.Default(),
		callTimeout: DefaultSubRequestTimeout,
		locks:       newSessionLocks(),
		hub:         newWakeHub(),
		active:      make(map[string]*Outcome),
		waiters:     make(map[waiterKey]chan waitResult),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateSession mints a fresh session, stamps it with the given
// metadata and persists the record.
func (e *Engine) CreateSession(ctx context.Context, meta map[string]string) (*sessions.Session, error) {
	sess := sessions.New(uuid.NewString())
	for k, v := range meta {
		sess.SetMeta(k, v)
	}
	if err := e.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist new session: %w", err)
	}
	e.log.InfoContext(ctx, "session.create", "sessionId", sess.ID)
	return sess, nil
}

// LoadSession fetches a session by id. A missing or expired id yields
// [sessions.ErrSessionNotFound].
func (e *Engine) LoadSession(ctx context.Context, id string) (*sessions.Session, error) {
	return e.store.Load(ctx, id)
}

// Dispatch feeds a decoded batch into the session: answers resolve
// suspended sub-requests, notifications invoke the handler inline, and
// requests each start a handler execution. It returns once every
// started execution has either suspended at least once or settled, so
// the transport can pick its response shape.
//
// While a session has an execution in flight, further batches carrying
// requests are refused with [ErrSessionBusy]; answer-only and
// notification-only batches are routed to the live execution's session
// instance instead of the freshly loaded copy.
func (e *Engine) Dispatch(ctx context.Context, sess *sessions.Session, msgs []*jsonrpc.AnyMessage) (*Outcome, error) {
	nReq := 0
	for _, m := range msgs {
		if m.Kind() == jsonrpc.KindRequest {
			nReq++
		}
	}

	e.mu.Lock()
	borrowed := false
	if live, ok := e.active[sess.ID]; ok {
		if nReq > 0 {
			e.mu.Unlock()
			return nil, ErrSessionBusy
		}
		sess = live.sess
		borrowed = true
	}
	out := newOutcome(e, sess)
	out.borrowed = borrowed
	out.remaining = nReq
	if nReq > 0 {
		e.active[sess.ID] = out
	}
	e.mu.Unlock()

	var started []*execution
	for _, m := range msgs {
		switch m.Kind() {
		case jsonrpc.KindResponse:
			e.resolveAnswer(ctx, sess, m.AsResponse())
		case jsonrpc.KindNotification:
			e.runNotification(ctx, out, m.AsRequest())
		case jsonrpc.KindRequest:
			started = append(started, e.startExecution(ctx, out, m.AsRequest()))
		}
	}

	if nReq == 0 {
		close(out.doneCh)
		return out, nil
	}
	for _, ex := range started {
		ex.waitSuspendedOrDone()
	}
	return out, nil
}

// EndSession cancels the session's executions, fails its suspended
// callers and deletes the stored record.
func (e *Engine) EndSession(ctx context.Context, id string) error {
	e.mu.Lock()
	out := e.active[id]
	delete(e.active, id)
	var orphaned []chan waitResult
	for k, ch := range e.waiters {
		if k.sessID == id {
			delete(e.waiters, k)
			orphaned = append(orphaned, ch)
		}
	}
	e.mu.Unlock()

	if out != nil {
		out.ended.Store(true)
		out.mu.Lock()
		execs := make([]*execution, len(out.execs))
		copy(execs, out.execs)
		out.mu.Unlock()
		for _, ex := range execs {
			ex.cancel(ErrSessionEnded)
		}
	}
	for _, ch := range orphaned {
		ch <- waitResult{err: ErrSessionEnded}
	}

	unlock := e.locks.Lock(id)
	err := e.store.Delete(ctx, id)
	unlock()
	e.wake(ctx, id)
	if err != nil {
		return err
	}
	e.log.InfoContext(ctx, "session.end", "sessionId", id)
	return nil
}

// wake nudges every stream driver watching the session, local and (when
// a bus is configured) remote. Failures to reach the bus are logged and
// swallowed: remote drivers still observe progress via expiry timers.
func (e *Engine) wake(ctx context.Context, sessID string) {
	e.hub.Wake(sessID)
	if e.bus != nil {
		if err := e.bus.Publish(ctx, sessID); err != nil {
			e.log.WarnContext(ctx, "engine.wake.publish.fail", "sessionId", sessID, "err", err.Error())
		}
	}
}

func (e *Engine) releaseActive(sessID string, out *Outcome) {
	e.mu.Lock()
	if e.active[sessID] == out {
		delete(e.active, sessID)
	}
	e.mu.Unlock()
}

func (e *Engine) addWaiter(sessID, corrID string) chan waitResult {
	ch := make(chan waitResult, 1)
	e.mu.Lock()
	e.waiters[waiterKey{sessID, corrID}] = ch
	e.mu.Unlock()
	return ch
}

func (e *Engine) removeWaiter(sessID, corrID string) {
	e.mu.Lock()
	delete(e.waiters, waiterKey{sessID, corrID})
	e.mu.Unlock()
}

// deliver hands a result to the waiter for the given correlation id,
// if one is still registered. The waiter channel is buffered and each
// key is delivered at most once, so the send cannot block.
func (e *Engine) deliver(sessID, corrID string, res waitResult) bool {
	e.mu.Lock()
	key := waiterKey{sessID, corrID}
	ch, ok := e.waiters[key]
	if ok {
		delete(e.waiters, key)
	}
	e.mu.Unlock()
	if ok {
		ch <- res
	}
	return ok
}

// abandonPending drops a ledger entry whose caller gave up, so the
// drivers stop tracking a deadline nobody is waiting on.
func (e *Engine) abandonPending(sessID, corrID string) {
	e.mu.Lock()
	out := e.active[sessID]
	e.mu.Unlock()
	if out == nil {
		return
	}
	unlock := e.locks.Lock(sessID)
	if out.sess.ResolvePending(corrID) {
		if err := e.store.Save(context.Background(), out.sess); err != nil {
			e.log.Error("session.save.fail", "sessionId", sessID, "err", err)
		}
	}
	unlock()
}

// resolveAnswer settles the pending ledger entry an inbound response
// correlates with and wakes its suspended caller. Answers that match
// nothing, including replays of an already settled correlation id, are
// logged and dropped.
func (e *Engine) resolveAnswer(ctx context.Context, sess *sessions.Session, resp *jsonrpc.Response) {
	corrID := resp.ID.String()
	if corrID == "" {
		e.log.WarnContext(ctx, "engine.answer.unkeyed", "sessionId", sess.ID)
		return
	}

	unlock := e.locks.Lock(sess.ID)
	resolved := sess.ResolvePending(corrID)
	var saveErr error
	if resolved {
		sess.Touch(time.Now())
		saveErr = e.store.Save(context.WithoutCancel(ctx), sess)
	}
	unlock()
	if saveErr != nil {
		e.log.ErrorContext(ctx, "session.save.fail", "sessionId", sess.ID, "err", saveErr)
	}
	if !resolved {
		e.log.InfoContext(ctx, "engine.answer.stale",
			"sessionId", sess.ID, "correlationId", corrID)
		return
	}

	var res waitResult
	if resp.Error != nil {
		res.err = clientErrorFrom(resp.Error)
	} else {
		res.raw = resp.Result
	}
	e.deliver(sess.ID, corrID, res)
	e.wake(ctx, sess.ID)
}

// resolveExpired fails every pending entry whose deadline has passed,
// delivering a timeout error to its suspended caller.
func (e *Engine) resolveExpired(ctx context.Context, sess *sessions.Session) {
	now := time.Now()

	unlock := e.locks.Lock(sess.ID)
	expired := sess.ListExpired(now)
	var saveErr error
	if len(expired) > 0 {
		for _, corrID := range expired {
			sess.ResolvePending(corrID)
		}
		saveErr = e.store.Save(context.WithoutCancel(ctx), sess)
	}
	unlock()
	if saveErr != nil {
		e.log.ErrorContext(ctx, "session.save.fail", "sessionId", sess.ID, "err", saveErr)
	}

	for _, corrID := range expired {
		e.log.WarnContext(ctx, "engine.call.timeout",
			"sessionId", sess.ID, "correlationId", corrID)
		e.deliver(sess.ID, corrID, waitResult{err: &RequestTimedOutError{CorrelationID: corrID}})
	}
}

func (e *Engine) runNotification(ctx context.Context, out *Outcome, note *jsonrpc.Request) {
	req := &Request{Method: note.Method, Params: note.Params, Session: out.sess}
	client := &clientCaller{eng: e, out: out}
	if err := e.handler.HandleNotification(ctx, client, req); err != nil {
		e.log.WarnContext(ctx, "engine.notify.fail",
			"sessionId", out.sess.ID, "method", note.Method, "err", err)
	}
}

// startExecution runs the handler on its own goroutine under a context
// detached from the dispatching exchange, so an execution outlives an
// abandoned stream and its result still lands in the session queue.
func (e *Engine) startExecution(ctx context.Context, out *Outcome, req *jsonrpc.Request) *execution {
	execCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	ex := newExecution(out, req, cancel)
	out.mu.Lock()
	out.execs = append(out.execs, ex)
	out.mu.Unlock()
	go e.runExecution(execCtx, ex)
	return ex
}

func (e *Engine) runExecution(ctx context.Context, ex *execution) {
	out := ex.out
	req := &Request{
		Method:  ex.req.Method,
		Params:  ex.req.Params,
		ID:      ex.req.ID.String(),
		Session: out.sess,
	}
	client := &clientCaller{eng: e, out: out, ex: ex}

	e.log.InfoContext(ctx, "engine.request.start",
		"sessionId", out.sess.ID, "method", req.Method, "requestId", req.ID)

	result, err := e.handler.HandleRequest(ctx, client, req)

	var resp *jsonrpc.Response
	if err != nil {
		e.log.WarnContext(ctx, "engine.request.fail",
			"sessionId", out.sess.ID, "method", req.Method, "requestId", req.ID, "err", err)
		resp = &jsonrpc.Response{JSONRPCVersion: jsonrpc.Version, Error: respError(err), ID: ex.req.ID}
	} else {
		resp, err = jsonrpc.NewResultResponse(ex.req.ID, result)
		if err != nil {
			e.log.ErrorContext(ctx, "engine.result.marshal.fail",
				"sessionId", out.sess.ID, "method", req.Method, "err", err)
			resp = jsonrpc.NewErrorResponse(ex.req.ID, jsonrpc.CodeInternalError, "internal error", nil)
		}
	}

	e.finishExecution(ctx, ex, resp)
}

// finishExecution enqueues the terminal response before signaling
// completion, so a draining driver always observes the result as the
// session queue's final message.
func (e *Engine) finishExecution(ctx context.Context, ex *execution, resp *jsonrpc.Response) {
	out := ex.out
	if !out.ended.Load() {
		b, err := json.Marshal(resp)
		if err != nil {
			e.log.ErrorContext(ctx, "engine.response.marshal.fail",
				"sessionId", out.sess.ID, "err", err)
			b, _ = json.Marshal(jsonrpc.NewErrorResponse(ex.req.ID, jsonrpc.CodeInternalError, "internal error", nil))
		}

		unlock := e.locks.Lock(out.sess.ID)
		out.sess.EnqueueOutgoing(b)
		out.sess.Touch(time.Now())
		saveErr := e.store.Save(context.WithoutCancel(ctx), out.sess)
		unlock()
		if saveErr != nil {
			e.log.ErrorContext(ctx, "session.save.fail", "sessionId", out.sess.ID, "err", saveErr)
		}

		e.log.InfoContext(ctx, "engine.request.done",
			"sessionId", out.sess.ID, "method", ex.req.Method, "requestId", ex.req.ID.String())
	}

	ex.doneOnce.Do(func() { close(ex.done) })
	out.execFinished()
	e.wake(ctx, out.sess.ID)
}
