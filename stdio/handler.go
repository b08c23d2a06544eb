package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/parleyproto/parley/engine"
	"github.com/parleyproto/parley/internal/jsonrpc"
	"github.com/parleyproto/parley/sessions"
)

// Handler drives one session over a pair of byte streams. It reads
// newline-delimited JSON-RPC messages, dispatches them through the
// engine and writes every outbound message back as a line.
type Handler struct {
	eng *engine.Engine
	r   io.Reader
	w   io.Writer
	l   *slog.Logger
}

// New constructs a stdio Handler with defaults (os.Stdin, os.Stdout)
// and applies options.
func New(store sessions.Store, handler engine.Handler, opts ...Option) *Handler {
	h := &Handler{
		r: os.Stdin,
		w: os.Stdout,
		l: slog.Default(),
	}
	var engOpts []engine.Option
	cfg := &newConfig{}
	for _, opt := range opts {
		opt(h, cfg)
	}
	engOpts = append(engOpts, engine.WithLogger(h.l))
	engOpts = append(engOpts, cfg.engineOpts...)
	h.eng = engine.New(store, handler, engOpts...)
	return h
}

// Serve runs the event loop until EOF on the reader or ctx is canceled.
// Call it at most once per Handler.
func (h *Handler) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess, err := h.eng.CreateSession(ctx, map[string]string{"driver": "stdio"})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() { _ = h.eng.EndSession(context.WithoutCancel(ctx), sess.ID) }()

	out := &lineWriter{w: h.w}
	var streams sync.WaitGroup
	defer streams.Wait()

	reader := bufio.NewReader(h.r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if dispatchErr := h.dispatchLine(ctx, sess, bytes.TrimSpace(line), out, &streams); dispatchErr != nil {
				return dispatchErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (h *Handler) dispatchLine(ctx context.Context, sess *sessions.Session, line []byte, out *lineWriter, streams *sync.WaitGroup) error {
	msgs, _, err := jsonrpc.DecodeEnvelope(line)
	if err != nil {
		h.l.WarnContext(ctx, "stdio.decode.fail", "err", err.Error())
		// A malformed line gets a protocol error response and the
		// connection stays up.
		resp := jsonrpc.NewErrorResponse(nil, jsonrpc.CodeParseError, "parse error", nil)
		b, _ := json.Marshal(resp)
		return out.writeLine(b)
	}

	outcome, err := h.eng.Dispatch(ctx, sess, msgs)
	if err != nil {
		if errors.Is(err, engine.ErrSessionBusy) {
			resp := jsonrpc.NewErrorResponse(nil, jsonrpc.CodeInvalidRequest, "session busy", nil)
			b, _ := json.Marshal(resp)
			return out.writeLine(b)
		}
		return fmt.Errorf("dispatch: %w", err)
	}

	// A batch that attached to a live streaming batch produced no output
	// of its own; whatever it enqueued belongs to the stream goroutine.
	if outcome.Borrowed() {
		return nil
	}

	if !outcome.Suspended() {
		<-outcome.Done()
		drained, err := h.eng.DrainOutgoing(ctx, outcome.Session())
		if err != nil {
			return fmt.Errorf("drain: %w", err)
		}
		for _, msg := range drained {
			if err := out.writeLine(msg); err != nil {
				return err
			}
		}
		return nil
	}

	// Suspended: stream the batch in the background so the read loop
	// can keep accepting the answers it is waiting for.
	streams.Add(1)
	go func() {
		defer streams.Done()
		if err := h.eng.Stream(ctx, outcome, out.writeLine); err != nil && ctx.Err() == nil {
			h.l.WarnContext(ctx, "stdio.stream.fail", "err", err.Error())
		}
	}()
	return nil
}

// lineWriter serializes writes from the read loop and any number of
// stream goroutines.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lineWriter) writeLine(data json.RawMessage) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if _, err := lw.w.Write(data); err != nil {
		return err
	}
	_, err := lw.w.Write([]byte{'\n'})
	return err
}
