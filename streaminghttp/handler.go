package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/parleyproto/parley/auth"
	"github.com/parleyproto/parley/engine"
	"github.com/parleyproto/parley/internal/jsonrpc"
	"github.com/parleyproto/parley/internal/logctx"
	"github.com/parleyproto/parley/internal/wellknown"
	"github.com/parleyproto/parley/sessions"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	// Go matches header names case-insensitively; canonical forms kept
	// for readability.
	sessionIDHeader       = "Parley-Session-Id"
	protocolVersionHeader = "Parley-Protocol-Version"
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"

	protocolVersionMetaKey = "protocolVersion"
)

// corsDefaults are applied to every response unless an upstream layer
// already set the header; existing values are never clobbered.
var corsDefaults = map[string]string{
	"Access-Control-Allow-Origin":   "*",
	"Access-Control-Allow-Methods":  "GET, POST, DELETE, OPTIONS",
	"Access-Control-Allow-Headers":  "Content-Type, " + sessionIDHeader + ", " + protocolVersionHeader + ", Last-Event-ID, Authorization, Accept",
	"Access-Control-Expose-Headers": sessionIDHeader,
}

// writeJSONError emits a minimal JSON body for HTTP-layer rejections
// that happen before a JSON-RPC exchange is possible. This is
// transport-level framing: {"error":{"code":<httpStatus>,"message":"<reason>"}}.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	serverName string
	logger     *slog.Logger
	realm      string
	issuer     string
	jwksURI    string
	scopes     []string
	engineOpts []engine.Option
}

// WithServerName sets a human-readable server name surfaced in the
// protected resource metadata document.
func WithServerName(name string) Option {
	return func(c *newConfig) { c.serverName = name }
}

// WithLogger sets the slog logger used by the handler and its engine.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithRealm sets the HTTP authentication realm advertised in
// WWW-Authenticate challenges. If empty (default) the realm attribute
// is omitted, which RFC 6750 permits.
func WithRealm(realm string) Option {
	return func(c *newConfig) { c.realm = strings.TrimSpace(realm) }
}

// WithAuthorizationServer advertises the issuer (and optionally its
// JWKS URI) in the protected resource metadata document.
func WithAuthorizationServer(issuer, jwksURI string) Option {
	return func(c *newConfig) { c.issuer = issuer; c.jwksURI = jwksURI }
}

// WithAdvertisedScopes lists the scopes the metadata document offers to
// clients. Advisory only; enforcement lives in the authenticator.
func WithAdvertisedScopes(scopes ...string) Option {
	return func(c *newConfig) { c.scopes = append([]string(nil), scopes...) }
}

// WithEngineOptions forwards options to the handler's engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(c *newConfig) { c.engineOpts = append(c.engineOpts, opts...) }
}

// Handler serves the protocol endpoint plus its public well-known
// metadata document.
type Handler struct {
	log            *slog.Logger
	endpointURL    *url.URL
	prmDocument    wellknown.ProtectedResourceMetadata
	prmDocumentURL *url.URL

	auth  auth.Authenticator
	eng   *engine.Engine
	realm string
}

// lockedWriteFlusher serializes writes/flushes on a streamed response
// and refuses to write once the request context is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// New constructs a Handler.
//
// Required:
//   - publicEndpoint: externally visible URL of the protocol endpoint
//   - store: session storage backend
//   - handler: application handler driven by the engine
//   - authenticator: bearer credential validator
func New(ctx context.Context, publicEndpoint string, store sessions.Store, handler engine.Handler, authenticator auth.Authenticator, opts ...Option) (*Handler, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}

	endpointURL, err := url.Parse(publicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL %q: %w", publicEndpoint, err)
	}
	if endpointURL.Scheme != "https" && endpointURL.Scheme != "http" {
		return nil, fmt.Errorf("endpoint URL must use HTTP or HTTPS scheme, got %q", endpointURL.Scheme)
	}

	cfg := &newConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	log := slog.New(logctx.Handler{Handler: cfg.logger.Handler()})

	h := &Handler{
		log:         log,
		endpointURL: endpointURL,
		auth:        authenticator,
		realm:       cfg.realm,
	}

	engOpts := append([]engine.Option{engine.WithLogger(log)}, cfg.engineOpts...)
	h.eng = engine.New(store, handler, engOpts...)

	h.prmDocumentURL = &url.URL{
		Scheme: endpointURL.Scheme,
		Host:   endpointURL.Host,
		Path:   fmt.Sprintf("/.well-known/oauth-protected-resource%s", endpointURL.Path),
	}
	h.prmDocument = wellknown.ProtectedResourceMetadata{
		Resource:               endpointURL.String(),
		BearerMethodsSupported: []string{"authorization_header"},
		ResourceName:           cfg.serverName,
		ScopesSupported:        cfg.scopes,
		JwksURI:                cfg.jwksURI,
	}
	if cfg.issuer != "" {
		h.prmDocument.AuthorizationServers = []string{cfg.issuer}
	}

	return h, nil
}

// Engine returns the handler's engine, mainly so embedding programs can
// share it with non-HTTP entry points.
func (h *Handler) Engine() *engine.Engine { return h.eng }

func pathOnly(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func applyCORSDefaults(hdr http.Header) {
	for k, v := range corsDefaults {
		if hdr.Get(k) == "" {
			hdr.Set(k, v)
		}
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	r = r.WithContext(ctx)

	applyCORSDefaults(w.Header())

	if r.URL.Path == pathOnly(h.prmDocumentURL) || r.URL.Path == strings.TrimSuffix(pathOnly(h.prmDocumentURL), "/") {
		h.handleWellKnown(w, r)
		return
	}

	if r.URL.Path != pathOnly(h.endpointURL) {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodOptions:
		// Preflight short-circuits before authentication and never
		// touches session state.
		w.Header().Set("Access-Control-Max-Age", "600")
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE, OPTIONS")
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleWellKnown(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Max-Age", "600")
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Content-Type", jsonMediaType.String())
		if err := json.NewEncoder(w).Encode(h.prmDocument); err != nil {
			h.log.ErrorContext(r.Context(), "wellknown.encode.fail", slog.String("err", err.Error()))
		}
	default:
		w.Header().Set("Allow", "GET, OPTIONS")
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handlePost accepts a single JSON-RPC message or a batch, feeds it to
// the engine, and either answers immediately with JSON or switches to a
// Server-Sent-Events stream when an execution suspends.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	userInfo := h.checkAuthentication(ctx, r, w)
	if userInfo == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		h.log.WarnContext(ctx, "body.read.fail", slog.String("err", err.Error()))
		return
	}
	msgs, batch, err := jsonrpc.DecodeEnvelope(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC payload: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.decode.fail", slog.String("err", err.Error()))
		return
	}

	if len(msgs) == 1 {
		ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
			Method: msgs[0].Method,
			ID:     msgs[0].ID.String(),
			Type:   string(msgs[0].Kind()),
		})
	}

	sess, fresh := h.resolveSession(ctx, w, r, userInfo, true)
	if sess == nil {
		return
	}

	pv, _ := sess.GetMeta(protocolVersionMetaKey)
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID,
		UserID:          userInfo.UserID(),
		ProtocolVersion: pv,
	})
	if fresh {
		h.log.InfoContext(ctx, "session.create.ok")
	} else {
		h.log.InfoContext(ctx, "session.load.ok")
	}

	out, err := h.eng.Dispatch(ctx, sess, msgs)
	if err != nil {
		if errors.Is(err, engine.ErrSessionBusy) {
			writeJSONError(w, http.StatusConflict, "session already has a request in flight")
			h.log.WarnContext(ctx, "dispatch.busy")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to dispatch")
		h.log.ErrorContext(ctx, "dispatch.fail", slog.String("err", err.Error()))
		return
	}

	h.echoSessionHeaders(w, out.Session())

	if out.Borrowed() {
		// The batch attached to a live streaming batch; any queue
		// output it produced belongs to that stream, so this exchange
		// must not drain.
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "http.post.accepted", slog.Duration("dur", time.Since(start)))
		return
	}

	if !out.Suspended() {
		h.respondImmediate(ctx, w, out, batch, start)
		return
	}

	// At least one execution suspended: commit to a stream. The Accept
	// header, when present, must admit text/event-stream.
	if acc := r.Header.Get("Accept"); acc != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			writeJSONError(w, http.StatusUnsupportedMediaType, "accept header must allow text/event-stream")
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", acc))
			return
		}
	}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")

	err = h.eng.Stream(ctx, out, func(data json.RawMessage) error {
		if err := writeSSEEvent(wf, data); err != nil {
			h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
			return err
		}
		h.log.InfoContext(ctx, "sse.message.deliver")
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			h.log.InfoContext(ctx, "sse.stream.abandoned")
		} else {
			h.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
		}
		return
	}

	h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
}

// respondImmediate answers a non-suspending batch: no synchronous
// output is an empty-body acceptance, one message is a bare JSON
// object, several are a JSON array.
func (h *Handler) respondImmediate(ctx context.Context, w http.ResponseWriter, out *engine.Outcome, batch bool, start time.Time) {
	<-out.Done()

	msgs, err := h.eng.DrainOutgoing(ctx, out.Session())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to drain session queue")
		h.log.ErrorContext(ctx, "queue.drain.fail", slog.String("err", err.Error()))
		return
	}

	if len(msgs) == 0 {
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "http.post.accepted", slog.Duration("dur", time.Since(start)))
		return
	}

	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	var writeErr error
	if len(msgs) == 1 && !batch {
		_, writeErr = w.Write(msgs[0])
	} else {
		writeErr = json.NewEncoder(w).Encode(msgs)
	}
	if writeErr != nil {
		h.log.ErrorContext(ctx, "http.post.write.fail", slog.String("err", writeErr.Error()))
		return
	}
	h.log.InfoContext(ctx, "http.post.ok", slog.Duration("dur", time.Since(start)))
}

// handleDelete terminates a session: it aborts any suspended execution,
// clears the pending ledger and deletes the stored record.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	userInfo := h.checkAuthentication(ctx, r, w)
	if userInfo == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	sess, _ := h.resolveSession(ctx, w, r, userInfo, false)
	if sess == nil {
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID,
		UserID:    userInfo.UserID(),
	})

	if err := h.eng.EndSession(ctx, sess.ID); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			h.log.InfoContext(ctx, "session.delete.miss")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to end session")
		h.log.ErrorContext(ctx, "session.delete.fail", slog.String("err", err.Error()))
		return
	}

	h.echoSessionHeaders(w, sess)
	w.WriteHeader(http.StatusOK)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

// resolveSession loads the session named by the request header. When
// allowCreate is set and the header is absent, a fresh session is
// minted instead; otherwise a missing header is a 400 and an unknown id
// a 404. A nil return means the error response was already written.
func (h *Handler) resolveSession(ctx context.Context, w http.ResponseWriter, r *http.Request, userInfo auth.UserInfo, allowCreate bool) (sess *sessions.Session, fresh bool) {
	sessID := r.Header.Get(sessionIDHeader)
	if sessID == "" {
		if !allowCreate {
			writeJSONError(w, http.StatusBadRequest, "missing "+sessionIDHeader+" header")
			h.log.WarnContext(ctx, "session.id.missing")
			return nil, false
		}
		meta := map[string]string{"userId": userInfo.UserID()}
		if pv := r.Header.Get(protocolVersionHeader); pv != "" {
			meta[protocolVersionMetaKey] = pv
		}
		created, err := h.eng.CreateSession(ctx, meta)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to create session")
			h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
			return nil, false
		}
		return created, true
	}

	loaded, err := h.eng.LoadSession(ctx, sessID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			h.log.InfoContext(ctx, "session.load.miss")
			return nil, false
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return nil, false
	}

	if pv := r.Header.Get(protocolVersionHeader); pv != "" {
		if spv, ok := loaded.GetMeta(protocolVersionMetaKey); ok && spv != "" && pv != spv {
			writeJSONError(w, http.StatusBadRequest, "protocol version mismatch")
			h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
			return nil, false
		}
	}

	return loaded, false
}

// echoSessionHeaders reflects the session identity (and its negotiated
// protocol version, when known) onto the response.
func (h *Handler) echoSessionHeaders(w http.ResponseWriter, sess *sessions.Session) {
	w.Header().Set(sessionIDHeader, sess.ID)
	if pv, ok := sess.GetMeta(protocolVersionMetaKey); ok && pv != "" {
		w.Header().Set(protocolVersionHeader, pv)
	}
}

// writeChallenge answers a failed authentication attempt with the
// challenge's status and WWW-Authenticate header.
func (h *Handler) writeChallenge(w http.ResponseWriter, ch *auth.Challenge, message string) {
	w.Header().Add(wwwAuthenticateHeader, ch.WWWAuthenticate)
	writeJSONError(w, ch.Status, message)
}

func (h *Handler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter) auth.UserInfo {
	authHeader := r.Header.Get(authorizationHeader)
	prmURL := h.prmDocumentURL.String()

	if authHeader == "" {
		h.log.InfoContext(ctx, "auth.check.missing")
		h.writeChallenge(w, auth.RequiredChallenge(h.realm, prmURL), "authentication required")
		return nil
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) || len(authHeader) <= len(bearerPrefix) {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed bearer authorization header"))
		h.writeChallenge(w, auth.MalformedHeaderChallenge(h.realm, prmURL, "malformed bearer authorization header"), "malformed authorization header")
		return nil
	}
	tok := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if tok == "" {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "empty bearer token"))
		h.writeChallenge(w, auth.MalformedHeaderChallenge(h.realm, prmURL, "empty bearer token"), "empty bearer token")
		return nil
	}

	userInfo, err := h.auth.CheckAuthentication(ctx, tok)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			h.writeChallenge(w, auth.InvalidTokenChallenge(h.realm, prmURL, err.Error()), "invalid token")
			return nil
		}
		if errors.Is(err, auth.ErrInsufficientScope) {
			h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			h.writeChallenge(w, auth.InsufficientScopeChallenge(h.realm, prmURL, err.Error()), "insufficient scope")
			return nil
		}
		h.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "authentication error")
		return nil
	}

	return userInfo
}

// writeSSEEvent frames one message as an SSE event block and flushes
// it: "event: message", a data line carrying the JSON payload, then a
// blank line terminator.
func writeSSEEvent(wf *lockedWriteFlusher, payload []byte) error {
	if _, err := wf.Write([]byte("event: message\ndata: ")); err != nil {
		return fmt.Errorf("failed to write SSE frame header: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}
