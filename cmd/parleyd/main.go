// Command parleyd serves a small demonstration handler over the
// streaming HTTP transport. It exists for protocol smoke-testing and as
// a template for embedding the handler in a real program.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/parleyproto/parley"
	"github.com/parleyproto/parley/auth"
	"github.com/parleyproto/parley/auth/authtest"
	"github.com/parleyproto/parley/auth/jwtauth"
	"github.com/parleyproto/parley/broker"
	"github.com/parleyproto/parley/broker/redisbus"
	"github.com/parleyproto/parley/elicit"
	"github.com/parleyproto/parley/engine"
	"github.com/parleyproto/parley/sessions"
	"github.com/parleyproto/parley/sessions/filestore"
	"github.com/parleyproto/parley/sessions/memstore"
	"github.com/parleyproto/parley/sessions/redistore"
	"github.com/parleyproto/parley/streaminghttp"
)

type config struct {
	ListenAddr     string `env:"PARLEY_LISTEN_ADDR,default=:8080"`
	PublicEndpoint string `env:"PARLEY_PUBLIC_ENDPOINT,default=http://localhost:8080/rpc"`
	ServerName     string `env:"PARLEY_SERVER_NAME,default=parleyd"`

	// Store selects the session backend: memory, file or redis.
	Store     string `env:"PARLEY_STORE,default=memory"`
	StoreDir  string `env:"PARLEY_STORE_DIR,default=./parley-sessions"`
	RedisAddr string `env:"PARLEY_REDIS_ADDR,default=localhost:6379"`

	// OIDCIssuer enables JWT validation via discovery. Empty means the
	// daemon runs unauthenticated, which is only sane on localhost.
	OIDCIssuer string `env:"PARLEY_OIDC_ISSUER,default="`
	Audience   string `env:"PARLEY_AUDIENCE,default="`

	SubRequestTimeout time.Duration `env:"PARLEY_SUBREQUEST_TIMEOUT,default=120s"`
	ShutdownGrace     time.Duration `env:"PARLEY_SHUTDOWN_GRACE,default=10s"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "parleyd:", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, bus, cleanup, err := buildStore(&cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	authenticator, err := buildAuthenticator(ctx, &cfg)
	if err != nil {
		return err
	}
	if meta, ok := authenticator.(jwtauth.DiscoveryMetadata); ok {
		log.Info("oidc.discovered",
			"issuer", cfg.OIDCIssuer,
			"authorization_endpoint", meta.AuthorizationEndpoint(),
			"token_endpoint", meta.TokenEndpoint())
	}

	engOpts := []engine.Option{engine.WithSubRequestTimeout(cfg.SubRequestTimeout)}
	if bus != nil {
		engOpts = append(engOpts, engine.WithWakeBus(bus))
	}

	h, err := streaminghttp.New(ctx, cfg.PublicEndpoint, store, demoHandler{}, authenticator,
		streaminghttp.WithServerName(cfg.ServerName),
		streaminghttp.WithLogger(log),
		streaminghttp.WithAuthorizationServer(cfg.OIDCIssuer, ""),
		streaminghttp.WithEngineOptions(engOpts...),
	)
	if err != nil {
		return fmt.Errorf("handler: %w", err)
	}

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: h}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http.listen", "addr", cfg.ListenAddr, "endpoint", cfg.PublicEndpoint)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("http.shutdown.start")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("http.shutdown.ok")
	return nil
}

// buildStore returns the session store and, for backends that can span
// nodes, a matching wake bus.
func buildStore(cfg *config) (sessions.Store, broker.WakeBus, func(), error) {
	switch cfg.Store {
	case "memory":
		return memstore.New(), nil, func() {}, nil
	case "file":
		fs, err := filestore.New(cfg.StoreDir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("filestore: %w", err)
		}
		return fs, nil, func() { _ = fs.Close() }, nil
	case "redis":
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisAddr}})
		return redistore.New(client), redisbus.New(client), func() { _ = client.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func buildAuthenticator(ctx context.Context, cfg *config) (auth.Authenticator, error) {
	if cfg.OIDCIssuer == "" {
		return authtest.NewNoAuth(""), nil
	}
	jwtCfg := jwtauth.DefaultConfig()
	jwtCfg.Issuer = cfg.OIDCIssuer
	aud := cfg.Audience
	if aud == "" {
		aud = cfg.PublicEndpoint
	}
	jwtCfg.ExpectedAudiences = []string{aud}
	return jwtauth.NewFromDiscovery(ctx, jwtCfg)
}

// demoHandler echoes requests back and exercises one elicitation round
// trip when asked.
type demoHandler struct{}

type echoResult struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (demoHandler) HandleRequest(ctx context.Context, client parley.Client, req *parley.Request) (any, error) {
	switch req.Method {
	case "demo/echo":
		return echoResult{Method: req.Method, Params: req.Params}, nil
	case "demo/greet":
		var answer struct {
			Name string `json:"name" jsonschema:"title=Name,description=Who should be greeted?"`
		}
		action, err := client.Elicit(ctx, "Who should I greet?", &answer)
		if err != nil {
			return nil, err
		}
		if action != elicit.ActionAccept {
			return map[string]string{"greeting": "hello, whoever you are"}, nil
		}
		return map[string]string{"greeting": "hello, " + answer.Name}, nil
	default:
		return nil, engine.NewError(-32601, "method not found")
	}
}

func (demoHandler) HandleNotification(ctx context.Context, client parley.Client, req *parley.Request) error {
	return nil
}
