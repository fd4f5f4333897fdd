// ABOUTME: Gateway orchestrator that wires the oracle, engine, session store, and HTTP server
// ABOUTME: Manages server lifecycle and health endpoints

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/coven-assist/internal/agent"
	"github.com/2389/coven-assist/internal/config"
	"github.com/2389/coven-assist/internal/conversation"
	"github.com/2389/coven-assist/internal/dedupe"
	"github.com/2389/coven-assist/internal/oracle"
	"github.com/2389/coven-assist/internal/session"
	"github.com/2389/coven-assist/internal/store"
)

// SessionStore is what the HTTP surface needs from the shared session.
type SessionStore interface {
	State() session.Session
	Open(ctx context.Context) error
	Toggle(ctx context.Context) error
	Send(ctx context.Context, text string) (*conversation.Reply, error)
	Feed(ctx context.Context) <-chan session.Session
	Subscribers() int
	Shutdown(ctx context.Context) error
}

// Readiness reports whether the oracle session is up.
type Readiness interface {
	Initialized() bool
	SessionID() string
}

// Gateway orchestrates the coven-assist server components.
type Gateway struct {
	config     *config.Config
	session    SessionStore
	engine     Readiness
	ledger     store.ExchangeStore // nil when database.path is empty
	oracle     io.Closer           // nil for in-process oracles
	dedupe     *dedupe.Cache
	limiter    *rate.Limiter // nil when api.rate_limit is 0
	httpServer *http.Server
	logger     *slog.Logger

	// baseCtx is the parent of every request context; cancelling it ends
	// long-lived SSE streams so Shutdown does not wait on them.
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// newOracle builds the configured oracle backend.
func newOracle(cfg *config.Config, logger *slog.Logger) (oracle.Oracle, io.Closer, error) {
	switch cfg.Oracle.Backend {
	case config.BackendGRPC:
		c, err := oracle.NewGRPC(oracle.GRPCConfig{
			Address:          cfg.Oracle.Address,
			KeepaliveTime:    cfg.Oracle.KeepaliveTime,
			KeepaliveTimeout: cfg.Oracle.KeepaliveTimeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	default:
		logger.Warn("using local echo oracle; replies are not generated")
		return oracle.NewEcho(oracle.EchoConfig{
			Latency:   cfg.Oracle.EchoLatency,
			FailEvery: cfg.Oracle.EchoFailEvery,
		}), nil, nil
	}
}

// initLedger opens the exchange ledger, or returns nil if it is disabled.
func initLedger(cfg *config.Config) (*store.SQLiteStore, error) {
	if cfg.Database.Path == "" {
		return nil, nil
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	policy, err := conversation.ParsePolicy(cfg.Session.SendPolicy)
	if err != nil {
		return nil, err
	}

	ledger, err := initLedger(cfg)
	if err != nil {
		return nil, err
	}

	o, closer, err := newOracle(cfg, logger)
	if err != nil {
		if ledger != nil {
			_ = ledger.Close()
		}
		return nil, fmt.Errorf("creating oracle client: %w", err)
	}

	var engineOpts []agent.Option
	if ledger != nil {
		engineOpts = append(engineOpts, agent.WithLedger(ledger))
	}
	engine := agent.New(o, agent.Config{
		Preamble:       cfg.Session.Preamble,
		InitTimeout:    cfg.Oracle.InitTimeout,
		RequestTimeout: cfg.Oracle.RequestTimeout,
	}, logger, engineOpts...)

	st := conversation.NewStore(engine,
		conversation.WithLogger(logger),
		conversation.WithPolicy(policy),
		conversation.WithGreeting(cfg.Session.Greeting),
		conversation.WithFallback(cfg.Session.Fallback),
	)

	gw := newGateway(cfg, st, engine, logger)
	gw.oracle = closer
	if ledger != nil {
		gw.ledger = ledger
	}
	return gw, nil
}

// newGateway builds the HTTP surface around already-constructed components.
func newGateway(cfg *config.Config, st SessionStore, eng Readiness, logger *slog.Logger) *Gateway {
	baseCtx, cancel := context.WithCancel(context.Background())

	gw := &Gateway{
		config:     cfg,
		session:    st,
		engine:     eng,
		dedupe:     dedupe.New(cfg.API.DedupeTTL, cfg.API.DedupeMax),
		logger:     logger.With("component", "gateway"),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	if cfg.API.RateLimit > 0 {
		gw.limiter = rate.NewLimiter(rate.Limit(cfg.API.RateLimit), cfg.API.Burst)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	return gw
}

// Handler returns the HTTP routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	mux.HandleFunc("GET /api/state", g.handleState)
	mux.HandleFunc("POST /api/open", g.handleOpen)
	mux.HandleFunc("POST /api/toggle", g.handleToggle)
	mux.HandleFunc("POST /api/send", g.handleSend)
	mux.HandleFunc("GET /api/events", g.handleEvents)
	mux.HandleFunc("GET /api/stats", g.handleStats)
	return mux
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The run context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, waits for in-flight exchanges, and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.cancelBase()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "session shutdown", g.session.Shutdown(ctx))

	if g.oracle != nil {
		errs = appendCloseError(errs, "oracle close", g.oracle.Close())
	}
	if g.ledger != nil {
		errs = appendCloseError(errs, "store close", g.ledger.Close())
	}
	g.dedupe.Close()

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the oracle session has been initialized.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.engine.Initialized() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("oracle session not initialized"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (session %s)", g.engine.SessionID())
}
