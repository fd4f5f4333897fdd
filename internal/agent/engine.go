// ABOUTME: Conversation engine owning the single lazily-created oracle session
// ABOUTME: Single-flight initialization plus one bounded request/response turn per message

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/2389/coven-assist/internal/oracle"
	"github.com/2389/coven-assist/internal/store"
)

// ErrNotInitialized is returned by Exchange before the oracle session exists.
var ErrNotInitialized = errors.New("engine not initialized")

// ExchangeError describes one failed turn. Kind is one of the labels returned
// by oracle.Kind (network, auth, quota, timeout, ...).
type ExchangeError struct {
	RequestID string
	Kind      string
	Err       error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange %s failed (%s): %v", e.RequestID, e.Kind, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// Ledger receives one record per exchange. *store.SQLiteStore satisfies it.
type Ledger interface {
	SaveExchange(ctx context.Context, ex *store.Exchange) error
}

// Config controls the engine's timeouts and the seed turn.
type Config struct {
	Preamble       string
	InitTimeout    time.Duration
	RequestTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLedger records every exchange outcome in l.
func WithLedger(l Ledger) Option {
	return func(e *Engine) {
		e.ledger = l
	}
}

// Engine manages the oracle session shared by every caller.
type Engine struct {
	oracle oracle.Oracle
	cfg    Config
	ledger Ledger
	logger *slog.Logger

	init singleflight.Group

	mu     sync.RWMutex
	handle oracle.Handle
}

// New creates an engine. No oracle traffic happens until EnsureInitialized.
func New(o oracle.Oracle, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		oracle: o,
		cfg:    cfg,
		logger: logger.With("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnsureInitialized opens the oracle session and sends the preamble, once.
// Concurrent callers share the same in-flight attempt. The attempt itself is
// not tied to any caller's context, so a caller giving up does not abort it for
// the others; it is bounded by Config.InitTimeout instead. A failed attempt
// leaves the engine uninitialized and the next call tries again.
func (e *Engine) EnsureInitialized(ctx context.Context) error {
	if e.Initialized() {
		return nil
	}

	ch := e.init.DoChan("init", func() (any, error) {
		if h := e.current(); h != "" {
			return h, nil
		}

		initCtx := context.WithoutCancel(ctx)
		if e.cfg.InitTimeout > 0 {
			var cancel context.CancelFunc
			initCtx, cancel = context.WithTimeout(initCtx, e.cfg.InitTimeout)
			defer cancel()
		}

		start := time.Now()
		h, err := e.oracle.Initialize(initCtx, e.cfg.Preamble)
		if err != nil {
			e.logger.Warn("oracle initialization failed",
				"error", err,
				"kind", oracle.Kind(err),
				"duration", time.Since(start),
			)
			return nil, err
		}
		if h == "" {
			return nil, fmt.Errorf("%w: empty session handle", oracle.ErrProtocol)
		}

		e.mu.Lock()
		e.handle = h
		e.mu.Unlock()

		e.logger.Info("oracle session initialized",
			"session_id", string(h),
			"duration", time.Since(start),
		)
		return h, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return fmt.Errorf("initializing oracle session: %w", res.Err)
		}
		return nil
	}
}

// Initialized reports whether the oracle session exists.
func (e *Engine) Initialized() bool {
	return e.current() != ""
}

// SessionID returns the oracle session handle, or "" before initialization.
func (e *Engine) SessionID() string {
	return string(e.current())
}

func (e *Engine) current() oracle.Handle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handle
}

// Exchange sends text over the existing session and returns the reply. It never
// retries. Failures are returned as *ExchangeError.
func (e *Engine) Exchange(ctx context.Context, text string) (string, error) {
	h := e.current()
	if h == "" {
		return "", ErrNotInitialized
	}

	requestID := uuid.NewString()
	if e.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := e.oracle.Turn(ctx, h, text)
	latency := time.Since(start)

	record := &store.Exchange{
		RequestID:   requestID,
		SessionID:   string(h),
		PromptChars: len(text),
		LatencyMs:   latency.Milliseconds(),
		CreatedAt:   start,
	}

	if err != nil {
		xerr := &ExchangeError{RequestID: requestID, Kind: oracle.Kind(err), Err: err}
		e.logger.Warn("exchange failed",
			"request_id", requestID,
			"kind", xerr.Kind,
			"error", err,
			"latency", latency,
		)
		record.Status = store.ExchangeFailed
		record.ErrorKind = xerr.Kind
		e.save(record)
		return "", xerr
	}

	e.logger.Debug("exchange completed",
		"request_id", requestID,
		"prompt_chars", len(text),
		"reply_chars", len(reply),
		"latency", latency,
	)
	record.Status = store.ExchangeDelivered
	record.ReplyChars = len(reply)
	e.save(record)
	return reply, nil
}

func (e *Engine) save(ex *store.Exchange) {
	if e.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.ledger.SaveExchange(ctx, ex); err != nil {
		e.logger.Warn("failed to record exchange", "request_id", ex.RequestID, "error", err)
	}
}
