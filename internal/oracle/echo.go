// ABOUTME: Local echo oracle used for development and by the fake-oracle server
// ABOUTME: Supports simulated latency and periodic failure injection

package oracle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EchoConfig tunes the echo oracle's simulated behaviour.
type EchoConfig struct {
	// Latency is slept before every Initialize and Turn.
	Latency time.Duration
	// FailEvery makes every Nth turn fail with ErrUnavailable. Zero disables.
	FailEvery int
}

// Echo answers every turn by echoing the input. It remembers the preamble per
// session so replies can be traced back to the seed.
type Echo struct {
	cfg EchoConfig

	mu       sync.Mutex
	sessions map[Handle]string
	turns    int
}

// NewEcho creates an echo oracle.
func NewEcho(cfg EchoConfig) *Echo {
	return &Echo{
		cfg:      cfg,
		sessions: make(map[Handle]string),
	}
}

func (e *Echo) Initialize(ctx context.Context, preamble string) (Handle, error) {
	if err := e.wait(ctx); err != nil {
		return "", err
	}

	h := Handle(uuid.NewString())
	e.mu.Lock()
	e.sessions[h] = preamble
	e.mu.Unlock()
	return h, nil
}

func (e *Echo) Turn(ctx context.Context, h Handle, text string) (string, error) {
	if err := e.wait(ctx); err != nil {
		return "", err
	}

	e.mu.Lock()
	_, ok := e.sessions[h]
	e.turns++
	n := e.turns
	e.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSession, h)
	}
	if e.cfg.FailEvery > 0 && n%e.cfg.FailEvery == 0 {
		return "", fmt.Errorf("%w: injected failure on turn %d", ErrUnavailable, n)
	}
	return echoReply(text), nil
}

// Preamble returns the preamble a session was seeded with.
func (e *Echo) Preamble(h Handle) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.sessions[h]
	return p, ok
}

func (e *Echo) wait(ctx context.Context) error {
	if e.cfg.Latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(e.cfg.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func echoReply(input string) string {
	trimmed := strings.TrimSpace(input)
	if strings.HasSuffix(trimmed, "?") {
		return fmt.Sprintf("Good question. You asked: %s", trimmed)
	}
	return fmt.Sprintf("Echo: %s", trimmed)
}
