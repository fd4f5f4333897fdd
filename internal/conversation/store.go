// ABOUTME: Session Store, the single source of truth shared by every surface
// ABOUTME: Serializes mutations, fans out notifications, and drives exchanges to resolution

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-assist/internal/oracle"
	"github.com/2389/coven-assist/internal/session"
)

var (
	// ErrEmptyMessage is returned by Send for blank text.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrSendInFlight is returned by Send under the reject policy while an
	// earlier exchange is unresolved.
	ErrSendInFlight = errors.New("a message is already awaiting a reply")

	// ErrClosed is returned by every action after Shutdown.
	ErrClosed = errors.New("session store is shut down")
)

const (
	DefaultGreeting = "Hi! How can I help you today?"
	DefaultFallback = "Sorry, I couldn't get a reply just now. Please try again in a moment."
)

// SendPolicy decides what happens when Send is called while an earlier
// exchange is still pending.
type SendPolicy string

const (
	// PolicyQueue makes later sends wait their turn (FIFO).
	PolicyQueue SendPolicy = "queue"
	// PolicyReject fails later sends with ErrSendInFlight.
	PolicyReject SendPolicy = "reject"
	// PolicyConcurrent lets exchanges overlap; each reply still lands in its own slot.
	PolicyConcurrent SendPolicy = "concurrent"
)

// ParsePolicy validates a policy name. Empty means PolicyQueue.
func ParsePolicy(s string) (SendPolicy, error) {
	switch p := SendPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyQueue, nil
	case PolicyQueue, PolicyReject, PolicyConcurrent:
		return p, nil
	default:
		return "", fmt.Errorf("unknown send policy %q (want queue, reject, or concurrent)", s)
	}
}

// Engine is what the store needs from the conversation engine.
type Engine interface {
	EnsureInitialized(ctx context.Context) error
	Exchange(ctx context.Context, text string) (string, error)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPolicy sets the overlapping-send policy.
func WithPolicy(p SendPolicy) Option {
	return func(s *Store) {
		s.policy = p
	}
}

// WithGreeting sets the text of the first-open greeting.
func WithGreeting(text string) Option {
	return func(s *Store) {
		if text != "" {
			s.greeting = text
		}
	}
}

// WithFallback sets the text substituted for a failed reply.
func WithFallback(text string) Option {
	return func(s *Store) {
		if text != "" {
			s.fallback = text
		}
	}
}

// WithClock overrides time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

type subscriber struct {
	id string
	fn func()
}

// Store holds the session every surface renders from. Construct one per
// process and hand it to each surface.
//
// Every mutation and the notification pass that follows it run under one lock,
// so no subscriber ever observes a half-applied change and passes never
// interleave. Callbacks may call State but must not call Open, Toggle or Send
// synchronously.
type Store struct {
	engine   Engine
	policy   SendPolicy
	greeting string
	fallback string
	now      func() time.Time
	logger   *slog.Logger

	notifyMu sync.Mutex // held across mutate + notify

	mu    sync.RWMutex
	state session.Session

	subMu sync.Mutex
	subs  []subscriber

	slot chan struct{} // one in-flight exchange under queue and reject

	lifeMu sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewStore creates a store with an empty, closed session.
func NewStore(engine Engine, opts ...Option) *Store {
	s := &Store{
		engine:   engine,
		policy:   PolicyQueue,
		greeting: DefaultGreeting,
		fallback: DefaultFallback,
		now:      time.Now,
		logger:   slog.Default(),
		state:    session.New(),
		slot:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session_store")
	return s
}

// Subscribe registers fn to run after every state change, in registration
// order. The returned function removes it and is safe to call more than once.
func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	id := uuid.NewString()

	s.subMu.Lock()
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	total := len(s.subs)
	s.subMu.Unlock()

	s.logger.Debug("subscriber added", "sub_id", id, "total", total)

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		i := slices.IndexFunc(s.subs, func(sub subscriber) bool { return sub.id == id })
		if i < 0 {
			return
		}
		s.subs = slices.Delete(s.subs, i, i+1)
		s.logger.Debug("subscriber removed", "sub_id", id, "total", len(s.subs))
	}
}

// Subscribers returns the number of registered callbacks.
func (s *Store) Subscribers() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

// State returns a snapshot the caller may keep or modify freely.
func (s *Store) State() session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Open shows the panel. The first open also initializes the engine and
// appends the greeting; if initialization fails the error is returned, nothing
// is appended, and the next Open or Toggle tries again.
func (s *Store) Open(ctx context.Context) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	s.commit("open", func(cur session.Session) (session.Session, bool) {
		if cur.IsOpen {
			return cur, false
		}
		return cur.WithOpen(true), true
	})
	return s.greet(ctx)
}

// Toggle flips the panel's visibility. Opening runs the same first-open
// initialization as Open.
func (s *Store) Toggle(ctx context.Context) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	var opened bool
	s.commit("toggle", func(cur session.Session) (session.Session, bool) {
		opened = !cur.IsOpen
		return cur.WithOpen(opened), true
	})
	if !opened {
		return nil
	}
	return s.greet(ctx)
}

func needsGreeting(cur session.Session) bool {
	return !cur.HasGreeting() && len(cur.Messages) == 0
}

func (s *Store) greet(ctx context.Context) error {
	if !needsGreeting(s.State()) {
		return nil
	}

	if err := s.engine.EnsureInitialized(ctx); err != nil {
		s.logger.Warn("session initialization failed", "error", err, "kind", oracle.Kind(err))
		return err
	}

	msg := session.Greeting(s.greeting, s.now())
	s.commit("greet", func(cur session.Session) (session.Session, bool) {
		if !needsGreeting(cur) {
			return cur, false
		}
		return cur.AppendGreeting(msg)
	})
	return nil
}

// Send appends text as a user message followed by a pending assistant
// placeholder, in one change, and returns once both are visible. The reply is
// fetched in the background and replaces the placeholder by ID. A failed
// exchange is not an error: the placeholder resolves to the fallback text with
// status failed.
//
// The exchange is detached from ctx; cancelling ctx after Send returns, or
// closing the panel, does not abort it. Under PolicyQueue, ctx bounds how long
// Send waits for an earlier exchange to finish.
func (s *Store) Send(ctx context.Context, text string) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if err := s.begin(); err != nil {
		return nil, err
	}
	handedOff := false
	defer func() {
		if !handedOff {
			s.wg.Done()
		}
	}()

	if err := s.engine.EnsureInitialized(ctx); err != nil {
		s.logger.Warn("session initialization failed", "error", err, "kind", oracle.Kind(err))
		return nil, err
	}

	if err := s.acquire(ctx); err != nil {
		return nil, err
	}

	now := s.now()
	user := session.UserMessage(text, now)
	pending := session.PendingReply(now)
	s.commit("send", func(cur session.Session) (session.Session, bool) {
		return cur.Append(user, pending), true
	})

	r := &Reply{
		ID:            pending.ID,
		UserMessageID: user.ID,
		done:          make(chan struct{}),
	}
	handedOff = true
	go s.complete(context.WithoutCancel(ctx), r, text)
	return r, nil
}

// SendAndWait is Send followed by Wait.
func (s *Store) SendAndWait(ctx context.Context, text string) (session.Message, error) {
	r, err := s.Send(ctx, text)
	if err != nil {
		return session.Message{}, err
	}
	return r.Wait(ctx)
}

func (s *Store) acquire(ctx context.Context) error {
	switch s.policy {
	case PolicyConcurrent:
		return nil
	case PolicyReject:
		select {
		case s.slot <- struct{}{}:
			return nil
		default:
			return ErrSendInFlight
		}
	default:
		select {
		case s.slot <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Store) release() {
	if s.policy == PolicyConcurrent {
		return
	}
	<-s.slot
}

func (s *Store) complete(ctx context.Context, r *Reply, text string) {
	defer s.wg.Done()

	reply, err := s.engine.Exchange(ctx, text)
	status := session.StatusDelivered
	if err != nil {
		s.logger.Warn("exchange failed; substituting fallback",
			"message_id", r.ID,
			"kind", oracle.Kind(err),
			"error", err,
		)
		reply = s.fallback
		status = session.StatusFailed
	}

	var resolved session.Message
	s.commit("resolve", func(cur session.Session) (session.Session, bool) {
		next, ok := cur.Resolve(r.ID, reply, status, s.now())
		if ok {
			resolved, _ = next.Find(r.ID)
		}
		return next, ok
	})

	s.release()
	r.finish(resolved, err)
}

// commit applies fn to the current state and, if fn reports a change, runs
// the notification pass before releasing the mutation lock.
func (s *Store) commit(action string, fn func(session.Session) (session.Session, bool)) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	next, changed := fn(s.state)
	if changed {
		s.state = next
	}
	s.mu.Unlock()

	if !changed {
		return false
	}

	s.logger.Debug("state changed",
		"action", action,
		"is_open", next.IsOpen,
		"messages", len(next.Messages),
		"pending", next.PendingCount(),
	)
	s.notify()
	return true
}

func (s *Store) notify() {
	s.subMu.Lock()
	targets := slices.Clone(s.subs)
	s.subMu.Unlock()

	for _, sub := range targets {
		s.call(sub)
	}
}

func (s *Store) call(sub subscriber) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("subscriber panicked", "sub_id", sub.id, "panic", r)
		}
	}()
	sub.fn()
}

func (s *Store) checkClosed() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Store) begin() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.wg.Add(1)
	return nil
}

// Shutdown stops accepting actions and waits for in-flight exchanges to
// resolve, or for ctx to end.
func (s *Store) Shutdown(ctx context.Context) error {
	s.lifeMu.Lock()
	s.closed = true
	s.lifeMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("session store stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight exchanges: %w", ctx.Err())
	}
}
