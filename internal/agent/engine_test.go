// ABOUTME: Tests for the conversation engine's initialization and exchange paths
// ABOUTME: Uses a controllable fake oracle to count calls and block on demand

package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-assist/internal/oracle"
	"github.com/2389/coven-assist/internal/store"
)

// fakeOracle counts calls and lets tests hold Initialize open.
type fakeOracle struct {
	initCalls atomic.Int32
	turnCalls atomic.Int32

	initGate chan struct{} // if non-nil, Initialize blocks until closed
	initErr  error
	turnErr  error

	mu        sync.Mutex
	preambles []string
}

func (f *fakeOracle) Initialize(ctx context.Context, preamble string) (oracle.Handle, error) {
	f.initCalls.Add(1)
	f.mu.Lock()
	f.preambles = append(f.preambles, preamble)
	f.mu.Unlock()

	if f.initGate != nil {
		select {
		case <-f.initGate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.initErr != nil {
		return "", f.initErr
	}
	return oracle.Handle("session-1"), nil
}

func (f *fakeOracle) Turn(ctx context.Context, h oracle.Handle, text string) (string, error) {
	f.turnCalls.Add(1)
	if f.turnErr != nil {
		return "", f.turnErr
	}
	return "reply to " + text, nil
}

// memLedger collects exchange records in memory.
type memLedger struct {
	mu      sync.Mutex
	records []*store.Exchange
}

func (m *memLedger) SaveExchange(ctx context.Context, ex *store.Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, ex)
	return nil
}

func TestEnsureInitialized_SendsPreambleOnce(t *testing.T) {
	fo := &fakeOracle{}
	eng := New(fo, Config{Preamble: "you are helpful"}, nil)

	require.False(t, eng.Initialized())
	require.NoError(t, eng.EnsureInitialized(t.Context()))
	require.NoError(t, eng.EnsureInitialized(t.Context()))

	assert.True(t, eng.Initialized())
	assert.Equal(t, "session-1", eng.SessionID())
	assert.Equal(t, int32(1), fo.initCalls.Load())
	assert.Equal(t, []string{"you are helpful"}, fo.preambles)
}

func TestEnsureInitialized_ConcurrentCallersShareOneAttempt(t *testing.T) {
	fo := &fakeOracle{initGate: make(chan struct{})}
	eng := New(fo, Config{}, nil)

	const callers = 20
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Go(func() {
			errs <- eng.EnsureInitialized(t.Context())
		})
	}

	// Give every caller time to join the in-flight attempt before releasing it.
	require.Eventually(t, func() bool { return fo.initCalls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fo.initGate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), fo.initCalls.Load())
}

func TestEnsureInitialized_FailureIsRetryable(t *testing.T) {
	fo := &fakeOracle{initErr: oracle.ErrUnavailable}
	eng := New(fo, Config{}, nil)

	err := eng.EnsureInitialized(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, oracle.ErrUnavailable)
	assert.False(t, eng.Initialized())

	fo.initErr = nil
	require.NoError(t, eng.EnsureInitialized(t.Context()))
	assert.True(t, eng.Initialized())
	assert.Equal(t, int32(2), fo.initCalls.Load())
}

func TestEnsureInitialized_CallerCancelDoesNotAbortAttempt(t *testing.T) {
	fo := &fakeOracle{initGate: make(chan struct{})}
	eng := New(fo, Config{}, nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- eng.EnsureInitialized(ctx) }()

	require.Eventually(t, func() bool { return fo.initCalls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(fo.initGate)
	require.Eventually(t, eng.Initialized, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), fo.initCalls.Load())
}

func TestEnsureInitialized_Timeout(t *testing.T) {
	fo := &fakeOracle{initGate: make(chan struct{})}
	defer close(fo.initGate)
	eng := New(fo, Config{InitTimeout: 20 * time.Millisecond}, nil)

	err := eng.EnsureInitialized(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, eng.Initialized())
}

func TestExchange_BeforeInitialization(t *testing.T) {
	eng := New(&fakeOracle{}, Config{}, nil)

	_, err := eng.Exchange(t.Context(), "hello")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestExchange_Success(t *testing.T) {
	fo := &fakeOracle{}
	ledger := &memLedger{}
	eng := New(fo, Config{}, nil, WithLedger(ledger))
	require.NoError(t, eng.EnsureInitialized(t.Context()))

	reply, err := eng.Exchange(t.Context(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "reply to hello", reply)

	require.Len(t, ledger.records, 1)
	rec := ledger.records[0]
	assert.NotEmpty(t, rec.RequestID)
	assert.Equal(t, "session-1", rec.SessionID)
	assert.Equal(t, store.ExchangeDelivered, rec.Status)
	assert.Equal(t, len("hello"), rec.PromptChars)
	assert.Equal(t, len("reply to hello"), rec.ReplyChars)
}

func TestExchange_FailureIsTypedAndNotRetried(t *testing.T) {
	fo := &fakeOracle{turnErr: oracle.ErrQuota}
	ledger := &memLedger{}
	eng := New(fo, Config{}, nil, WithLedger(ledger))
	require.NoError(t, eng.EnsureInitialized(t.Context()))

	_, err := eng.Exchange(t.Context(), "hello")
	require.Error(t, err)

	var xerr *ExchangeError
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, "quota", xerr.Kind)
	assert.NotEmpty(t, xerr.RequestID)
	assert.ErrorIs(t, err, oracle.ErrQuota)
	assert.Equal(t, int32(1), fo.turnCalls.Load())

	require.Len(t, ledger.records, 1)
	assert.Equal(t, store.ExchangeFailed, ledger.records[0].Status)
	assert.Equal(t, "quota", ledger.records[0].ErrorKind)
}
