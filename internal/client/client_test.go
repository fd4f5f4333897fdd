// ABOUTME: Tests for the coven-assist HTTP client
// ABOUTME: Runs against a real in-process gateway backed by the echo oracle

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-assist/internal/config"
	"github.com/2389/coven-assist/internal/gateway"
	"github.com/2389/coven-assist/internal/session"
)

func startServer(t *testing.T) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.API.RateLimit = 0
	gw, err := gateway.New(cfg, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})
	return New(srv.URL + "/")
}

func TestClient_OpenAndSend(t *testing.T) {
	c := startServer(t)
	ctx := t.Context()

	st, err := c.Open(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsOpen)
	require.Len(t, st.Messages, 1)

	resp, err := c.Send(ctx, "hello", true)
	require.NoError(t, err)
	require.NotNil(t, resp.Message)
	assert.Equal(t, "Echo: hello", resp.Message.Text)

	st, err = c.State(ctx)
	require.NoError(t, err)
	assert.Len(t, st.Messages, 3)

	st, err = c.Toggle(ctx)
	require.NoError(t, err)
	assert.False(t, st.IsOpen)
}

func TestClient_SendWithKeyIsIdempotent(t *testing.T) {
	c := startServer(t)
	ctx := t.Context()

	first, err := c.SendWithKey(ctx, "retry-1", "once", true)
	require.NoError(t, err)
	second, err := c.SendWithKey(ctx, "retry-1", "once", false)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ID, second.ID)

	st, err := c.State(ctx)
	require.NoError(t, err)
	assert.Len(t, st.Messages, 2)
}

func TestClient_ErrorSurfacesMessage(t *testing.T) {
	c := startServer(t)

	_, err := c.Send(t.Context(), "   ", false)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.NotEmpty(t, apiErr.Msg)
}

func TestClient_Probe(t *testing.T) {
	c := startServer(t)
	ctx := t.Context()

	body, err := c.Probe(ctx, "/health")
	require.NoError(t, err)
	assert.Equal(t, "OK", body)

	_, err = c.Probe(ctx, "/health/ready")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)

	_, err = c.Open(ctx)
	require.NoError(t, err)
	body, err = c.Probe(ctx, "/health/ready")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(body, "ready"))
}

func TestClient_Stats(t *testing.T) {
	c := startServer(t)

	stats, err := c.Stats(t.Context())
	require.NoError(t, err)
	assert.False(t, stats.Enabled)
	assert.False(t, stats.Initialized)
}

func TestClient_Events(t *testing.T) {
	c := startServer(t)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var mu sync.Mutex
	var snaps []session.Session
	done := make(chan error, 1)
	go func() {
		done <- c.Events(ctx, func(st session.Session) {
			mu.Lock()
			snaps = append(snaps, st)
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snaps) > 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err := c.Toggle(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		last := snaps[len(snaps)-1]
		return last.IsOpen && len(last.Messages) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Events did not return after cancel")
	}
}

func TestReadSSE(t *testing.T) {
	stream := ": connected\n\n" +
		"event: state\ndata: {\"a\":1}\n\n" +
		": keepalive\n\n" +
		"event: other\ndata: line1\ndata: line2\n\n"

	type evt struct{ name, data string }
	var got []evt
	err := readSSE(strings.NewReader(stream), func(event string, data []byte) {
		got = append(got, evt{event, string(data)})
	})
	require.NoError(t, err)
	assert.Equal(t, []evt{
		{"state", `{"a":1}`},
		{"other", "line1\nline2"},
	}, got)
}
