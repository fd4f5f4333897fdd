// ABOUTME: Tests for the terminal client: config, rendering, and slash commands
// ABOUTME: Command tests run against a real in-process server using the echo oracle

package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-assist/internal/client"
	"github.com/2389/coven-assist/internal/config"
	"github.com/2389/coven-assist/internal/gateway"
	"github.com/2389/coven-assist/internal/session"
)

func init() {
	color.NoColor = true
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8090", cfg.Server.URL)
	assert.True(t, cfg.Display.Color)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	t.Setenv("ASSIST_HOST", "assist.internal:9000")
	path := filepath.Join(t.TempDir(), "tui.toml")
	data := `
[server]
url = "http://${ASSIST_HOST}/"

[display]
color = false
show_timestamps = true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://assist.internal:9000", cfg.Server.URL)
	assert.False(t, cfg.Display.Color)
	assert.True(t, cfg.Display.ShowTimestamps)
}

func TestLoadConfig_InvalidScheme(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tui.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nurl = \"ftp://x\"\n"), 0644))

	_, err := loadConfig(path)
	assert.ErrorContains(t, err, "http or https")
}

func TestRenderer_PrintsChangesOnce(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false)

	now := time.Now()
	user := session.UserMessage("hi", now)
	pending := session.PendingReply(now)

	r.Apply(session.New())
	st := session.New().WithOpen(true).Append(user, pending)
	r.Apply(st)
	r.Apply(st)

	resolved, ok := st.Resolve(pending.ID, "hello back", session.StatusDelivered, now)
	require.True(t, ok)
	r.Apply(resolved)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "you → hi"))
	assert.Equal(t, 1, strings.Count(out, "assistant is typing..."))
	assert.Equal(t, 1, strings.Count(out, "← hello back"))
	assert.Equal(t, 1, strings.Count(out, "[panel open]"))
}

func TestRenderer_FailedReply(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, true)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
	pending := session.PendingReply(now)
	st := session.New().Append(pending)
	st, _ = st.Resolve(pending.ID, "sorry", session.StatusFailed, now)
	r.Apply(st)

	assert.Contains(t, buf.String(), "03:04:05 ← ! sorry")
}

func startServer(t *testing.T) *client.Client {
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
	return client.New(srv.URL)
}

func TestHandleInput_Commands(t *testing.T) {
	c := startServer(t)
	cfg := defaultConfig()
	cfg.Display.WaitForReply = true
	ctx := t.Context()

	quit, err := handleInput(ctx, c, cfg, "/open")
	require.NoError(t, err)
	assert.False(t, quit)

	quit, err = handleInput(ctx, c, cfg, "hello")
	require.NoError(t, err)
	assert.False(t, quit)

	st, err := c.State(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsOpen)
	require.Len(t, st.Messages, 3)
	assert.Equal(t, "Echo: hello", st.Messages[2].Text)

	_, err = handleInput(ctx, c, cfg, "/bogus")
	assert.ErrorContains(t, err, "unknown command")

	quit, err = handleInput(ctx, c, cfg, "/quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

