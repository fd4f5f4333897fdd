// ABOUTME: Tests for coven-assist command helpers
// ABOUTME: Covers config path resolution, default fallback, and the console log handler

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-assist/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("COVEN_ASSIST_CONFIG", "/tmp/custom.yaml")
	assert.Equal(t, "/tmp/custom.yaml", getConfigPath())

	t.Setenv("COVEN_ASSIST_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "coven", "assist.yaml"), getConfigPath())
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, found, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, config.Default().Server.HTTPAddr, cfg.Server.HTTPAddr)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("oracle:\n  backend: carrier-pigeon\n"), 0644))

	_, _, err := loadConfig(path)
	assert.Error(t, err)
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "store").WithGroup("req").Info("sent", "id", "m1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF sent")
	assert.Contains(t, out, " component=store")
	assert.Contains(t, out, " req.id=m1")
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("quiet")
	logger.Warn("loud", "k", "v")

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), `"msg":"loud"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
