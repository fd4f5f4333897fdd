// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, defaults, env var expansion, duration parsing, and validation

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "assist.yaml")

	configContent := `
server:
  http_addr: "0.0.0.0:9000"

oracle:
  backend: "grpc"
  address: "oracle.internal:50061"
  init_timeout: "5s"
  request_timeout: "45s"
  keepalive_time: "1m"
  keepalive_timeout: "20s"

session:
  preamble: "Be concise."
  greeting: "Welcome!"
  fallback: "Try again soon."
  send_policy: "reject"

api:
  rate_limit: 0.5
  burst: 3
  dedupe_ttl: "1h"
  dedupe_max: 50

database:
  path: "./ledger.db"

logging:
  level: "debug"
  format: "json"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:9000")
	}
	if cfg.Oracle.Backend != BackendGRPC {
		t.Errorf("Oracle.Backend = %q, want %q", cfg.Oracle.Backend, BackendGRPC)
	}
	if cfg.Oracle.Address != "oracle.internal:50061" {
		t.Errorf("Oracle.Address = %q", cfg.Oracle.Address)
	}
	if cfg.Oracle.InitTimeout != 5*time.Second {
		t.Errorf("Oracle.InitTimeout = %v, want 5s", cfg.Oracle.InitTimeout)
	}
	if cfg.Oracle.RequestTimeout != 45*time.Second {
		t.Errorf("Oracle.RequestTimeout = %v, want 45s", cfg.Oracle.RequestTimeout)
	}
	if cfg.Oracle.KeepaliveTime != time.Minute {
		t.Errorf("Oracle.KeepaliveTime = %v, want 1m", cfg.Oracle.KeepaliveTime)
	}
	if cfg.Oracle.KeepaliveTimeout != 20*time.Second {
		t.Errorf("Oracle.KeepaliveTimeout = %v, want 20s", cfg.Oracle.KeepaliveTimeout)
	}
	if cfg.Session.Preamble != "Be concise." {
		t.Errorf("Session.Preamble = %q", cfg.Session.Preamble)
	}
	if cfg.Session.Greeting != "Welcome!" || cfg.Session.Fallback != "Try again soon." {
		t.Errorf("Session texts = %q / %q", cfg.Session.Greeting, cfg.Session.Fallback)
	}
	if cfg.Session.SendPolicy != "reject" {
		t.Errorf("Session.SendPolicy = %q, want reject", cfg.Session.SendPolicy)
	}
	if cfg.API.RateLimit != 0.5 || cfg.API.Burst != 3 {
		t.Errorf("API rate = %v/%d, want 0.5/3", cfg.API.RateLimit, cfg.API.Burst)
	}
	if cfg.API.DedupeTTL != time.Hour || cfg.API.DedupeMax != 50 {
		t.Errorf("API dedupe = %v/%d, want 1h/50", cfg.API.DedupeTTL, cfg.API.DedupeMax)
	}
	if cfg.Database.Path != "./ledger.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./ledger.db")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestParse_EmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	def := Default()
	if cfg.Server.HTTPAddr != def.Server.HTTPAddr {
		t.Errorf("HTTPAddr = %q, want default %q", cfg.Server.HTTPAddr, def.Server.HTTPAddr)
	}
	if cfg.Oracle.Backend != BackendEcho {
		t.Errorf("Backend = %q, want echo", cfg.Oracle.Backend)
	}
	if cfg.Oracle.InitTimeout != 30*time.Second || cfg.Oracle.RequestTimeout != 60*time.Second {
		t.Errorf("timeouts = %v/%v", cfg.Oracle.InitTimeout, cfg.Oracle.RequestTimeout)
	}
	if cfg.Session.Preamble != DefaultPreamble {
		t.Errorf("Preamble = %q, want default", cfg.Session.Preamble)
	}
	if cfg.Session.SendPolicy != "queue" {
		t.Errorf("SendPolicy = %q, want queue", cfg.Session.SendPolicy)
	}
	if cfg.Database.Path != "" {
		t.Errorf("Database.Path = %q, want empty", cfg.Database.Path)
	}
}

func TestParse_PartialKeepsOtherDefaults(t *testing.T) {
	cfg, err := Parse([]byte("oracle:\n  request_timeout: \"2s\"\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Oracle.RequestTimeout != 2*time.Second {
		t.Errorf("RequestTimeout = %v, want 2s", cfg.Oracle.RequestTimeout)
	}
	if cfg.Oracle.InitTimeout != 30*time.Second {
		t.Errorf("InitTimeout = %v, want default 30s", cfg.Oracle.InitTimeout)
	}
	if cfg.Oracle.Backend != BackendEcho {
		t.Errorf("Backend = %q, want default echo", cfg.Oracle.Backend)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_ORACLE_ADDR", "10.0.0.5:50061")
	t.Setenv("TEST_PREAMBLE", "Speak like a pirate.")

	configPath := filepath.Join(t.TempDir(), "assist.yaml")
	configContent := `
oracle:
  backend: "grpc"
  address: "${TEST_ORACLE_ADDR}"
session:
  preamble: "${TEST_PREAMBLE}"
  greeting: "${TEST_UNSET_VARIABLE_XYZ}"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Oracle.Address != "10.0.0.5:50061" {
		t.Errorf("Oracle.Address = %q, want %q", cfg.Oracle.Address, "10.0.0.5:50061")
	}
	if cfg.Session.Preamble != "Speak like a pirate." {
		t.Errorf("Session.Preamble = %q", cfg.Session.Preamble)
	}
	if cfg.Session.Greeting != "" {
		t.Errorf("unset variable should expand to empty, got %q", cfg.Session.Greeting)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "assist.yaml")
	if err := os.WriteFile(configPath, []byte("server: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte("oracle:\n  init_timeout: \"soon\"\n"))
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "oracle.init_timeout") {
		t.Errorf("error should name the field, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing http addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "server.http_addr",
		},
		{
			name:    "grpc without address",
			mutate:  func(c *Config) { c.Oracle.Backend = BackendGRPC },
			wantErr: "oracle.address",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Oracle.Backend = "carrier-pigeon" },
			wantErr: "oracle.backend",
		},
		{
			name:    "zero request timeout",
			mutate:  func(c *Config) { c.Oracle.RequestTimeout = 0 },
			wantErr: "oracle.request_timeout",
		},
		{
			name:    "bad send policy",
			mutate:  func(c *Config) { c.Session.SendPolicy = "parallel" },
			wantErr: "session.send_policy",
		},
		{
			name:    "rate limit without burst",
			mutate:  func(c *Config) { c.API.Burst = 0 },
			wantErr: "api.burst",
		},
		{
			name:   "rate limit disabled needs no burst",
			mutate: func(c *Config) { c.API.RateLimit = 0; c.API.Burst = 0 },
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_EXPAND_A", "alpha")

	got := expandEnvVars("a=${TEST_EXPAND_A} b=${TEST_EXPAND_MISSING_B} c=$PLAIN")
	want := "a=alpha b= c=$PLAIN"
	if got != want {
		t.Errorf("expandEnvVars() = %q, want %q", got, want)
	}
}
