// ABOUTME: Configuration loading and parsing for coven-assist
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-assist configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Session  SessionConfig  `yaml:"session"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// Oracle backends
const (
	BackendEcho = "echo"
	BackendGRPC = "grpc"
)

// OracleConfig selects and tunes the language-generation backend
type OracleConfig struct {
	Backend string `yaml:"backend"` // "echo" or "grpc"
	Address string `yaml:"address"` // required for grpc

	InitTimeout      time.Duration `yaml:"-"`
	RequestTimeout   time.Duration `yaml:"-"`
	KeepaliveTime    time.Duration `yaml:"-"`
	KeepaliveTimeout time.Duration `yaml:"-"`
	EchoLatency      time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	InitTimeoutRaw      string `yaml:"init_timeout"`
	RequestTimeoutRaw   string `yaml:"request_timeout"`
	KeepaliveTimeRaw    string `yaml:"keepalive_time"`
	KeepaliveTimeoutRaw string `yaml:"keepalive_timeout"`
	EchoLatencyRaw      string `yaml:"echo_latency"`

	EchoFailEvery int `yaml:"echo_fail_every"`
}

// SessionConfig holds the fixed texts and send discipline of the shared session
type SessionConfig struct {
	Preamble   string `yaml:"preamble"`
	Greeting   string `yaml:"greeting"`
	Fallback   string `yaml:"fallback"`
	SendPolicy string `yaml:"send_policy"` // queue, reject, or concurrent
}

// APIConfig holds HTTP API limits
type APIConfig struct {
	RateLimit float64 `yaml:"rate_limit"` // sends per second, 0 disables
	Burst     int     `yaml:"burst"`

	DedupeTTL    time.Duration `yaml:"-"`
	DedupeTTLRaw string        `yaml:"dedupe_ttl"`
	DedupeMax    int           `yaml:"dedupe_max"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"` // empty disables the exchange ledger
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPreamble seeds the oracle session when none is configured.
const DefaultPreamble = "You are a friendly assistant embedded in an application. " +
	"Answer briefly and clearly. If you are unsure, say so."

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: "localhost:8090",
		},
		Oracle: OracleConfig{
			Backend:          BackendEcho,
			InitTimeout:      30 * time.Second,
			RequestTimeout:   60 * time.Second,
			KeepaliveTime:    30 * time.Second,
			KeepaliveTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			Preamble:   DefaultPreamble,
			SendPolicy: "queue",
		},
		API: APIConfig{
			RateLimit: 2,
			Burst:     5,
			DedupeTTL: 10 * time.Minute,
			DedupeMax: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Values missing from the file keep their defaults.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Oracle.Backend {
	case BackendEcho:
	case BackendGRPC:
		if c.Oracle.Address == "" {
			return fmt.Errorf("oracle.address is required when oracle.backend is grpc")
		}
	default:
		return fmt.Errorf("oracle.backend must be %q or %q, got %q", BackendEcho, BackendGRPC, c.Oracle.Backend)
	}

	if c.Oracle.InitTimeout <= 0 {
		return fmt.Errorf("oracle.init_timeout must be positive")
	}
	if c.Oracle.RequestTimeout <= 0 {
		return fmt.Errorf("oracle.request_timeout must be positive")
	}
	if c.Oracle.EchoFailEvery < 0 {
		return fmt.Errorf("oracle.echo_fail_every must not be negative")
	}

	switch c.Session.SendPolicy {
	case "", "queue", "reject", "concurrent":
	default:
		return fmt.Errorf("session.send_policy must be queue, reject, or concurrent, got %q", c.Session.SendPolicy)
	}

	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must not be negative")
	}
	if c.API.RateLimit > 0 && c.API.Burst < 1 {
		return fmt.Errorf("api.burst must be at least 1 when api.rate_limit is set")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"oracle.init_timeout", cfg.Oracle.InitTimeoutRaw, &cfg.Oracle.InitTimeout},
		{"oracle.request_timeout", cfg.Oracle.RequestTimeoutRaw, &cfg.Oracle.RequestTimeout},
		{"oracle.keepalive_time", cfg.Oracle.KeepaliveTimeRaw, &cfg.Oracle.KeepaliveTime},
		{"oracle.keepalive_timeout", cfg.Oracle.KeepaliveTimeoutRaw, &cfg.Oracle.KeepaliveTimeout},
		{"oracle.echo_latency", cfg.Oracle.EchoLatencyRaw, &cfg.Oracle.EchoLatency},
		{"api.dedupe_ttl", cfg.API.DedupeTTLRaw, &cfg.API.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
