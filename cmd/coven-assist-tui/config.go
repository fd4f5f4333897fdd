// ABOUTME: Configuration loading for the coven-assist terminal client
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Display DisplayConfig `toml:"display"`
}

type ServerConfig struct {
	URL string `toml:"url"`
}

type DisplayConfig struct {
	Color          bool `toml:"color"`
	ShowTimestamps bool `toml:"show_timestamps"`
	WaitForReply   bool `toml:"wait_for_reply"` // block the prompt until the reply resolves
}

func defaultConfig() *Config {
	return &Config{
		Server:  ServerConfig{URL: "http://localhost:8090"},
		Display: DisplayConfig{Color: true},
	}
}

// getConfigPath returns the client config path.
// Priority: COVEN_ASSIST_TUI_CONFIG > XDG_CONFIG_HOME/coven/assist-tui.toml > ~/.config/coven/assist-tui.toml
func getConfigPath() string {
	if p := os.Getenv("COVEN_ASSIST_TUI_CONFIG"); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "assist-tui.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coven", "assist-tui.toml")
}

// loadConfig reads config from path. A missing file yields the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if _, err := toml.Decode(expandEnvVars(string(data)), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that the server URL is usable.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url must use http or https scheme")
	}
	c.Server.URL = strings.TrimRight(c.Server.URL, "/")
	return nil
}
