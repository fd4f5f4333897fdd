// ABOUTME: Entry point for coven-assist, the shared assistant session server
// ABOUTME: Subcommands to serve the session, write a config, and probe a running server

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-assist/internal/client"
	"github.com/2389/coven-assist/internal/config"
	"github.com/2389/coven-assist/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                    _     _
  ___ _____   _____ _ __        __ _ ___ ___(_)___| |_
 / __/ _ \ \ / / _ \ '_ \ _____/ _' / __/ __| / __| __|
| (_| (_) \ V /  __/ | | |_____| (_| \__ \__ \ \__ \ |_
 \___\___/ \_/ \___|_| |_|      \__,_|___/___/_|___/\__|
`

// getConfigPath returns the path to the config file.
// Priority: COVEN_ASSIST_CONFIG env var > XDG_CONFIG_HOME/coven/assist.yaml > ~/.config/coven/assist.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_ASSIST_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "assist.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "assist.yaml")
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-assist <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the session server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check server health")
		fmt.Println("  ready    Check whether the oracle session is initialized")
		fmt.Println("  state    Print the current session")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runProbe(ctx, "/health")
	case "ready":
		err = runProbe(ctx, "/health/ready")
	case "state":
		err = runState(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file, falling back to defaults when it does not exist.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading config: %w", err)
	}
	return cfg, true, nil
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, found, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s", configPath)
	if !found {
		yellow.Print(" (not found, using defaults)")
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Oracle:    %s", cfg.Oracle.Backend)
	if cfg.Oracle.Backend == config.BackendGRPC {
		cyan.Printf(" %s", cfg.Oracle.Address)
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Policy:    %s\n", cfg.Session.SendPolicy)
	green.Print("    ▶ ")
	if cfg.Database.Path != "" {
		fmt.Printf("Ledger:    %s\n", cfg.Database.Path)
	} else {
		fmt.Print("Ledger:    ")
		gray.Println("disabled")
	}
	fmt.Println()

	logger.Info("starting coven-assist",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"oracle", cfg.Oracle.Backend,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(cfg config.LoggingConfig, out io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{
			mu:    &sync.Mutex{},
			out:   out,
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
// Derived handlers share the parent's mutex so lines never interleave.
type colorHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	prefix string // dotted group path
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch {
	case r.Level < slog.LevelInfo:
		buf.WriteString(color.MagentaString("DBG "))
	case r.Level < slog.LevelWarn:
		buf.WriteString(color.CyanString("INF "))
	case r.Level < slog.LevelError:
		buf.WriteString(color.YellowString("WRN "))
	default:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	}

	buf.WriteString(r.Message)

	write := func(key string, v slog.Value) {
		buf.WriteString(color.HiBlackString(" " + key + "="))
		buf.WriteString(v.String())
	}
	// Handler attrs carry their group prefix from WithAttrs.
	for _, a := range h.attrs {
		write(a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(h.prefix+a.Key, a.Value)
		return true
	})
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	nh.attrs = append(nh.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		nh.attrs = append(nh.attrs, a)
	}
	return &nh
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = h.prefix + name + "."
	return &nh
}

func newAPIClient() (*client.Client, error) {
	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return nil, err
	}
	return client.New("http://" + cfg.Server.HTTPAddr), nil
}

// runProbe requests a health endpoint and prints its body.
func runProbe(ctx context.Context, path string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	body, err := c.Probe(ctx, path)
	if err != nil {
		return err
	}
	fmt.Println(body)
	return nil
}

func runState(ctx context.Context) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	st, err := c.State(ctx)
	if err != nil {
		return fmt.Errorf("fetching state: %w", err)
	}

	panel := "closed"
	if st.IsOpen {
		panel = "open"
	}
	fmt.Printf("panel: %s, messages: %d, pending: %d\n", panel, len(st.Messages), st.PendingCount())
	for _, m := range st.Messages {
		fmt.Printf("  [%s] %-9s %s\n", m.Timestamp.Format("15:04:05"), m.Sender, m.Text)
	}
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-assist configuration setup")
	fmt.Println("================================")
	fmt.Println()

	defaultDBPath := filepath.Join(getDataPath(), "assist.db")

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8090")

	fmt.Println("\n--- Oracle Configuration ---")
	backend := prompt(reader, "Backend (echo/grpc)", config.BackendEcho)
	var address string
	if backend == config.BackendGRPC {
		address = prompt(reader, "Oracle address", "localhost:50061")
	}

	fmt.Println("\n--- Session Configuration ---")
	policy := prompt(reader, "Send policy (queue/reject/concurrent)", "queue")

	fmt.Println("\n--- Ledger Configuration ---")
	dbPath := prompt(reader, "SQLite database path (\"none\" disables)", defaultDBPath)
	if dbPath == "none" {
		dbPath = ""
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# coven-assist configuration\n")
	cfg.WriteString("# Generated by coven-assist init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", httpAddr)

	cfg.WriteString("oracle:\n")
	fmt.Fprintf(&cfg, "  backend: %q\n", backend)
	if address != "" {
		fmt.Fprintf(&cfg, "  address: %q\n", address)
	}
	cfg.WriteString("  init_timeout: \"30s\"\n")
	cfg.WriteString("  request_timeout: \"60s\"\n\n")

	cfg.WriteString("session:\n")
	fmt.Fprintf(&cfg, "  send_policy: %q\n\n", policy)

	cfg.WriteString("api:\n")
	cfg.WriteString("  rate_limit: 2\n")
	cfg.WriteString("  burst: 5\n")
	cfg.WriteString("  dedupe_ttl: \"10m\"\n\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n\n", dbPath)

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", logFormat)

	// Catch typos before writing anything.
	if _, err := config.Parse([]byte(cfg.String())); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  coven-assist serve\n")

	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

// prompt asks a question and returns the answer, or defaultVal on empty input.
func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		return defaultVal
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
