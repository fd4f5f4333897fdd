// ABOUTME: Terminal client for a coven-assist server, one more surface on the shared session
// ABOUTME: Reads lines from stdin and renders the server's SSE state stream

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-assist/internal/client"
	"github.com/2389/coven-assist/internal/gateway"
	"github.com/2389/coven-assist/internal/session"
)

func main() {
	configPath := flag.String("config", getConfigPath(), "Path to TOML config")
	server := flag.String("server", "", "Server URL (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *server != "" {
		cfg.Server.URL = *server
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if !cfg.Display.Color {
		color.NoColor = true
	}

	fmt.Printf("coven-assist-tui connected to %s\n", cfg.Server.URL)
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := client.New(cfg.Server.URL)
	r := newRenderer(os.Stdout, cfg.Display.ShowTimestamps)
	go watch(ctx, c, r)

	if err := run(ctx, c, cfg, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

// watch keeps the event stream connected, reconnecting with backoff.
func watch(ctx context.Context, c *client.Client, r *renderer) {
	backoff := time.Second
	for {
		err := c.Events(ctx, func(st session.Session) {
			backoff = time.Second
			r.Apply(st)
		})
		if ctx.Err() != nil {
			return
		}
		fmt.Printf("[stream] %v, reconnecting in %s\n", err, backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

func run(ctx context.Context, c *client.Client, cfg *Config, in io.Reader) error {
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
			return
		}
		errCh <- io.EOF
	}()

	for {
		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-lines:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		quit, err := handleInput(ctx, c, cfg, input)
		if err != nil {
			fmt.Printf("[error] %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// handleInput runs a slash command or sends the line as a message.
func handleInput(ctx context.Context, c *client.Client, cfg *Config, input string) (quit bool, err error) {
	switch input {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/help":
		printHelp()
		return false, nil
	case "/open":
		_, err := c.Open(ctx)
		return false, err
	case "/toggle":
		_, err := c.Toggle(ctx)
		return false, err
	case "/state":
		st, err := c.State(ctx)
		if err != nil {
			return false, err
		}
		fmt.Printf("panel open: %t, messages: %d, pending: %d\n", st.IsOpen, len(st.Messages), st.PendingCount())
		return false, nil
	case "/stats":
		stats, err := c.Stats(ctx)
		if err != nil {
			return false, err
		}
		printStats(stats)
		return false, nil
	}

	if strings.HasPrefix(input, "/") {
		return false, fmt.Errorf("unknown command %s (try /help)", input)
	}

	_, err = c.Send(ctx, input, cfg.Display.WaitForReply)
	return false, err
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /open          Open the assistant panel")
	fmt.Println("  /toggle        Open or close the panel")
	fmt.Println("  /state         Show a session summary")
	fmt.Println("  /stats         Show exchange statistics")
	fmt.Println("  /help          Show this help")
	fmt.Println("  /quit          Exit")
}

func printStats(s *gateway.StatsResponse) {
	fmt.Printf("oracle initialized: %t", s.Initialized)
	if s.SessionID != "" {
		fmt.Printf(" (session %s)", s.SessionID)
	}
	fmt.Printf(", subscribers: %d\n", s.Subscribers)
	if !s.Enabled || s.Exchanges == nil {
		fmt.Println("ledger disabled")
		return
	}
	e := s.Exchanges
	fmt.Printf("exchanges: %d (%d delivered, %d failed), avg %.0fms, max %dms\n",
		e.Total, e.Delivered, e.Failed, e.AvgLatencyMs, e.MaxLatencyMs)
	for kind, n := range e.ErrorKinds {
		fmt.Printf("  %s: %d\n", kind, n)
	}
}
