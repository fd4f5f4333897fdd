// ABOUTME: HTTP client for the coven-assist API used by remote surfaces
// ABOUTME: Wraps the JSON actions and the health probes; events live in events.go

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/coven-assist/internal/gateway"
	"github.com/2389/coven-assist/internal/session"
)

// Client talks to one coven-assist server.
type Client struct {
	base string
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a client for the server at base, e.g. "http://localhost:8090".
func New(base string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(base, "/"),
		http: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Error is a non-2xx response from the server.
type Error struct {
	Status int
	Msg    string `json:"error"`
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return fmt.Sprintf("%s (status %d)", e.Msg, e.Status)
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// State fetches the current session snapshot.
func (c *Client) State(ctx context.Context) (session.Session, error) {
	var st session.Session
	err := c.do(ctx, http.MethodGet, "/api/state", nil, nil, &st)
	return st, err
}

// Open opens the panel, greeting on first open.
func (c *Client) Open(ctx context.Context) (session.Session, error) {
	return c.action(ctx, "/api/open")
}

// Toggle flips the panel.
func (c *Client) Toggle(ctx context.Context) (session.Session, error) {
	return c.action(ctx, "/api/toggle")
}

func (c *Client) action(ctx context.Context, path string) (session.Session, error) {
	var resp gateway.ActionResponse
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &resp); err != nil {
		return session.Session{}, err
	}
	return resp.State, nil
}

// Stats fetches exchange statistics.
func (c *Client) Stats(ctx context.Context) (*gateway.StatsResponse, error) {
	var stats gateway.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Send posts text with a fresh idempotency key. With wait set the call
// returns after the reply resolves and the response carries the message.
func (c *Client) Send(ctx context.Context, text string, wait bool) (*gateway.SendResponse, error) {
	return c.SendWithKey(ctx, uuid.NewString(), text, wait)
}

// SendWithKey is Send with a caller-chosen idempotency key, for retries.
func (c *Client) SendWithKey(ctx context.Context, key, text string, wait bool) (*gateway.SendResponse, error) {
	path := "/api/send"
	if wait {
		path += "?wait=true"
	}
	headers := map[string]string{"Idempotency-Key": key}

	var resp gateway.SendResponse
	if err := c.do(ctx, http.MethodPost, path, gateway.SendRequest{Text: text}, headers, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Probe requests a plain-text health endpoint and returns its body.
func (c *Client) Probe(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	text := strings.TrimSpace(string(body))
	if resp.StatusCode != http.StatusOK {
		return "", &Error{Status: resp.StatusCode, Msg: text}
	}
	return text, nil
}
