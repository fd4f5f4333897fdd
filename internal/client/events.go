// ABOUTME: SSE consumer for GET /api/events
// ABOUTME: Delivers every "state" event as a decoded session snapshot

package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/2389/coven-assist/internal/session"
)

// Events streams session snapshots to fn until ctx ends or the connection
// drops. The first snapshot arrives immediately on connect.
func (c *Client) Events(ctx context.Context, fn func(session.Session)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/events", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Error{Status: resp.StatusCode}
	}

	return readSSE(resp.Body, func(event string, data []byte) {
		if event != "state" {
			return
		}
		var st session.Session
		if err := json.Unmarshal(data, &st); err == nil {
			fn(st)
		}
	})
}

// readSSE parses a Server-Sent Events stream, calling fn once per event.
// Comment lines are skipped and multi-line data fields are joined with "\n".
func readSSE(r io.Reader, fn func(event string, data []byte)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)

	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				fn(event, []byte(strings.Join(data, "\n")))
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}
