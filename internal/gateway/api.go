// ABOUTME: HTTP API handlers exposing the shared session to remote surfaces.
// ABOUTME: JSON actions plus an SSE stream that re-sends the full state after every change.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/coven-assist/internal/conversation"
	"github.com/2389/coven-assist/internal/dedupe"
	"github.com/2389/coven-assist/internal/session"
	"github.com/2389/coven-assist/internal/store"
)

// maxSendBody caps the POST /api/send body.
const maxSendBody = 64 << 10

// sseKeepalive is how often an idle event stream gets a comment line.
var sseKeepalive = 15 * time.Second

// SendRequest is the JSON request body for POST /api/send.
type SendRequest struct {
	Text string `json:"text"`
}

// SendResponse is the JSON response for POST /api/send.
type SendResponse struct {
	ID            string           `json:"id"`
	UserMessageID string           `json:"user_message_id,omitempty"`
	Duplicate     bool             `json:"duplicate,omitempty"`
	Message       *session.Message `json:"message,omitempty"` // set when ?wait=true
}

// ActionResponse is the JSON response for POST /api/open and /api/toggle.
type ActionResponse struct {
	State session.Session `json:"state"`
	Error string          `json:"error,omitempty"`
}

// StatsResponse is the JSON response for GET /api/stats.
type StatsResponse struct {
	Enabled     bool                 `json:"enabled"`
	Initialized bool                 `json:"initialized"`
	SessionID   string               `json:"session_id,omitempty"`
	Subscribers int                  `json:"subscribers"`
	Exchanges   *store.ExchangeStats `json:"exchanges,omitempty"`
	Recent      []*store.Exchange    `json:"recent,omitempty"`
}

// handleState handles GET /api/state.
func (g *Gateway) handleState(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.session.State())
}

// handleOpen handles POST /api/open.
func (g *Gateway) handleOpen(w http.ResponseWriter, r *http.Request) {
	g.runAction(w, r, "open", g.session.Open)
}

// handleToggle handles POST /api/toggle.
func (g *Gateway) handleToggle(w http.ResponseWriter, r *http.Request) {
	g.runAction(w, r, "toggle", g.session.Toggle)
}

func (g *Gateway) runAction(w http.ResponseWriter, r *http.Request, name string, action func(context.Context) error) {
	err := action(r.Context())
	resp := ActionResponse{State: g.session.State()}
	if err != nil {
		g.logger.Warn("action failed", "action", name, "error", err)
		resp.Error = err.Error()
		g.writeJSON(w, statusForError(err), resp)
		return
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleSend handles POST /api/send.
// Responds 202 with the placeholder's ID once the user message and placeholder
// are visible. With ?wait=true it responds 200 after the placeholder resolves.
// An Idempotency-Key header makes retries return the original ID.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	if g.limiter != nil && !g.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		g.sendJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	req, err := parseSendRequest(http.MaxBytesReader(w, r.Body, maxSendBody))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key != "" {
		id, res := g.dedupe.Claim(key)
		switch res {
		case dedupe.Completed:
			g.writeJSON(w, http.StatusOK, SendResponse{ID: id, Duplicate: true})
			return
		case dedupe.InProgress:
			g.sendJSONError(w, http.StatusConflict, "request with this idempotency key is in progress")
			return
		}
	}

	reply, err := g.session.Send(r.Context(), req.Text)
	if err != nil {
		if key != "" {
			g.dedupe.Release(key)
		}
		g.logger.Warn("send failed", "error", err)
		g.sendJSONError(w, statusForError(err), err.Error())
		return
	}
	if key != "" {
		g.dedupe.Complete(key, reply.ID)
	}

	resp := SendResponse{ID: reply.ID, UserMessageID: reply.UserMessageID}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		msg, err := reply.Wait(r.Context())
		if err != nil {
			g.sendJSONError(w, http.StatusGatewayTimeout, "gave up waiting for reply")
			return
		}
		resp.Message = &msg
		g.writeJSON(w, http.StatusOK, resp)
		return
	}
	g.writeJSON(w, http.StatusAccepted, resp)
}

// handleEvents handles GET /api/events.
// Streams a "state" event with the full session on connect and after every
// change. A slow client skips intermediate states and always gets the latest.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	feed := g.session.Feed(r.Context())
	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	g.logger.Debug("event stream opened", "remote", r.RemoteAddr)
	defer g.logger.Debug("event stream closed", "remote", r.RemoteAddr)

	for {
		select {
		case snap, ok := <-feed:
			if !ok {
				return
			}
			g.writeSSEEvent(w, "state", snap)
			flusher.Flush()
		case <-ticker.C:
			_, _ = io.WriteString(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// handleStats handles GET /api/stats.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Enabled:     g.ledger != nil,
		Initialized: g.engine.Initialized(),
		SessionID:   g.engine.SessionID(),
		Subscribers: g.session.Subscribers(),
	}

	if g.ledger != nil {
		filter := store.ExchangeFilter{}
		if since := r.URL.Query().Get("since"); since != "" {
			d, err := time.ParseDuration(since)
			if err != nil {
				g.sendJSONError(w, http.StatusBadRequest, "invalid since duration")
				return
			}
			t := time.Now().Add(-d)
			filter.Since = &t
		}

		stats, err := g.ledger.GetExchangeStats(r.Context(), filter)
		if err != nil {
			g.logger.Error("failed to get exchange stats", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		recent, err := g.ledger.ListExchanges(r.Context(), 20)
		if err != nil {
			g.logger.Error("failed to list exchanges", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		resp.Exchanges = stats
		resp.Recent = recent
	}

	g.writeJSON(w, http.StatusOK, resp)
}

// statusForError maps store errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrSendInFlight):
		return http.StatusConflict
	case errors.Is(err, conversation.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		// Initialization failures: the oracle could not be reached.
		return http.StatusBadGateway
	}
}

// formatSSEEvent formats an SSE event as a string with the standard format:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	_, _ = io.WriteString(w, formatSSEEvent(event, string(dataJSON)))
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}

// parseSendRequest parses and validates a SendRequest from the given reader.
func parseSendRequest(r io.Reader) (*SendRequest, error) {
	var req SendRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.Text == "" {
		return nil, errors.New("text is required")
	}
	return &req, nil
}
