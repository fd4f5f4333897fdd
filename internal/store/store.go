// ABOUTME: Data types and interfaces for the exchange ledger
// ABOUTME: Records outcome metrics for oracle exchanges; conversation text is never stored

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Exchange status values
const (
	ExchangeDelivered = "delivered"
	ExchangeFailed    = "failed"
)

// Exchange is one oracle round trip as seen by the engine.
type Exchange struct {
	RequestID   string    `json:"request_id"`
	SessionID   string    `json:"session_id"` // oracle session handle
	Status      string    `json:"status"`     // "delivered" or "failed"
	ErrorKind   string    `json:"error_kind,omitempty"`
	PromptChars int       `json:"prompt_chars"`
	ReplyChars  int       `json:"reply_chars"`
	LatencyMs   int64     `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExchangeFilter narrows GetExchangeStats. Nil fields are ignored.
type ExchangeFilter struct {
	SessionID *string
	Since     *time.Time
	Until     *time.Time
}

// ExchangeStats aggregates exchanges matching a filter.
type ExchangeStats struct {
	Total        int64            `json:"total"`
	Delivered    int64            `json:"delivered"`
	Failed       int64            `json:"failed"`
	AvgLatencyMs float64          `json:"avg_latency_ms"`
	MaxLatencyMs int64            `json:"max_latency_ms"`
	ErrorKinds   map[string]int64 `json:"error_kinds"`
}

// ExchangeStore persists exchange outcomes.
type ExchangeStore interface {
	SaveExchange(ctx context.Context, ex *Exchange) error
	GetExchange(ctx context.Context, requestID string) (*Exchange, error)
	ListExchanges(ctx context.Context, limit int) ([]*Exchange, error)
	GetExchangeStats(ctx context.Context, filter ExchangeFilter) (*ExchangeStats, error)
	Close() error
}
