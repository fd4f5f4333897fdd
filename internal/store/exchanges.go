// ABOUTME: SQLite queries for exchange records and aggregate statistics
// ABOUTME: Backs the /api/stats endpoint and post-hoc latency analysis

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timeFormat is fixed-width so created_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SaveExchange stores an exchange record.
func (s *SQLiteStore) SaveExchange(ctx context.Context, ex *Exchange) error {
	query := `
		INSERT INTO exchanges (
			request_id, session_id, status, error_kind,
			prompt_chars, reply_chars, latency_ms, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		ex.RequestID,
		ex.SessionID,
		ex.Status,
		nullString(ex.ErrorKind),
		ex.PromptChars,
		ex.ReplyChars,
		ex.LatencyMs,
		ex.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting exchange: %w", err)
	}

	s.logger.Debug("saved exchange",
		"request_id", ex.RequestID,
		"status", ex.Status,
		"latency_ms", ex.LatencyMs,
	)
	return nil
}

// GetExchange retrieves one exchange by request ID.
func (s *SQLiteStore) GetExchange(ctx context.Context, requestID string) (*Exchange, error) {
	query := `
		SELECT request_id, session_id, status, error_kind,
		       prompt_chars, reply_chars, latency_ms, created_at
		FROM exchanges
		WHERE request_id = ?
	`

	ex, err := scanExchange(s.db.QueryRowContext(ctx, query, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ex, nil
}

// ListExchanges returns the most recent exchanges, newest first.
func (s *SQLiteStore) ListExchanges(ctx context.Context, limit int) ([]*Exchange, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT request_id, session_id, status, error_kind,
		       prompt_chars, reply_chars, latency_ms, created_at
		FROM exchanges
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying exchanges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var exchanges []*Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		exchanges = append(exchanges, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating exchange rows: %w", err)
	}

	return exchanges, nil
}

// GetExchangeStats returns aggregated exchange statistics with optional filters.
func (s *SQLiteStore) GetExchangeStats(ctx context.Context, filter ExchangeFilter) (*ExchangeStats, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.SessionID != nil {
		where += " AND session_id = ?"
		args = append(args, *filter.SessionID)
	}
	if filter.Since != nil {
		where += " AND created_at >= ?"
		args = append(args, filter.Since.UTC().Format(timeFormat))
	}
	if filter.Until != nil {
		where += " AND created_at < ?"
		args = append(args, filter.Until.UTC().Format(timeFormat))
	}

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'delivered' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(latency_ms), 0),
			COALESCE(MAX(latency_ms), 0)
		FROM exchanges` + where

	stats := ExchangeStats{ErrorKinds: map[string]int64{}}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Delivered,
		&stats.Failed,
		&stats.AvgLatencyMs,
		&stats.MaxLatencyMs,
	)
	if err != nil {
		return nil, fmt.Errorf("querying exchange stats: %w", err)
	}

	kindQuery := `SELECT error_kind, COUNT(*) FROM exchanges` + where +
		` AND error_kind IS NOT NULL GROUP BY error_kind`
	rows, err := s.db.QueryContext(ctx, kindQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("querying error kinds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scanning error kind: %w", err)
		}
		stats.ErrorKinds[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating error kinds: %w", err)
	}

	return &stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExchange(row rowScanner) (*Exchange, error) {
	var ex Exchange
	var errorKind sql.NullString
	var createdAtStr string

	err := row.Scan(
		&ex.RequestID,
		&ex.SessionID,
		&ex.Status,
		&errorKind,
		&ex.PromptChars,
		&ex.ReplyChars,
		&ex.LatencyMs,
		&createdAtStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning exchange row: %w", err)
	}

	if errorKind.Valid {
		ex.ErrorKind = errorKind.String
	}

	ex.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &ex, nil
}

// Ensure SQLiteStore implements ExchangeStore interface.
var _ ExchangeStore = (*SQLiteStore)(nil)
