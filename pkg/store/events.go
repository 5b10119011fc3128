package store

import (
	"context"
	"fmt"
	"time"

	"upserver/pkg/protocol"
)

// AppendEvent records one audit-log entry. Failures to write the audit log
// are reported but callers treat them as non-fatal.
func (s *Store) AppendEvent(ctx context.Context, eventType, customerID, detail string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (type, customer_id, detail, created_at)
		VALUES (?, ?, ?, ?)`,
		eventType, customerID, detail, formatTime(now))
	if err != nil {
		return fmt.Errorf("append event %s/%s: %w", eventType, customerID, err)
	}
	return nil
}

// RecentEvents returns the newest events, optionally filtered to a
// customer. limit <= 0 defaults to 50.
func (s *Store) RecentEvents(ctx context.Context, customerID string, limit int) ([]protocol.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, type, customer_id, detail, created_at FROM events`
	args := []any{}
	if customerID != "" {
		query += ` WHERE customer_id = ?`
		args = append(args, customerID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []protocol.Event
	for rows.Next() {
		var ev protocol.Event
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.CustomerID, &ev.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.CreatedAt = parseTime(createdAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}
