package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"upserver/pkg/protocol"
)

// timeFormat is the canonical timestamp encoding for all store columns.
const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeFormat, s); err == nil {
		return t
	}
	// Rows inserted by SQLite's datetime('now') default use this form.
	t, _ := time.Parse("2006-01-02 15:04:05", s)
	return t
}

func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

// GetStagingServer returns the record for a customer, or nil if the
// customer has never had a staging server.
func (s *Store) GetStagingServer(ctx context.Context, customerID string) (*protocol.StagingServer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT customer_id, port, pid, state, started_at, last_activity_at, last_error, updated_at
		FROM staging_servers WHERE customer_id = ?`, customerID)

	rec, err := scanStagingServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get staging server %s: %w", customerID, err)
	}
	return rec, nil
}

// ListStagingServers returns all staging server records ordered by customer id.
func (s *Store) ListStagingServers(ctx context.Context) ([]protocol.StagingServer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT customer_id, port, pid, state, started_at, last_activity_at, last_error, updated_at
		FROM staging_servers ORDER BY customer_id`)
	if err != nil {
		return nil, fmt.Errorf("list staging servers: %w", err)
	}
	defer rows.Close()

	var out []protocol.StagingServer
	for rows.Next() {
		rec, scanErr := scanStagingServer(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan staging server: %w", scanErr)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// PutStagingServer inserts or fully replaces a customer's record.
func (s *Store) PutStagingServer(ctx context.Context, rec protocol.StagingServer) error {
	var startedAt, lastActivity any
	if rec.StartedAt != nil {
		startedAt = formatTime(*rec.StartedAt)
	}
	if rec.LastActivityAt != nil {
		lastActivity = formatTime(*rec.LastActivityAt)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staging_servers
			(customer_id, port, pid, state, started_at, last_activity_at, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET
			port = excluded.port,
			pid = excluded.pid,
			state = excluded.state,
			started_at = excluded.started_at,
			last_activity_at = excluded.last_activity_at,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		rec.CustomerID, rec.Port, rec.PID, string(rec.State),
		startedAt, lastActivity, rec.LastError, formatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put staging server %s: %w", rec.CustomerID, err)
	}
	return nil
}

// TouchActivity resets the idle clock for a customer's server. A missing
// row is not an error — activity can precede the first start.
func (s *Store) TouchActivity(ctx context.Context, customerID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE staging_servers SET last_activity_at = ?, updated_at = ?
		WHERE customer_id = ?`,
		formatTime(now), formatTime(now), customerID)
	if err != nil {
		return fmt.Errorf("touch activity %s: %w", customerID, err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanStagingServer(row scannable) (*protocol.StagingServer, error) {
	var rec protocol.StagingServer
	var state, updatedAt string
	var startedAt, lastActivity sql.NullString

	if err := row.Scan(&rec.CustomerID, &rec.Port, &rec.PID, &state,
		&startedAt, &lastActivity, &rec.LastError, &updatedAt); err != nil {
		return nil, err
	}

	rec.State = protocol.ServerState(state)
	rec.StartedAt = parseNullableTime(startedAt)
	rec.LastActivityAt = parseNullableTime(lastActivity)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}
