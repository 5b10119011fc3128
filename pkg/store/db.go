// Package store provides SQLite-backed persistence for the UpServer core:
// staging-server records, review requests, chat rows, and the lifecycle
// audit log. All durable state is plain relational rows; the store is the
// single source of truth that the supervisor reconciles against OS reality.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"upserver/pkg/protocol"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database at path and enforces production-safe
// defaults: WAL journal mode and a 5-second busy timeout. It also calls
// db.PingContext to verify the connection is usable before returning.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	ctx := context.Background()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	return db, nil
}

// Store wraps the state database with typed row access.
type Store struct {
	db *sql.DB
}

// New creates a Store over an open database handle. The caller owns the
// handle and must close it.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init applies the schema and migrations. Each migration uses ALTER TABLE
// which errors if the column already exists; errors are intentionally
// ignored (try/ignore pattern).
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	_, _ = s.db.ExecContext(ctx, protocol.MigrateQuoteNote)
	_, _ = s.db.ExecContext(ctx, protocol.MigrateLastError)
	return nil
}
