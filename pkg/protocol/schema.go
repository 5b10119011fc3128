package protocol

// SchemaDDL defines the SQLite schema for the UpServer state database.
// Tables: staging_servers, review_requests, chat_sessions, chat_messages,
// events. Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- One row per customer. Never deleted; state transitions only.
CREATE TABLE IF NOT EXISTS staging_servers (
    customer_id TEXT PRIMARY KEY,
    port INTEGER NOT NULL DEFAULT 0,
    pid INTEGER NOT NULL DEFAULT 0,
    state TEXT NOT NULL DEFAULT 'stopped',
    started_at TEXT,
    last_activity_at TEXT,
    last_error TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- One row per flagged agent turn; quote lifecycle lives in status.
CREATE TABLE IF NOT EXISTS review_requests (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    request_message_id TEXT NOT NULL,
    response_message_id TEXT NOT NULL,
    decision TEXT NOT NULL,
    scope TEXT NOT NULL,
    confidence REAL NOT NULL,
    reason TEXT NOT NULL,
    triggers TEXT NOT NULL DEFAULT '[]',
    policy_version TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'open',
    quoted_price_cents INTEGER NOT NULL DEFAULT 0,
    quote_note TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_review_requests_customer
    ON review_requests(customer_id, created_at);

CREATE TABLE IF NOT EXISTS chat_sessions (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    agent_session TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    last_message_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS chat_messages (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_session
    ON chat_messages(session_id, created_at);

-- Lifecycle audit log: staging transitions, publishes, rollbacks.
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_events_customer
    ON events(customer_id, id);
`

// MigrateQuoteNote adds the quote_note column to review_requests tables
// created before quoting carried a note.
const MigrateQuoteNote = `
ALTER TABLE review_requests ADD COLUMN quote_note TEXT NOT NULL DEFAULT '';
`

// MigrateLastError adds the last_error column to staging_servers tables
// created before failure detail was persisted.
const MigrateLastError = `
ALTER TABLE staging_servers ADD COLUMN last_error TEXT NOT NULL DEFAULT '';
`
