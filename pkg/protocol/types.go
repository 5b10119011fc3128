// Package protocol defines the shared domain types for the UpServer core:
// staging-server records, review requests, chat rows, the SQLite schema
// they persist to, and the typed errors exchanged between packages.
package protocol

import "time"

// ServerState represents the lifecycle state of a customer's staging server.
type ServerState string

// Staging server state constants.
const (
	StateStopped  ServerState = "stopped"
	StateStarting ServerState = "starting"
	StateRunning  ServerState = "running"
	StateError    ServerState = "error"
)

// StagingServer represents a row in the staging_servers table.
// One row per customer; rows are never deleted, only transitioned.
type StagingServer struct {
	CustomerID     string      `json:"customer_id"`
	Port           int         `json:"port"`
	PID            int         `json:"pid"` // 0 when no process is tracked
	State          ServerState `json:"state"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	LastActivityAt *time.Time  `json:"last_activity_at,omitempty"`
	LastError      string      `json:"last_error,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// ReviewStatus represents the quote lifecycle of a flagged request.
type ReviewStatus string

// Review request status constants.
const (
	ReviewOpen      ReviewStatus = "open"
	ReviewQuoted    ReviewStatus = "quoted"
	ReviewApproved  ReviewStatus = "approved"
	ReviewRejected  ReviewStatus = "rejected"
	ReviewCompleted ReviewStatus = "completed"
)

// Terminal reports whether no further status transitions are allowed.
func (s ReviewStatus) Terminal() bool {
	return s == ReviewCompleted
}

// ReviewRequest represents a row in the review_requests table.
// One row per flagged agent turn; rows are never deleted.
type ReviewRequest struct {
	ID                string       `json:"id"`
	CustomerID        string       `json:"customer_id"`
	SessionID         string       `json:"session_id"`
	RequestMessageID  string       `json:"request_message_id"`
	ResponseMessageID string       `json:"response_message_id"`
	Decision          string       `json:"decision"`
	Scope             string       `json:"scope"`
	Confidence        float64      `json:"confidence"`
	Reason            string       `json:"reason"`
	Triggers          []string     `json:"triggers"`
	PolicyVersion     string       `json:"policy_version"`
	Status            ReviewStatus `json:"status"`
	QuotedPriceCents  int64        `json:"quoted_price_cents,omitempty"`
	QuoteNote         string       `json:"quote_note,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// ChatSession represents a row in the chat_sessions table. AgentSession is
// the opaque resume handle the edit oracle hands back for multi-turn context.
type ChatSession struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customer_id"`
	AgentSession  string    `json:"agent_session,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// ChatMessage represents a row in the chat_messages table.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // "customer" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Event represents a row in the events audit table. Every staging
// lifecycle transition and publish action appends one.
type Event struct {
	ID         int64     `json:"id"`
	Type       string    `json:"type"`
	CustomerID string    `json:"customer_id"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Commit is a single entry of a customer's git history. Derived from the
// working tree, never persisted by this system.
type Commit struct {
	Hash    string    `json:"hash"`
	Time    time.Time `json:"time"`
	Subject string    `json:"subject"`
}
