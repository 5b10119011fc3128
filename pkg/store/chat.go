package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"upserver/pkg/protocol"
)

// CreateChatSession inserts a new session row.
func (s *Store) CreateChatSession(ctx context.Context, sess protocol.ChatSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, customer_id, agent_session, created_at, last_message_at)
		VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.CustomerID, sess.AgentSession,
		formatTime(sess.CreatedAt), formatTime(sess.LastMessageAt))
	if err != nil {
		return fmt.Errorf("create chat session %s: %w", sess.ID, err)
	}
	return nil
}

// GetChatSession returns a session by id, or nil if absent.
func (s *Store) GetChatSession(ctx context.Context, id string) (*protocol.ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, agent_session, created_at, last_message_at
		FROM chat_sessions WHERE id = ?`, id)

	var sess protocol.ChatSession
	var createdAt, lastMessageAt string
	err := row.Scan(&sess.ID, &sess.CustomerID, &sess.AgentSession, &createdAt, &lastMessageAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat session %s: %w", id, err)
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.LastMessageAt = parseTime(lastMessageAt)
	return &sess, nil
}

// UpdateChatSession stamps the agent resume handle and last-message time.
func (s *Store) UpdateChatSession(ctx context.Context, id, agentSession string, lastMessageAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions SET agent_session = ?, last_message_at = ? WHERE id = ?`,
		agentSession, formatTime(lastMessageAt), id)
	if err != nil {
		return fmt.Errorf("update chat session %s: %w", id, err)
	}
	return nil
}

// AppendChatMessage inserts a message row.
func (s *Store) AppendChatMessage(ctx context.Context, msg protocol.ChatMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, formatTime(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("append chat message %s: %w", msg.ID, err)
	}
	return nil
}

// ListChatMessages returns a session's messages in order.
func (s *Store) ListChatMessages(ctx context.Context, sessionID string) ([]protocol.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM chat_messages WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list chat messages %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []protocol.ChatMessage
	for rows.Next() {
		var msg protocol.ChatMessage
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		msg.CreatedAt = parseTime(createdAt)
		out = append(out, msg)
	}
	return out, rows.Err()
}
