package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"upserver/pkg/protocol"
)

// CreateReviewRequest inserts a new flagged-turn row with status open.
func (s *Store) CreateReviewRequest(ctx context.Context, req protocol.ReviewRequest) error {
	triggers, err := json.Marshal(req.Triggers)
	if err != nil {
		return fmt.Errorf("marshal triggers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO review_requests
			(id, customer_id, session_id, request_message_id, response_message_id,
			 decision, scope, confidence, reason, triggers, policy_version,
			 status, quoted_price_cents, quote_note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.CustomerID, req.SessionID, req.RequestMessageID, req.ResponseMessageID,
		req.Decision, req.Scope, req.Confidence, req.Reason, string(triggers), req.PolicyVersion,
		string(req.Status), req.QuotedPriceCents, req.QuoteNote,
		formatTime(req.CreatedAt), formatTime(req.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create review request %s: %w", req.ID, err)
	}
	return nil
}

// GetReviewRequest returns a review request by id, or nil if absent.
func (s *Store) GetReviewRequest(ctx context.Context, id string) (*protocol.ReviewRequest, error) {
	row := s.db.QueryRowContext(ctx, reviewSelect+` WHERE id = ?`, id)
	req, err := scanReviewRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get review request %s: %w", id, err)
	}
	return req, nil
}

// ListReviewRequestsByCustomer returns a customer's review requests,
// newest first.
func (s *Store) ListReviewRequestsByCustomer(ctx context.Context, customerID string) ([]protocol.ReviewRequest, error) {
	return s.listReviews(ctx, reviewSelect+` WHERE customer_id = ? ORDER BY created_at DESC`, customerID)
}

// ListReviewRequests returns all review requests, newest first.
func (s *Store) ListReviewRequests(ctx context.Context) ([]protocol.ReviewRequest, error) {
	return s.listReviews(ctx, reviewSelect+` ORDER BY created_at DESC`)
}

func (s *Store) listReviews(ctx context.Context, query string, args ...any) ([]protocol.ReviewRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list review requests: %w", err)
	}
	defer rows.Close()

	var out []protocol.ReviewRequest
	for rows.Next() {
		req, scanErr := scanReviewRequest(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan review request: %w", scanErr)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// TransitionReviewStatus atomically advances a request from one status to
// another in a single guarded UPDATE. It returns false if the row was not
// in the expected from-status (or does not exist) — the caller decides
// whether that is an InvalidStatusTransition or a missing request.
func (s *Store) TransitionReviewStatus(ctx context.Context, id string, from, to protocol.ReviewStatus, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE review_requests SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), formatTime(now), id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition review %s %s->%s: %w", id, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition review %s: rows affected: %w", id, err)
	}
	return n == 1, nil
}

// SetReviewQuote stamps price and note while moving open -> quoted, as one
// atomic guarded UPDATE.
func (s *Store) SetReviewQuote(ctx context.Context, id string, priceCents int64, note string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE review_requests
		SET status = ?, quoted_price_cents = ?, quote_note = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(protocol.ReviewQuoted), priceCents, note, formatTime(now),
		id, string(protocol.ReviewOpen))
	if err != nil {
		return false, fmt.Errorf("quote review %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("quote review %s: rows affected: %w", id, err)
	}
	return n == 1, nil
}

const reviewSelect = `
	SELECT id, customer_id, session_id, request_message_id, response_message_id,
	       decision, scope, confidence, reason, triggers, policy_version,
	       status, quoted_price_cents, quote_note, created_at, updated_at
	FROM review_requests`

func scanReviewRequest(row scannable) (*protocol.ReviewRequest, error) {
	var req protocol.ReviewRequest
	var triggers, status, createdAt, updatedAt string

	if err := row.Scan(&req.ID, &req.CustomerID, &req.SessionID,
		&req.RequestMessageID, &req.ResponseMessageID,
		&req.Decision, &req.Scope, &req.Confidence, &req.Reason,
		&triggers, &req.PolicyVersion, &status,
		&req.QuotedPriceCents, &req.QuoteNote, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(triggers), &req.Triggers); err != nil {
		return nil, fmt.Errorf("parse triggers for %s: %w", req.ID, err)
	}
	req.Status = protocol.ReviewStatus(status)
	req.CreatedAt = parseTime(createdAt)
	req.UpdatedAt = parseTime(updatedAt)
	return &req, nil
}
