// Package review manages the human quote queue for flagged agent turns.
// Status changes go through a transition table and land in the store as
// single guarded UPDATEs, so two admins acting on the same request at once
// cannot double-apply a transition.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"upserver/pkg/protocol"
	"upserver/pkg/triage"
)

// validTransitions is the allowed status graph. Quoting forks into
// approval or rejection; completed is terminal and reachable from any
// non-terminal status so abandoned requests can be closed out.
var validTransitions = map[protocol.ReviewStatus]map[protocol.ReviewStatus]bool{
	protocol.ReviewOpen: {
		protocol.ReviewQuoted:    true,
		protocol.ReviewCompleted: true,
	},
	protocol.ReviewQuoted: {
		protocol.ReviewApproved:  true,
		protocol.ReviewRejected:  true,
		protocol.ReviewCompleted: true,
	},
	protocol.ReviewApproved: {
		protocol.ReviewCompleted: true,
	},
	protocol.ReviewRejected: {
		protocol.ReviewCompleted: true,
	},
	protocol.ReviewCompleted: {},
}

// CanTransition reports whether from -> to is an allowed status change.
func CanTransition(from, to protocol.ReviewStatus) bool {
	return validTransitions[from][to]
}

// Queue is the review-request service over the store.
type Queue struct {
	store   Store
	nowFunc func() time.Time
	idFunc  func() string
}

// Store is the persistence surface Queue needs. Satisfied by *store.Store.
type Store interface {
	CreateReviewRequest(ctx context.Context, req protocol.ReviewRequest) error
	GetReviewRequest(ctx context.Context, id string) (*protocol.ReviewRequest, error)
	ListReviewRequests(ctx context.Context) ([]protocol.ReviewRequest, error)
	ListReviewRequestsByCustomer(ctx context.Context, customerID string) ([]protocol.ReviewRequest, error)
	TransitionReviewStatus(ctx context.Context, id string, from, to protocol.ReviewStatus, now time.Time) (bool, error)
	SetReviewQuote(ctx context.Context, id string, priceCents int64, note string, now time.Time) (bool, error)
}

// NewQueue creates a review queue backed by st.
func NewQueue(st Store) *Queue {
	return &Queue{
		store:   st,
		nowFunc: time.Now,
		idFunc:  uuid.NewString,
	}
}

// SetNowFunc overrides the clock for tests.
func (q *Queue) SetNowFunc(fn func() time.Time) { q.nowFunc = fn }

// SetIDFunc overrides request-id generation for tests.
func (q *Queue) SetIDFunc(fn func() string) { q.idFunc = fn }

// TurnRef identifies the chat turn a review request was raised from.
type TurnRef struct {
	CustomerID        string
	SessionID         string
	RequestMessageID  string
	ResponseMessageID string
}

// Create opens a review request from a flagged triage result and returns
// the persisted record.
func (q *Queue) Create(ctx context.Context, turn TurnRef, res triage.Result) (*protocol.ReviewRequest, error) {
	now := q.nowFunc().UTC()
	req := protocol.ReviewRequest{
		ID:                q.idFunc(),
		CustomerID:        turn.CustomerID,
		SessionID:         turn.SessionID,
		RequestMessageID:  turn.RequestMessageID,
		ResponseMessageID: turn.ResponseMessageID,
		Decision:          string(res.Decision),
		Scope:             string(res.Scope),
		Confidence:        res.Confidence,
		Reason:            res.Reason,
		Triggers:          res.Triggers,
		PolicyVersion:     res.PolicyVersion,
		Status:            protocol.ReviewOpen,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := q.store.CreateReviewRequest(ctx, req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Get returns a review request by id, or nil if absent.
func (q *Queue) Get(ctx context.Context, id string) (*protocol.ReviewRequest, error) {
	return q.store.GetReviewRequest(ctx, id)
}

// List returns all review requests, newest first.
func (q *Queue) List(ctx context.Context) ([]protocol.ReviewRequest, error) {
	return q.store.ListReviewRequests(ctx)
}

// ListByCustomer returns a customer's review requests, newest first.
func (q *Queue) ListByCustomer(ctx context.Context, customerID string) ([]protocol.ReviewRequest, error) {
	return q.store.ListReviewRequestsByCustomer(ctx, customerID)
}

// Quote attaches a price to an open request and moves it to quoted.
func (q *Queue) Quote(ctx context.Context, id string, priceCents int64, note string) (*protocol.ReviewRequest, error) {
	if priceCents <= 0 {
		return nil, fmt.Errorf("quote for %s: price must be positive, got %d cents", id, priceCents)
	}

	ok, err := q.store.SetReviewQuote(ctx, id, priceCents, note, q.nowFunc().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, q.transitionFailure(ctx, id, protocol.ReviewQuoted)
	}
	return q.store.GetReviewRequest(ctx, id)
}

// Approve moves a quoted request to approved.
func (q *Queue) Approve(ctx context.Context, id string) (*protocol.ReviewRequest, error) {
	return q.transition(ctx, id, protocol.ReviewQuoted, protocol.ReviewApproved)
}

// Reject moves a quoted request to rejected.
func (q *Queue) Reject(ctx context.Context, id string) (*protocol.ReviewRequest, error) {
	return q.transition(ctx, id, protocol.ReviewQuoted, protocol.ReviewRejected)
}

// Complete closes out a request from any non-terminal status.
func (q *Queue) Complete(ctx context.Context, id string) (*protocol.ReviewRequest, error) {
	cur, err := q.store.GetReviewRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("review request %s not found", id)
	}
	if cur.Status.Terminal() {
		return nil, &protocol.InvalidStatusTransitionError{
			RequestID: id,
			From:      cur.Status,
			To:        protocol.ReviewCompleted,
		}
	}
	return q.transition(ctx, id, cur.Status, protocol.ReviewCompleted)
}

// transition applies a guarded from -> to change and returns the updated
// record. A miss is reported as an InvalidStatusTransitionError carrying
// the row's actual status.
func (q *Queue) transition(ctx context.Context, id string, from, to protocol.ReviewStatus) (*protocol.ReviewRequest, error) {
	if !CanTransition(from, to) {
		return nil, &protocol.InvalidStatusTransitionError{RequestID: id, From: from, To: to}
	}

	ok, err := q.store.TransitionReviewStatus(ctx, id, from, to, q.nowFunc().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, q.transitionFailure(ctx, id, to)
	}
	return q.store.GetReviewRequest(ctx, id)
}

// transitionFailure explains a guarded UPDATE that matched no row: either
// the request does not exist or it sits in a status the transition does
// not accept.
func (q *Queue) transitionFailure(ctx context.Context, id string, to protocol.ReviewStatus) error {
	cur, err := q.store.GetReviewRequest(ctx, id)
	if err != nil {
		return err
	}
	if cur == nil {
		return fmt.Errorf("review request %s not found", id)
	}
	return &protocol.InvalidStatusTransitionError{
		RequestID: id,
		From:      cur.Status,
		To:        to,
	}
}
