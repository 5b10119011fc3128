// Package chat runs a customer's edit turn end to end: persist the
// incoming message, drive the edit oracle against the customer's staging
// copy, fold the stream, triage the outcome, and either let the change
// ride or open a review request and notify the operators.
package chat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"upserver/pkg/agentstream"
	"upserver/pkg/notify"
	"upserver/pkg/protocol"
	"upserver/pkg/review"
	"upserver/pkg/store"
	"upserver/pkg/triage"
)

// ActivityRecorder marks a customer's staging server as recently used so
// the idle sweeper leaves it alone. Satisfied by *staging.Manager.
type ActivityRecorder interface {
	UpdateActivity(ctx context.Context, customerID string) error
}

// Notifier is the operator notification surface. Satisfied by notify.Sink
// implementations.
type Notifier interface {
	Send(ctx context.Context, n notify.Notification) error
}

// TurnResult is what a chat turn returns to the customer-facing frontend.
type TurnResult struct {
	SessionID    string         `json:"session_id"`
	MessageID    string         `json:"message_id"`
	ReplyID      string         `json:"reply_id"`
	Reply        string         `json:"reply"`
	FilesTouched []string       `json:"files_touched,omitempty"`
	Triage       triage.Result  `json:"triage"`
	ReviewID     string         `json:"review_id,omitempty"`
	Errored      bool           `json:"errored,omitempty"`
}

// Service coordinates chat turns.
type Service struct {
	store    *store.Store
	oracle   agentstream.Oracle
	reviews  *review.Queue
	broker   *agentstream.Broker
	notifier Notifier
	activity ActivityRecorder

	siteRoot string
	policy   triage.Policy

	nowFunc func() time.Time
	idFunc  func() string
}

// NewService wires a chat service. Broker, notifier and activity hook are
// optional attachments; the corresponding side effects are skipped when
// absent.
func NewService(st *store.Store, oracle agentstream.Oracle, reviews *review.Queue, siteRoot string, policy triage.Policy) *Service {
	return &Service{
		store:    st,
		oracle:   oracle,
		reviews:  reviews,
		siteRoot: siteRoot,
		policy:   policy,
		nowFunc:  time.Now,
		idFunc:   uuid.NewString,
	}
}

// SetBroker attaches a live-event broker.
func (s *Service) SetBroker(b *agentstream.Broker) { s.broker = b }

// SetNotifier attaches an operator notification sink.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetActivityRecorder attaches the staging activity hook.
func (s *Service) SetActivityRecorder(a ActivityRecorder) { s.activity = a }

// SetNowFunc overrides the clock for tests.
func (s *Service) SetNowFunc(fn func() time.Time) { s.nowFunc = fn }

// SetIDFunc overrides id generation for tests.
func (s *Service) SetIDFunc(fn func() string) { s.idFunc = fn }

// OpenSession creates a new chat session for a customer.
func (s *Service) OpenSession(ctx context.Context, customerID string) (*protocol.ChatSession, error) {
	now := s.nowFunc().UTC()
	sess := protocol.ChatSession{
		ID:            s.idFunc(),
		CustomerID:    customerID,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	if err := s.store.CreateChatSession(ctx, sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// History returns a session's transcript in order.
func (s *Service) History(ctx context.Context, sessionID string) ([]protocol.ChatMessage, error) {
	return s.store.ListChatMessages(ctx, sessionID)
}

// HandleTurn runs one customer message through the oracle and triage.
// The customer message is persisted before the oracle runs, so a crashed
// turn still leaves the request on record.
func (s *Service) HandleTurn(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	sess, err := s.store.GetChatSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("chat session %s not found", sessionID)
	}

	now := s.nowFunc().UTC()
	msg := protocol.ChatMessage{
		ID:        s.idFunc(),
		SessionID: sessionID,
		Role:      "customer",
		Content:   text,
		CreatedAt: now,
	}
	if err := s.store.AppendChatMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.touchActivity(ctx, sess.CustomerID)

	outcome := s.runOracle(ctx, sess, text)

	replyText := outcome.Text
	if outcome.Errored && replyText == "" {
		replyText = "Something went wrong applying that change. Our team has been notified."
	}
	reply := protocol.ChatMessage{
		ID:        s.idFunc(),
		SessionID: sessionID,
		Role:      "assistant",
		Content:   replyText,
		CreatedAt: s.nowFunc().UTC(),
	}
	if err := s.store.AppendChatMessage(ctx, reply); err != nil {
		return nil, err
	}
	if err := s.store.UpdateChatSession(ctx, sessionID, resumeOr(sess.AgentSession, outcome.Resume), reply.CreatedAt); err != nil {
		return nil, err
	}

	verdict := triage.Evaluate(triage.Input{
		RequestText:    text,
		FilesTouched:   outcome.FilesTouched,
		AgentSucceeded: outcome.Succeeded,
		AgentErrored:   outcome.Errored,
	}, s.policy)

	result := &TurnResult{
		SessionID:    sessionID,
		MessageID:    msg.ID,
		ReplyID:      reply.ID,
		Reply:        replyText,
		FilesTouched: outcome.FilesTouched,
		Triage:       verdict,
		Errored:      outcome.Errored,
	}

	if verdict.Decision == triage.DecisionFlag {
		req, reviewErr := s.reviews.Create(ctx, review.TurnRef{
			CustomerID:        sess.CustomerID,
			SessionID:         sessionID,
			RequestMessageID:  msg.ID,
			ResponseMessageID: reply.ID,
		}, verdict)
		if reviewErr != nil {
			// The turn already happened; surface the verdict even when
			// the queue write fails, but loudly.
			fmt.Fprintf(os.Stderr, "warning: create review request for %s: %v\n", sess.CustomerID, reviewErr)
		} else {
			result.ReviewID = req.ID
			s.notifyFlagged(ctx, sess.CustomerID, req.ID, verdict)
		}
	}

	return result, nil
}

// runOracle drives one oracle turn, republishing its stream to the broker
// while folding it. A Run error is folded into an errored outcome rather
// than failing the turn; triage turns it into a flag.
func (s *Service) runOracle(ctx context.Context, sess *protocol.ChatSession, prompt string) agentstream.Outcome {
	events, err := s.oracle.Run(ctx, agentstream.Request{
		CustomerID: sess.CustomerID,
		SessionID:  sess.ID,
		Resume:     sess.AgentSession,
		Prompt:     prompt,
		SiteDir:    filepath.Join(s.siteRoot, sess.CustomerID),
	})
	if err != nil {
		return agentstream.Outcome{Errored: true, ErrorDetail: err.Error()}
	}

	if s.broker == nil {
		return agentstream.Collect(events)
	}

	tapped := make(chan agentstream.Event, 16)
	go func() {
		defer close(tapped)
		for ev := range events {
			s.broker.Publish(agentstream.TurnEvent{
				CustomerID: sess.CustomerID,
				SessionID:  sess.ID,
				Event:      ev,
			})
			tapped <- ev
		}
	}()
	return agentstream.Collect(tapped)
}

func (s *Service) notifyFlagged(ctx context.Context, customerID, requestID string, verdict triage.Result) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Send(ctx, notify.Notification{
		Type:       notify.TypeReviewFlagged,
		CustomerID: customerID,
		RequestID:  requestID,
		Summary:    verdict.Reason,
		CreatedAt:  s.nowFunc().UTC(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: operator notification for %s: %v\n", customerID, err)
	}
}

func (s *Service) touchActivity(ctx context.Context, customerID string) {
	if s.activity == nil {
		return
	}
	if err := s.activity.UpdateActivity(ctx, customerID); err != nil {
		fmt.Fprintf(os.Stderr, "warning: activity update for %s: %v\n", customerID, err)
	}
}

func resumeOr(prev, next string) string {
	if next != "" {
		return next
	}
	return prev
}
