// Package notify pushes operator notifications (flagged requests, quote
// decisions) onto a Redis stream consumed by the admin frontend. Delivery
// is best-effort by contract: a dead Redis must never fail the chat turn
// that produced the notification.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Notification is one operator-facing message.
type Notification struct {
	Type       string    `json:"type"`
	CustomerID string    `json:"customer_id"`
	RequestID  string    `json:"request_id,omitempty"`
	Summary    string    `json:"summary"`
	CreatedAt  time.Time `json:"created_at"`
}

// Notification types.
const (
	TypeReviewFlagged  = "review_flagged"
	TypeReviewQuoted   = "review_quoted"
	TypeReviewDecision = "review_decision"
)

// Sink delivers notifications. Send errors are for logging only; callers
// must not fail their own operation on one.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// maxStreamLen caps the stream so an unattended instance cannot grow it
// without bound. Approximate trimming, per Redis XADD MAXLEN ~ semantics.
const maxStreamLen = 10000

// RedisSink appends notifications to a Redis stream with XADD.
type RedisSink struct {
	client *redis.Client
	stream string
}

// NewRedisSink connects a sink to the given Redis address and stream key.
func NewRedisSink(addr, stream string) *RedisSink {
	return &RedisSink{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		stream: stream,
	}
}

// Send appends one notification. The payload travels as a single JSON
// field so consumers get a stable shape regardless of struct evolution.
func (s *RedisSink) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{"payload": string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// NopSink drops everything. Used when no Redis address is configured.
type NopSink struct{}

// Send implements Sink.
func (NopSink) Send(context.Context, Notification) error { return nil }
