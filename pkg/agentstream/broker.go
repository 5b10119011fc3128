package agentstream

import (
	"strings"
	"sync"
)

// TurnEvent is a stream event tagged with the turn it belongs to, the
// shape the broker fans out to live observers (dashboard, SSE clients).
type TurnEvent struct {
	CustomerID string `json:"customer_id"`
	SessionID  string `json:"session_id"`
	Event      Event  `json:"event"`
}

type subscriber struct {
	id         int64
	customerID string
	ch         chan TurnEvent
}

// Broker fans turn events out to subscribers. Delivery is best-effort:
// a slow subscriber loses its oldest buffered event rather than stalling
// the turn that produced it.
type Broker struct {
	mu          sync.RWMutex
	closed      bool
	nextID      int64
	bufferSize  int
	subscribers map[int64]subscriber
}

// NewBroker creates a broker with the given per-subscriber buffer.
func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Broker{
		bufferSize:  bufferSize,
		subscribers: make(map[int64]subscriber),
	}
}

// Subscribe registers an observer, optionally filtered to one customer
// (empty means all). The cancel func must be called when done.
func (b *Broker) Subscribe(customerID string) (<-chan TurnEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan TurnEvent, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	sub := subscriber{
		id:         b.nextID,
		customerID: strings.TrimSpace(customerID),
		ch:         ch,
	}
	b.subscribers[sub.id] = sub
	return ch, func() {
		b.unsubscribe(sub.id)
	}
}

// Publish delivers an event to every matching subscriber and returns the
// delivered count.
func (b *Broker) Publish(event TurnEvent) int {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0
	}
	snapshot := make([]subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range snapshot {
		if sub.customerID != "" && sub.customerID != event.CustomerID {
			continue
		}
		if tryDeliver(sub.ch, event) {
			delivered++
		}
	}
	return delivered
}

// Close shuts the broker down and closes all subscriber channels.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

func (b *Broker) unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(sub.ch)
}

func tryDeliver(ch chan TurnEvent, event TurnEvent) bool {
	select {
	case ch <- event:
		return true
	default:
		// Drop one stale message and retry once to avoid blocking fanout.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- event:
			return true
		default:
			return false
		}
	}
}
