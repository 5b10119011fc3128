// Package agentstream defines the event stream produced by the website
// edit oracle and helpers for consuming it. The oracle itself lives
// outside this system; everything here treats it as an opaque producer of
// typed events on a channel.
package agentstream

import "context"

// EventType discriminates stream events.
type EventType string

// Stream event types.
const (
	EventText     EventType = "text"      // assistant prose chunk
	EventFileEdit EventType = "file_edit" // one edited file, path relative to the site dir
	EventResult   EventType = "result"    // terminal: agent finished, Succeeded is meaningful
	EventError    EventType = "error"     // terminal: agent aborted
)

// Event is one item on the oracle's stream. Which fields are meaningful
// depends on Type.
type Event struct {
	Type      EventType `json:"type"`
	Text      string    `json:"text,omitempty"`
	Path      string    `json:"path,omitempty"`
	Succeeded bool      `json:"succeeded,omitempty"`
	// Resume is the opaque session handle the oracle hands back on the
	// result event so the next turn can continue the conversation.
	Resume string `json:"resume,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Request is one edit turn handed to the oracle.
type Request struct {
	CustomerID string
	SessionID  string
	// Resume is the handle from the previous turn's result event, empty
	// on the first turn of a session.
	Resume  string
	Prompt  string
	SiteDir string
}

// Oracle produces an event stream for one edit turn. The returned channel
// is closed after the terminal event (result or error). Run returning an
// error means the turn never started.
type Oracle interface {
	Run(ctx context.Context, req Request) (<-chan Event, error)
}

// Outcome is the folded summary of one turn's stream, the shape the
// triage engine consumes.
type Outcome struct {
	Text         string
	FilesTouched []string
	Succeeded    bool
	Errored      bool
	ErrorDetail  string
	Resume       string
}

// Collect drains a turn's stream into an Outcome. Text chunks concatenate
// in order; file edits are deduplicated preserving first-seen order. A
// stream that closes without a terminal event counts as errored, since a
// crashed oracle looks exactly like that.
func Collect(events <-chan Event) Outcome {
	var out Outcome
	seen := make(map[string]bool)
	terminal := false

	for ev := range events {
		switch ev.Type {
		case EventText:
			out.Text += ev.Text
		case EventFileEdit:
			if ev.Path != "" && !seen[ev.Path] {
				seen[ev.Path] = true
				out.FilesTouched = append(out.FilesTouched, ev.Path)
			}
		case EventResult:
			terminal = true
			out.Succeeded = ev.Succeeded
			out.Resume = ev.Resume
		case EventError:
			terminal = true
			out.Errored = true
			out.ErrorDetail = ev.Detail
		}
	}

	if !terminal {
		out.Errored = true
		out.ErrorDetail = "agent stream ended without a result"
	}
	return out
}
