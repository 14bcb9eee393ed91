// Package events publishes sync-core domain events (message sent, message
// failed, conversation read) to an outbound broker. Publishing is best
// effort: callers log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type Type string

const (
	MessageSent      Type = "message.sent"
	MessageFailed    Type = "message.failed"
	ConversationRead Type = "conversation.read"
)

type Event struct {
	Type           Type      `json:"type"`
	OwnerID        string    `json:"owner_id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"`
	At             time.Time `json:"at"`
	Payload        any       `json:"payload,omitempty"`
}

// Key partitions events by conversation so a consumer sees one exchange in order.
func (e Event) Key() string { return e.ConversationID }

func (e Event) Encode() ([]byte, error) { return json.Marshal(e) }

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                          { return nil }

// Recorder keeps published events in memory. Tests use it to assert on side effects.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
