// Package events publishes ledger events and operator alerts.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

// New stamps an event with a sortable id and the current time.
func New(eventType string, payload map[string]any) Event {
	return Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events map[string][]Event
}

func NewRecorder() *Recorder {
	return &Recorder{events: make(map[string][]Event)}
}

func (r *Recorder) Publish(_ context.Context, stream string, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[stream] = append(r.events[stream], event)
	return nil
}

// Events returns a copy of what was published on stream.
func (r *Recorder) Events(stream string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events[stream]))
	copy(out, r.events[stream])
	return out
}

// OfType filters the events of stream by type.
func (r *Recorder) OfType(stream, eventType string) []Event {
	var out []Event
	for _, e := range r.Events(stream) {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
