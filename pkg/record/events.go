package record

import (
	"context"
	"sync"
	"time"
)

const (
	EventCreated  = "RECORD_CREATED"
	EventResolved = "RECORD_RESOLVED"
)

// Event is one lifecycle step. Exactly one is emitted per successful
// transition, after the store write.
type Event struct {
	Type       string    `json:"type"`
	Identifier string    `json:"identifier"`
	Owner      string    `json:"owner,omitempty"`
	Result     uint32    `json:"result,omitempty"`
	At         time.Time `json:"at"`
}

type EventSink interface {
	Emit(ctx context.Context, ev Event) error
}

type EventStream interface {
	Events(ctx context.Context, identifier string) ([]Event, error)
}

// EventLog is the in-memory append-only sink.
type EventLog struct {
	mu     sync.RWMutex
	events []Event
}

func NewEventLog() *EventLog { return &EventLog{} }

func (l *EventLog) Emit(ctx context.Context, ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *EventLog) Events(ctx context.Context, identifier string) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Event
	for _, ev := range l.events {
		if identifier == "" || ev.Identifier == identifier {
			out = append(out, ev)
		}
	}
	return out, nil
}
