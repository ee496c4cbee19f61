package emulator

import (
	"sync"
	"time"
)

// EventKind is the closed set of lifecycle and authentication events the
// coordinator emits.
type EventKind string

const (
	EventConnectionEstablished EventKind = "connection-established"
	EventBacRequest            EventKind = "bac-request"
	EventPaceRequest           EventKind = "pace-request"
	EventAuthSuccess           EventKind = "auth-success"
	EventAuthFailure           EventKind = "auth-failure"
	EventConnectionLost        EventKind = "connection-lost"
	EventError                 EventKind = "error"
)

// Event is one entry of the session log. Details never contain key
// material.
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	Message   string
	Details   map[string]string
}

// EventSink consumes session events. Implementations must not block; the
// sink only observes and never feeds back into protocol decisions.
type EventSink interface {
	Emit(event Event)
}

// DefaultEventCap bounds the event buffer during long sessions.
const DefaultEventCap = 100

// EventBuffer is a bounded, drop-oldest event sink safe for concurrent
// use. Emit never blocks command processing.
type EventBuffer struct {
	mu       sync.Mutex
	capacity int
	events   []Event
}

// NewEventBuffer creates a buffer holding at most capacity events; zero or
// negative selects DefaultEventCap.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity <= 0 {
		capacity = DefaultEventCap
	}
	return &EventBuffer{capacity: capacity}
}

// Emit appends the event, dropping the oldest entry once the buffer is
// full.
func (b *EventBuffer) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == b.capacity {
		copy(b.events, b.events[1:])
		b.events = b.events[:b.capacity-1]
	}
	b.events = append(b.events, event)
}

// Snapshot returns a copy of the buffered events, oldest first.
func (b *EventBuffer) Snapshot() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Len returns the number of buffered events.
func (b *EventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
