// Package stream delivers pipeline progress to the caller as an ordered,
// append-only event sequence.
package stream

import "sync"

// Event types.
const (
	TypeProgress = "progress"
	TypeResult   = "result"
	TypeError    = "error"
	TypeComplete = "complete"
)

// Event is one unit of the delivery contract. Null fields are omitted on the
// wire; the sequence is always terminated by a TypeComplete event regardless
// of whether the run succeeded.
type Event struct {
	Type       string                 `json:"type"`
	Stage      string                 `json:"stage,omitempty"`
	Percentage int                    `json:"percentage,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Query      string                 `json:"query,omitempty"`
	Result     interface{}            `json:"result,omitempty"`
	Chart      interface{}            `json:"chart,omitempty"`
	Insights   string                 `json:"insights,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Emitter receives pipeline events in order. Implementations must flush each
// event before returning so progress stays visible while the orchestrator
// blocks on a slow backend. Emit never blocks the pipeline on a departed
// caller: implementations drop events once the consumer is gone.
type Emitter interface {
	Emit(event Event)
}

// Buffer is an Emitter that records events in order. Used in tests and
// anywhere a full event transcript is wanted after the run.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// NewBuffer returns an empty event buffer.
func NewBuffer() *Buffer { return &Buffer{} }

// Emit appends the event.
func (b *Buffer) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

// Events returns a copy of everything emitted so far.
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}
