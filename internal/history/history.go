package history

import (
	"context"
	"time"
)

// EventType tags a lifecycle event.
type EventType string

const (
	EventStart    EventType = "start"
	EventStop     EventType = "stop"
	EventRestart  EventType = "restart"
	EventHealth   EventType = "health"
	EventExternal EventType = "external"
)

// Event is one append-only lifecycle record. History is observability only:
// the guardian never reads it back to recover state.
type Event struct {
	Type       EventType
	Service    string
	PID        int
	Verdict    string // health verdict, when Type == EventHealth
	Detail     string
	OccurredAt time.Time
}

// Sink receives lifecycle events. Implementations must tolerate concurrent
// Send calls.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
