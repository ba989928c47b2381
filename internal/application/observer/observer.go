// Package observer implements the Observer Fan-out: best-effort,
// log-and-continue delivery of Result mutations to registered listeners,
// with the per-dispatch ordering guarantee the teacher's naive
// goroutine-per-event fan-out does not provide.
package observer

import (
	"time"

	"github.com/latticerun/dispatcher/pkg/result"
)

// EventType classifies an Observer notification.
type EventType string

const (
	EventDispatchStarted  EventType = "dispatch.started"
	EventDispatchUpdated  EventType = "dispatch.updated"
	EventDispatchFinished EventType = "dispatch.finished"
)

// Event is one outbound message: one per Result mutation the Scheduler
// makes (§4.7), carrying the full serialized Result.
type Event struct {
	Type       EventType
	DispatchID string
	Doc        result.ResultDoc
	EmittedAt  time.Time
	// Seq is the per-dispatch emission sequence number, strictly
	// increasing; it's how tests assert §8 invariant 5 (monotone status
	// sequence) without depending on wall-clock ordering.
	Seq uint64
}

// Observer receives notifications. Filter lets a registered observer opt
// out of events it doesn't care about without the manager needing to know
// what "care about" means for that observer.
type Observer interface {
	Name() string
	OnEvent(e Event)
	Filter(e Event) bool
}

// EventFilter is a predicate usable as a building block for Filter
// implementations.
type EventFilter func(e Event) bool

// DispatchIDFilter only lets events for one dispatch through.
func DispatchIDFilter(dispatchID string) EventFilter {
	return func(e Event) bool { return e.DispatchID == dispatchID }
}

// EventTypeFilter only lets events of the given types through.
func EventTypeFilter(types ...EventType) EventFilter {
	set := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e Event) bool { _, ok := set[e.Type]; return ok }
}
