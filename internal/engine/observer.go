package engine

import "sync"

// EventKind classifies an observer event.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventRouted    EventKind = "routed"
	EventSkipped   EventKind = "skipped"
)

// Event is one step of a run's trace.
type Event struct {
	// Seq comes from the run's logical clock and is strictly increasing.
	Seq   int64
	RunID string
	Kind  EventKind
	Node  string
	// Path is set on EventRouted: the trigger identity chosen by the router.
	Path string
	Err  error
}

// Observer receives run events. Events of one run are delivered one at a
// time in Seq order, from whichever goroutine produced them.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(ev).
func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Recorder is an Observer that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Observe appends ev.
func (r *Recorder) Observe(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns "kind:node" for every recorded event, in order.
func (r *Recorder) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = string(ev.Kind) + ":" + ev.Node
	}
	return out
}
