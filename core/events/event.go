package events

import "sorosusu/core/types"

// Event represents a structured state change emitted by an engine.
type Event interface {
	EventType() string
}

// Payload is implemented by events that carry the canonical attribute form.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts a plain function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements the Emitter interface.
func (f EmitterFunc) Emit(evt Event) {
	if f != nil {
		f(evt)
	}
}

// Multi fans a single event out to every configured emitter in order.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(evt Event) {
	for _, emitter := range m {
		if emitter == nil {
			continue
		}
		emitter.Emit(evt)
	}
}

// Recorder keeps every emitted event in memory. Tests use it to assert on
// emission order and counts.
type Recorder struct {
	events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) { r.events = append(r.events, evt) }

// Events returns the recorded events in emission order.
func (r *Recorder) Events() []Event { return append([]Event(nil), r.events...) }

// OfType returns the recorded events matching eventType.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, evt := range r.events {
		if evt != nil && evt.EventType() == eventType {
			out = append(out, evt)
		}
	}
	return out
}

// Reset discards everything recorded so far.
func (r *Recorder) Reset() { r.events = nil }
