package events

import (
	"context"
	"log/slog"
	"sync"

	"afrochain/core/types"
)

// Event represents a structured state change emitted by the core.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. webhooks, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Typed adapts a wire-level types.Event to the Event interface.
type Typed struct {
	evt *types.Event
}

// Wrap returns an Event carrying the provided payload.
func Wrap(evt *types.Event) Typed { return Typed{evt: evt} }

func (t Typed) EventType() string {
	if t.evt == nil {
		return ""
	}
	return t.evt.Type
}

// Event returns the wire representation.
func (t Typed) Event() *types.Event { return t.evt }

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a snapshot of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in emission order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}

// LogEmitter writes every event to a structured logger at debug level.
type LogEmitter struct {
	Logger *slog.Logger
}

func (l LogEmitter) Emit(evt Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []slog.Attr{slog.String("event", evt.EventType())}
	if typed, ok := evt.(Typed); ok && typed.evt != nil {
		for _, k := range typed.evt.Keys() {
			attrs = append(attrs, slog.String(k, typed.evt.Attributes[k]))
		}
	}
	logger.LogAttrs(context.Background(), slog.LevelDebug, "core event", attrs...)
}

// Fanout forwards events to every configured emitter.
type Fanout []Emitter

func (f Fanout) Emit(evt Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(evt)
		}
	}
}
