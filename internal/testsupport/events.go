package testsupport

import (
	"context"
	"sync"

	"github.com/local/masterdoc/internal/events"
)

// EventRecorder is an in-memory events.Publisher.
type EventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *EventRecorder) Publish(ctx context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.RunID == "" {
		ev.RunID = events.RunID(ctx)
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (r *EventRecorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// OfType filters recorded events.
func (r *EventRecorder) OfType(t events.Type) []events.Event {
	var out []events.Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
