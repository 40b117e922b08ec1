package sim

import (
	"log/slog"

	"github.com/strategos-sim/strategos/internal/event"
)

// Handler observes a committed event. Handlers run synchronously inside
// the emit critical section, after the event is durable and applied.
// They must not call back into the simulation.
type Handler func(event.Event)

// Registry dispatches committed events to type-keyed handlers.
//
// Handler failures never affect the log: a panicking handler is logged
// and the remaining handlers still run. Retries would make replay
// diverge from the original run, so there are none.
//
// Not safe for concurrent registration; register handlers before the
// simulation starts processing events.
type Registry struct {
	byType   map[event.Type][]Handler
	wildcard []Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[event.Type][]Handler)}
}

// On registers a handler for one event type.
func (r *Registry) On(t event.Type, h Handler) {
	r.byType[t] = append(r.byType[t], h)
}

// OnAny registers a handler that observes every committed event.
func (r *Registry) OnAny(h Handler) {
	r.wildcard = append(r.wildcard, h)
}

// dispatch invokes wildcard handlers first, then type handlers, in
// registration order.
func (r *Registry) dispatch(evt event.Event) {
	for _, h := range r.wildcard {
		safeInvoke(h, evt)
	}
	for _, h := range r.byType[evt.Type] {
		safeInvoke(h, evt)
	}
}

func safeInvoke(h Handler, evt event.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("event handler panicked",
				"event_id", evt.ID,
				"event_type", evt.Type,
				"panic", rec,
			)
		}
	}()
	h(evt)
}
