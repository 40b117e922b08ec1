// Package event defines the immutable event record and the built-in
// event types the core itself emits.
//
// Events are the only source of truth: all projected state derives from
// replaying them in store order. The payload is an opaque, canonically
// encoded JSON document; the core never branches on payload contents,
// only on the event type. Built-in types carry CUE schemas (schema.go)
// validated at the emit boundary; unknown types skip validation so future
// producers remain forward compatible.
package event

import (
	"strings"
	"time"
)

// Type identifies the kind of an event.
type Type string

// Simulation lifecycle events.
const (
	// TypeSimulationStarted records a transition into the running state.
	TypeSimulationStarted Type = "simulation.started"
	// TypeSimulationPaused records a pause of the simulation clock.
	TypeSimulationPaused Type = "simulation.paused"
	// TypeSimulationResumed records a resume from the paused state.
	TypeSimulationResumed Type = "simulation.resumed"
	// TypeTimeScaled records a change of the clock's time scale.
	TypeTimeScaled Type = "time.scaled"
)

// Annotation events.
const (
	// TypeMarkerCreated records a labeled audit marker. Markers have no
	// effect on projected state beyond being recorded.
	TypeMarkerCreated Type = "marker.created"
)

// Entity events (projected into the world entity table).
const (
	// TypeEntityCreated records the creation of an entity.
	TypeEntityCreated Type = "entity.created"
	// TypeEntityMoved records an entity position change.
	TypeEntityMoved Type = "entity.moved"
	// TypeEntityDestroyed records the removal of an entity.
	TypeEntityDestroyed Type = "entity.destroyed"
)

// Event is an immutable record in the append-only log.
//
// Store order equals ascending (Timestamp, Seq) order; Seq is the
// insertion sequence assigned by storage on append and breaks ties
// between events sharing a simulated timestamp.
type Event struct {
	// ID is the globally unique event identity (UUIDv7), assigned once
	// at construction and never reused.
	ID string
	// Seq is the insertion sequence within the log (starts at 1).
	// Assigned by storage on append; zero before an event is committed.
	Seq int64
	// Timestamp is the simulated time the event occurred at.
	// Non-decreasing across the append sequence.
	Timestamp float64
	// Type identifies the kind of event.
	Type Type
	// Data holds the event payload as canonical JSON. Opaque to the core.
	Data []byte
	// CausationID optionally references the event that triggered this one.
	CausationID string
	// CorrelationID optionally groups related events for tracing.
	CorrelationID string
	// CreatedAt is the wall-clock audit timestamp. Informational only;
	// never used for ordering or replay.
	CreatedAt time.Time
}

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// Domain returns the domain prefix of the event type
// (e.g. "simulation", "entity").
func (t Type) Domain() string {
	for i, c := range t {
		if c == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}
