// Package state holds the projected, in-memory world state derived from
// the event log.
//
// The world is owned exclusively by the orchestrator and mutated only by
// the pure Apply transition and by checkpoint restoration. Apply never
// fails for a structurally valid event: unknown event types update the
// generic counters and nothing else, preserving forward compatibility
// with future event schemas.
package state

import (
	"encoding/json"
	"fmt"

	"github.com/strategos-sim/strategos/internal/canonical"
	"github.com/strategos-sim/strategos/internal/event"
)

// Entity is a projected world entity, maintained from entity.* events.
type Entity struct {
	ID   string  `json:"id"`
	Kind string  `json:"kind"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// World is the derived application state.
type World struct {
	// SimTime is the timestamp of the last applied event.
	SimTime float64
	// EventCount is the number of events applied since genesis.
	EventCount int64
	// TypeCounts tracks applied events per event type.
	TypeCounts map[string]int64
	// Entities is the projected entity table.
	Entities map[string]*Entity
}

// New returns the empty genesis state.
func New() *World {
	return &World{
		TypeCounts: make(map[string]int64),
		Entities:   make(map[string]*Entity),
	}
}

// Apply folds one event into the world. It is deterministic: applying
// the same event sequence to the same starting state always produces an
// identical world. Apply never returns an error; malformed payloads on
// known types degrade to the generic bookkeeping below.
func (w *World) Apply(evt event.Event) {
	w.SimTime = evt.Timestamp
	w.EventCount++
	w.TypeCounts[string(evt.Type)]++

	switch evt.Type {
	case event.TypeEntityCreated:
		p, ok := decodePayload(evt.Data)
		if !ok {
			return
		}
		id, _ := p["entity_id"].(string)
		if id == "" {
			return
		}
		kind, _ := p["kind"].(string)
		w.Entities[id] = &Entity{
			ID:   id,
			Kind: kind,
			X:    floatField(p, "x"),
			Y:    floatField(p, "y"),
		}

	case event.TypeEntityMoved:
		p, ok := decodePayload(evt.Data)
		if !ok {
			return
		}
		id, _ := p["entity_id"].(string)
		ent, exists := w.Entities[id]
		if !exists {
			return
		}
		if _, has := p["x"]; has {
			ent.X = floatField(p, "x")
		}
		if _, has := p["y"]; has {
			ent.Y = floatField(p, "y")
		}

	case event.TypeEntityDestroyed:
		p, ok := decodePayload(evt.Data)
		if !ok {
			return
		}
		id, _ := p["entity_id"].(string)
		delete(w.Entities, id)
	}
}

// CountOf returns how many events of the given type have been applied.
func (w *World) CountOf(t event.Type) int64 {
	return w.TypeCounts[string(t)]
}

// EntityCount returns the number of live entities.
func (w *World) EntityCount() int {
	return len(w.Entities)
}

// Encode serializes the world to its canonical snapshot form. The
// encoding is deterministic and stable under repeated decode/encode
// round-trips, which is what makes checkpoint state comparable by hash.
func (w *World) Encode() ([]byte, error) {
	typeCounts := make(map[string]any, len(w.TypeCounts))
	for k, v := range w.TypeCounts {
		typeCounts[k] = v
	}

	entities := make(map[string]any, len(w.Entities))
	for id, ent := range w.Entities {
		entities[id] = map[string]any{
			"id":   ent.ID,
			"kind": ent.Kind,
			"x":    ent.X,
			"y":    ent.Y,
		}
	}

	data, err := canonical.Marshal(map[string]any{
		"sim_time":    w.SimTime,
		"event_count": w.EventCount,
		"type_counts": typeCounts,
		"entities":    entities,
	})
	if err != nil {
		return nil, fmt.Errorf("encode world: %w", err)
	}
	return data, nil
}

// Hash returns the domain-separated content hash of the encoded world.
func (w *World) Hash() (string, error) {
	data, err := w.Encode()
	if err != nil {
		return "", err
	}
	return canonical.Hash(canonical.DomainState, data), nil
}

// worldDoc mirrors the canonical snapshot layout for decoding.
type worldDoc struct {
	SimTime    float64            `json:"sim_time"`
	EventCount int64              `json:"event_count"`
	TypeCounts map[string]int64   `json:"type_counts"`
	Entities   map[string]*Entity `json:"entities"`
}

// Decode reconstructs a world from its encoded snapshot form.
func Decode(data []byte) (*World, error) {
	var doc worldDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode world: %w", err)
	}
	w := &World{
		SimTime:    doc.SimTime,
		EventCount: doc.EventCount,
		TypeCounts: doc.TypeCounts,
		Entities:   doc.Entities,
	}
	if w.TypeCounts == nil {
		w.TypeCounts = make(map[string]int64)
	}
	if w.Entities == nil {
		w.Entities = make(map[string]*Entity)
	}
	return w, nil
}

// decodePayload parses a canonical JSON payload into a generic map.
// Returns ok=false for payloads that are not JSON objects.
func decodePayload(data []byte) (map[string]any, bool) {
	if len(data) == 0 {
		return nil, false
	}
	var p map[string]any
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false
	}
	return p, true
}

// floatField extracts a numeric field, tolerating both float64 and
// integer JSON representations.
func floatField(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}
