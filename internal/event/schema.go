package event

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/strategos-sim/strategos/internal/simerr"
)

// Payload schemas for built-in event types, expressed as open CUE structs
// so producers may attach extra fields without breaking validation.
// Types without a schema here (including every consumer-defined type)
// skip validation entirely.
var schemaSources = map[Type]string{
	TypeSimulationStarted: `{time_scale: number, ...}`,
	TypeSimulationPaused:  `{paused_at: number, ...}`,
	TypeSimulationResumed: `{...}`,
	TypeTimeScaled:        `{old_scale: number, new_scale: number, ...}`,
	TypeMarkerCreated:     `{label: string, ...}`,
	TypeEntityCreated:     `{entity_id: string, kind: string, ...}`,
	TypeEntityMoved:       `{entity_id: string, ...}`,
	TypeEntityDestroyed:   `{entity_id: string, ...}`,
}

var (
	schemaOnce     sync.Once
	compiledSchema map[Type]cue.Value
	schemaErr      error
)

// compileSchemas builds the CUE values once. Compilation failure here is
// a programming error in schemaSources, surfaced on first validation.
func compileSchemas() {
	ctx := cuecontext.New()
	compiled := make(map[Type]cue.Value, len(schemaSources))
	for t, src := range schemaSources {
		v := ctx.CompileString(src)
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile schema for %s: %w", t, err)
			return
		}
		compiled[t] = v
	}
	compiledSchema = compiled
}

// ValidatePayload checks data against the schema registered for t.
// Unknown types pass: forward compatibility means validation only ever
// applies to types the core itself understands.
func ValidatePayload(t Type, data []byte) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return schemaErr
	}

	schema, ok := compiledSchema[t]
	if !ok {
		return nil
	}

	if len(data) == 0 {
		data = []byte("{}")
	}
	expr, err := cuejson.Extract("payload", data)
	if err != nil {
		return simerr.Wrap(simerr.CodeValidation, err, "payload for %s is not valid JSON", t)
	}
	doc := schema.Context().BuildExpr(expr)
	if err := doc.Err(); err != nil {
		return simerr.Wrap(simerr.CodeValidation, err, "payload for %s is not valid JSON", t)
	}

	// Concrete validation makes required fields required: a payload that
	// leaves a schema field at its type constraint is rejected, not
	// accepted as "unifiable".
	if err := schema.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return simerr.Wrap(simerr.CodeValidation, err, "payload for %s does not match schema", t)
	}
	return nil
}
