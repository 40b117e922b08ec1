package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strategos-sim/strategos/internal/simerr"
)

func TestValidatePayload_KnownTypeValid(t *testing.T) {
	data := []byte(`{"label":"before-battle"}`)
	require.NoError(t, ValidatePayload(TypeMarkerCreated, data))
}

func TestValidatePayload_KnownTypeExtraFieldsAllowed(t *testing.T) {
	data := []byte(`{"label":"x","notes":"schemas are open"}`)
	require.NoError(t, ValidatePayload(TypeMarkerCreated, data))
}

func TestValidatePayload_MissingRequiredField(t *testing.T) {
	data := []byte(`{"not_label":"x"}`)
	err := ValidatePayload(TypeMarkerCreated, data)
	require.Error(t, err)
	assert.True(t, simerr.IsValidation(err))
}

func TestValidatePayload_WrongFieldType(t *testing.T) {
	data := []byte(`{"old_scale":"fast","new_scale":2}`)
	err := ValidatePayload(TypeTimeScaled, data)
	require.Error(t, err)
	assert.True(t, simerr.IsValidation(err))
}

func TestValidatePayload_UnknownTypeSkipsValidation(t *testing.T) {
	// Forward compatibility: consumer-defined types are never validated.
	data := []byte(`{"anything":true}`)
	require.NoError(t, ValidatePayload(Type("unit.created"), data))
	require.NoError(t, ValidatePayload(Type("combat.resolved"), []byte(`{}`)))
}

func TestValidatePayload_EntityEvents(t *testing.T) {
	require.NoError(t, ValidatePayload(TypeEntityCreated,
		[]byte(`{"entity_id":"e-1","kind":"legion","x":1.5,"y":2}`)))
	require.Error(t, ValidatePayload(TypeEntityCreated,
		[]byte(`{"entity_id":"e-1"}`)), "kind is required")
	require.NoError(t, ValidatePayload(TypeEntityMoved,
		[]byte(`{"entity_id":"e-1","x":3,"y":4}`)))
}
