package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUUIDv7GeneratorProducesUniqueIDs(t *testing.T) {
	gen := UUIDv7Generator{}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gen.NewID()
		assert.Len(t, id, 36)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestFixedIDGeneratorReturnsInOrder(t *testing.T) {
	gen := NewFixedIDGenerator("ev-1", "ev-2")
	assert.Equal(t, "ev-1", gen.NewID())
	assert.Equal(t, "ev-2", gen.NewID())

	assert.Panics(t, func() { gen.NewID() })
}
