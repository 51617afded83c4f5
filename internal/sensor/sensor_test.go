package sensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapLookup(t *testing.T) {
	m := NewMap(map[int]ID{1: 0, 2: 1})

	assert.Equal(t, ID(0), m.Lookup(1))
	assert.Equal(t, ID(1), m.Lookup(2))
	for _, pipe := range []int{-1, 0, 3, 4, 5, 6, 99} {
		assert.Equal(t, Unknown, m.Lookup(pipe), "pipe %d", pipe)
	}

	// deterministic
	for i := 0; i < 3; i++ {
		assert.Equal(t, ID(0), m.Lookup(1))
	}
}

func TestMapCopiesInput(t *testing.T) {
	in := map[int]ID{1: 0}
	m := NewMap(in)
	in[1] = 7
	in[3] = 2

	assert.Equal(t, ID(0), m.Lookup(1))
	assert.Equal(t, Unknown, m.Lookup(3))
	assert.Equal(t, 1, m.Len())
}

func TestZeroMap(t *testing.T) {
	var m Map
	assert.Equal(t, Unknown, m.Lookup(1))
}

func TestIDString(t *testing.T) {
	assert.Equal(t, "unknown", Unknown.String())
	assert.Equal(t, "0", ID(0).String())
	assert.False(t, Unknown.Known())
	assert.True(t, ID(3).Known())

	for _, id := range []ID{Unknown, 0, 1, 42} {
		got, err := ParseID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}

	_, err := ParseID("-3")
	assert.Error(t, err)
	_, err = ParseID("x")
	assert.Error(t, err)
}
