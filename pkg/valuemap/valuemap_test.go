package valuemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInodeMapper() *Mapper[uint64, uint64] {
	return New[uint64, uint64](1, func(n uint64) uint64 { return n })
}

func TestMapperBijection(t *testing.T) {
	m := newInodeMapper()

	reals := []uint64{8234001, 17, 9999999, 42}
	for i, r := range reals {
		v := m.AddReal(r)
		assert.Equal(t, uint64(i+1), v, "virtual ids assigned densely from base")
	}

	for _, r := range reals {
		v, err := m.GetVirtual(r)
		require.NoError(t, err)
		back, err := m.GetReal(v)
		require.NoError(t, err)
		assert.Equal(t, r, back)
	}
}

func TestMapperAddRealIsStable(t *testing.T) {
	m := newInodeMapper()

	v1 := m.AddReal(1234)
	v2 := m.AddReal(1234)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, m.Len())
}

func TestMapperEraseAtomicity(t *testing.T) {
	m := newInodeMapper()

	v := m.AddReal(777)
	require.True(t, m.EraseReal(777))

	_, err := m.GetVirtual(777)
	assert.ErrorIs(t, err, ErrNotMapped)
	_, err = m.GetReal(v)
	assert.ErrorIs(t, err, ErrNotMapped)
	assert.False(t, m.HasReal(777))
	assert.False(t, m.HasVirtual(v))

	// re-adding the same real value must not resurrect the old virtual id
	v2 := m.AddReal(777)
	assert.NotEqual(t, v, v2)
	assert.Greater(t, v2, v)
}

func TestMapperEraseAbsent(t *testing.T) {
	m := newInodeMapper()
	assert.False(t, m.EraseReal(5))
}

func TestMapperVirtualIdsStrictlyIncrease(t *testing.T) {
	m := newInodeMapper()

	var last uint64
	for r := uint64(100); r < 120; r++ {
		v := m.AddReal(r)
		assert.Greater(t, v, last)
		last = v

		// interleave erasures; the counter must not go backwards
		if r%3 == 0 {
			m.EraseReal(r)
		}
	}
}

func TestMapperSet(t *testing.T) {
	m := newInodeMapper()

	m.Set(10, 744847200)
	v, err := m.GetVirtual(10)
	require.NoError(t, err)
	assert.Equal(t, uint64(744847200), v)

	// explicit pairs do not consume the fresh counter
	assert.Equal(t, uint64(1), m.AddReal(11))

	// overwriting an explicit pair drops the stale reverse edge
	m.Set(10, 744847201)
	assert.False(t, m.HasVirtual(744847200))
	v, err = m.GetVirtual(10)
	require.NoError(t, err)
	assert.Equal(t, uint64(744847201), v)
}
