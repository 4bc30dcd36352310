package shareflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotRegistryAllocateRelease(t *testing.T) {
	r := newSlotRegistry[int]()
	assert.Equal(t, 0, r.activeCount())

	s1, i1 := r.allocate(10)
	s2, i2 := r.allocate(20)
	require.NotEqual(t, i1, i2)
	assert.Equal(t, 2, r.activeCount())
	assert.Equal(t, int64(10), s1.cursor)
	assert.Equal(t, int64(20), s2.cursor)

	r.release(i1)
	assert.Equal(t, 1, r.activeCount())

	s3, i3 := r.allocate(30)
	assert.Equal(t, i1, i3, "freed slot index should be reused")
	assert.Equal(t, int64(30), s3.cursor)
}

func TestSlotRegistryForEachActive(t *testing.T) {
	r := newSlotRegistry[int]()
	_, i1 := r.allocate(1)
	_, i2 := r.allocate(2)
	r.release(i1)

	var seen []int64
	r.forEachActive(func(sl *slot[int]) { seen = append(seen, sl.cursor) })
	assert.Equal(t, []int64{2}, seen)
	_ = i2
}
