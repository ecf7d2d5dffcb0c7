package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_RecordAndHas(t *testing.T) {
	tr := New(10)

	assert.False(t, tr.Has(1))

	tr.Record(1)
	assert.True(t, tr.Has(1))
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_DuplicateRecordIsNoop(t *testing.T) {
	tr := New(10)

	tr.Record(7)
	tr.Record(7)
	tr.Record(7)

	assert.Equal(t, 1, tr.Len())
}

func TestTracker_EvictsOldestFirst(t *testing.T) {
	tr := New(3)

	tr.Record(1)
	tr.Record(2)
	tr.Record(3)
	tr.Record(4) // evicts 1

	assert.False(t, tr.Has(1))
	assert.True(t, tr.Has(2))
	assert.True(t, tr.Has(3))
	assert.True(t, tr.Has(4))
	assert.Equal(t, 3, tr.Len())

	tr.Record(5) // evicts 2
	assert.False(t, tr.Has(2))
	assert.True(t, tr.Has(5))
}

func TestTracker_EvictionOrderSurvivesWraparound(t *testing.T) {
	tr := New(2)

	for id := int64(1); id <= 10; id++ {
		tr.Record(id)
	}

	// Only the last two survive.
	assert.Equal(t, 2, tr.Len())
	assert.True(t, tr.Has(9))
	assert.True(t, tr.Has(10))
	assert.False(t, tr.Has(8))
}

func TestTracker_Prime(t *testing.T) {
	tr := New(10)

	assert.False(t, tr.Primed())

	tr.Prime([]int64{1, 2, 3})

	assert.True(t, tr.Primed())
	assert.True(t, tr.Has(1))
	assert.True(t, tr.Has(2))
	assert.True(t, tr.Has(3))
}

func TestNew_NonPositiveCapacityUsesDefault(t *testing.T) {
	tr := New(0)

	for id := int64(0); id < DefaultCapacity+100; id++ {
		tr.Record(id)
	}

	assert.Equal(t, DefaultCapacity, tr.Len())
}
