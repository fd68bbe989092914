package qpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoderTableInsertAndLookup(t *testing.T) {
	tbl := newEncoderTable(1024)
	e, err := tbl.insert(HeaderField{Name: "custom", Value: "v1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.id)

	cands := tbl.candidatesByNameValue(tbl.hashNameValue("custom", "v1"))
	require.Len(t, cands, 1)
	assert.Same(t, e, cands[0])
}

func TestEncoderTableEvictsOldest(t *testing.T) {
	tbl := newEncoderTable(entryOverhead + 4) // room for exactly one tiny entry
	e1, err := tbl.insert(HeaderField{Name: "a", Value: "1"})
	require.NoError(t, err)
	tbl.acknowledge(e1.id)

	e2, err := tbl.insert(HeaderField{Name: "b", Value: "2"})
	require.NoError(t, err)

	assert.Len(t, tbl.entries, 1)
	assert.Same(t, e2, tbl.entries[0])
}

func TestEncoderTableRefusesEvictionOfPinned(t *testing.T) {
	tbl := newEncoderTable(entryOverhead + 4)
	e1, err := tbl.insert(HeaderField{Name: "a", Value: "1"})
	require.NoError(t, err)
	tbl.pin(e1)
	tbl.acknowledge(e1.id)

	_, err = tbl.insert(HeaderField{Name: "b", Value: "2"})
	assert.Error(t, err)
	assert.Len(t, tbl.entries, 1)
}

func TestEncoderTableSetCapacityEvicts(t *testing.T) {
	tbl := newEncoderTable(1024)
	e1, err := tbl.insert(HeaderField{Name: "a", Value: "1"})
	require.NoError(t, err)
	tbl.acknowledge(e1.id)

	tbl.setCapacity(0)
	assert.Len(t, tbl.entries, 0)
	assert.Equal(t, 0, tbl.curSize)
}

func TestEncoderTableDuplicable(t *testing.T) {
	tbl := newEncoderTable(140)
	e, err := tbl.insert(HeaderField{Name: "x", Value: "y"})
	require.NoError(t, err)

	assert.False(t, tbl.duplicable(e, false), "disabled by config")

	// Fill up to pass the fill-ratio threshold.
	_, err = tbl.insert(HeaderField{Name: "long-name-padding", Value: "long-value-padding-x"})
	require.NoError(t, err)

	assert.True(t, tbl.duplicable(e, true))
}

func TestEncoderTableDrainIdx(t *testing.T) {
	tbl := newEncoderTable(entryOverhead * 4)
	for i := 0; i < 3; i++ {
		e, err := tbl.insert(HeaderField{Name: "k", Value: "v"})
		require.NoError(t, err)
		tbl.acknowledge(e.id)
	}
	assert.GreaterOrEqual(t, tbl.drainIdx, int64(0))
}
