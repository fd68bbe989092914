package qpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderTableInsertAndGet(t *testing.T) {
	tbl := newDecoderTable(1024)
	e := tbl.insert(HeaderField{Name: "custom", Value: "v1"})
	assert.Equal(t, int64(1), e.id)

	got, ok := tbl.get(1)
	require.True(t, ok)
	assert.Same(t, e, got)

	_, ok = tbl.get(2)
	assert.False(t, ok)
}

func TestDecoderTableDuplicate(t *testing.T) {
	tbl := newDecoderTable(1024)
	e := tbl.insert(HeaderField{Name: "a", Value: "b"})
	d := tbl.duplicate(e)
	assert.Equal(t, int64(2), d.id)
	assert.Equal(t, e.HeaderField, d.HeaderField)
}

func TestDecoderTableEvictsUnpinned(t *testing.T) {
	tbl := newDecoderTable(entryOverhead + 4)
	tbl.insert(HeaderField{Name: "a", Value: "1"})
	tbl.insert(HeaderField{Name: "b", Value: "2"})
	assert.Len(t, tbl.entries, 1)
	_, ok := tbl.get(1)
	assert.False(t, ok)
}

func TestDecoderTablePinBlocksEviction(t *testing.T) {
	tbl := newDecoderTable(entryOverhead + 4)
	e := tbl.insert(HeaderField{Name: "a", Value: "1"})
	tbl.pin(e)
	tbl.insert(HeaderField{Name: "b", Value: "2"})
	assert.Len(t, tbl.entries, 2)

	tbl.unpin(e)
	assert.Len(t, tbl.entries, 1)
}

func TestDecoderTableSetCapacityZero(t *testing.T) {
	tbl := newDecoderTable(1024)
	tbl.insert(HeaderField{Name: "a", Value: "1"})
	tbl.setCapacity(0)
	assert.Len(t, tbl.entries, 0)
}
