package qpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderInfoLedgerAllocRelease(t *testing.T) {
	l := newHeaderInfoLedger()
	hi := l.alloc(9, 0, 5)
	assert.Equal(t, uint64(9), hi.streamID)
	assert.Equal(t, int64(5), hi.base)
	assert.Equal(t, 1, l.count)

	hi.touch(7)
	hi.touch(3)
	assert.Equal(t, int64(3), hi.minId)
	assert.Equal(t, int64(7), hi.maxId)

	l.release(hi)
	assert.Equal(t, 0, l.count)
}

func TestHeaderInfoLedgerSlabReuse(t *testing.T) {
	l := newHeaderInfoLedger()
	var infos []*headerInfo
	for i := 0; i < 70; i++ {
		infos = append(infos, l.alloc(uint64(i), 0, 0))
	}
	require.Len(t, l.slabs, 2)
	for _, hi := range infos {
		l.release(hi)
	}
	assert.Equal(t, 0, l.count)
	// The freed slots should be reused rather than allocating new slabs.
	for i := 0; i < 70; i++ {
		l.alloc(uint64(i), 0, 0)
	}
	assert.Len(t, l.slabs, 2)
}

func TestHeaderInfoLedgerMinReferencedId(t *testing.T) {
	l := newHeaderInfoLedger()
	a := l.alloc(1, 0, 0)
	b := l.alloc(2, 0, 0)
	a.touch(10)
	b.touch(4)

	min, ok := l.minReferencedId()
	require.True(t, ok)
	assert.Equal(t, int64(4), min)

	l.release(b)
	min, ok = l.minReferencedId()
	require.True(t, ok)
	assert.Equal(t, int64(10), min)
}

func TestHeaderInfoLedgerAtRiskTracking(t *testing.T) {
	l := newHeaderInfoLedger()
	a := l.alloc(1, 0, 0)
	b := l.alloc(1, 1, 0)

	assert.False(t, l.streamHasRiskedBlock(1))
	l.markAtRisk(a)
	assert.True(t, l.streamHasRiskedBlock(1))
	assert.Equal(t, 1, l.streamsAtRisk())

	l.markAtRisk(b)
	assert.Equal(t, 1, l.streamsAtRisk(), "same stream counted once")

	l.release(a)
	assert.True(t, l.streamHasRiskedBlock(1))
	l.release(b)
	assert.False(t, l.streamHasRiskedBlock(1))
	assert.Equal(t, 0, l.streamsAtRisk())
}

func TestHeaderInfoLedgerCancelStream(t *testing.T) {
	l := newHeaderInfoLedger()
	l.alloc(9, 0, 0)
	l.alloc(9, 1, 0)
	l.alloc(10, 0, 0)

	n := l.cancelStream(9)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, l.count)
}
