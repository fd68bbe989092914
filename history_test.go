package qpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistorySeenAfterAdd(t *testing.T) {
	h := newHistory(320, false)
	assert.False(t, h.seenNameval(42))
	h.add(42)
	assert.True(t, h.seenNameval(42))
	assert.False(t, h.seenNameval(43))
}

func TestHistoryWrapsAndForgets(t *testing.T) {
	h := newHistory(entryOverhead*dupGrowIncrement, false) // capacity == dupGrowIncrement
	cap := len(h.buf)
	for i := 0; i < cap; i++ {
		h.add(uint64(i))
	}
	assert.True(t, h.seenNameval(0))
	// One more insertion should evict the oldest (hash 0).
	h.add(uint64(cap))
	assert.False(t, h.seenNameval(0))
	assert.True(t, h.seenNameval(uint64(cap)))
}

func TestHistoryAggressiveAlwaysSeen(t *testing.T) {
	h := newHistory(320, true)
	assert.True(t, h.seenNameval(999))
	assert.True(t, h.seenName(999))
}

func TestHistoryGrowPreservesRecent(t *testing.T) {
	h := newHistory(entryOverhead*dupGrowIncrement, false)
	cap := len(h.buf)
	for i := 0; i < cap; i++ {
		h.add(uint64(i))
	}
	h.ensureCapacity(cap + 2)
	assert.True(t, h.seenNameval(uint64(cap-1)))
	h.add(uint64(1000))
	assert.True(t, h.seenNameval(uint64(1000)))
}
