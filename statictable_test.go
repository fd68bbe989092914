package qpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticTableSize(t *testing.T) {
	assert.Equal(t, 99, StaticTableSize)
}

func TestStaticTableKnownEntries(t *testing.T) {
	f, ok := GetStatic(0)
	assert.True(t, ok)
	assert.Equal(t, HeaderField{Name: ":authority", Value: ""}, f)

	f, ok = GetStatic(17)
	assert.True(t, ok)
	assert.Equal(t, HeaderField{Name: ":method", Value: "GET"}, f)

	_, ok = GetStatic(99)
	assert.False(t, ok)
	_, ok = GetStatic(-1)
	assert.False(t, ok)
}

func TestFindStaticFull(t *testing.T) {
	idx, ok := FindStaticFull(HeaderField{Name: ":method", Value: "GET"})
	assert.True(t, ok)
	assert.Equal(t, 17, idx)

	_, ok = FindStaticFull(HeaderField{Name: ":method", Value: "TRACE"})
	assert.False(t, ok)
}

func TestFindStaticName(t *testing.T) {
	idx, ok := FindStaticName(":method")
	assert.True(t, ok)
	f, _ := GetStatic(idx)
	assert.Equal(t, ":method", f.Name)

	_, ok = FindStaticName("x-never-seen")
	assert.False(t, ok)
}
