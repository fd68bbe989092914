package qpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncStreamParserInsertWithoutNameRef(t *testing.T) {
	tbl := newDecoderTable(1024)
	p := newEncStreamParser(tbl)

	var buf []byte
	buf = EncodeVarInt(buf, 0x40, 5, 6) // insert-without-nameref, name len 6
	buf = append(buf, []byte("custom")...)
	buf = EncodeVarInt(buf, 0x00, 7, 2) // value len 2, not huffman
	buf = append(buf, []byte("v1")...)

	inserted, err := p.feed(buf)
	require.NoError(t, err)
	require.Len(t, inserted, 1)

	e, ok := tbl.get(inserted[0])
	require.True(t, ok)
	assert.Equal(t, "custom", e.Name)
	assert.Equal(t, "v1", e.Value)
}

func TestEncStreamParserInsertWithStaticNameRef(t *testing.T) {
	tbl := newDecoderTable(1024)
	p := newEncStreamParser(tbl)

	idx, _ := FindStaticName(":method")
	var buf []byte
	buf = EncodeVarInt(buf, 0xc0, 6, uint64(idx)) // insert-with-nameref, static bit set
	buf = EncodeVarInt(buf, 0x00, 7, 3)
	buf = append(buf, []byte("PUT")...)

	inserted, err := p.feed(buf)
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	e, _ := tbl.get(inserted[0])
	assert.Equal(t, ":method", e.Name)
	assert.Equal(t, "PUT", e.Value)
}

func TestEncStreamParserNeedsMoreThenCompletes(t *testing.T) {
	tbl := newDecoderTable(1024)
	p := newEncStreamParser(tbl)

	var buf []byte
	buf = EncodeVarInt(buf, 0x40, 5, 6)
	buf = append(buf, []byte("custom")...)
	buf = EncodeVarInt(buf, 0x00, 7, 2)
	buf = append(buf, []byte("v1")...)

	inserted, err := p.feed(buf[:len(buf)-1])
	require.NoError(t, err)
	assert.Len(t, inserted, 0)

	inserted, err = p.feed(buf[len(buf)-1:])
	require.NoError(t, err)
	require.Len(t, inserted, 1)
}

func TestEncStreamParserDuplicate(t *testing.T) {
	tbl := newDecoderTable(1024)
	p := newEncStreamParser(tbl)

	tbl.insert(HeaderField{Name: "a", Value: "1"})
	buf := EncodeVarInt(nil, 0x00, 5, 0) // duplicate relative index 0 == most recent
	inserted, err := p.feed(buf)
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	e, _ := tbl.get(inserted[0])
	assert.Equal(t, "a", e.Name)
	assert.Equal(t, "1", e.Value)
}

func TestEncStreamParserSetCapacity(t *testing.T) {
	tbl := newDecoderTable(1024)
	p := newEncStreamParser(tbl)
	tbl.insert(HeaderField{Name: "a", Value: "1"})

	buf := EncodeVarInt(nil, 0x20, 5, 0)
	inserted, err := p.feed(buf)
	require.NoError(t, err)
	assert.Len(t, inserted, 0)
	assert.Equal(t, 0, tbl.maxCapacity)
}
