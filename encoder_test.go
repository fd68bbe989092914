package qpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoderStaticFullMatchEmitsNoTableAction(t *testing.T) {
	enc, tsu := NewEncoder(0, 0, 0)
	assert.Nil(t, tsu)

	enc.StartHeader(1, 1)
	encBuf, headBuf, status, err := enc.Encode(":method", "GET", false, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, status)
	assert.Empty(t, encBuf)
	assert.Equal(t, []byte{0xd1}, headBuf)

	headBuf, status, err = enc.EndHeader(headBuf)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, status)
	assert.Equal(t, []byte{0x00, 0x00, 0xd1}, headBuf)
}

func TestEncoderSensitiveFieldNeverTouchesTable(t *testing.T) {
	enc, _ := NewEncoder(4096, 4096, 10)
	enc.StartHeader(1, 1)
	encBuf, headBuf, status, err := enc.Encode("cookie", "secret", true, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, status)
	assert.Empty(t, encBuf)
	assert.Equal(t, byte(0x30), headBuf[0]&0x30) // literal without name ref, never-index bit set
	assert.Equal(t, 0, enc.table.insCount)
}

func TestEncoderNewNameInsertsAndIndexes(t *testing.T) {
	enc, _ := NewEncoder(4096, 4096, 10)
	enc.StartHeader(1, 1)

	// First occurrence: history hasn't seen this name/value yet, so it goes
	// out as a plain literal with no table interaction.
	encBuf, headBuf, status, err := enc.Encode("x-custom", "value-one", false, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, status)
	assert.Empty(t, encBuf)
	assert.Equal(t, 0, enc.table.insCount)
	_, _, err = enc.EndHeader(headBuf)
	require.NoError(t, err)

	// Second occurrence, new block: history now remembers this name+value,
	// so the planner inserts it and indexes it.
	enc.StartHeader(1, 2)
	encBuf, headBuf, status, err = enc.Encode("x-custom", "value-one", false, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, status)
	assert.NotEmpty(t, encBuf, "expected an encoder-stream insert instruction")
	assert.Equal(t, int64(1), enc.table.insCount)
	assert.Equal(t, 1, enc.ledger.count, "block stays pinned until acknowledged")
}

func TestEncoderBufferTooSmallLeavesStateUntouched(t *testing.T) {
	// Force a genuine NoBufHead: zero-capacity header-block buffer, on a
	// field that needs an encoder-stream insert so it isn't just a static
	// match.
	enc2, _ := NewEncoder(4096, 4096, 10)
	enc2.StartHeader(2, 1)
	_, _, _, _ = enc2.Encode("x-custom", "v", false, nil, nil)
	enc2.EndHeader(nil)
	enc2.StartHeader(2, 2)

	roomyEnc := make([]byte, 0, 64)
	fixedHead := make([]byte, 0, 0)
	before := enc2.table.insCount
	_, _, status, err := enc2.Encode("x-custom", "v", false, roomyEnc, fixedHead)
	require.NoError(t, err)
	assert.Equal(t, StatusNoBufHead, status)
	assert.Equal(t, before, enc2.table.insCount, "no insert should have happened")
}

func TestEncoderSectionAckUnpinsAndAdvancesAck(t *testing.T) {
	enc, _ := NewEncoder(4096, 4096, 10)
	enc.StartHeader(7, 1)
	_, headBuf, _, err := enc.Encode("x-custom", "value", false, nil, nil)
	require.NoError(t, err)
	headBuf, _, err = enc.EndHeader(headBuf)
	require.NoError(t, err)
	_ = headBuf

	enc.StartHeader(7, 2)
	_, _, _, err = enc.Encode("x-custom", "value", false, nil, nil)
	require.NoError(t, err)
	_, _, err = enc.EndHeader(nil)
	require.NoError(t, err)

	require.Equal(t, 1, enc.ledger.count)
	entry := enc.table.entries[0]
	assert.Equal(t, 1, entry.refcount)

	ack := EncodeVarInt(nil, 0x80, 7, 7)
	err = enc.DecoderStreamIn(ack)
	require.NoError(t, err)

	assert.Equal(t, 0, enc.ledger.count)
	assert.Equal(t, 0, entry.refcount)
	assert.Equal(t, int64(1), enc.table.maxAckedId)
}

func TestEncoderStreamCancelUnpins(t *testing.T) {
	enc, _ := NewEncoder(4096, 4096, 10)
	enc.StartHeader(3, 1)
	_, headBuf, _, err := enc.Encode("x-custom", "value", false, nil, nil)
	require.NoError(t, err)
	_, _, err = enc.EndHeader(headBuf)
	require.NoError(t, err)

	// Second occurrence: history now remembers this name+value, so the
	// planner inserts and pins a dynamic entry for it.
	enc.StartHeader(3, 2)
	_, _, _, err = enc.Encode("x-custom", "value", false, nil, nil)
	require.NoError(t, err)
	_, _, err = enc.EndHeader(nil)
	require.NoError(t, err)

	require.Equal(t, 1, enc.ledger.count)
	entry := enc.table.entries[0]
	require.Equal(t, 1, entry.refcount)

	cancel := EncodeVarInt(nil, 0x40, 6, 3)
	err = enc.DecoderStreamIn(cancel)
	require.NoError(t, err)

	assert.Equal(t, 0, enc.ledger.count)
	assert.Equal(t, 0, entry.refcount)
}

func TestEncoderCancelHeaderOnlyAllowedWithoutTableRefs(t *testing.T) {
	enc, _ := NewEncoder(4096, 4096, 10)

	// Seed history with a first occurrence, which never touches the table
	// and so may be cancelled freely.
	enc.StartHeader(1, 1)
	_, headBuf, _, err := enc.Encode("x-custom", "value", false, nil, nil)
	require.NoError(t, err)
	err = enc.CancelHeader()
	assert.NoError(t, err)
	_ = headBuf

	// Re-encode the same field in a fresh block so the planner inserts and
	// pins a dynamic entry; that block can no longer be cancelled.
	enc.StartHeader(1, 2)
	_, _, _, err = enc.Encode("x-custom", "value", false, nil, nil)
	require.NoError(t, err)
	err = enc.CancelHeader()
	assert.ErrorIs(t, err, ErrCancelPinned)

	_, _, err = enc.EndHeader(nil)
	require.NoError(t, err)

	// A later block that only references the static table never pins
	// anything and can be cancelled.
	enc.StartHeader(1, 3)
	_, _, _, err = enc.Encode(":method", "GET", false, nil, nil)
	require.NoError(t, err)
	err = enc.CancelHeader()
	assert.NoError(t, err)
}

func TestEncoderTssRejectsOverrun(t *testing.T) {
	enc, _ := NewEncoder(4096, 4096, 10)
	tss := EncodeVarInt(nil, 0x00, 6, 5) // no insertions have happened yet
	err := enc.DecoderStreamIn(tss)
	assert.Error(t, err)
}

func TestEncoderRatioTracksBytes(t *testing.T) {
	enc, _ := NewEncoder(4096, 4096, 10)
	assert.Equal(t, float64(0), enc.Ratio())
	enc.StartHeader(1, 1)
	_, _, _, err := enc.Encode(":method", "GET", false, nil, nil)
	require.NoError(t, err)
	_, _, err = enc.EndHeader(nil)
	require.NoError(t, err)
	assert.Greater(t, enc.Ratio(), float64(0))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc, tsu := NewEncoder(4096, 4096, 10)
	dec := NewDecoder(4096, 10, nil)
	if len(tsu) > 0 {
		require.NoError(t, dec.EncStreamIn(tsu))
	}

	fields := []HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/index.html"},
		{Name: "x-custom", Value: "some-value"},
	}

	enc.StartHeader(1, 1)
	var encBuf, headBuf []byte
	for _, f := range fields {
		var status Status
		var err error
		encBuf, headBuf, status, err = enc.Encode(f.Name, f.Value, f.Sensitive, encBuf, headBuf)
		require.NoError(t, err)
		require.Equal(t, StatusDone, status)
	}
	var err error
	headBuf, _, err = enc.EndHeader(headBuf)
	require.NoError(t, err)

	if len(encBuf) > 0 {
		require.NoError(t, dec.EncStreamIn(encBuf))
	}

	h := &Handle{}
	status, got, err := dec.HeaderIn(h, 1, len(headBuf), headBuf)
	require.NoError(t, err)
	require.Equal(t, StatusDone, status)
	assert.Equal(t, fields, got)
	dec.DestroyHeaderSet(h)
}
