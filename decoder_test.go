package qpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderStaticFullMatch(t *testing.T) {
	d := NewDecoder(0, 10, nil)
	h := &Handle{}

	// Prefix: LargestRefEncoded=0, sign/delta byte=0x00. Then 0xD1 = 1100
	// 0001: indexed, static, index 17 (":method","GET").
	buf := []byte{0x00, 0x00, 0xd1}
	status, fields, err := d.HeaderIn(h, 1, len(buf), buf)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, status)
	require.Len(t, fields, 1)
	assert.Equal(t, HeaderField{Name: ":method", Value: "GET"}, fields[0])
}

func TestDecoderBlocksThenUnblocks(t *testing.T) {
	var unblocked *Handle
	d := NewDecoder(1024, 10, func(h *Handle) { unblocked = h })
	h := &Handle{}

	// LargestRefEncoded = 2 means LargestRef = (2-1) mod (2*MaxEntries) = 1,
	// i.e. the first insertion (absolute id 1) hasn't arrived yet relative
	// to an empty table (LastId starts at 0): clearly "in the future".
	var buf []byte
	buf = EncodeVarInt(buf, 0, 8, 2) // encoded=2 -> LargestRef=(2-1) mod N =1
	buf = append(buf, 0x00)          // sign=0, delta=0 -> base=1
	// Indexed dynamic, post-base id = base+1+0 = 2... but we only need to
	// observe Blocked status, so the data phase never actually runs.
	status, _, err := d.HeaderIn(h, 5, len(buf), buf)
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, status)
	assert.Nil(t, unblocked)

	// Now deliver the insertion that yields LastId=1.
	var ins []byte
	ins = EncodeVarInt(ins, 0x40, 5, 1)
	ins = append(ins, 'x')
	ins = EncodeVarInt(ins, 0x00, 7, 1)
	ins = append(ins, 'y')
	err = d.EncStreamIn(ins)
	require.NoError(t, err)
	assert.Same(t, h, unblocked)
}

func TestDecoderCancelStreamEmitsWhenPending(t *testing.T) {
	d := NewDecoder(1024, 10, nil)
	h := &Handle{}

	buf := []byte{0x00} // incomplete prefix byte
	status, _, err := d.HeaderIn(h, 9, 10, buf)
	require.NoError(t, err)
	assert.Equal(t, StatusNeedMore, status)

	out := d.CancelStream(h, nil)
	require.Len(t, out, 1)
	assert.Equal(t, byte(0x49), out[0])
}
