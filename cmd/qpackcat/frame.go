package main

import (
	"encoding/binary"
	"io"
)

// Frames on the interop wire are fixed-width: an 8-byte stream id followed
// by a 4-byte length and that many bytes, grounded on the teacher's
// hc/qif encoder/decoder pair (hqio.BitWriter/BitReader doing
// WriteBits(id, 64) / WriteBits(len, 32)). Stream id 0 is reserved for
// encoder-stream instructions; any other id carries one header block.
const controlStreamID = 0

func writeFrame(w io.Writer, streamID uint64, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var hdr [12]byte
	binary.BigEndian.PutUint64(hdr[0:8], streamID)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// growBuf doubles a buffer's capacity (or starts it at 64 bytes) while
// keeping its existing contents, for retrying an Encode/EndHeader call that
// returned StatusNoBufEnc/StatusNoBufHead.
func growBuf(buf []byte) []byte {
	next := make([]byte, len(buf), cap(buf)*2+64)
	copy(next, buf)
	return next
}

func readFrame(r io.Reader) (uint64, []byte, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	streamID := binary.BigEndian.Uint64(hdr[0:8])
	length := binary.BigEndian.Uint32(hdr[8:12])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return streamID, payload, nil
}
