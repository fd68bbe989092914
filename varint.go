package qpack

// VarInt implements the prefix-integer encoding used throughout QPACK
// (spec.md §4.1). The low N bits of the first byte hold values directly in
// [0, 2^N-2]; the sentinel 2^N-1 signals continuation, with subsequent
// bytes carrying 7-bit little-endian groups and the high bit meaning "more
// follows".
//
// Decoding here is presented as a single-shot function over a byte slice
// rather than a byte-by-byte resumable state machine: callers that only
// have a partial instruction buffer it and retry DecodeVarInt once more
// bytes arrive (see headerblockparser.go / encstreamparser.go). This keeps
// the externally observable contract the spec requires — NeedMore,
// preserved input, no partial table mutation — without threading an
// explicit {resume, shift, nread} struct through every call site.

const maxVarIntBytes = 11

// varIntSentinel returns the value (2^prefixBits - 1) that triggers the
// continuation form.
func varIntSentinel(prefixBits byte) uint64 {
	return (uint64(1) << prefixBits) - 1
}

// EncodeVarInt appends the prefix-integer encoding of v to dst. firstByte
// supplies the caller's high bits (the type tag for this representation);
// EncodeVarInt only ORs in the low prefixBits bits, as spec.md §4.1
// requires ("encoder must only OR in the low N bits").
func EncodeVarInt(dst []byte, firstByte byte, prefixBits byte, v uint64) []byte {
	sentinel := varIntSentinel(prefixBits)
	if v < sentinel {
		return append(dst, firstByte|byte(v))
	}
	dst = append(dst, firstByte|byte(sentinel))
	v -= sentinel
	for v >= 0x80 {
		dst = append(dst, byte(v&0x7f)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// DecodeVarInt reads a prefix-integer from buf, whose first byte already
// has its high (8-prefixBits) bits masked out by the caller (or is the raw
// byte; only the low prefixBits bits are consulted). It returns the decoded
// value and the number of bytes consumed.
//
// If buf is too short to complete the value, DecodeVarInt returns
// ErrNeedMore. Per spec.md §4.1, values that would exceed 63 bits are
// rejected as ErrIntegerOverflow, and so is any encoding whose continuation
// bytes would push the shift to 63 (a continuation bit set on the tenth
// byte), whatever the value it would carry.
func DecodeVarInt(buf []byte, prefixBits byte) (value uint64, consumed int, err error) {
	if len(buf) < 1 {
		return 0, 0, ErrNeedMore
	}
	sentinel := varIntSentinel(prefixBits)
	v := uint64(buf[0]) & sentinel
	if v < sentinel {
		return v, 1, nil
	}

	var shift uint
	nread := 1
	for {
		if nread >= len(buf) {
			return 0, 0, ErrNeedMore
		}
		b := buf[nread]
		nread++
		v += uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			if v>>63 != 0 {
				return 0, 0, ErrIntegerOverflow
			}
			return v, nread, nil
		}
		shift += 7
		if shift >= 63 || nread >= maxVarIntBytes {
			return 0, 0, ErrIntegerOverflow
		}
	}
}

// VarIntLen returns the number of bytes the canonical encoding of v would
// use with the given prefix width (the val2len helper of spec.md §4.1).
func VarIntLen(v uint64, prefixBits byte) int {
	sentinel := varIntSentinel(prefixBits)
	if v < sentinel {
		return 1
	}
	v -= sentinel
	n := 2
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
