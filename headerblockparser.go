package qpack

import "github.com/pkg/errors"

const (
	phasePrefix = iota
	phaseData
)

// headerReadContext is the decoder's per in-flight inbound header block
// state (spec.md §3 "Decoder read context", component C12). Like
// encStreamParser, it buffers bytes until the representation currently
// being parsed is wholly present rather than threading a byte-granular
// resume token through every representation kind: every string on this
// wire is length-prefixed, so there is never a point in decoding a
// partial Huffman run — correctness only requires knowing when enough
// bytes have arrived, which pending/remaining track directly.
type headerReadContext struct {
	streamID  uint64
	remaining int
	pending   []byte
	phase     int

	base       int64
	largestRef int64

	fields  []HeaderField
	pinned  []*dynamicEntry
	blocked bool
}

func newHeaderReadContext(streamID uint64, totalSize int) *headerReadContext {
	return &headerReadContext{streamID: streamID, remaining: totalSize, phase: phasePrefix}
}

// feed appends newBytes and drives the parser as far as it can go,
// returning a status. On StatusDone, ctx.fields holds the completed header
// set; the caller (Decoder.HeaderIn/HeaderRead) is responsible for
// clearing ctx.fields after handing them to the caller.
func (ctx *headerReadContext) feed(table *decoderTable, newBytes []byte) (Status, error) {
	ctx.pending = append(ctx.pending, newBytes...)

	if ctx.phase == phasePrefix {
		n, blocked, err := ctx.parsePrefix(table)
		if err == ErrNeedMore {
			return StatusNeedMore, nil
		}
		if err != nil {
			return 0, err
		}
		ctx.pending = ctx.pending[n:]
		ctx.remaining -= n
		ctx.phase = phaseData
		if blocked {
			ctx.blocked = true
			return StatusBlocked, nil
		}
	}

	for ctx.remaining > 0 {
		n, field, err := ctx.parseRepresentation(table)
		if err == ErrNeedMore {
			return StatusNeedMore, nil
		}
		if err != nil {
			return 0, err
		}
		ctx.pending = ctx.pending[n:]
		ctx.remaining -= n
		if field != nil {
			ctx.fields = append(ctx.fields, *field)
		}
	}
	return StatusDone, nil
}

func (ctx *headerReadContext) parsePrefix(table *decoderTable) (consumed int, blocked bool, err error) {
	buf := ctx.pending
	if len(buf) < 1 {
		return 0, false, ErrNeedMore
	}
	encoded, n1, err := DecodeVarInt(buf, 8)
	if err != nil {
		return 0, false, err
	}
	maxEntries := table.maxEntries()
	mod := 2 * maxEntries

	var largestRef int64
	if encoded != 0 {
		if mod == 0 || int64(encoded) > mod+1 {
			return 0, false, errors.Wrap(ErrIndexError, "largest reference encoded out of range")
		}
		// spec.md §4.8 step 1 / original_source lsqpack.c:1424: the encoder
		// writes (MaxId mod 2*MaxEntries) + 1. MaxId is recovered as the id
		// with residue (encoded - 1) that is at most LastId + MaxEntries;
		// encoded value 0 is reserved for "no dynamic references" (handled
		// above) and never reaches here.
		maxValue := table.lastId + maxEntries
		largestRef = (maxValue/mod)*mod + int64(encoded) - 1
		if largestRef > maxValue {
			largestRef -= mod
		}
		if largestRef < 1 {
			return 0, false, errors.Wrap(ErrIndexError, "largest reference decodes below 1")
		}
	}

	if n1 >= len(buf) {
		return 0, false, ErrNeedMore
	}
	sign := buf[n1]&0x80 != 0
	delta, n2, err := DecodeVarInt(buf[n1:], 7)
	if err == ErrNeedMore {
		return 0, false, ErrNeedMore
	}
	if err != nil {
		return 0, false, err
	}

	var base int64
	if sign {
		base = largestRef - int64(delta) - 1
	} else {
		base = largestRef + int64(delta)
	}
	ctx.base = base
	ctx.largestRef = largestRef

	if largestRef > table.lastId {
		return n1 + n2, true, nil
	}
	return n1 + n2, false, nil
}

func (ctx *headerReadContext) parseRepresentation(table *decoderTable) (int, *HeaderField, error) {
	buf := ctx.pending
	if len(buf) < 1 {
		return 0, nil, ErrNeedMore
	}
	first := buf[0]
	switch {
	case first&0x80 != 0:
		return ctx.parseIndexed(table, buf)
	case first&0xc0 == 0x40:
		return ctx.parseLiteralWithNameRef(table, buf)
	case first&0xe0 == 0x20:
		return ctx.parseLiteralWithoutNameRef(buf)
	case first&0xf0 == 0x10:
		return ctx.parseIndexedPostBase(table, buf)
	default: // 0000xxxx
		return ctx.parseLiteralPostBaseNameRef(table, buf)
	}
}

func (ctx *headerReadContext) parseIndexed(table *decoderTable, buf []byte) (int, *HeaderField, error) {
	static := buf[0]&0x40 != 0
	idx, n, err := DecodeVarInt(buf, 6)
	if err != nil {
		return 0, nil, err
	}
	if static {
		f, ok := GetStatic(int(idx))
		if !ok {
			return 0, nil, errors.Wrap(ErrIndexError, "static index out of range")
		}
		return n, &f, nil
	}
	absID := ctx.base - int64(idx)
	e, ok := table.get(absID)
	if !ok {
		return 0, nil, errors.Wrap(ErrIndexError, "dynamic index out of range")
	}
	ctx.pin(table, e)
	f := e.HeaderField
	return n, &f, nil
}

func (ctx *headerReadContext) parseIndexedPostBase(table *decoderTable, buf []byte) (int, *HeaderField, error) {
	idx, n, err := DecodeVarInt(buf, 4)
	if err != nil {
		return 0, nil, err
	}
	absID := ctx.base + 1 + int64(idx)
	e, ok := table.get(absID)
	if !ok {
		return 0, nil, errors.Wrap(ErrIndexError, "post-base index out of range")
	}
	ctx.pin(table, e)
	f := e.HeaderField
	return n, &f, nil
}

func (ctx *headerReadContext) parseLiteralWithNameRef(table *decoderTable, buf []byte) (int, *HeaderField, error) {
	neverIndex := buf[0]&0x20 != 0
	static := buf[0]&0x10 != 0
	idx, n1, err := DecodeVarInt(buf, 4)
	if err != nil {
		return 0, nil, err
	}

	var name string
	if static {
		f, ok := GetStatic(int(idx))
		if !ok {
			return 0, nil, errors.Wrap(ErrIndexError, "static name reference out of range")
		}
		name = f.Name
	} else {
		absID := ctx.base - int64(idx)
		e, ok := table.get(absID)
		if !ok {
			return 0, nil, errors.Wrap(ErrIndexError, "dynamic name reference out of range")
		}
		ctx.pin(table, e)
		name = e.Name
	}

	value, n2, err := ctx.readString(buf[n1:])
	if err != nil {
		return 0, nil, err
	}
	f := HeaderField{Name: name, Value: value, Sensitive: neverIndex}
	return n1 + n2, &f, nil
}

func (ctx *headerReadContext) parseLiteralPostBaseNameRef(table *decoderTable, buf []byte) (int, *HeaderField, error) {
	neverIndex := buf[0]&0x08 != 0
	idx, n1, err := DecodeVarInt(buf, 3)
	if err != nil {
		return 0, nil, err
	}
	absID := ctx.base + 1 + int64(idx)
	e, ok := table.get(absID)
	if !ok {
		return 0, nil, errors.Wrap(ErrIndexError, "post-base name reference out of range")
	}
	ctx.pin(table, e)

	value, n2, err := ctx.readString(buf[n1:])
	if err != nil {
		return 0, nil, err
	}
	f := HeaderField{Name: e.Name, Value: value, Sensitive: neverIndex}
	return n1 + n2, &f, nil
}

func (ctx *headerReadContext) parseLiteralWithoutNameRef(buf []byte) (int, *HeaderField, error) {
	neverIndex := buf[0]&0x10 != 0
	nameH := buf[0]&0x08 != 0
	nlen, n1, err := DecodeVarInt(buf, 3)
	if err != nil {
		return 0, nil, err
	}
	if len(buf) < n1+int(nlen) {
		return 0, nil, ErrNeedMore
	}
	name, err := decodeString(buf[n1:n1+int(nlen)], nameH)
	if err != nil {
		return 0, nil, err
	}
	off := n1 + int(nlen)

	value, n2, err := ctx.readString(buf[off:])
	if err != nil {
		return 0, nil, err
	}
	f := HeaderField{Name: name, Value: value, Sensitive: neverIndex}
	return off + n2, &f, nil
}

// readString decodes a 7-bit-prefixed, Huffman-flagged length-delimited
// string, the common value encoding of every representation kind.
func (ctx *headerReadContext) readString(buf []byte) (string, int, error) {
	if len(buf) < 1 {
		return "", 0, ErrNeedMore
	}
	h := buf[0]&0x80 != 0
	length, n, err := DecodeVarInt(buf, 7)
	if err != nil {
		return "", 0, err
	}
	total := n + int(length)
	if len(buf) < total {
		return "", 0, ErrNeedMore
	}
	s, err := decodeString(buf[n:total], h)
	if err != nil {
		return "", 0, err
	}
	return s, total, nil
}

func (ctx *headerReadContext) pin(table *decoderTable, e *dynamicEntry) {
	table.pin(e)
	ctx.pinned = append(ctx.pinned, e)
}

// release unpins every dynamic entry this context referenced, called once
// the header set has been fully consumed or the block is cancelled.
func (ctx *headerReadContext) release(table *decoderTable) {
	for _, e := range ctx.pinned {
		table.unpin(e)
	}
	ctx.pinned = nil
}
