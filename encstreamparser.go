package qpack

import "github.com/pkg/errors"

// encStreamParser is the decoder's resumable state machine for the
// encoder's control stream (spec.md §4.10, component C11): it applies the
// peer's Insert/Duplicate/SetCapacity instructions to the decoder's
// dynamic table.
//
// Every instruction on this stream is a sequence of length-prefixed
// fields, so like headerReadContext (see headerblockparser.go) this
// buffers each instruction's bytes until it is wholly present and then
// decodes it in one pass, rather than maintaining a byte-granular resume
// token per field. This still honors spec.md §5's suspension contract
// (NeedMore leaves no partial table mutation) with far less bookkeeping
// than the nibble-level sum-type §9 sketches, because every field here is
// already length-delimited on the wire.
type encStreamParser struct {
	table   *decoderTable
	pending []byte
}

func newEncStreamParser(table *decoderTable) *encStreamParser {
	return &encStreamParser{table: table}
}

// feed processes as many complete instructions from input as possible,
// returning the absolute ids of every entry inserted (for the caller to
// hand to the blocking queue) and any error. Unconsumed trailing bytes are
// retained for the next call.
func (p *encStreamParser) feed(input []byte) ([]int64, error) {
	p.pending = append(p.pending, input...)
	var inserted []int64
	for {
		n, id, didInsert, err := p.decodeOne(p.pending)
		if err == ErrNeedMore {
			break
		}
		if err != nil {
			return inserted, err
		}
		p.pending = p.pending[n:]
		if didInsert {
			inserted = append(inserted, id)
		}
	}
	return inserted, nil
}

// decodeOne attempts to decode a single instruction from buf, returning
// the number of bytes consumed.
func (p *encStreamParser) decodeOne(buf []byte) (consumed int, id int64, didInsert bool, err error) {
	if len(buf) < 1 {
		return 0, 0, false, ErrNeedMore
	}
	first := buf[0]
	switch {
	case first&0x80 != 0:
		return p.decodeInsertWithNameRef(buf)
	case first&0xc0 == 0x40:
		return p.decodeInsertWithoutNameRef(buf)
	case first&0xe0 == 0x20:
		return p.decodeSetCapacity(buf)
	default: // 000xxxxx
		return p.decodeDuplicate(buf)
	}
}

func (p *encStreamParser) decodeInsertWithNameRef(buf []byte) (int, int64, bool, error) {
	static := buf[0]&0x40 != 0
	nameIdx, n1, err := DecodeVarInt(buf, 6)
	if err != nil {
		return 0, 0, false, err
	}
	valueH := false
	if n1 < len(buf) {
		valueH = buf[n1]&0x80 != 0
	}
	valueLen, n2, err := DecodeVarInt(buf[n1:], 7)
	if err != nil {
		return 0, 0, false, err
	}
	total := n1 + n2 + int(valueLen)
	if len(buf) < total {
		return 0, 0, false, ErrNeedMore
	}
	valueBytes := buf[n1+n2 : total]
	value, err := decodeString(valueBytes, valueH)
	if err != nil {
		return 0, 0, false, err
	}

	var name string
	if static {
		f, ok := GetStatic(int(nameIdx))
		if !ok {
			return 0, 0, false, errors.Wrap(ErrIndexError, "static name reference out of range")
		}
		name = f.Name
	} else {
		absID := p.table.lastId - int64(nameIdx)
		e, ok := p.table.get(absID)
		if !ok {
			return 0, 0, false, errors.Wrap(ErrIndexError, "dynamic name reference out of range")
		}
		name = e.Name
	}

	e := p.table.insert(HeaderField{Name: name, Value: value})
	return total, e.id, true, nil
}

func (p *encStreamParser) decodeInsertWithoutNameRef(buf []byte) (int, int64, bool, error) {
	nameH := buf[0]&0x20 != 0
	nameLen, n1, err := DecodeVarInt(buf, 5)
	if err != nil {
		return 0, 0, false, err
	}
	if len(buf) < n1+int(nameLen) {
		return 0, 0, false, ErrNeedMore
	}
	name, err := decodeString(buf[n1:n1+int(nameLen)], nameH)
	if err != nil {
		return 0, 0, false, err
	}
	off := n1 + int(nameLen)

	if off >= len(buf) {
		return 0, 0, false, ErrNeedMore
	}
	valueH := buf[off]&0x80 != 0
	valueLen, n2, err := DecodeVarInt(buf[off:], 7)
	if err != nil {
		return 0, 0, false, err
	}
	total := off + n2 + int(valueLen)
	if len(buf) < total {
		return 0, 0, false, ErrNeedMore
	}
	value, err := decodeString(buf[off+n2:total], valueH)
	if err != nil {
		return 0, 0, false, err
	}

	e := p.table.insert(HeaderField{Name: name, Value: value})
	return total, e.id, true, nil
}

func (p *encStreamParser) decodeDuplicate(buf []byte) (int, int64, bool, error) {
	relIdx, n, err := DecodeVarInt(buf, 5)
	if err != nil {
		return 0, 0, false, err
	}
	absID := p.table.lastId - int64(relIdx)
	src, ok := p.table.get(absID)
	if !ok {
		return 0, 0, false, errors.Wrap(ErrIndexError, "duplicate of non-existent index")
	}
	e := p.table.duplicate(src)
	return n, e.id, true, nil
}

func (p *encStreamParser) decodeSetCapacity(buf []byte) (int, int64, bool, error) {
	cap, n, err := DecodeVarInt(buf, 5)
	if err != nil {
		return 0, 0, false, err
	}
	p.table.setCapacity(int(cap))
	return n, 0, false, nil
}

// decodeString decodes a length-delimited string already sliced to its
// exact length, applying Huffman decoding if huffman is set.
func decodeString(raw []byte, huffman bool) (string, error) {
	if !huffman {
		return string(raw), nil
	}
	dec, err := HuffmanDecode(nil, raw)
	if err != nil {
		return "", err
	}
	return string(dec), nil
}
