package qpack

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Encoder is the QPACK encoder half of the codec (spec.md §6 "Encoder
// operations"): it turns caller-supplied header fields into encoder-stream
// instructions (C9) and header-block representations (C10), driven by the
// planner's per-field decision (C8, planner.go) over the encoder's dynamic
// table (C4/C5), history (C6), and header-info ledger (C7).
type Encoder struct {
	logger *zap.Logger

	table *encoderTable
	hist  *history
	ledger *headerInfoLedger

	maxRiskedStreams int
	server           bool
	useDup           bool
	indexAggressive  bool
	legacyBaseDelta  bool

	cur           *headerInfo
	curFieldCount int

	decPending []byte

	bytesIn  int64
	bytesOut int64

	lastErr *CodecError
}

// EncoderOption configures NewEncoder, matching spec.md §6's `opts` bitset
// (`Server`, `UseDup`, `IndexAggressive`, `PreInited`) as functional options
// (see SPEC_FULL.md §3 "Configuration").
type EncoderOption func(*encoderConfig)

type encoderConfig struct {
	server          bool
	useDup          bool
	indexAggressive bool
	preInited       bool
	logger          *zap.Logger
}

// WithEncoderLogger overrides the default no-op logger.
func WithEncoderLogger(l *zap.Logger) EncoderOption {
	return func(c *encoderConfig) { c.logger = l }
}

// WithServer marks this encoder as running on the server side of the
// connection. It carries no independent wire behavior of its own — it is
// advisory metadata exposed to the logger/caller, mirroring spec.md §6's
// `opts` bitset entry with no documented behavioral effect beyond being
// inspectable (an explicit decision, see DESIGN.md).
func WithServer(v bool) EncoderOption {
	return func(c *encoderConfig) { c.server = v }
}

// WithUseDup enables the Dup encoder-stream action (spec.md §4.4, §4.7).
func WithUseDup(v bool) EncoderOption {
	return func(c *encoderConfig) { c.useDup = v }
}

// WithIndexAggressive makes the history oracle always answer "seen" (spec.md
// §4.5's "always yes" variants), trading table churn for higher hit rates.
func WithIndexAggressive(v bool) EncoderOption {
	return func(c *encoderConfig) { c.indexAggressive = v }
}

// WithPreInited suppresses the initial Set Dynamic Table Capacity
// instruction NewEncoder would otherwise emit when dynTableSize <
// maxTableSize, for callers that have already communicated capacity
// out-of-band (spec.md §6 "Init... opts").
func WithPreInited(v bool) EncoderOption {
	return func(c *encoderConfig) { c.preInited = v }
}

// NewEncoder constructs an Encoder (spec.md §6 "Init"). maxTableSize sizes
// the history window; it is not stored, and SetMaxCapacity does not check
// its argument against it. dynTableSize is the initial capacity. If
// dynTableSize < maxTableSize and PreInited was not
// given, the returned tsu slice carries an initial Capacity-Update
// instruction the caller must place on the encoder stream.
func NewEncoder(maxTableSize, dynTableSize, maxRiskedStreams int, opts ...EncoderOption) (*Encoder, []byte) {
	cfg := encoderConfig{logger: zap.NewNop()}
	for _, o := range opts {
		o(&cfg)
	}

	e := &Encoder{
		logger:           cfg.logger,
		table:            newEncoderTable(dynTableSize),
		hist:             newHistory(maxTableSize, cfg.indexAggressive),
		ledger:           newHeaderInfoLedger(),
		maxRiskedStreams: maxRiskedStreams,
		server:           cfg.server,
		useDup:           cfg.useDup,
		indexAggressive:  cfg.indexAggressive,
		legacyBaseDelta:  true, // Not read anywhere: only the v05 forms are implemented.
	}
	e.ledger.onRelease = func(hi *headerInfo) {
		for _, pe := range hi.pinned {
			e.table.unpin(pe)
		}
		hi.pinned = nil
	}

	var tsu []byte
	if !cfg.preInited && dynTableSize < maxTableSize {
		tsu = emitSetCapacity(tsu, dynTableSize)
	}
	return e, tsu
}

// SetMaxCapacity updates the dynamic table's capacity and appends a
// Set Dynamic Table Capacity instruction to out (spec.md §6 "SetMaxCapacity").
func (e *Encoder) SetMaxCapacity(capacity int, out []byte) []byte {
	e.table.setCapacity(capacity)
	return emitSetCapacity(out, capacity)
}

// StartHeader begins a new outstanding header block (spec.md §4.8):
// allocates a header info and snapshots BaseIdx = InsCount.
func (e *Encoder) StartHeader(streamID, seqno uint64) {
	base := e.table.baseIdx()
	e.cur = e.ledger.alloc(streamID, seqno, base)
	e.curFieldCount = 0
	e.logger.Debug("startheader", zap.Uint64("stream", streamID), zap.Uint64("seqno", seqno), zap.Int64("base", base))
}

// pin records that hi has referenced entry, bumping its refcount and its
// header-info min/max range, and marks hi at-risk if entry isn't
// acknowledged yet (spec.md §4.7 post-conditions, §4.7 risk gate).
func (e *Encoder) pin(hi *headerInfo, entry *dynamicEntry) {
	e.table.pin(entry)
	hi.pinned = append(hi.pinned, entry)
	hi.touch(entry.id)
	e.markRisk(hi, entry.id)
}

func (e *Encoder) markRisk(hi *headerInfo, id int64) {
	if id > e.table.maxAckedId {
		e.ledger.markAtRisk(hi)
	}
}

// riskAllowed implements spec.md §4.7's risk gate: a block may reference an
// unacknowledged entry if it is already at risk, another block on the same
// stream is at risk, or the at-risk stream count is still under the limit.
func (e *Encoder) riskAllowed(hi *headerInfo) bool {
	if hi.atRisk {
		return true
	}
	if e.ledger.streamHasRiskedBlock(hi.streamID) {
		return true
	}
	return e.ledger.streamsAtRisk() < e.maxRiskedStreams
}

// hasRoom reports whether need more bytes could be appended to buf without
// exceeding the caller's declared budget. A nil buf carries no budget at
// all — the caller is using the grow-via-append idiom and always has room,
// the same way callers build up a []byte with repeated append(nil, ...)
// calls with no preallocated capacity in mind. A non-nil buf (even a zero-
// length, zero-capacity one built with make) is the caller stating a real
// capacity budget, which must be respected exactly so NoBufEnc/NoBufHead
// remain meaningful signals rather than disappearing into append's own
// reallocation.
func hasRoom(buf []byte, need int) bool {
	return buf == nil || cap(buf)-len(buf) >= need
}

// Encode plans and emits one field, appending encoder-stream bytes to
// encBuf and header-block bytes to headBuf (spec.md §6 "Encode"). Neither
// buffer nor the table is mutated if either destination lacks room.
func (e *Encoder) Encode(name, value string, sensitive bool, encBuf, headBuf []byte) ([]byte, []byte, Status, error) {
	if e.cur == nil {
		return encBuf, headBuf, StatusDone, errors.New("qpack: Encode called without an open header block")
	}
	f := HeaderField{Name: strings.ToLower(name), Value: value, Sensitive: sensitive}

	pr := e.plan(e.cur, f)

	if !hasRoom(encBuf, len(pr.encBytes)) {
		e.logger.Debug("encode: encoder-stream buffer too small", zap.Uint64("stream", e.cur.streamID))
		return encBuf, headBuf, StatusNoBufEnc, nil
	}
	if !hasRoom(headBuf, len(pr.headBytes)) {
		e.logger.Debug("encode: header-block buffer too small", zap.Uint64("stream", e.cur.streamID))
		return encBuf, headBuf, StatusNoBufHead, nil
	}

	if pr.commit != nil {
		pr.commit()
		e.table.evict()
	}

	e.curFieldCount++
	e.hist.ensureCapacity(2 * e.curFieldCount)
	e.hist.add(e.table.hashName(f.Name))
	e.hist.add(e.table.hashNameValue(f.Name, f.Value))

	encBuf = append(encBuf, pr.encBytes...)
	headBuf = append(headBuf, pr.headBytes...)

	e.bytesIn += int64(len(f.Name) + len(f.Value))
	e.bytesOut += int64(len(pr.encBytes) + len(pr.headBytes))

	e.logger.Debug("encode: field emitted",
		zap.Uint64("stream", e.cur.streamID),
		zap.Int("enc_bytes", len(pr.encBytes)),
		zap.Int("head_bytes", len(pr.headBytes)))

	return encBuf, headBuf, StatusDone, nil
}

// EndHeader writes the Header Data Prefix (spec.md §4.8) in front of the
// representations already in buf, so the returned slice is the complete
// header block, and closes out the current header block. A block that never
// referenced the dynamic table is freed immediately with no pending
// acknowledgement; otherwise it remains on the ledger until a Section
// Acknowledgement or Stream Cancellation retires it (Table State
// Synchronize only advances MaxAckedId).
func (e *Encoder) EndHeader(buf []byte) ([]byte, Status, error) {
	hi := e.cur
	if hi == nil {
		return buf, StatusDone, errors.New("qpack: EndHeader called without an open header block")
	}

	var prefix []byte
	if !hi.idsSet {
		prefix = append(prefix, 0x00, 0x00)
	} else {
		mod := 2 * e.table.maxEntries()
		// spec.md §4.8 step 1 / original_source lsqpack.c:1424
		// ("qhi_max_id % (2 * qpe_max_entries) + 1"): the wire form is the
		// absolute id's residue plus one, never plus two.
		encoded := uint64(((hi.maxId%mod)+mod)%mod) + 1
		prefix = EncodeVarInt(prefix, 0x00, 8, encoded)
		if hi.base >= hi.maxId {
			prefix = EncodeVarInt(prefix, 0x00, 7, uint64(hi.base-hi.maxId))
		} else {
			prefix = EncodeVarInt(prefix, 0x80, 7, uint64(hi.maxId-hi.base-1))
		}
	}

	if !hasRoom(buf, len(prefix)) {
		e.logger.Debug("endheader: buffer too small", zap.Uint64("stream", hi.streamID))
		return buf, StatusNoBufHead, nil
	}
	buf = append(prefix, buf...)
	e.bytesOut += int64(len(prefix))

	if !hi.idsSet {
		e.ledger.release(hi)
	}
	e.logger.Debug("endheader: block closed",
		zap.Uint64("stream", hi.streamID), zap.Bool("used_dynamic_table", hi.idsSet))
	e.cur = nil
	return buf, StatusDone, nil
}

// CancelHeader tears down the current header block. Per spec.md §4.8, this
// is only allowed if no dynamic-table entries were touched; otherwise the
// caller must finish the block normally so its pending acknowledgement can
// still be matched.
func (e *Encoder) CancelHeader() error {
	hi := e.cur
	if hi == nil {
		return errors.New("qpack: CancelHeader called without an open header block")
	}
	if hi.idsSet {
		return ErrCancelPinned
	}
	e.ledger.release(hi)
	e.cur = nil
	return nil
}

// DecoderStreamIn applies as many complete decoder-stream instructions from
// bytes as are available (spec.md §4.8): Section Acknowledgement, Table
// State Synchronize, and Stream Cancellation.
func (e *Encoder) DecoderStreamIn(bytes []byte) error {
	e.decPending = append(e.decPending, bytes...)
	for {
		n, err := e.decodeOneDecoderInstruction(e.decPending)
		if err == ErrNeedMore {
			return nil
		}
		if err != nil {
			e.lastErr = wrapLocated(LocationDecoderStream, 0, 0, 0, err).(*CodecError)
			e.logger.Warn("decoderstreamin: protocol error", zap.Error(err))
			return e.lastErr
		}
		e.decPending = e.decPending[n:]
	}
}

func (e *Encoder) decodeOneDecoderInstruction(buf []byte) (int, error) {
	if len(buf) < 1 {
		return 0, ErrNeedMore
	}
	switch {
	case buf[0]&0x80 != 0:
		return e.decodeSectionAck(buf)
	case buf[0]&0xc0 == 0x40:
		return e.decodeStreamCancel(buf)
	default: // 00xxxxxx
		return e.decodeTss(buf)
	}
}

// decodeSectionAck handles spec.md §4.8's Section Acknowledgement: find the
// lowest-seqno header info on the named stream, advance MaxAckedId if it
// referenced anything newer, and free it.
func (e *Encoder) decodeSectionAck(buf []byte) (int, error) {
	streamID, n, err := DecodeVarInt(buf, 7)
	if err != nil {
		return 0, err
	}
	hi := e.ledger.lowestSeqnoForStream(streamID)
	if hi == nil {
		return 0, errors.Wrap(ErrUnknownStream, "section acknowledgement for unknown stream")
	}
	if hi.maxId > e.table.maxAckedId {
		e.table.acknowledge(hi.maxId)
	}
	e.ledger.release(hi)
	return n, nil
}

// decodeTss handles Table State Synchronize: MaxAckedId = LastTss + count,
// which must not exceed InsCount.
func (e *Encoder) decodeTss(buf []byte) (int, error) {
	count, n, err := DecodeVarInt(buf, 6)
	if err != nil {
		return 0, err
	}
	newAcked := e.table.lastTss + int64(count)
	if count == 0 || newAcked > e.table.insCount {
		return 0, errors.Wrap(ErrBadTss, "table state synchronize count out of range")
	}
	e.table.lastTss = newAcked
	e.table.acknowledge(newAcked)
	return n, nil
}

// decodeStreamCancel handles Stream Cancellation: drop every header info for
// the named stream without expecting further acknowledgement.
func (e *Encoder) decodeStreamCancel(buf []byte) (int, error) {
	streamID, n, err := DecodeVarInt(buf, 6)
	if err != nil {
		return 0, err
	}
	e.ledger.cancelStream(streamID)
	return n, nil
}

// Ratio reports the running compression ratio: total bytes Encode and
// EndHeader have written to either stream divided by total input
// name+value bytes (spec.md §8).
func (e *Encoder) Ratio() float64 {
	if e.bytesIn == 0 {
		return 0
	}
	return float64(e.bytesOut) / float64(e.bytesIn)
}

// ratio is the internal helper the planner's double-literal guardrail
// consults (spec.md §4.7); identical to Ratio, kept unexported so the
// public API surface matches spec.md §6 exactly.
func (e *Encoder) ratio() float64 {
	return e.Ratio()
}

// maxPrefixSize is the largest the Header Data Prefix can ever be: an
// 8-bit-prefix varint (up to maxVarIntBytes) plus a 7-bit-prefix varint.
const maxPrefixSize = 2 * maxVarIntBytes

// HeaderDataPrefixSize returns the maximum number of bytes EndHeader could
// write, for callers that want to size buffers up front (spec.md §6).
func (e *Encoder) HeaderDataPrefixSize() int {
	return maxPrefixSize
}

// GetLastError returns the most recent ProtocolError this encoder produced
// while processing its decoder stream, or nil.
func (e *Encoder) GetLastError() *CodecError {
	return e.lastErr
}

// --- wire emitters (C9 encoder stream, C10 header block), spec.md §4.7.1 ---

// writeNameOrValueString appends a length-prefixed string, picking Huffman
// coding when it is strictly shorter (spec.md §4.2, §4.7 "planner... consults
// hashes/history/table state" — the Huffman-or-plain choice is the same kind
// of cheap precomputed decision). firstByteBase carries any flag bits (never-
// index, static/dynamic) the caller has already set; hFlagBit is OR'd in only
// when Huffman coding wins.
func writeNameOrValueString(dst []byte, firstByteBase, hFlagBit, prefixBits byte, s string) []byte {
	hlen := HuffmanEncodedLen(s)
	if hlen < len(s) {
		dst = EncodeVarInt(dst, firstByteBase|hFlagBit, prefixBits, uint64(hlen))
		return HuffmanEncode(dst, s)
	}
	dst = EncodeVarInt(dst, firstByteBase, prefixBits, uint64(len(s)))
	return append(dst, s...)
}

// emitIndexedStatic writes an Indexed Header Field referencing the static
// table (spec.md §4.7.1 "IndexedStat").
func emitIndexedStatic(dst []byte, staticIdx int) []byte {
	return EncodeVarInt(dst, 0xc0, 6, uint64(staticIdx))
}

// emitIndexedDynamic writes an Indexed Header Field or Indexed Header Field
// With Post-Base Index, whichever id relative to base requires (spec.md
// §4.7.1 "IndexedDyn").
func emitIndexedDynamic(dst []byte, id, base int64) []byte {
	if id <= base {
		return EncodeVarInt(dst, 0x80, 6, uint64(base-id))
	}
	return EncodeVarInt(dst, 0x10, 4, uint64(id-base-1))
}

// emitLitWithNameStatic writes a Literal Header Field With Name Reference
// into the static table.
func emitLitWithNameStatic(dst []byte, staticIdx int, value string, neverIndex bool) []byte {
	fb := byte(0x50)
	if neverIndex {
		fb |= 0x20
	}
	dst = EncodeVarInt(dst, fb, 4, uint64(staticIdx))
	return writeNameOrValueString(dst, 0x00, 0x80, 7, value)
}

// emitLitWithNameDynamic writes a Literal Header Field With Name Reference
// into the dynamic table, choosing the plain or post-base form depending on
// id relative to base (spec.md §4.7.1 "LitWithNameDyn"/"LitWithNameNew").
func emitLitWithNameDynamic(dst []byte, id, base int64, value string, neverIndex bool) []byte {
	var fb byte
	var prefixBits byte
	var idx int64
	if id <= base {
		fb, prefixBits, idx = 0x40, 4, base-id
		if neverIndex {
			fb |= 0x20
		}
	} else {
		fb, prefixBits, idx = 0x00, 3, id-base-1
		if neverIndex {
			fb |= 0x08
		}
	}
	dst = EncodeVarInt(dst, fb, prefixBits, uint64(idx))
	return writeNameOrValueString(dst, 0x00, 0x80, 7, value)
}

// emitLit writes a Literal Header Field Without Name Reference.
func emitLit(dst []byte, name, value string, neverIndex bool) []byte {
	fb := byte(0x20)
	if neverIndex {
		fb |= 0x10
	}
	dst = writeNameOrValueString(dst, fb, 0x08, 3, name)
	return writeNameOrValueString(dst, 0x00, 0x80, 7, value)
}

// emitInsertWithNameRefStatic writes an encoder-stream Insert With Name
// Reference instruction naming a static-table entry.
func emitInsertWithNameRefStatic(dst []byte, staticIdx int, value string) []byte {
	dst = EncodeVarInt(dst, 0xc0, 6, uint64(staticIdx))
	return writeNameOrValueString(dst, 0x00, 0x80, 7, value)
}

// emitInsertWithNameRefDynamic writes an encoder-stream Insert With Name
// Reference instruction naming a dynamic-table entry, addressed relative to
// the table's current InsCount (spec.md §4.10's decoder mirrors this with
// `lastId - nameIdx`).
func emitInsertWithNameRefDynamic(dst []byte, relIdx int64, value string) []byte {
	dst = EncodeVarInt(dst, 0x80, 6, uint64(relIdx))
	return writeNameOrValueString(dst, 0x00, 0x80, 7, value)
}

// emitInsertLiteral writes an encoder-stream Insert Without Name Reference
// instruction.
func emitInsertLiteral(dst []byte, name, value string) []byte {
	dst = writeNameOrValueString(dst, 0x40, 0x20, 5, name)
	return writeNameOrValueString(dst, 0x00, 0x80, 7, value)
}

// emitDuplicate writes an encoder-stream Duplicate instruction.
func emitDuplicate(dst []byte, relIdx int64) []byte {
	return EncodeVarInt(dst, 0x00, 5, uint64(relIdx))
}

// emitSetCapacity writes an encoder-stream Set Dynamic Table Capacity
// instruction.
func emitSetCapacity(dst []byte, capacity int) []byte {
	return EncodeVarInt(dst, 0x20, 5, uint64(capacity))
}
