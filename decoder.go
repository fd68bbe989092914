package qpack

import (
	"go.uber.org/zap"
)

// Handle is the caller-owned opaque reference to one in-flight inbound
// header block, threaded through HeaderIn/HeaderRead/CancelStream/
// UnrefStream (spec.md §6 "opaque_block_handle"). The zero value is ready
// to use: the first HeaderIn call on it allocates the backing read state.
type Handle struct {
	ctx *headerReadContext
}

// Decoder is the QPACK decoder half of the codec (spec.md §6 "Decoder
// operations"): it applies the peer's encoder-stream instructions to its
// dynamic table and turns inbound header blocks into header sets, wiring
// together the decoder table (C4), the header-block parser (C12), the
// encoder-stream parser (C11), the blocking queue (C13), and the control
// emitter (C14).
type Decoder struct {
	logger *zap.Logger

	table     *decoderTable
	blocked   *blockingQueue
	encParser *encStreamParser

	maxRiskedStreams int
	unblockCallback  func(*Handle)
	handlesByCtx     map[*headerReadContext]*Handle

	largestKnownId int64

	lastErr *CodecError
}

// DecoderOption configures NewDecoder, matching the teacher's
// functional-options convention (see SPEC_FULL.md §3).
type DecoderOption func(*Decoder)

// WithDecoderLogger overrides the default no-op logger.
func WithDecoderLogger(l *zap.Logger) DecoderOption {
	return func(d *Decoder) { d.logger = l }
}

// NewDecoder constructs a Decoder (spec.md §6 "Init"). dynTableSize is the
// decoder's own dynamic table capacity; maxRiskedStreams bounds the
// blocking queue; unblockCallback fires once, per blocked Handle, when a
// later insertion satisfies it.
func NewDecoder(dynTableSize, maxRiskedStreams int, unblockCallback func(*Handle), opts ...DecoderOption) *Decoder {
	d := &Decoder{
		logger:           zap.NewNop(),
		table:            newDecoderTable(dynTableSize),
		blocked:          newBlockingQueue(maxRiskedStreams),
		maxRiskedStreams: maxRiskedStreams,
		unblockCallback:  unblockCallback,
		handlesByCtx:     make(map[*headerReadContext]*Handle),
	}
	d.encParser = newEncStreamParser(d.table)
	for _, o := range opts {
		o(d)
	}
	return d
}

// HeaderIn begins (or continues) decoding an inbound header block. On the
// first call for a given Handle, streamID and totalSize establish the
// block's identity and expected length; subsequent calls may pass any
// streamID/totalSize (they are ignored once the context exists).
func (d *Decoder) HeaderIn(h *Handle, streamID uint64, totalSize int, buf []byte) (Status, []HeaderField, error) {
	if h.ctx == nil {
		h.ctx = newHeaderReadContext(streamID, totalSize)
		d.handlesByCtx[h.ctx] = h
	}
	return d.feedHeader(h, buf)
}

// HeaderRead resumes a Handle previously returned NeedMore or Blocked.
func (d *Decoder) HeaderRead(h *Handle, buf []byte) (Status, []HeaderField, error) {
	if h.ctx == nil {
		return StatusDone, nil, wrapLocated(LocationHeaderBlock, 0, 0, 0, ErrUnknownStream)
	}
	return d.feedHeader(h, buf)
}

func (d *Decoder) feedHeader(h *Handle, buf []byte) (Status, []HeaderField, error) {
	status, err := h.ctx.feed(d.table, buf)
	if err != nil {
		d.lastErr = wrapLocated(LocationHeaderBlock, 0, h.ctx.remaining, h.ctx.streamID, err).(*CodecError)
		d.logger.Warn("headerin: protocol error", zap.Uint64("stream", h.ctx.streamID), zap.Error(err))
		return 0, nil, d.lastErr
	}
	switch status {
	case StatusBlocked:
		if !d.blocked.admit(h.ctx.largestRef, h.ctx) {
			// Blocked-streams limit reached: the block cannot wait.
			d.lastErr = wrapLocated(LocationHeaderBlock, 0, h.ctx.remaining, h.ctx.streamID, ErrBlocked).(*CodecError)
			d.logger.Warn("headerin: blocked-streams limit reached", zap.Uint64("stream", h.ctx.streamID))
			return 0, nil, d.lastErr
		}
		d.logger.Debug("headerin: blocked", zap.Uint64("stream", h.ctx.streamID), zap.Int64("largest_ref", h.ctx.largestRef))
		return StatusBlocked, nil, nil
	case StatusDone:
		fields := h.ctx.fields
		h.ctx.fields = nil
		d.logger.Debug("headerin: done", zap.Uint64("stream", h.ctx.streamID), zap.Int("fields", len(fields)))
		return StatusDone, fields, nil
	default:
		return status, nil, nil
	}
}

// EncStreamIn applies as many complete encoder-stream instructions from
// bytes as are available (spec.md §4.10), waking any blocked header blocks
// each insertion satisfies.
func (d *Decoder) EncStreamIn(bytes []byte) error {
	inserted, err := d.encParser.feed(bytes)
	for _, id := range inserted {
		d.logger.Debug("encstreamin: inserted", zap.Int64("id", id))
		for _, ctx := range d.blocked.onInsert(id) {
			ctx.blocked = false
			if h, ok := d.handlesByCtx[ctx]; ok && d.unblockCallback != nil {
				d.unblockCallback(h)
			}
		}
	}
	if err != nil {
		d.lastErr = wrapLocated(LocationEncoderStream, 0, 0, 0, err).(*CodecError)
		d.logger.Warn("encstreamin: protocol error", zap.Error(err))
		return d.lastErr
	}
	return nil
}

// UnrefStream releases a Handle's resources (pinned dynamic entries and
// bookkeeping) once the caller is done with its header set, without
// implying cancellation of an in-flight block.
func (d *Decoder) UnrefStream(h *Handle) {
	if h.ctx == nil {
		return
	}
	h.ctx.release(d.table)
	if h.ctx.blocked {
		d.blocked.cancel(h.ctx)
	}
	delete(d.handlesByCtx, h.ctx)
	h.ctx = nil
}

// DestroyHeaderSet releases the dynamic-table pins a completed header set
// (returned from HeaderIn/HeaderRead) still implicitly holds via its
// source Handle. Call after the caller is done using the returned fields.
func (d *Decoder) DestroyHeaderSet(h *Handle) {
	d.UnrefStream(h)
}

// GetLastError returns the most recent ProtocolError this decoder
// produced, or nil.
func (d *Decoder) GetLastError() *CodecError {
	return d.lastErr
}
