package qpack

// decodercontrol.go implements the decoder's control emitter (spec.md
// §4.11, component C14): Section Acknowledgement, Table State Synchronize,
// and Stream Cancellation onto the decoder→encoder control stream.
//
// The teacher's equivalent (hc/qpackdecoder.go's writeAcknowledgements)
// runs as a goroutine draining buffered channels; spec.md §5 rules that
// out for this core ("single-threaded cooperative... no internal locks"),
// so these are plain synchronous methods the caller invokes whenever it is
// ready to flush the control stream (see DESIGN.md's "Redesigned
// behavior").

// WriteSectionAck emits a Section Acknowledgement for h's header block, if
// it referenced the dynamic table, and advances LargestKnownId. It is a
// no-op (returns out unchanged) for blocks that never touched the dynamic
// table, matching spec.md §4.11's "emitted when a header block finishes
// that used the dynamic table".
func (d *Decoder) WriteSectionAck(h *Handle, out []byte) []byte {
	if h.ctx == nil || len(h.ctx.pinned) == 0 {
		return out
	}
	out = EncodeVarInt(out, 0x80, 7, h.ctx.streamID)
	if h.ctx.largestRef > d.largestKnownId {
		d.largestKnownId = h.ctx.largestRef
	}
	return out
}

// TssPending reports whether a Table State Synchronize instruction would
// currently carry a nonzero count.
func (d *Decoder) TssPending() bool {
	return d.table.lastId > d.largestKnownId
}

// WriteTss emits lsqpack_dec_write_tss: if LastId > LargestKnownId, a
// Table State Synchronize counting the gap, advancing LargestKnownId to
// LastId.
func (d *Decoder) WriteTss(out []byte) []byte {
	if !d.TssPending() {
		return out
	}
	count := d.table.lastId - d.largestKnownId
	out = EncodeVarInt(out, 0x00, 6, uint64(count))
	d.largestKnownId = d.table.lastId
	return out
}

// CancelStream releases h and, if the block had pending bytes still
// in-flight, emits a Stream Cancellation so the encoder can drop the
// matching header info (spec.md §5 "emit a cancellation if bytes remain
// pending").
func (d *Decoder) CancelStream(h *Handle, out []byte) []byte {
	if h.ctx == nil {
		return out
	}
	streamID := h.ctx.streamID
	hadPending := len(h.ctx.pending) > 0 || h.ctx.blocked
	d.UnrefStream(h)
	if hadPending {
		out = EncodeVarInt(out, 0x40, 6, streamID)
	}
	return out
}
