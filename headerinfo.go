package qpack

import "math/bits"

// headerInfo is the encoder's per-outstanding-header-block ledger entry
// (spec.md §3 "Encoder header info"): one per StartHeader until the
// corresponding Section Acknowledgement or CancelStream arrives.
type headerInfo struct {
	streamID uint64
	seqno    uint64
	base     int64

	minId  int64
	maxId  int64
	idsSet bool
	atRisk bool

	// pinned lists the dynamic entries this block has referenced, so its
	// release can drop the refcount it is holding on each of them.
	pinned []*dynamicEntry

	block *headerInfoSlab
	bit   int
	next  *headerInfo
	prev  *headerInfo
}

// headerInfoSlab is a 64-entry block with a bitmap tracking which slots are
// live, per spec.md §4.6 ("slab-allocated pool of 64-entry blocks"). This
// avoids one allocation per outstanding header block, the way lsqpack.c's
// own header-info pool does, sized for "population is small (hundreds at
// most)".
type headerInfoSlab struct {
	entries  [64]headerInfo
	occupied uint64
}

func (b *headerInfoSlab) alloc() (*headerInfo, bool) {
	if b.occupied == ^uint64(0) {
		return nil, false
	}
	bit := bits.TrailingZeros64(^b.occupied)
	b.occupied |= 1 << uint(bit)
	e := &b.entries[bit]
	*e = headerInfo{block: b, bit: bit}
	return e, true
}

func (b *headerInfoSlab) free(bit int) {
	b.occupied &^= 1 << uint(bit)
}

// headerInfoLedger owns every live headerInfo, threaded on a FIFO list for
// MinReferencedId / ack-matching scans, and tracks which streams currently
// carry an at-risk block for the risk gate (spec.md §4.7, invariant 3).
type headerInfoLedger struct {
	slabs []*headerInfoSlab
	head  *headerInfo
	tail  *headerInfo
	count int

	atRiskStreams map[uint64]int

	// onRelease, if set, is invoked at the start of release so the owner
	// (the Encoder, which knows about the dynamic table) can drop the
	// refcounts hi.pinned is holding before the slot is recycled.
	onRelease func(*headerInfo)
}

func newHeaderInfoLedger() *headerInfoLedger {
	return &headerInfoLedger{atRiskStreams: make(map[uint64]int)}
}

// alloc creates a new headerInfo for (streamID, seqno), snapshotting base
// as its BaseIdx (spec.md §4.8).
func (l *headerInfoLedger) alloc(streamID, seqno uint64, base int64) *headerInfo {
	for _, s := range l.slabs {
		if hi, ok := s.alloc(); ok {
			return l.link(hi, streamID, seqno, base)
		}
	}
	s := &headerInfoSlab{}
	l.slabs = append(l.slabs, s)
	hi, _ := s.alloc()
	return l.link(hi, streamID, seqno, base)
}

func (l *headerInfoLedger) link(hi *headerInfo, streamID, seqno uint64, base int64) *headerInfo {
	hi.streamID = streamID
	hi.seqno = seqno
	hi.base = base
	hi.prev = l.tail
	hi.next = nil
	if l.tail != nil {
		l.tail.next = hi
	} else {
		l.head = hi
	}
	l.tail = hi
	l.count++
	return hi
}

// release removes hi from the FIFO list and returns its slot to the slab.
func (l *headerInfoLedger) release(hi *headerInfo) {
	if l.onRelease != nil {
		l.onRelease(hi)
	}
	if hi.prev != nil {
		hi.prev.next = hi.next
	} else {
		l.head = hi.next
	}
	if hi.next != nil {
		hi.next.prev = hi.prev
	} else {
		l.tail = hi.prev
	}
	if hi.atRisk {
		l.unmarkAtRisk(hi)
	}
	hi.block.free(hi.bit)
	l.count--
}

// touch records that hi has referenced absolute id, pinning the min/max
// range it must keep alive (spec.md §4.7 "bump header-info min/max IDs").
func (hi *headerInfo) touch(id int64) {
	if !hi.idsSet {
		hi.minId = id
		hi.maxId = id
		hi.idsSet = true
		return
	}
	if id < hi.minId {
		hi.minId = id
	}
	if id > hi.maxId {
		hi.maxId = id
	}
}

func (l *headerInfoLedger) markAtRisk(hi *headerInfo) {
	if hi.atRisk {
		return
	}
	hi.atRisk = true
	l.atRiskStreams[hi.streamID]++
}

func (l *headerInfoLedger) unmarkAtRisk(hi *headerInfo) {
	if !hi.atRisk {
		return
	}
	hi.atRisk = false
	l.atRiskStreams[hi.streamID]--
	if l.atRiskStreams[hi.streamID] <= 0 {
		delete(l.atRiskStreams, hi.streamID)
	}
}

// streamsAtRisk is the distinct-stream count the risk gate compares against
// MaxRiskedStreams (spec.md invariant 3).
func (l *headerInfoLedger) streamsAtRisk() int {
	return len(l.atRiskStreams)
}

// streamHasRiskedBlock reports whether some other live block on streamID is
// already at risk — the §4.7 risk-gate clause "another block on the same
// stream is at risk". Note: spec.md §4.8 describes this scan by comparing
// MaxId against MaxAckedId, which is the condition that put a block at
// risk in the first place; tracking the resulting flag directly (set once,
// here) gives the same answer without re-deriving it from table state on
// every StartHeader.
func (l *headerInfoLedger) streamHasRiskedBlock(streamID uint64) bool {
	return l.atRiskStreams[streamID] > 0
}

// minReferencedId scans all live header infos for the smallest referenced
// absolute id. Eviction does not call it; the encoder table decides what
// may be evicted from each entry's refcount and MaxAckedId.
func (l *headerInfoLedger) minReferencedId() (int64, bool) {
	var min int64
	found := false
	for hi := l.head; hi != nil; hi = hi.next {
		if !hi.idsSet {
			continue
		}
		if !found || hi.minId < min {
			min = hi.minId
			found = true
		}
	}
	return min, found
}

// lowestSeqnoForStream finds the oldest live header info on streamID, the
// target of a Section Acknowledgement (spec.md §4.8).
func (l *headerInfoLedger) lowestSeqnoForStream(streamID uint64) *headerInfo {
	var best *headerInfo
	for hi := l.head; hi != nil; hi = hi.next {
		if hi.streamID == streamID && (best == nil || hi.seqno < best.seqno) {
			best = hi
		}
	}
	return best
}

// cancelStream releases every live header info on streamID, returning how
// many header infos it released (for caller bookkeeping).
func (l *headerInfoLedger) cancelStream(streamID uint64) int {
	n := 0
	hi := l.head
	for hi != nil {
		next := hi.next
		if hi.streamID == streamID {
			l.release(hi)
			n++
		}
		hi = next
	}
	return n
}
