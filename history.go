package qpack

// history is the encoder's bounded record of recently hashed names and
// name+value pairs, used to predict whether a field is worth indexing
// (spec.md §4.5). Grounded on original_source/lsqpack.c's qenc_hist_*
// family: a circular buffer probed with a bounded backward linear scan
// rather than a map, since the only question ever asked is "did this hash
// occur recently", not "how many times" or "where".
type history struct {
	buf  []uint64
	head int
	full bool

	aggressive bool
}

// newHistory sizes the window at MaxTableSize/32 (the entry-overhead
// divisor, at least dupGrowIncrement), per spec.md §3's "Encoder history"
// data model. Growth past this is a small fixed increment
// (dupGrowIncrement), not a protocol contract (spec.md §9).
const dupGrowIncrement = 4

func newHistory(maxTableSize int, aggressive bool) *history {
	cap := maxTableSize / entryOverhead
	if cap < dupGrowIncrement {
		cap = dupGrowIncrement
	}
	return &history{buf: make([]uint64, cap), aggressive: aggressive}
}

// add records a new hash.
func (h *history) add(hash uint64) {
	h.buf[h.head] = hash
	h.head++
	if h.head >= len(h.buf) {
		h.head = 0
		h.full = true
	}
}

// ensureCapacity grows the buffer by dupGrowIncrement steps if a single
// header block is about to push more distinct hashes than the window can
// currently hold (spec.md §4.5: "grow the array by a small increment").
func (h *history) ensureCapacity(n int) {
	for len(h.buf) < n {
		h.grow()
	}
}

func (h *history) grow() {
	grown := make([]uint64, len(h.buf)+dupGrowIncrement)
	// Flatten the circular buffer into insertion order: oldest entry first.
	n := 0
	if h.full {
		n = copy(grown, h.buf[h.head:])
	}
	n += copy(grown[n:], h.buf[:h.head])
	h.buf = grown
	h.head = n
	h.full = false
}

// seen scans backward from the newest recorded hash over every live slot
// (the whole buffer once it has wrapped, otherwise only the slots written
// so far) and reports whether hash occurs among them. No sentinel is
// written; the scan is bounded by the buffer length.
func (h *history) seen(hash uint64) bool {
	if h.aggressive {
		return true
	}
	n := len(h.buf)
	if n == 0 {
		return false
	}
	for i := 1; i <= n; i++ {
		idx := h.head - i
		if idx < 0 {
			if !h.full {
				break
			}
			idx += n
		}
		if h.buf[idx] == hash {
			return true
		}
	}
	return false
}

// seenNameval answers spec.md §4.5's SeenNameval query.
func (h *history) seenNameval(hash uint64) bool {
	return h.seen(hash)
}

// seenName answers spec.md §4.5's SeenName query.
func (h *history) seenName(hash uint64) bool {
	return h.seen(hash)
}
