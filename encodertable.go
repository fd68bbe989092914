package qpack

import (
	"crypto/rand"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// dupFillThreshold and dupPositionThreshold are the tuning constants
// spec.md §4.4/§9 calls out as heuristics, not protocol requirements: an
// entry is a Dup candidate only once the table is nearly full and the
// entry is old enough to be worth refreshing rather than just reusing.
const (
	dupFillThreshold    = 0.8
	dupPositionThreshold = 0.2
)

// encoderTable is the encoder's view of the dynamic table (spec.md §3, §4.4:
// "Encoder table (C4+C5)"). It owns every entry and keeps two hash indexes
// for candidate lookup, grounded on hc/qpacktable.go's QpackEncoderTable.
// The per-bucket "grow when occupancy exceeds half the bucket count" rule
// is satisfied by Go's built-in map, which already grows its bucket array
// on load factor without a corresponding manual resize step here.
type encoderTable struct {
	entries []*dynamicEntry // insertion order, oldest (lowest id) first
	curSize int
	maxCapacity int

	insCount   int64
	maxAckedId int64
	lastTss    int64
	drainIdx   int64

	nameIndex    map[uint64][]*dynamicEntry
	namevalIndex map[uint64][]*dynamicEntry

	salt [8]byte
}

func newEncoderTable(maxCapacity int) *encoderTable {
	t := &encoderTable{
		maxCapacity:  maxCapacity,
		nameIndex:    make(map[uint64][]*dynamicEntry),
		namevalIndex: make(map[uint64][]*dynamicEntry),
	}
	// Seed the hash with per-instance randomness, the Go equivalent of
	// lsqpack.c's XXH32_reset(&state, (uintptr_t)enc): it keeps hash-bucket
	// placement from being predictable across connections.
	rand.Read(t.salt[:])
	return t
}

func (t *encoderTable) hashName(name string) uint64 {
	d := xxhash.New()
	d.Write(t.salt[:])
	d.Write([]byte(name))
	return d.Sum64()
}

func (t *encoderTable) hashNameValue(name, value string) uint64 {
	d := xxhash.New()
	d.Write(t.salt[:])
	d.Write([]byte(name))
	d.Write([]byte{0})
	d.Write([]byte(value))
	return d.Sum64()
}

func (t *encoderTable) candidatesByNameValue(hash uint64) []*dynamicEntry {
	return t.namevalIndex[hash]
}

func (t *encoderTable) candidatesByName(hash uint64) []*dynamicEntry {
	return t.nameIndex[hash]
}

// maxEntries is floor(MaxTableCapacity / 32), the modulus for wire-ID
// encoding (spec.md §3, Glossary "MaxEntries").
func (t *encoderTable) maxEntries() int64 {
	return int64(t.maxCapacity / entryOverhead)
}

// insert appends a new entry, evicting first if needed to make room. It
// returns ErrAllocFailure (soft, per spec.md §7) if the entry cannot fit
// even after evicting everything eligible.
func (t *encoderTable) insert(f HeaderField) (*dynamicEntry, error) {
	size := f.size()
	if size > t.maxCapacity {
		return nil, errors.Wrap(ErrAllocFailure, "entry larger than capacity")
	}
	evictedAny := false
	for t.curSize+size > t.maxCapacity && len(t.entries) > 0 {
		old := t.entries[0]
		if old.refcount > 0 || old.id > t.maxAckedId {
			break
		}
		t.removeOldest()
		evictedAny = true
	}
	if evictedAny {
		t.recomputeDrainIdx()
	}
	if t.curSize+size > t.maxCapacity {
		return nil, errors.Wrap(ErrAllocFailure, "no evictable room")
	}

	t.insCount++
	e := &dynamicEntry{
		HeaderField: f,
		id:          t.insCount,
		nameHash:    t.hashName(f.Name),
		namevalHash: t.hashNameValue(f.Name, f.Value),
	}
	t.entries = append(t.entries, e)
	t.curSize += size
	t.nameIndex[e.nameHash] = append(t.nameIndex[e.nameHash], e)
	t.namevalIndex[e.namevalHash] = append(t.namevalIndex[e.namevalHash], e)
	return e, nil
}

// duplicate re-inserts an existing entry's name/value to refresh its
// position, producing a new absolute ID (spec.md §4.7 Dup action).
func (t *encoderTable) duplicate(e *dynamicEntry) (*dynamicEntry, error) {
	return t.insert(e.HeaderField)
}

// evict drops entries from the oldest end while the table is over capacity
// and the oldest entry is unpinned and acknowledged (spec.md invariant 2).
// It stops, without error, at the first entry that cannot yet be evicted:
// eviction is deferred, never skipped (spec.md §5).
func (t *encoderTable) evict() {
	evictedAny := false
	for t.curSize > t.maxCapacity && len(t.entries) > 0 {
		e := t.entries[0]
		if e.refcount > 0 || e.id > t.maxAckedId {
			break
		}
		t.removeOldest()
		evictedAny = true
	}
	if evictedAny || t.fillRatio() > 0.75 {
		t.recomputeDrainIdx()
	}
}

func (t *encoderTable) removeOldest() {
	e := t.entries[0]
	t.entries = t.entries[1:]
	t.curSize -= e.size()
	t.nameIndex[e.nameHash] = removeEntry(t.nameIndex[e.nameHash], e)
	t.namevalIndex[e.namevalHash] = removeEntry(t.namevalIndex[e.namevalHash], e)
}

func removeEntry(bucket []*dynamicEntry, e *dynamicEntry) []*dynamicEntry {
	for i, c := range bucket {
		if c == e {
			return append(bucket[:i], bucket[i+1:]...)
		}
	}
	return bucket
}

func (t *encoderTable) fillRatio() float64 {
	if t.maxCapacity == 0 {
		return 0
	}
	return float64(t.curSize) / float64(t.maxCapacity)
}

// recomputeDrainIdx implements spec.md §4.4's draining-index rule: starting
// from the tail, accumulate free-plus-evictable size until it reaches a
// quarter of capacity; the first entry beyond that point becomes DrainIdx.
// The planner will not reference ids below DrainIdx, even if still
// present, to avoid racing the next eviction.
func (t *encoderTable) recomputeDrainIdx() {
	target := float64(t.maxCapacity) / 4
	acc := float64(t.maxCapacity - t.curSize)
	idx := t.drainIdx
	for _, e := range t.entries {
		if acc >= target {
			break
		}
		acc += float64(e.size())
		idx = e.id + 1
	}
	t.drainIdx = idx
}

// hasRoomFor reports whether an entry of the given size could be inserted
// right now, either because there's free capacity or because evict() would
// free enough unpinned, acknowledged entries to make room.
func (t *encoderTable) hasRoomFor(size int) bool {
	return size <= t.maxCapacity && t.evictableRoom() >= size
}

// nextID returns the absolute id the next insertion (or duplication) would
// be assigned, without mutating anything. The planner (C8) needs this to
// compute wire bytes for a candidate plan before deciding to commit it.
func (t *encoderTable) nextID() int64 {
	return t.insCount + 1
}

// evictableRoom sums the size of entries that evict() would currently be
// willing to drop, used by the Dup admission check's "or evictable room"
// clause (spec.md §4.4).
func (t *encoderTable) evictableRoom() int {
	room := t.maxCapacity - t.curSize
	for _, e := range t.entries {
		if e.refcount > 0 || e.id > t.maxAckedId {
			break
		}
		room += e.size()
	}
	return room
}

// duplicable reports whether e is eligible for the Dup encoder-stream
// action (spec.md §4.4): enabled, the table is nearly full, e is among the
// oldest 20% of entries, and there's room for another copy.
func (t *encoderTable) duplicable(e *dynamicEntry, useDup bool) bool {
	if !useDup || len(t.entries) == 0 {
		return false
	}
	projected := float64(t.curSize+e.size()) / float64(t.maxCapacity)
	if projected < dupFillThreshold {
		return false
	}
	idx := -1
	for i, c := range t.entries {
		if c == e {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	if float64(idx)/float64(len(t.entries)) > dupPositionThreshold {
		return false
	}
	need := e.size()
	return (t.maxCapacity-t.curSize) >= need || t.evictableRoom() >= need
}

// setCapacity updates CurMaxCapacity and evicts to restore the invariant.
func (t *encoderTable) setCapacity(cap int) {
	t.maxCapacity = cap
	t.evict()
}

// acknowledge advances MaxAckedId (bounded by InsCount) and retries
// eviction, since previously-pinned-by-ack entries may now be droppable.
func (t *encoderTable) acknowledge(id int64) {
	if id > t.maxAckedId {
		t.maxAckedId = id
	}
	if t.maxAckedId > t.insCount {
		t.maxAckedId = t.insCount
	}
	t.evict()
}

func (t *encoderTable) pin(e *dynamicEntry) {
	e.refcount++
}

func (t *encoderTable) unpin(e *dynamicEntry) {
	if e.refcount > 0 {
		e.refcount--
	}
}

// baseIdx is the absolute ID snapshot a new header block should use as its
// BaseIndex (spec.md §4.8: "snapshots BaseIdx = InsCount").
func (t *encoderTable) baseIdx() int64 {
	return t.insCount
}
