package qpack

// decBlockedBits is LSQPACK_DEC_BLOCKED_BITS in the reference source: the
// blocking queue is bucketed by the low bits of the awaited absolute id so
// that an insertion only has to scan one small bucket to find blocks it
// might unblock (spec.md §4.12).
const decBlockedBits = 3
const decBlockedBuckets = 1 << decBlockedBits

// blockedContext is one decoder header-block read waiting on a future
// dynamic-table insertion.
type blockedContext struct {
	largestRef int64
	handle     *headerReadContext
}

// blockingQueue implements spec.md §4.12: admission is capped at
// MaxRiskedStreams in-flight blocked contexts, and each successful
// insertion wakes every context whose LargestRef equals the id that was
// just inserted.
type blockingQueue struct {
	buckets          [decBlockedBuckets][]*blockedContext
	nBlocked         int
	maxRiskedStreams int
}

func newBlockingQueue(maxRiskedStreams int) *blockingQueue {
	return &blockingQueue{maxRiskedStreams: maxRiskedStreams}
}

// admit enqueues handle to wait for largestRef, or reports that the queue
// is already at MaxRiskedStreams.
func (q *blockingQueue) admit(largestRef int64, handle *headerReadContext) bool {
	if q.nBlocked >= q.maxRiskedStreams {
		return false
	}
	b := largestRef & (decBlockedBuckets - 1)
	q.buckets[b] = append(q.buckets[b], &blockedContext{largestRef: largestRef, handle: handle})
	q.nBlocked++
	return true
}

// cancel removes handle from the queue before it unblocks, used by
// CancelStream/UnrefStream on a still-blocked read context.
func (q *blockingQueue) cancel(handle *headerReadContext) {
	for i := range q.buckets {
		bucket := q.buckets[i]
		for j, c := range bucket {
			if c.handle == handle {
				q.buckets[i] = append(bucket[:j], bucket[j+1:]...)
				q.nBlocked--
				return
			}
		}
	}
}

// onInsert is called after every successful dynamic-table insertion with
// the newly assigned absolute id. It returns the read contexts that are now
// unblocked, in FIFO order within their bucket, for the caller to resume.
func (q *blockingQueue) onInsert(lastId int64) []*headerReadContext {
	b := lastId & (decBlockedBuckets - 1)
	bucket := q.buckets[b]
	var woken []*headerReadContext
	remaining := bucket[:0]
	for _, c := range bucket {
		if c.largestRef == lastId {
			woken = append(woken, c.handle)
			q.nBlocked--
		} else {
			remaining = append(remaining, c)
		}
	}
	q.buckets[b] = remaining
	return woken
}
