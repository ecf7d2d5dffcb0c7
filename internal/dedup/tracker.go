// Package dedup tracks changeset ids already observed by the ingestion
// loop, so overlapping polls of the upstream feed do not re-count the
// same changeset as fresh activity. It is process-lifetime state only;
// historical idempotence is the store's membership table, not this.
package dedup

// Tracker is a bounded FIFO set of changeset ids. When the capacity is
// reached the oldest recorded id is evicted, independent of time.
//
// Tracker is not safe for concurrent use; the ingestion loop is the
// only writer and reader.
type Tracker struct {
	capacity int
	seen     map[int64]struct{}
	order    []int64
	head     int
	primed   bool
}

// DefaultCapacity bounds the tracker so memory stays flat regardless
// of feed volume. 5000 ids covers hours of upstream history at typical
// changeset rates.
const DefaultCapacity = 5000

// New creates a Tracker holding at most capacity ids. A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Tracker{
		capacity: capacity,
		seen:     make(map[int64]struct{}, capacity),
		order:    make([]int64, 0, capacity),
	}
}

// Has reports whether id has been recorded and not yet evicted.
func (t *Tracker) Has(id int64) bool {
	_, ok := t.seen[id]

	return ok
}

// Record inserts id, evicting the oldest id first if the tracker is at
// capacity. Recording an id that is already present is a no-op; it
// does not refresh the id's eviction order.
func (t *Tracker) Record(id int64) {
	if t.Has(id) {
		return
	}

	if len(t.seen) >= t.capacity {
		oldest := t.order[t.head]
		delete(t.seen, oldest)
		t.order[t.head] = id
		t.head = (t.head + 1) % t.capacity
	} else {
		t.order = append(t.order, id)
	}

	t.seen[id] = struct{}{}
}

// Prime records every id without treating any of them as new, and
// marks the tracker primed. The ingestion loop calls this on its first
// successful poll so a cold start does not count already-historical
// changesets as a burst of fresh activity.
func (t *Tracker) Prime(ids []int64) {
	for _, id := range ids {
		t.Record(id)
	}

	t.primed = true
}

// Primed reports whether the cold-start priming poll has happened.
func (t *Tracker) Primed() bool {
	return t.primed
}

// Len returns the number of ids currently held.
func (t *Tracker) Len() int {
	return len(t.seen)
}
