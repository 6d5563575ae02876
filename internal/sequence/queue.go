package sequence

import (
	"sort"

	"github.com/dgnsrekt/feedsync/internal/delta"
)

type entryKind int

const (
	kindUpdate entryKind = iota
	kindBatch
)

// pendingEntry is a delta held back until its gap closes. Entries order
// by claimed position first, arrival counter second, so several deltas
// claiming the same position replay in the order they came in.
type pendingEntry struct {
	pts     int64
	arrival uint64
	kind    entryKind
	update  delta.Update
	batch   delta.Batch
}

func (e pendingEntry) less(o pendingEntry) bool {
	if e.pts != o.pts {
		return e.pts < o.pts
	}
	return e.arrival < o.arrival
}

// pendingQueue keeps buffered deltas sorted by (pts, arrival).
// The arrival counter resets whenever the queue is cleared, so it
// cannot grow without bound within a session.
type pendingQueue struct {
	entries []pendingEntry
	arrival uint64
}

func (q *pendingQueue) insert(e pendingEntry) {
	q.arrival++
	e.arrival = q.arrival
	i := sort.Search(len(q.entries), func(i int) bool {
		return e.less(q.entries[i])
	})
	q.entries = append(q.entries, pendingEntry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e
}

func (q *pendingQueue) insertUpdate(pts int64, u delta.Update) {
	q.insert(pendingEntry{pts: pts, kind: kindUpdate, update: u})
}

func (q *pendingQueue) insertBatch(pts int64, b delta.Batch) {
	q.insert(pendingEntry{pts: pts, kind: kindBatch, batch: b})
}

func (q *pendingQueue) len() int {
	return len(q.entries)
}

func (q *pendingQueue) clear() {
	q.entries = nil
	q.arrival = 0
}
