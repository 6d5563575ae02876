// Package sequence implements the gap-detection and reordering core for
// a single channel of a server-push update stream. The server stamps
// every delta with a position (pts) and a count of sequence units it
// advances by. Deltas may arrive out of order or with holes; the
// Resolver decides per delta whether it is appliable now, must wait
// buffered until the hole closes, or is a stale duplicate.
package sequence

import (
	"time"

	"github.com/dgnsrekt/feedsync/internal/delta"
)

// Disarm passed as a wait duration clears the flag instead of arming it.
const Disarm time.Duration = -1

// Outcome reports how an admission call was handled.
type Outcome int

const (
	// Applied means the delta reached the applier, directly or through
	// a flush of the pending buffer.
	Applied Outcome = iota
	// Buffered means the delta is held until the gap before it closes.
	Buffered
	// Dropped means the delta was a stale duplicate and was discarded.
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Buffered:
		return "buffered"
	case Dropped:
		return "dropped"
	}
	return "unknown"
}

// Applier receives deltas once the Resolver has established ordering.
// It applies them unconditionally, with no ordering checks of its own.
type Applier interface {
	ApplyUpdate(u delta.Update)
	ApplyUpdates(b delta.Batch)
}

// TimerScheduler is the single abstract timer a Resolver drives. Arm
// replaces any previously armed deadline. The owner routes expiry back
// into the Resolver (gap wait expiry calls FlushPending).
type TimerScheduler interface {
	Arm(d time.Duration)
	Cancel()
}

// Config holds the wait timeouts. ReorderWait covers the likely-transient
// case where more advancement was accounted for than the claimed top
// position; GapWait covers a genuine hole. ReorderWait must stay below
// GapWait.
type Config struct {
	ReorderWait time.Duration
	GapWait     time.Duration
}

// DefaultConfig returns the stock timeouts.
func DefaultConfig() Config {
	return Config{
		ReorderWait: 5 * time.Millisecond,
		GapWait:     500 * time.Millisecond,
	}
}

// Resolver tracks a channel's sequence state and buffers out-of-order
// deltas until they can be replayed contiguously.
//
// Not safe for concurrent use: one event loop owns a Resolver and makes
// all calls, including timer expiry callbacks, from that loop.
type Resolver struct {
	cfg     Config
	applier Applier
	timer   TimerScheduler

	inited bool
	good   int64 // highest position known contiguously applied
	last   int64 // highest position claimed by any admitted delta
	count  int64 // running sum of advance counts, seeded with good

	waitingForGap       bool
	waitingForShortPoll bool
	requesting          bool
	applyLevel          int

	queue pendingQueue
}

// NewResolver creates a Resolver with the given collaborators. The zero
// position state means "not yet synchronized"; the first admitted delta
// seeds it.
func NewResolver(cfg Config, applier Applier, timer TimerScheduler) *Resolver {
	return &Resolver{cfg: cfg, applier: applier, timer: timer}
}

type decision int

const (
	decideApply decision = iota
	decideBuffer
	decideDrop
)

// admit runs the shared admission rules for all three variants.
func (r *Resolver) admit(pts, count int64) decision {
	if r.requesting || r.applyLevel > 0 {
		// Ordering is already guaranteed by the source during a resync
		// or a replay; re-checking could deadlock on our own buffer.
		return decideApply
	}
	if pts <= r.good && count > 0 {
		return decideDrop
	}
	if r.check(pts, count) {
		return decideApply
	}
	return decideBuffer
}

// check is the ordering core. Reports true when the delta is appliable
// in order, false when it must wait for the gap before it.
func (r *Resolver) check(pts, count int64) bool {
	if !r.inited {
		r.init(pts)
		return true
	}

	if pts > r.last {
		r.last = pts
	}
	r.count += count
	if r.last == r.count {
		// The running sum accounts for every unit up to the claimed
		// top: no hole exists.
		r.good = r.last
		return true
	} else if r.last < r.count {
		r.SetWaitingForGap(r.cfg.ReorderWait)
	} else {
		r.SetWaitingForGap(r.cfg.GapWait)
	}
	// A zero-count delta carries accounting only; there is nothing to
	// buffer for it, so it stays appliable even across a gap.
	return count == 0
}

func (r *Resolver) init(pts int64) {
	// Seeding count with pts keeps the last==count invariant at the
	// starting position.
	r.good, r.last, r.count = pts, pts, pts
	r.inited = true
}

// ApplyUpdate admits a single delta claiming (pts, count). When it is in
// order the applier is invoked before returning; when a hole precedes it
// the delta is buffered under (pts, arrival).
func (r *Resolver) ApplyUpdate(pts, count int64, u delta.Update) Outcome {
	switch r.admit(pts, count) {
	case decideDrop:
		return Dropped
	case decideBuffer:
		r.queue.insertUpdate(pts, u)
		return Buffered
	}
	if !r.waitingForGap || r.queue.len() == 0 {
		// Nothing buffered to sequence against, apply directly.
		r.applier.ApplyUpdate(u)
	} else {
		r.queue.insertUpdate(pts, u)
		r.FlushPending()
	}
	return Applied
}

// ApplyUpdates is the batch variant of ApplyUpdate; the batch replays
// as one unit.
func (r *Resolver) ApplyUpdates(pts, count int64, b delta.Batch) Outcome {
	switch r.admit(pts, count) {
	case decideDrop:
		return Dropped
	case decideBuffer:
		r.queue.insertBatch(pts, b)
		return Buffered
	}
	if !r.waitingForGap || r.queue.len() == 0 {
		r.applier.ApplyUpdates(b)
	} else {
		r.queue.insertBatch(pts, b)
		r.FlushPending()
	}
	return Applied
}

// Advance admits a count-only probe: it moves the accounting without
// carrying a payload. A probe that lands in order flushes whatever the
// buffer holds once the gap closes.
func (r *Resolver) Advance(pts, count int64) Outcome {
	switch r.admit(pts, count) {
	case decideDrop:
		return Dropped
	case decideBuffer:
		return Buffered
	}
	r.FlushPending()
	return Applied
}

// FlushPending replays the whole buffer in (pts, arrival) order and
// clears it. No-op unless the gap wait is armed. Called on gap timer
// expiry to force application even when a hole nominally remains,
// trading strict ordering for liveness.
func (r *Resolver) FlushPending() {
	if !r.waitingForGap {
		return
	}
	r.SetWaitingForGap(Disarm)

	if r.queue.len() == 0 {
		return
	}
	r.applyLevel++
	for i := range r.queue.entries {
		e := &r.queue.entries[i]
		switch e.kind {
		case kindUpdate:
			r.applier.ApplyUpdate(e.update)
		case kindBatch:
			r.applier.ApplyUpdates(e.batch)
		}
	}
	r.applyLevel--
	r.clearPending()
}

// clearPending drops the buffer wholesale; once a flush commits the
// entire buffer counts as consumed.
func (r *Resolver) clearPending() {
	r.queue.clear()
	r.applyLevel = 0
}

// SetWaitingForGap arms the gap wait for d, or disarms it when d is
// negative. Disarming cancels the external timer if no wait remains.
func (r *Resolver) SetWaitingForGap(d time.Duration) {
	if d >= 0 {
		r.timer.Arm(d)
		r.waitingForGap = true
	} else {
		r.waitingForGap = false
		r.checkForWaiting()
	}
}

// SetWaitingForShortPoll arms the short-poll courtesy window, or disarms
// it when d is negative. Independent of the gap wait; the two flags gate
// different triggers but share the one timer.
func (r *Resolver) SetWaitingForShortPoll(d time.Duration) {
	if d >= 0 {
		r.timer.Arm(d)
		r.waitingForShortPoll = true
	} else {
		r.waitingForShortPoll = false
		r.checkForWaiting()
	}
}

func (r *Resolver) checkForWaiting() {
	if !r.waitingForGap && !r.waitingForShortPoll {
		r.timer.Cancel()
	}
}

// SetRequesting marks a full-difference fetch as in flight. While set,
// every admitted delta is treated as pre-ordered.
func (r *Resolver) SetRequesting(v bool) {
	r.requesting = v
}

// SyncTo resets the Resolver after a completed resync: the buffer and
// wait flags go away and pts becomes the new contiguous position.
func (r *Resolver) SyncTo(pts int64) {
	r.clearPending()
	r.SetWaitingForGap(Disarm)
	r.SetWaitingForShortPoll(Disarm)
	r.requesting = false
	r.init(pts)
}

// Initialized reports whether a first delta or resync has seeded state.
func (r *Resolver) Initialized() bool { return r.inited }

// Current returns the highest contiguously applied position.
func (r *Resolver) Current() int64 { return r.good }

// Last returns the highest position any admitted delta has claimed.
func (r *Resolver) Last() int64 { return r.last }

// PendingLen returns the number of buffered deltas.
func (r *Resolver) PendingLen() int { return r.queue.len() }

// WaitingForGap reports whether the gap wait is armed.
func (r *Resolver) WaitingForGap() bool { return r.waitingForGap }

// WaitingForShortPoll reports whether the short-poll wait is armed.
func (r *Resolver) WaitingForShortPoll() bool { return r.waitingForShortPoll }

// Requesting reports whether a resync fetch is in flight.
func (r *Resolver) Requesting() bool { return r.requesting }
