package sequence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dgnsrekt/feedsync/internal/delta"
)

type recordTimer struct {
	arms    []time.Duration
	cancels int
}

func (t *recordTimer) Arm(d time.Duration) { t.arms = append(t.arms, d) }
func (t *recordTimer) Cancel()             { t.cancels++ }

func (t *recordTimer) lastArm() time.Duration {
	if len(t.arms) == 0 {
		return 0
	}
	return t.arms[len(t.arms)-1]
}

// recordApplier records the keys of applied updates in order. Batch
// entries record each member key.
type recordApplier struct {
	keys []string
}

func (a *recordApplier) ApplyUpdate(u delta.Update) { a.keys = append(a.keys, u.Key) }
func (a *recordApplier) ApplyUpdates(b delta.Batch) {
	for _, u := range b {
		a.keys = append(a.keys, u.Key)
	}
}

func put(key string) delta.Update {
	return delta.Update{Op: delta.OpPut, Key: key, Value: json.RawMessage(`1`)}
}

func newTestResolver() (*Resolver, *recordApplier, *recordTimer) {
	applier := &recordApplier{}
	timer := &recordTimer{}
	return NewResolver(DefaultConfig(), applier, timer), applier, timer
}

func assertKeys(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("applied %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("applied %v, want %v", got, want)
		}
	}
}

func TestFirstUpdateSeedsState(t *testing.T) {
	r, applier, _ := newTestResolver()

	if got := r.ApplyUpdate(10, 5, put("a")); got != Applied {
		t.Fatalf("outcome = %v, want applied", got)
	}
	if !r.Initialized() {
		t.Error("resolver should be initialized after first update")
	}
	if r.Current() != 10 {
		t.Errorf("good = %d, want 10", r.Current())
	}
	assertKeys(t, applier.keys, []string{"a"})
}

func TestInOrderStreamAppliesDirectly(t *testing.T) {
	r, applier, timer := newTestResolver()

	outcomes := []Outcome{
		r.Advance(0, 0),
		r.ApplyUpdate(1, 1, put("a")),
		r.ApplyUpdate(2, 1, put("b")),
		r.ApplyUpdate(4, 2, put("c")),
	}
	for i, o := range outcomes {
		if o != Applied {
			t.Fatalf("outcome[%d] = %v, want applied", i, o)
		}
	}
	if r.Current() != 4 {
		t.Errorf("good = %d, want 4", r.Current())
	}
	if r.PendingLen() != 0 {
		t.Errorf("pending = %d, want 0", r.PendingLen())
	}
	if len(timer.arms) != 0 {
		t.Errorf("timer armed %d times, want 0", len(timer.arms))
	}
	assertKeys(t, applier.keys, []string{"a", "b", "c"})
}

func TestStaleDuplicateDropped(t *testing.T) {
	r, applier, _ := newTestResolver()

	r.ApplyUpdate(10, 5, put("a"))
	r.ApplyUpdate(12, 2, put("b"))

	if got := r.ApplyUpdate(12, 2, put("b")); got != Dropped {
		t.Fatalf("outcome = %v, want dropped", got)
	}
	if got := r.ApplyUpdate(11, 1, put("old")); got != Dropped {
		t.Fatalf("outcome = %v, want dropped", got)
	}
	// The applier never sees a duplicate.
	assertKeys(t, applier.keys, []string{"a", "b"})
	if r.Current() != 12 {
		t.Errorf("good = %d, want 12", r.Current())
	}
}

func TestZeroCountNeverStale(t *testing.T) {
	r, _, _ := newTestResolver()

	r.ApplyUpdate(10, 5, put("a"))
	// Position behind good, but count is zero: falls through to the
	// ordering check instead of the stale drop.
	if got := r.Advance(3, 0); got != Applied {
		t.Fatalf("outcome = %v, want applied", got)
	}
	if r.Current() != 10 {
		t.Errorf("good = %d, want 10", r.Current())
	}
}

func TestGapBuffersAndArmsGapWait(t *testing.T) {
	r, applier, timer := newTestResolver()

	r.ApplyUpdate(10, 5, put("a"))
	if got := r.ApplyUpdate(20, 5, put("b")); got != Buffered {
		t.Fatalf("outcome = %v, want buffered", got)
	}
	if r.PendingLen() != 1 {
		t.Errorf("pending = %d, want 1", r.PendingLen())
	}
	if !r.WaitingForGap() {
		t.Error("gap wait should be armed")
	}
	// last(20) > count(15): genuine gap, the longer timeout.
	if timer.lastArm() != DefaultConfig().GapWait {
		t.Errorf("armed %v, want %v", timer.lastArm(), DefaultConfig().GapWait)
	}
	assertKeys(t, applier.keys, []string{"a"})
}

func TestReorderArmsShortWait(t *testing.T) {
	cfg := Config{ReorderWait: 1 * time.Millisecond, GapWait: time.Second}
	applier := &recordApplier{}
	timer := &recordTimer{}
	r := NewResolver(cfg, applier, timer)

	r.ApplyUpdate(10, 5, put("a"))
	// count overshoots the claimed top: likely transient reordering.
	if got := r.ApplyUpdate(12, 5, put("b")); got != Buffered {
		t.Fatalf("outcome = %v, want buffered", got)
	}
	if timer.lastArm() != cfg.ReorderWait {
		t.Errorf("armed %v, want %v", timer.lastArm(), cfg.ReorderWait)
	}
}

func TestGapThenFillReplaysInOrder(t *testing.T) {
	r, applier, timer := newTestResolver()

	r.ApplyUpdate(10, 5, put("a"))
	r.ApplyUpdate(20, 5, put("late"))

	// The filling delta brings the running sum to the claimed top; the
	// buffered position-20 record replays after it.
	if got := r.ApplyUpdate(15, 5, put("fill")); got != Applied {
		t.Fatalf("outcome = %v, want applied", got)
	}
	assertKeys(t, applier.keys, []string{"a", "fill", "late"})
	if r.Current() != 20 {
		t.Errorf("good = %d, want 20", r.Current())
	}
	if r.PendingLen() != 0 {
		t.Errorf("pending = %d, want 0", r.PendingLen())
	}
	if r.WaitingForGap() {
		t.Error("gap wait should be disarmed after flush")
	}
	if timer.cancels == 0 {
		t.Error("timer should be cancelled once no wait remains")
	}
}

func TestInterleavedStreamScenario(t *testing.T) {
	r, applier, _ := newTestResolver()

	if got := r.Advance(0, 0); got != Applied {
		t.Fatalf("seed outcome = %v, want applied", got)
	}
	if r.Current() != 0 || !r.Initialized() {
		t.Fatalf("good = %d after seed, want 0", r.Current())
	}
	if got := r.ApplyUpdate(1, 1, put("u1")); got != Applied {
		t.Fatalf("outcome = %v, want applied", got)
	}
	if r.Current() != 1 {
		t.Fatalf("good = %d, want 1", r.Current())
	}
	if got := r.ApplyUpdate(5, 1, put("u5")); got != Buffered {
		t.Fatalf("outcome = %v, want buffered", got)
	}
	if got := r.ApplyUpdate(3, 2, put("u3")); got != Buffered {
		t.Fatalf("outcome = %v, want buffered", got)
	}
	if got := r.ApplyUpdate(4, 1, put("u4")); got != Applied {
		t.Fatalf("outcome = %v, want applied", got)
	}
	assertKeys(t, applier.keys, []string{"u1", "u3", "u4", "u5"})
	if r.Current() != 5 {
		t.Errorf("good = %d, want 5", r.Current())
	}
}

func TestBatchReplaysAsUnit(t *testing.T) {
	r, applier, _ := newTestResolver()

	r.ApplyUpdate(10, 5, put("a"))
	b := delta.Batch{put("b1"), put("b2")}
	if got := r.ApplyUpdates(20, 5, b); got != Buffered {
		t.Fatalf("outcome = %v, want buffered", got)
	}
	r.ApplyUpdate(15, 5, put("fill"))
	assertKeys(t, applier.keys, []string{"a", "fill", "b1", "b2"})
}

func TestForcedFlushOnTimeout(t *testing.T) {
	r, applier, _ := newTestResolver()

	r.ApplyUpdate(10, 5, put("a"))
	r.ApplyUpdate(20, 5, put("b"))
	r.ApplyUpdate(30, 5, put("c"))

	// No filling delta arrives; the owner fires the gap timer. Everything
	// buffered applies even though the hole remains.
	r.FlushPending()

	assertKeys(t, applier.keys, []string{"a", "b", "c"})
	if r.PendingLen() != 0 {
		t.Errorf("pending = %d, want 0", r.PendingLen())
	}
	if r.WaitingForGap() {
		t.Error("gap wait should be disarmed")
	}
}

func TestFlushNoopWithoutGapWait(t *testing.T) {
	r, applier, timer := newTestResolver()

	r.ApplyUpdate(10, 5, put("a"))
	cancels := timer.cancels
	r.FlushPending()
	assertKeys(t, applier.keys, []string{"a"})
	if timer.cancels != cancels {
		t.Error("flush without an armed wait should not touch the timer")
	}
}

// reentrantApplier feeds an update back into the resolver while a flush
// is replaying, the way applying a buffered delta can produce a nested
// admission in the real client.
type reentrantApplier struct {
	recordApplier
	r      *Resolver
	nested Outcome
	fired  bool
}

func (a *reentrantApplier) ApplyUpdate(u delta.Update) {
	a.recordApplier.ApplyUpdate(u)
	if !a.fired {
		a.fired = true
		a.nested = a.r.ApplyUpdate(999, 1, put("nested"))
	}
}

func TestReentrantAdmitDuringFlush(t *testing.T) {
	applier := &reentrantApplier{}
	timer := &recordTimer{}
	r := NewResolver(DefaultConfig(), applier, timer)
	applier.r = r

	r.ApplyUpdate(10, 5, put("a"))
	r.ApplyUpdate(20, 5, put("late"))
	r.FlushPending()

	if applier.nested != Applied {
		t.Fatalf("nested outcome = %v, want applied (pre-ordered during replay)", applier.nested)
	}
	assertKeys(t, applier.keys, []string{"a", "late", "nested"})
	if r.PendingLen() != 0 {
		t.Errorf("pending = %d, want 0", r.PendingLen())
	}
}

func TestRequestingTreatsUpdatesAsPreordered(t *testing.T) {
	r, applier, _ := newTestResolver()

	r.ApplyUpdate(10, 5, put("a"))
	r.SetRequesting(true)

	// Way ahead of good, but a difference fetch is in flight: applied
	// without buffering or accounting.
	if got := r.ApplyUpdate(100, 5, put("diff")); got != Applied {
		t.Fatalf("outcome = %v, want applied", got)
	}
	if r.Current() != 10 {
		t.Errorf("good = %d, want 10 (unchanged while requesting)", r.Current())
	}
	assertKeys(t, applier.keys, []string{"a", "diff"})
}

func TestSyncToResetsState(t *testing.T) {
	r, _, timer := newTestResolver()

	r.ApplyUpdate(10, 5, put("a"))
	r.ApplyUpdate(20, 5, put("late"))
	r.SetRequesting(true)

	r.SyncTo(40)

	if r.Current() != 40 {
		t.Errorf("good = %d, want 40", r.Current())
	}
	if r.PendingLen() != 0 {
		t.Errorf("pending = %d, want 0", r.PendingLen())
	}
	if r.WaitingForGap() || r.WaitingForShortPoll() || r.Requesting() {
		t.Error("all wait state should clear after SyncTo")
	}
	if timer.cancels == 0 {
		t.Error("timer should be cancelled on reset")
	}

	// The resolver continues from the resynced position.
	if got := r.ApplyUpdate(41, 1, put("next")); got != Applied {
		t.Fatalf("outcome = %v, want applied", got)
	}
	if r.Current() != 41 {
		t.Errorf("good = %d, want 41", r.Current())
	}
}

func TestShortPollWaitIndependentOfGapWait(t *testing.T) {
	r, _, timer := newTestResolver()

	r.SetWaitingForShortPoll(3 * time.Second)
	if !r.WaitingForShortPoll() {
		t.Fatal("short poll wait should be armed")
	}
	if timer.lastArm() != 3*time.Second {
		t.Errorf("armed %v, want 3s", timer.lastArm())
	}

	// Disarming the gap wait must not cancel the timer while the short
	// poll wait is still armed.
	cancels := timer.cancels
	r.SetWaitingForGap(Disarm)
	if timer.cancels != cancels {
		t.Error("timer cancelled while short poll wait still armed")
	}

	r.SetWaitingForShortPoll(Disarm)
	if timer.cancels != cancels+1 {
		t.Error("timer should be cancelled once both waits are clear")
	}
}
