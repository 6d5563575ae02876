package sequence

import (
	"testing"

	"github.com/dgnsrekt/feedsync/internal/delta"
)

func TestQueueOrdersByPositionThenArrival(t *testing.T) {
	var q pendingQueue

	q.insertUpdate(30, delta.Update{Op: delta.OpPut, Key: "c"})
	q.insertUpdate(10, delta.Update{Op: delta.OpPut, Key: "a"})
	q.insertUpdate(20, delta.Update{Op: delta.OpPut, Key: "b1"})
	q.insertUpdate(20, delta.Update{Op: delta.OpPut, Key: "b2"})

	want := []string{"a", "b1", "b2", "c"}
	if q.len() != len(want) {
		t.Fatalf("len = %d, want %d", q.len(), len(want))
	}
	for i, e := range q.entries {
		if e.update.Key != want[i] {
			t.Errorf("entry %d = %q, want %q", i, e.update.Key, want[i])
		}
	}
}

func TestQueueClearResetsArrivalCounter(t *testing.T) {
	var q pendingQueue

	q.insertUpdate(10, delta.Update{Op: delta.OpPut, Key: "a"})
	q.insertUpdate(10, delta.Update{Op: delta.OpPut, Key: "b"})
	q.clear()

	if q.len() != 0 {
		t.Fatalf("len = %d after clear, want 0", q.len())
	}
	if q.arrival != 0 {
		t.Errorf("arrival = %d after clear, want 0", q.arrival)
	}

	// Ties after a clear still resolve by the order they came in.
	q.insertUpdate(10, delta.Update{Op: delta.OpPut, Key: "x"})
	q.insertUpdate(10, delta.Update{Op: delta.OpPut, Key: "y"})
	if q.entries[0].update.Key != "x" || q.entries[1].update.Key != "y" {
		t.Errorf("ties out of arrival order: %q, %q", q.entries[0].update.Key, q.entries[1].update.Key)
	}
}
