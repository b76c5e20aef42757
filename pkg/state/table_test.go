package state

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestTable_NextReplyIndexSequentialPerSender(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < 5; i++ {
		if got := tbl.NextReplyIndex("u1"); got != i {
			t.Fatalf("call %d: expected cursor %d, got %d", i, i, got)
		}
	}
	// a second sender rotates independently from zero
	if got := tbl.NextReplyIndex("u2"); got != 0 {
		t.Fatalf("expected new sender to start at 0, got %d", got)
	}
	if tbl.Size() != 2 {
		t.Fatalf("expected 2 tracked senders, got %d", tbl.Size())
	}
}

func TestTable_ConcurrentCallsYieldDistinctCursors(t *testing.T) {
	tbl := NewTable()
	const n = 64
	results := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- tbl.NextReplyIndex("shared")
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for idx := range results {
		if idx < 0 || idx >= n {
			t.Fatalf("cursor %d out of range [0,%d)", idx, n)
		}
		if seen[idx] {
			t.Fatalf("cursor %d observed twice", idx)
		}
		seen[idx] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct cursors, got %d", n, len(seen))
	}
}

func TestTable_GlobalCursorIndependent(t *testing.T) {
	tbl := NewTable()
	tbl.NextReplyIndex("u1")
	tbl.NextReplyIndex("u1")
	if got := tbl.NextGlobalReplyIndex(); got != 0 {
		t.Fatalf("expected global cursor 0, got %d", got)
	}
	if got := tbl.NextGlobalReplyIndex(); got != 1 {
		t.Fatalf("expected global cursor 1, got %d", got)
	}
	if got := tbl.GlobalCursor(); got != 2 {
		t.Fatalf("expected global cursor at 2, got %d", got)
	}
}

func TestTable_SweepRemovesOnlyIdleSenders(t *testing.T) {
	tbl := NewTable()
	tbl.NextReplyIndex("fresh")
	tbl.NextReplyIndex("stale")
	// age one entry past the threshold
	tbl.mu.Lock()
	tbl.senders["stale"].lastActiveAt = time.Now().Add(-2 * time.Hour)
	tbl.mu.Unlock()

	removed := tbl.Sweep(time.Hour, time.Now())
	if removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if tbl.Size() != 1 {
		t.Fatalf("expected 1 remaining sender, got %d", tbl.Size())
	}
	// the evicted sender restarts rotation at zero
	if got := tbl.NextReplyIndex("stale"); got != 0 {
		t.Fatalf("expected restarted cursor 0, got %d", got)
	}
}

func TestTable_SweepBoundaryExactAgeKept(t *testing.T) {
	tbl := NewTable()
	now := time.Now()
	tbl.mu.Lock()
	tbl.senders["edge"] = &senderState{lastActiveAt: now.Add(-time.Hour)}
	tbl.mu.Unlock()

	// exactly at the threshold is not "longer than", so the entry survives
	if removed := tbl.Sweep(time.Hour, now); removed != 0 {
		t.Fatalf("expected entry at exact threshold to survive, removed %d", removed)
	}
	if removed := tbl.Sweep(time.Hour, now.Add(time.Nanosecond)); removed != 1 {
		t.Fatalf("expected entry just past threshold to be removed, removed %d", removed)
	}
}

func TestTable_SweepNeverTouchesGlobalCursor(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < 3; i++ {
		tbl.NextGlobalReplyIndex()
	}
	tbl.Sweep(time.Nanosecond, time.Now().Add(time.Hour))
	if got := tbl.GlobalCursor(); got != 3 {
		t.Fatalf("expected global cursor 3 after sweep, got %d", got)
	}
}

func TestTable_SnapshotBounded(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < 20; i++ {
		tbl.NextReplyIndex(fmt.Sprintf("u%d", i))
	}
	snap := tbl.Snapshot(5)
	if len(snap) != 5 {
		t.Fatalf("expected snapshot of 5, got %d", len(snap))
	}
	for id, e := range snap {
		if e.Cursor != 1 {
			t.Fatalf("sender %s: expected cursor 1, got %d", id, e.Cursor)
		}
		if e.LastActiveAt.IsZero() {
			t.Fatalf("sender %s: expected last active time", id)
		}
	}
	if len(tbl.Snapshot(0)) != 0 {
		t.Fatalf("expected empty snapshot for limit 0")
	}
}
