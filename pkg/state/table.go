// Package state tracks per-sender reply rotation cursors and activity times.
package state

import (
	"sync"
	"time"
)

// DefaultInactivityThreshold is how long a sender entry may stay idle before
// a sweep removes it.
const DefaultInactivityThreshold = time.Hour

// Entry is a read-only view of one sender's rotation state.
type Entry struct {
	Cursor       int       `json:"reply_index"`
	LastActiveAt time.Time `json:"last_active"`
}

type senderState struct {
	cursor       int
	lastActiveAt time.Time
}

// Table maps sender identities to rotation cursors. A single mutex guards
// the map and the global cursor; all methods are safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	senders map[string]*senderState
	global  int
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{senders: make(map[string]*senderState)}
}

// NextReplyIndex returns the sender's current cursor and advances it by one,
// creating the entry at cursor 0 on first contact. Concurrent calls for the
// same sender always observe distinct, sequential values.
func (t *Table) NextReplyIndex(senderID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.senders[senderID]
	if !ok {
		st = &senderState{}
		t.senders[senderID] = st
	}
	idx := st.cursor
	st.cursor++
	st.lastActiveAt = time.Now()
	return idx
}

// NextGlobalReplyIndex advances the shared fallback cursor used when no
// sender identity is available. It is never swept or reset.
func (t *Table) NextGlobalReplyIndex() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.global
	t.global++
	return idx
}

// GlobalCursor returns the current value of the shared fallback cursor.
func (t *Table) GlobalCursor() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.global
}

// Sweep removes entries idle longer than threshold as of now and returns
// how many were removed. A sender racing a sweep is simply re-created on
// its next message with rotation restarted at zero.
func (t *Table) Sweep(threshold time.Duration, now time.Time) int {
	if threshold <= 0 {
		threshold = DefaultInactivityThreshold
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, st := range t.senders {
		if now.Sub(st.lastActiveAt) > threshold {
			delete(t.senders, id)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked senders.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.senders)
}

// Snapshot returns up to limit sender entries for introspection. A limit of
// zero or less returns an empty map; iteration order, and therefore which
// entries are included when truncated, is unspecified.
func (t *Table) Snapshot(limit int) map[string]Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Entry)
	if limit <= 0 {
		return out
	}
	for id, st := range t.senders {
		out[id] = Entry{Cursor: st.cursor, LastActiveAt: st.lastActiveAt}
		if len(out) >= limit {
			break
		}
	}
	return out
}
