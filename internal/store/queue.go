// queue.go — In-memory FIFO queue of pending log entries.
// The queue is the landing zone for every accepted record; when a durable
// store is active the queue is drained into it immediately after each
// append, so under normal operation it holds at most one enrichment's worth
// of records. Thread-safe.
package store

import (
	"sync"

	"github.com/Basillica/eaglet/internal/types"
)

// Queue is a mutex-guarded FIFO of log entries.
type Queue struct {
	mu      sync.Mutex
	entries []types.LogEntry
}

// NewQueue returns an empty queue.
func NewQueue() *Queue { return &Queue{} }

// Append adds one entry to the tail.
func (q *Queue) Append(e types.LogEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
}

// PrependAll inserts entries before the current contents, preserving their
// order. Used when merging recovered fallback records and when a durable
// write fails and the batch must return to memory.
func (q *Queue) PrependAll(entries []types.LogEntry) {
	if len(entries) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	merged := make([]types.LogEntry, 0, len(entries)+len(q.entries))
	merged = append(merged, entries...)
	merged = append(merged, q.entries...)
	q.entries = merged
}

// SpliceOldest removes and returns up to n entries from the head.
func (q *Queue) SpliceOldest(n int) []types.LogEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || len(q.entries) == 0 {
		return nil
	}
	if n > len(q.entries) {
		n = len(q.entries)
	}
	batch := make([]types.LogEntry, n)
	copy(batch, q.entries[:n])
	q.entries = append(q.entries[:0:0], q.entries[n:]...)
	return batch
}

// DrainAll removes and returns every queued entry.
func (q *Queue) DrainAll() []types.LogEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil
	}
	out := q.entries
	q.entries = nil
	return out
}

// Snapshot returns a copy of the queue contents, oldest first.
func (q *Queue) Snapshot() []types.LogEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil
	}
	out := make([]types.LogEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// AssignIDs fills in ids for queued entries that lack one, using gen.
// Already-assigned ids are never rewritten.
func (q *Queue) AssignIDs(gen func() string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if q.entries[i].ID == "" {
			q.entries[i].ID = gen()
		}
	}
}
