// Package queue implements the pending mutation queue and the update worker
// that drains it into the shard store.
//
// The queue is an ordered log coalesced per document id: a later mutation for
// the same id supersedes the earlier one before commit (last-writer-wins).
// A monotonically increasing sequence counter provides the flush barrier --
// flush waits until the committed sequence reaches the counter value observed
// at call time, bounded by a wait budget.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/stgy-dev/shardix/internal/domain/mutation"
	"github.com/stgy-dev/shardix/internal/metrics"
)

type entry struct {
	mut mutation.Mutation
}

// Queue is the pending mutation log for one resource. Safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	resource string

	entries map[string]*entry
	order   []string // first-enqueue order of pending ids

	seq       uint64
	committed uint64

	notify  chan struct{} // wakes the worker on enqueue
	drained chan struct{} // closed and replaced after each commit advance
}

// New creates an empty queue for the given resource name.
func New(resource string) *Queue {
	return &Queue{
		resource: resource,
		entries:  make(map[string]*entry),
		notify:   make(chan struct{}, 1),
		drained:  make(chan struct{}),
	}
}

// Enqueue appends a mutation, coalescing with any pending mutation for the
// same id, and returns the assigned sequence number (the flush barrier that
// covers this mutation).
func (q *Queue) Enqueue(m mutation.Mutation) uint64 {
	q.mu.Lock()
	q.seq++
	m.Seq = q.seq

	if e, ok := q.entries[m.ID]; ok {
		e.mut = m // superseded: Pending -> Discarded for the old mutation
	} else {
		q.order = append(q.order, m.ID)
		q.entries[m.ID] = &entry{mut: m}
	}
	depth := len(q.entries)
	seq := q.seq
	q.mu.Unlock()

	metrics.PendingMutations.WithLabelValues(q.resource).Set(float64(depth))

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return seq
}

// Seq returns the current barrier target: every mutation enqueued so far is
// covered by a flush waiting for this value.
func (q *Queue) Seq() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seq
}

// Len returns the number of pending (coalesced) mutations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// TakeAll atomically removes every pending mutation in enqueue order and
// returns it with the barrier value the batch covers. The caller must call
// Commit with the barrier once the batch has been applied.
func (q *Queue) TakeAll() ([]mutation.Mutation, uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := make([]mutation.Mutation, 0, len(q.entries))
	for _, id := range q.order {
		if e, ok := q.entries[id]; ok {
			batch = append(batch, e.mut)
		}
	}
	q.entries = make(map[string]*entry)
	q.order = q.order[:0]
	return batch, q.seq
}

// Commit advances the committed barrier and wakes flush waiters. Mutations
// enqueued after the matching TakeAll carry higher sequence numbers and stay
// covered by later drains.
func (q *Queue) Commit(barrier uint64) {
	q.mu.Lock()
	if barrier > q.committed {
		q.committed = barrier
	}
	depth := len(q.entries)
	close(q.drained)
	q.drained = make(chan struct{})
	q.mu.Unlock()

	metrics.PendingMutations.WithLabelValues(q.resource).Set(float64(depth))
}

// CommittedSeq returns the highest sequence committed to the shard store.
func (q *Queue) CommittedSeq() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.committed
}

// WaitCommitted blocks until the committed barrier reaches target, the wait
// budget elapses, or ctx is done. Returns true when the barrier was reached:
// flush is best-effort within its budget, never an unbounded hang.
func (q *Queue) WaitCommitted(ctx context.Context, target uint64, wait time.Duration) bool {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		reached := q.committed >= target
		drained := q.drained
		q.mu.Unlock()
		if reached {
			return true
		}

		select {
		case <-drained:
		case <-deadline.C:
			return q.CommittedSeq() >= target
		case <-ctx.Done():
			return false
		}
	}
}

// Flush is the bounded-wait barrier: it waits for every mutation enqueued
// before the call to commit, up to the wait budget. Returns whether the
// barrier was reached and how many mutations remain pending.
func (q *Queue) Flush(ctx context.Context, wait time.Duration) (drained bool, pending int) {
	target := q.Seq()
	drained = q.WaitCommitted(ctx, target, wait)
	return drained, q.Len()
}

// wakeup is the worker-side wait channel.
func (q *Queue) wakeup() <-chan struct{} { return q.notify }
