// Package queue implements the bounded, deduplicating refresh queue: the
// handoff point between the watcher (producer) and the worker pool
// (consumer). Membership is tracked best-effort — Offer's contains-then-push
// is not atomic with respect to a racing Offer, by design; the worker side's
// hash comparison makes a rare duplicate harmless.
package queue

import (
	"sync"
	"time"

	"github.com/coachpo/viewhub/internal/schema"
)

// Stats holds the three refresh-queue counters the engine's optional stats
// logger reports.
type Stats struct {
	Dropped      uint64
	Deduplicated uint64
}

// Queue is a bounded FIFO of view signatures with best-effort dedup and a
// drop-newest-on-full policy.
type Queue[N comparable] struct {
	mu      sync.Mutex
	items   []schema.ViewSignature[N]
	members map[schema.SignatureKey[N]]struct{}
	cap     int
	notify  chan struct{}

	dropped      uint64
	deduplicated uint64
}

// New constructs a queue with the given capacity. Capacity <= 0 means
// unbounded, matching the teacher's zero-value-means-default convention
// seen in `internal/pool.BoundedPool`, but callers should always supply
// `refresh-queue-size` explicitly.
func New[N comparable](capacity int) *Queue[N] {
	return &Queue[N]{
		members: make(map[schema.SignatureKey[N]]struct{}),
		cap:     capacity,
		notify:  make(chan struct{}, 1),
	}
}

// Offer enqueues sig unless it is already present (deduplicated++) or the
// queue is at capacity (dropped++). Never blocks.
func (q *Queue[N]) Offer(sig schema.ViewSignature[N]) {
	key := sig.Key()

	q.mu.Lock()
	if _, exists := q.members[key]; exists {
		q.deduplicated++
		q.mu.Unlock()
		return
	}
	if q.cap > 0 && len(q.items) >= q.cap {
		q.dropped++
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, sig)
	q.members[key] = struct{}{}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Poll blocks for up to 60 seconds waiting for a signature, returning
// (sig, true) if one became available or (zero, false) on timeout. The
// fixed timeout lets worker goroutines periodically observe a shutdown
// signal even while the queue is empty.
func (q *Queue[N]) Poll() (schema.ViewSignature[N], bool) {
	return q.PollTimeout(60 * time.Second)
}

// PollTimeout is Poll with an explicit timeout, exposed for tests.
func (q *Queue[N]) PollTimeout(timeout time.Duration) (schema.ViewSignature[N], bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if sig, ok := q.tryPop(); ok {
			return sig, true
		}
		select {
		case <-q.notify:
			continue
		case <-deadline.C:
			var zero schema.ViewSignature[N]
			return zero, false
		}
	}
}

func (q *Queue[N]) tryPop() (schema.ViewSignature[N], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero schema.ViewSignature[N]
		return zero, false
	}
	sig := q.items[0]
	q.items = q.items[1:]
	delete(q.members, sig.Key())
	return sig, true
}

// Len reports the number of signatures currently queued.
func (q *Queue[N]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns a snapshot of the dropped/deduplicated counters.
func (q *Queue[N]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Dropped: q.dropped, Deduplicated: q.deduplicated}
}

// StatsAndReset returns a snapshot of the dropped/deduplicated counters
// since the last call and resets both to zero, so the stats logger can
// derive a per-tick rate instead of an ever-growing total.
func (q *Queue[N]) StatsAndReset() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{Dropped: q.dropped, Deduplicated: q.deduplicated}
	q.dropped = 0
	q.deduplicated = 0
	return s
}
