// Package queue schedules score units for delivery at a chosen instant and
// hands them to workers over a channel.
//
// Units enter through EnqueueIfAbsent, which doubles as the idempotency
// gate: a unit whose dedupe key is already queued or executing is dropped.
// A unit stays outstanding from acceptance until Done releases it, so a
// retried unit can never race a duplicate of itself.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/mireles/canonry/internal/domain/model"
	"github.com/mireles/canonry/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultCapacity   = 10000
	defaultBufferSize = 256
)

// Unit is the payload type flowing through the queue.
type Unit = model.WorkUnit

// State describes where an outstanding unit currently is.
type State string

const (
	// StateQueued means the unit is waiting for its release time or a worker.
	StateQueued State = "queued"
	// StateRunning means a worker has taken the unit and not yet finished.
	StateRunning State = "running"
)

type scheduled struct {
	unit  Unit
	runAt time.Time
}

// unitHeap orders scheduled units by release time, earliest first.
type unitHeap []scheduled

func (h unitHeap) Len() int            { return len(h) }
func (h unitHeap) Less(i, j int) bool  { return h[i].runAt.Before(h[j].runAt) }
func (h unitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *unitHeap) Push(x interface{}) { *h = append(*h, x.(scheduled)) }
func (h *unitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// DelayQueue holds units until their release time and then feeds them to
// consumers through Dequeue.
type DelayQueue struct {
	capacity   int
	bufferSize int
	now        func() time.Time // injectable for deterministic tests

	mu          sync.Mutex
	pending     unitHeap
	outstanding map[string]State
	closed      bool

	ready    chan Unit
	wake     chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a DelayQueue and starts its dispatch loop.
func New(opts ...Option) *DelayQueue {
	q := &DelayQueue{
		capacity:    defaultCapacity,
		bufferSize:  defaultBufferSize,
		now:         time.Now,
		outstanding: make(map[string]State),
		wake:        make(chan struct{}, 1),
		stopChan:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(q)
	}

	q.ready = make(chan Unit, q.bufferSize)
	heap.Init(&q.pending)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueDepth(0)
	metrics.UpdateOutstandingUnits(0)

	q.wg.Add(1)
	go q.dispatch()

	return q
}

// EnqueueIfAbsent schedules the unit for release at runAt unless a unit with
// the same dedupe key is already queued or executing. It reports whether the
// unit was accepted; a suppressed duplicate is not an error.
func (q *DelayQueue) EnqueueIfAbsent(ctx context.Context, u Unit, runAt time.Time) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false, ErrQueueClosed
	}
	if _, seen := q.outstanding[u.DedupeKey()]; seen {
		metrics.RecordDuplicateSuppressed()
		return false, nil
	}
	if len(q.outstanding) >= q.capacity {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "capacity_exceeded")
		return false, ErrQueueFull
	}

	if u.EnqueuedAt.IsZero() {
		u.EnqueuedAt = q.now()
	}
	if u.Attempt < 1 {
		u.Attempt = 1
	}
	q.outstanding[u.DedupeKey()] = StateQueued
	heap.Push(&q.pending, scheduled{unit: u, runAt: runAt})
	q.notifyLocked()

	metrics.RecordQueueEnqueue()
	metrics.UpdateQueueDepth(q.pending.Len())
	metrics.UpdateOutstandingUnits(len(q.outstanding))
	return true, nil
}

// Requeue schedules another delivery of a unit a worker is holding. The unit
// keeps its outstanding slot, so no duplicate can slip in between attempts.
func (q *DelayQueue) Requeue(ctx context.Context, u Unit, runAt time.Time) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.outstanding[u.DedupeKey()] = StateQueued
	heap.Push(&q.pending, scheduled{unit: u, runAt: runAt})
	q.notifyLocked()

	metrics.RecordUnitRetry()
	metrics.UpdateQueueDepth(q.pending.Len())
	metrics.UpdateOutstandingUnits(len(q.outstanding))
	return nil
}

// Done releases the unit's dedupe key after a terminal outcome, success or
// exhausted retries alike. A later enqueue of the same key is accepted again.
func (q *DelayQueue) Done(u Unit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.outstanding, u.DedupeKey())
	metrics.UpdateOutstandingUnits(len(q.outstanding))
}

// Dequeue returns a channel that receives units as they come due. The
// channel closes when the queue closes or ctx is cancelled.
func (q *DelayQueue) Dequeue(ctx context.Context) <-chan Unit {
	out := make(chan Unit)
	go func() {
		defer close(out)
		for unit := range q.ready {
			select {
			case out <- unit:
				q.markRunning(unit)
				metrics.RecordQueueDequeue()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// State reports the outstanding state for a dedupe key.
func (q *DelayQueue) State(dedupeKey string) (State, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.outstanding[dedupeKey]
	return s, ok
}

// Len returns the number of units not yet released to the ready channel.
func (q *DelayQueue) Len(ctx context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	metrics.UpdateQueueDepth(q.pending.Len())
	return q.pending.Len()
}

// Outstanding returns how many units are queued or executing.
func (q *DelayQueue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.outstanding)
}

// Close stops the dispatch loop and closes the ready channel. Pending units
// are dropped; their attempt history lives in the durable store.
func (q *DelayQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	close(q.stopChan)
	q.wg.Wait()
	close(q.ready)
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *DelayQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *DelayQueue) markRunning(u Unit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.outstanding[u.DedupeKey()]; ok {
		q.outstanding[u.DedupeKey()] = StateRunning
	}
}

// notifyLocked nudges the dispatch loop after the heap changed. Callers hold
// the mutex.
func (q *DelayQueue) notifyLocked() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dispatch releases due units to the ready channel, sleeping until the next
// release time in between.
func (q *DelayQueue) dispatch() {
	defer q.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		q.mu.Lock()
		due := q.popDueLocked()
		var wait time.Duration
		if q.pending.Len() > 0 {
			wait = q.pending[0].runAt.Sub(q.now())
		} else {
			wait = time.Hour
		}
		metrics.UpdateQueueDepth(q.pending.Len())
		q.mu.Unlock()

		for _, unit := range due {
			select {
			case q.ready <- unit:
			case <-q.stopChan:
				return
			}
		}

		if wait < 0 {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-q.stopChan:
			return
		case <-q.wake:
		case <-timer.C:
		}
	}
}

// popDueLocked removes every unit whose release time has arrived. Callers
// hold the mutex.
func (q *DelayQueue) popDueLocked() []Unit {
	now := q.now()
	var due []Unit
	for q.pending.Len() > 0 && !q.pending[0].runAt.After(now) {
		item := heap.Pop(&q.pending).(scheduled)
		due = append(due, item.unit)
	}
	return due
}
