package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mireles/canonry/internal/domain/model"
)

func computeUnit(partition string) Unit {
	return Unit{
		ID:              "unit-" + partition,
		Kind:            model.UnitCompute,
		Family:          model.FamilyDecade,
		Partition:       partition,
		ConfigID:        1,
		OrchestrationID: "run-1",
	}
}

func receiveUnit(t *testing.T, ch <-chan Unit, within time.Duration) Unit {
	t.Helper()
	select {
	case u, ok := <-ch:
		if !ok {
			t.Fatal("dequeue channel closed unexpectedly")
		}
		return u
	case <-time.After(within):
		t.Fatal("timed out waiting for unit")
	}
	return Unit{}
}

func waitForState(t *testing.T, q *DelayQueue, key string, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s, ok := q.State(key); ok && s == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state for %s never reached %s", key, want)
}

func TestDelayQueue_ImmediateRelease(t *testing.T) {
	q := New(WithCapacity(10))
	defer q.Close()
	ctx := context.Background()

	accepted, err := q.EnqueueIfAbsent(ctx, computeUnit("1990"), time.Now())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if !accepted {
		t.Fatal("expected unit to be accepted")
	}

	got := receiveUnit(t, q.Dequeue(ctx), time.Second)
	if got.Partition != "1990" {
		t.Errorf("expected partition 1990, got %s", got.Partition)
	}
	if got.Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", got.Attempt)
	}
	if got.EnqueuedAt.IsZero() {
		t.Error("expected EnqueuedAt to be stamped")
	}
}

func TestDelayQueue_DelayedRelease(t *testing.T) {
	q := New(WithCapacity(10))
	defer q.Close()
	ctx := context.Background()

	start := time.Now()
	// Later release time enqueued first to make ordering do the work.
	if _, err := q.EnqueueIfAbsent(ctx, computeUnit("2000"), start.Add(80*time.Millisecond)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := q.EnqueueIfAbsent(ctx, computeUnit("1990"), start.Add(10*time.Millisecond)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	ch := q.Dequeue(ctx)
	first := receiveUnit(t, ch, time.Second)
	if first.Partition != "1990" {
		t.Errorf("expected earliest release first, got %s", first.Partition)
	}

	second := receiveUnit(t, ch, time.Second)
	if second.Partition != "2000" {
		t.Errorf("expected delayed unit second, got %s", second.Partition)
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("delayed unit released too early after %v", elapsed)
	}
}

func TestDelayQueue_DuplicateSuppression(t *testing.T) {
	q := New(WithCapacity(10))
	defer q.Close()
	ctx := context.Background()
	far := time.Now().Add(time.Hour)

	unit := computeUnit("1990")
	if accepted, _ := q.EnqueueIfAbsent(ctx, unit, far); !accepted {
		t.Fatal("expected first enqueue to be accepted")
	}

	// Same dedupe key, different job id.
	dup := unit
	dup.ID = "unit-other"
	accepted, err := q.EnqueueIfAbsent(ctx, dup, far)
	if err != nil {
		t.Fatalf("duplicate enqueue errored: %v", err)
	}
	if accepted {
		t.Error("expected duplicate to be suppressed")
	}
	if q.Outstanding() != 1 {
		t.Errorf("expected 1 outstanding unit, got %d", q.Outstanding())
	}

	// Release the slot; the key becomes enqueueable again.
	q.Done(unit)
	if accepted, _ := q.EnqueueIfAbsent(ctx, dup, far); !accepted {
		t.Error("expected enqueue after Done to be accepted")
	}
}

func TestDelayQueue_Capacity(t *testing.T) {
	q := New(WithCapacity(2))
	defer q.Close()
	ctx := context.Background()
	far := time.Now().Add(time.Hour)

	if accepted, _ := q.EnqueueIfAbsent(ctx, computeUnit("1980"), far); !accepted {
		t.Fatal("expected enqueue to succeed")
	}
	if accepted, _ := q.EnqueueIfAbsent(ctx, computeUnit("1990"), far); !accepted {
		t.Fatal("expected enqueue to succeed")
	}

	_, err := q.EnqueueIfAbsent(ctx, computeUnit("2000"), far)
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestDelayQueue_RequeueKeepsSlot(t *testing.T) {
	q := New(WithCapacity(10))
	defer q.Close()
	ctx := context.Background()

	unit := computeUnit("1990")
	if _, err := q.EnqueueIfAbsent(ctx, unit, time.Now()); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	ch := q.Dequeue(ctx)
	got := receiveUnit(t, ch, time.Second)
	waitForState(t, q, unit.DedupeKey(), StateRunning)

	// A duplicate stays suppressed while the worker holds the unit.
	if accepted, _ := q.EnqueueIfAbsent(ctx, unit, time.Now()); accepted {
		t.Error("expected duplicate of running unit to be suppressed")
	}

	got.Attempt++
	if err := q.Requeue(ctx, got, time.Now()); err != nil {
		t.Fatalf("requeue failed: %v", err)
	}

	retried := receiveUnit(t, ch, time.Second)
	if retried.Attempt != 2 {
		t.Errorf("expected attempt 2 on redelivery, got %d", retried.Attempt)
	}

	q.Done(retried)
	if _, ok := q.State(unit.DedupeKey()); ok {
		t.Error("expected outstanding slot to be released")
	}
}

func TestDelayQueue_Close(t *testing.T) {
	q := New(WithCapacity(10))
	ctx := context.Background()

	ch := q.Dequeue(ctx)
	if err := q.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to report closed")
	}

	if _, err := q.EnqueueIfAbsent(ctx, computeUnit("1990"), time.Now()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected no unit after close")
		}
	case <-time.After(time.Second):
		t.Error("expected dequeue channel to close")
	}
}
