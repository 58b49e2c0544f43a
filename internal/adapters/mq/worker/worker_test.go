package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	worker "github.com/mireles/canonry/internal/adapters/mq/worker"
	model "github.com/mireles/canonry/internal/domain/model"
	logging "github.com/mireles/canonry/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing.
type mockQueue struct {
	unitChan chan worker.Unit

	mu       sync.Mutex
	requeued []worker.Unit
	settled  []worker.Unit
	closed   bool
}

func newMockQueue() *mockQueue {
	return &mockQueue{
		unitChan: make(chan worker.Unit, 10),
	}
}

func (mq *mockQueue) Dequeue(ctx context.Context) <-chan worker.Unit {
	return mq.unitChan
}

func (mq *mockQueue) Requeue(ctx context.Context, u worker.Unit, runAt time.Time) error {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	mq.requeued = append(mq.requeued, u)
	return nil
}

func (mq *mockQueue) Done(u worker.Unit) {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	mq.settled = append(mq.settled, u)
}

func (mq *mockQueue) Close() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	if !mq.closed {
		close(mq.unitChan)
		mq.closed = true
	}
	return nil
}

func (mq *mockQueue) addUnit(u worker.Unit) {
	mq.unitChan <- u
}

func (mq *mockQueue) requeuedUnits() []worker.Unit {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	return append([]worker.Unit(nil), mq.requeued...)
}

func (mq *mockQueue) settledUnits() []worker.Unit {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	return append([]worker.Unit(nil), mq.settled...)
}

type mockHandler struct {
	mu      sync.Mutex
	handled []worker.Unit
	errors  map[string]error
}

func newMockHandler() *mockHandler {
	return &mockHandler{
		errors: make(map[string]error),
	}
}

func (mh *mockHandler) Handle(ctx context.Context, u worker.Unit) error {
	mh.mu.Lock()
	defer mh.mu.Unlock()
	mh.handled = append(mh.handled, u)
	if err, exists := mh.errors[u.Partition]; exists {
		return err
	}
	return nil
}

func (mh *mockHandler) setError(partition string, err error) {
	mh.mu.Lock()
	defer mh.mu.Unlock()
	mh.errors[partition] = err
}

func (mh *mockHandler) handledUnits() []worker.Unit {
	mh.mu.Lock()
	defer mh.mu.Unlock()
	return append([]worker.Unit(nil), mh.handled...)
}

func testUnit(partition string, attempt int) worker.Unit {
	return worker.Unit{
		ID:              "unit-" + partition,
		Kind:            model.UnitCompute,
		Family:          model.FamilyDecade,
		Partition:       partition,
		ConfigID:        1,
		OrchestrationID: "run-1",
		Attempt:         attempt,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestWorker(t *testing.T) {
	convey.Convey("Given a worker over a mock queue", t, func() {
		_ = logging.Init()

		mq := newMockQueue()
		handler := newMockHandler()

		convey.Convey("When a unit succeeds", func() {
			w := worker.New(mq, handler, worker.WithName("test-worker"))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)

			mq.addUnit(testUnit("1990", 1))
			waitFor(t, func() bool { return len(mq.settledUnits()) == 1 })

			convey.Convey("Then it is handled once and settled", func() {
				convey.So(handler.handledUnits(), convey.ShouldHaveLength, 1)
				convey.So(mq.settledUnits()[0].Partition, convey.ShouldEqual, "1990")
				convey.So(mq.requeuedUnits(), convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When a unit fails with attempts remaining", func() {
			handler.setError("1990", errors.New("source unavailable"))
			w := worker.New(mq, handler, worker.WithMaxAttempts(3), worker.WithRetryBackoff(time.Millisecond))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)

			mq.addUnit(testUnit("1990", 1))
			waitFor(t, func() bool { return len(mq.requeuedUnits()) == 1 })

			convey.Convey("Then it is requeued with a bumped attempt and not settled", func() {
				convey.So(mq.requeuedUnits()[0].Attempt, convey.ShouldEqual, 2)
				convey.So(mq.settledUnits(), convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When a unit fails on its final attempt", func() {
			handler.setError("1990", errors.New("source unavailable"))
			w := worker.New(mq, handler, worker.WithMaxAttempts(3))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)

			mq.addUnit(testUnit("1990", 3))
			waitFor(t, func() bool { return len(mq.settledUnits()) == 1 })

			convey.Convey("Then the failure is terminal", func() {
				convey.So(mq.requeuedUnits(), convey.ShouldBeEmpty)
				convey.So(mq.settledUnits()[0].Attempt, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When the worker is shut down", func() {
			w := worker.New(mq, handler)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()

			convey.Convey("Then shutdown returns promptly", func() {
				convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
			})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of workers", t, func() {
		_ = logging.Init()

		mq := newMockQueue()
		handler := newMockHandler()
		pool := worker.NewPool(3, mq, handler)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		convey.Convey("When units arrive for several partitions", func() {
			for _, partition := range []string{"1980", "1990", "2000", "2010"} {
				mq.addUnit(testUnit(partition, 1))
			}
			waitFor(t, func() bool { return len(mq.settledUnits()) == 4 })

			convey.Convey("Then every unit reaches a terminal outcome", func() {
				convey.So(handler.handledUnits(), convey.ShouldHaveLength, 4)
			})

			convey.Convey("And shutdown closes the queue and drains the workers", func() {
				convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
				convey.So(mq.closed, convey.ShouldBeTrue)
			})
		})
	})
}
