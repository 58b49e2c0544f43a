// Package worker drains the unit queue and drives each unit to a terminal
// outcome, retrying failed units with a backoff until attempts run out.
package worker

import (
	"context"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mireles/canonry/internal/domain/model"
	"github.com/mireles/canonry/pkg/logger"
	"github.com/mireles/canonry/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultMaxAttempts    = 3
	defaultRetryBackoff   = 30 * time.Second
	metricsUpdateInterval = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Unit abstracts what workers read off the queue.
type Unit = model.WorkUnit

// Handler executes one unit to completion.
type Handler interface {
	Handle(ctx context.Context, u Unit) error
}

// Queue defines how workers receive and settle units.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Unit

	// Requeue schedules another delivery after a failed attempt.
	Requeue(ctx context.Context, u Unit, runAt time.Time) error

	// Done releases the unit's outstanding slot after a terminal outcome.
	Done(u Unit)
}

// Worker processes units one at a time until stopped.
type Worker struct {
	queue       Queue
	handler     Handler
	name        string
	maxAttempts int
	backoff     time.Duration
	busy        *atomic.Int64 // shared with the pool, may be nil

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// New creates a worker with configuration options.
func New(queue Queue, handler Handler, opts ...Option) *Worker {
	w := &Worker{
		queue:       queue,
		handler:     handler,
		name:        "worker",
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultRetryBackoff,
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger.Get().Named("worker"),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = logger.Get().Named(w.name)
	}

	return w
}

// Run consumes units until ctx is cancelled, the worker is shut down, or the
// queue closes.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	units := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case unit, ok := <-units:
			if !ok {
				return
			}
			w.process(ctx, unit)
		}
	}
}

// Shutdown stops the worker and waits for the in-flight unit to finish.
func (w *Worker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return ctx.Err()
	}
}

// process runs one unit and settles it: success and exhausted retries both
// release the outstanding slot, anything else goes back on the queue.
func (w *Worker) process(ctx context.Context, u Unit) {
	if w.busy != nil {
		w.busy.Add(1)
		defer w.busy.Add(-1)
	}

	start := time.Now()
	err := w.handler.Handle(ctx, u)
	elapsed := float64(time.Since(start).Milliseconds())
	metrics.RecordWorkerProcessingLatency(elapsed)
	metrics.RecordUnitDuration(string(u.Kind), elapsed)

	if err == nil {
		w.queue.Done(u)
		metrics.RecordUnitProcessed(string(u.Kind))
		return
	}

	metrics.RecordWorkerError()
	metrics.RecordErrorByComponent("worker", "unit_failed")
	w.logger.Error(ctx, "unit failed",
		logger.String("unit", u.ID),
		logger.String("kind", string(u.Kind)),
		logger.String("family", u.Family),
		logger.String("partition", u.Partition),
		logger.Int("attempt", u.Attempt),
		logger.Error(err),
	)

	if u.Attempt >= w.maxAttempts {
		w.queue.Done(u)
		metrics.RecordUnitFailure(string(u.Kind))
		w.logger.Error(ctx, "unit attempts exhausted",
			logger.String("unit", u.ID),
			logger.String("partition", u.Partition),
			logger.Int("attempts", u.Attempt),
		)
		return
	}

	u.Attempt++
	if qerr := w.queue.Requeue(ctx, u, time.Now().Add(w.backoff)); qerr != nil {
		w.queue.Done(u)
		metrics.RecordUnitFailure(string(u.Kind))
		w.logger.Error(ctx, "requeue failed",
			logger.String("unit", u.ID),
			logger.Error(qerr),
		)
	}
}

// Pool manages multiple workers over a shared queue.
type Pool struct {
	workers []*Worker
	queue   Queue
	handler Handler
	busy    atomic.Int64

	shutdown chan struct{}

	logger logger.Logger
}

// NewPool creates a pool of workerCount workers. A count below one falls
// back to the CPU count.
func NewPool(workerCount int, queue Queue, handler Handler, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers:  make([]*Worker, workerCount),
		queue:    queue,
		handler:  handler,
		shutdown: make(chan struct{}),
		logger:   logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		workerOpts := make([]Option, 0, len(opts)+2)
		workerOpts = append(workerOpts, opts...)
		workerOpts = append(workerOpts,
			WithName("worker-"+strconv.Itoa(i)),
			withBusyCounter(&pool.busy),
		)
		pool.workers[i] = New(queue, handler, workerOpts...)
	}

	metrics.UpdateWorkerActiveCount(0)
	metrics.UpdateWorkerIdleCount(workerCount)

	return pool
}

// Start launches all workers and the metrics updater.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}

	go p.startMetricsUpdater(ctx)
}

// startMetricsUpdater refreshes busy and idle worker gauges until shutdown.
func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			busy := int(p.busy.Load())
			metrics.UpdateWorkerActiveCount(busy)
			metrics.UpdateWorkerIdleCount(len(p.workers) - busy)
		}
	}
}

// Shutdown closes the queue so deliveries stop, then waits for every worker
// to drain its in-flight unit.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	close(p.shutdown)

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}

	return nil
}
