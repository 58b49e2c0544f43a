// Package worker drains the unit queue and drives each unit to a terminal
// outcome.
package worker

import (
	"sync/atomic"
	"time"

	"github.com/mireles/canonry/pkg/logger"
)

// Option applies a configuration option to the Worker.
type Option func(*Worker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *Worker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMaxAttempts sets how many deliveries a unit gets before its failure
// becomes terminal.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the delay before a failed unit is redelivered.
func WithRetryBackoff(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.backoff = d
		}
	}
}

// withBusyCounter shares the pool's busy gauge with a worker.
func withBusyCounter(busy *atomic.Int64) Option {
	return func(w *Worker) {
		if busy != nil {
			w.busy = busy
		}
	}
}
