// Package queue schedules score units for delivery at a chosen instant.
package queue

import "time"

// Option applies a configuration option to the DelayQueue.
type Option func(*DelayQueue)

// WithCapacity bounds how many units may be outstanding at once.
func WithCapacity(capacity int) Option {
	return func(q *DelayQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithBufferSize sets the buffer size for the ready channel.
func WithBufferSize(size int) Option {
	return func(q *DelayQueue) {
		if size > 0 {
			q.bufferSize = size
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *DelayQueue) {
		if now != nil {
			q.now = now
		}
	}
}
