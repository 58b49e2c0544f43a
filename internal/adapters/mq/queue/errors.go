package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrQueueFull   = errors.New("queue at capacity")
	ErrQueueClosed = errors.New("queue closed")
)
