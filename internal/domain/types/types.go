// Package types contains common types passed between the reader, the
// orchestrator, and the transport layer.
package types

import (
	"encoding/json"
	"time"

	"github.com/mireles/canonry/internal/domain/model"
	"github.com/mireles/canonry/internal/domain/staleness"
)

// ReadSource says which tier satisfied a cache read.
type ReadSource string

const (
	// SourceMemory means the in-memory TTL tier answered.
	SourceMemory ReadSource = "memory"
	// SourceDurable means the durable store answered and the memory tier was
	// repopulated on the way out.
	SourceDurable ReadSource = "durable"
	// SourceInline means the value was computed on the read path. Development
	// escape hatch only.
	SourceInline ReadSource = "inline"
	// SourceNone means no tier had the key.
	SourceNone ReadSource = "none"
)

// ReadResult is the cache reader's answer for one partition lookup. When the
// verdict is missing, Payload is nil and the caller should surface a manual
// refresh hint rather than an error.
type ReadResult struct {
	Family       string            `json:"family"`
	Partition    string            `json:"partition"`
	ConfigID     int64             `json:"configuration_id"`
	Status       staleness.Verdict `json:"status"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
	Statistics   *model.Statistics `json:"statistics,omitempty"`
	Metadata     *model.Metadata   `json:"metadata,omitempty"`
	CalculatedAt time.Time         `json:"calculated_at"`
	Source       ReadSource        `json:"source"`
}

// PartitionState classifies one partition inside a refresh status report.
type PartitionState string

const (
	// StateCompleted means a cache entry exists and the last attempt, if any,
	// succeeded.
	StateCompleted PartitionState = "completed"
	// StateFailed means the last recorded attempt failed and no outstanding
	// unit will retry it.
	StateFailed PartitionState = "failed"
	// StateQueued means a unit is enqueued but not yet executing.
	StateQueued PartitionState = "queued"
	// StateRunning means a unit is executing right now.
	StateRunning PartitionState = "running"
	// StateMissing means no cache entry, no attempt, and no outstanding unit.
	StateMissing PartitionState = "missing"
)

// RefreshStatus reports recomputation progress for one (family,
// configuration) pair, partition by partition.
type RefreshStatus struct {
	Family     string                    `json:"family"`
	ConfigID   int64                     `json:"configuration_id"`
	Partitions map[string]PartitionState `json:"partitions"`
	Counts     map[PartitionState]int    `json:"counts"`
	Aggregated bool                      `json:"aggregated"`
}

// Count returns the number of partitions in the given state.
func (s RefreshStatus) Count(state PartitionState) int {
	return s.Counts[state]
}

// Done reports whether every partition reached a terminal state.
func (s RefreshStatus) Done() bool {
	return s.Counts[StateQueued] == 0 && s.Counts[StateRunning] == 0
}
