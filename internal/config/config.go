// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults, Load(ctx) to layer
//   file and environment overrides on top.
// - Durations are expressed as Go duration strings in files and env vars,
//   e.g. "90s" or "24h".
package config

import (
	"context"
	"runtime"
	"time"

	"github.com/mireles/canonry/internal/domain/model"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBPath locates the durable score cache database.
	DBPath string `koanf:"db_path"`

	// SourceDBPath locates the work catalog database.
	SourceDBPath string `koanf:"source_db_path"`

	// WorkerCount sets the number of unit workers.
	WorkerCount int `koanf:"worker_count"`

	// QueueSize bounds outstanding units in the delay queue.
	QueueSize int `koanf:"queue_size"`

	// MaxAttempts caps executions per unit before it is dropped.
	MaxAttempts int `koanf:"max_attempts"`

	// RetryBackoff is the delay before a failed unit runs again.
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// UnitSpacing staggers compute units within one refresh sweep.
	UnitSpacing time.Duration `koanf:"unit_spacing"`

	// AggregationDelay pads the aggregation unit past the last compute slot.
	AggregationDelay time.Duration `koanf:"aggregation_delay"`

	// UnitBudget is the wall-clock allowance for one unit execution.
	UnitBudget time.Duration `koanf:"unit_budget"`

	// MemoryTTL expires entries in the in-memory cache tier.
	MemoryTTL time.Duration `koanf:"memory_ttl"`

	// MemoryMaxEntries bounds the in-memory cache tier.
	MemoryMaxEntries int `koanf:"memory_max_entries"`

	// MaxEntryAge is the staleness horizon for cached scores.
	MaxEntryAge time.Duration `koanf:"max_entry_age"`

	// RefreshSchedule is a cron expression for periodic refresh sweeps.
	// Empty disables the scheduler.
	RefreshSchedule string `koanf:"refresh_schedule"`

	// RefreshFamilies lists the families the scheduler sweeps.
	RefreshFamilies []string `koanf:"refresh_families"`

	// DevInlineCompute lets the read path compute missing scores inline.
	// Development convenience only; keep off in production.
	DevInlineCompute bool `koanf:"dev_inline_compute"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention; it is reserved for future use and currently
// unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:         "info",
		Addr:             ":9080",
		DBPath:           "canonry.db",
		SourceDBPath:     "catalog.db",
		WorkerCount:      runtime.NumCPU(),
		QueueSize:        10_000,
		MaxAttempts:      3,
		RetryBackoff:     30 * time.Second,
		UnitSpacing:      2 * time.Minute,
		AggregationDelay: 5 * time.Minute,
		UnitBudget:       2 * time.Minute,
		MemoryTTL:        5 * time.Minute,
		MemoryMaxEntries: 1024,
		MaxEntryAge:      24 * time.Hour,
		RefreshSchedule:  "",
		RefreshFamilies:  model.Families(),
		DevInlineCompute: false,
	}
}
