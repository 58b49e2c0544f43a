// Package reader serves cached rankings. Reads try the memory tier, then
// the durable tier (repopulating memory on the way back), and otherwise
// return an explicit missing result. The production read path never
// computes anything inline; recomputation happens through the orchestrator.
package reader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mireles/canonry/internal/adapters/repository"
	"github.com/mireles/canonry/internal/domain/model"
	"github.com/mireles/canonry/internal/domain/scoring"
	"github.com/mireles/canonry/internal/domain/staleness"
	"github.com/mireles/canonry/internal/domain/types"
	"github.com/mireles/canonry/pkg/logger"
	"github.com/mireles/canonry/pkg/metrics"
)

// Store is the durable cache surface the reader consults.
type Store interface {
	GetEntry(ctx context.Context, partitionKey string, configID int64) (repository.Entry, error)
	ActiveConfig(ctx context.Context, family string) (scoring.Config, error)
}

// Source answers when the corpus behind a partition last changed.
type Source interface {
	LastChanged(ctx context.Context, family, partition string) (time.Time, error)
}

// Memory is the process-local cache tier.
type Memory interface {
	Get(partitionKey string, configID int64) (repository.Entry, bool)
	Put(partitionKey string, configID int64, value repository.Entry)
}

// InlineComputer executes a unit synchronously, for the development-only
// read-through path.
type InlineComputer interface {
	Handle(ctx context.Context, u model.WorkUnit) error
}

// RefreshQueue accepts the background refresh the inline path leaves behind.
type RefreshQueue interface {
	EnqueueIfAbsent(ctx context.Context, u model.WorkUnit, runAt time.Time) (bool, error)
}

// Reader is the read-side entry point over both cache tiers.
type Reader struct {
	store   Store
	source  Source
	memory  Memory
	tracker *staleness.Tracker

	inline       InlineComputer // nil outside development
	refreshQueue RefreshQueue

	logger logger.Logger
}

// Option applies a configuration option to the Reader.
type Option func(*Reader)

// WithInlineCompute enables the development-only read-through: a cache miss
// computes the partition on the spot, warms both tiers and leaves a
// background refresh behind. Never enable this in production configuration.
func WithInlineCompute(computer InlineComputer, refreshQueue RefreshQueue) Option {
	return func(r *Reader) {
		if computer != nil {
			r.inline = computer
			r.refreshQueue = refreshQueue
		}
	}
}

// New creates a Reader with the given options.
func New(store Store, source Source, memory Memory, tracker *staleness.Tracker, opts ...Option) *Reader {
	r := &Reader{
		store:   store,
		source:  source,
		memory:  memory,
		tracker: tracker,
		logger:  logger.Get().Named("reader"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read returns the cached ranking for (family, partition) under the given
// configuration. A configID of zero resolves the family's currently active
// configuration. A missing entry is a result, not an error.
func (r *Reader) Read(ctx context.Context, family, partition string, configID int64) (types.ReadResult, error) {
	if !model.KnownFamily(family) {
		return types.ReadResult{}, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}

	if configID == 0 {
		cfg, err := r.store.ActiveConfig(ctx, family)
		if err != nil {
			return types.ReadResult{}, fmt.Errorf("resolving active configuration for %s: %w", family, err)
		}
		configID = cfg.ID
	}

	key := model.PartitionKey(family, partition)

	if entry, ok := r.memory.Get(key, configID); ok {
		metrics.RecordCacheHit("memory")
		return r.result(ctx, family, partition, configID, entry, types.SourceMemory), nil
	}
	metrics.RecordCacheMiss("memory")

	entry, err := r.store.GetEntry(ctx, key, configID)
	if err == nil {
		metrics.RecordCacheHit("durable")
		r.memory.Put(key, configID, entry)
		return r.result(ctx, family, partition, configID, entry, types.SourceDurable), nil
	}
	if !errors.Is(err, repository.ErrCacheMissing) {
		return types.ReadResult{}, fmt.Errorf("reading cache for %s: %w", key, err)
	}
	metrics.RecordCacheMiss("durable")

	if r.inline != nil {
		return r.computeInline(ctx, family, partition, configID)
	}

	metrics.RecordReadVerdict(string(staleness.VerdictMissing))
	return types.ReadResult{
		Family:    family,
		Partition: partition,
		ConfigID:  configID,
		Status:    staleness.VerdictMissing,
		Source:    types.SourceNone,
	}, nil
}

// result attaches the staleness verdict to a found entry. A source-layer
// probe failure degrades to an age-only verdict rather than failing the
// read.
func (r *Reader) result(ctx context.Context, family, partition string, configID int64, entry repository.Entry, from types.ReadSource) types.ReadResult {
	sourceChanged, err := r.source.LastChanged(ctx, family, partition)
	if err != nil {
		r.logger.Warn(ctx, "source change probe failed",
			logger.String("family", family),
			logger.String("partition", partition),
			logger.Error(err),
		)
		sourceChanged = time.Time{}
	}

	verdict := r.tracker.Evaluate(entry.CalculatedAt, sourceChanged)
	metrics.RecordReadVerdict(string(verdict))

	return types.ReadResult{
		Family:       family,
		Partition:    partition,
		ConfigID:     configID,
		Status:       verdict,
		Payload:      entry.Payload,
		Statistics:   &entry.Statistics,
		Metadata:     &entry.Metadata,
		CalculatedAt: entry.CalculatedAt,
		Source:       from,
	}
}

// computeInline is the development-only miss path: run the unit now, warm
// both tiers from the fresh row, and leave a background refresh queued.
func (r *Reader) computeInline(ctx context.Context, family, partition string, configID int64) (types.ReadResult, error) {
	kind := model.UnitCompute
	if partition == model.SummaryPartition {
		kind = model.UnitAggregate
	}
	unit := model.WorkUnit{
		ID:              uuid.NewString(),
		Kind:            kind,
		Family:          family,
		Partition:       partition,
		ConfigID:        configID,
		OrchestrationID: "inline:" + uuid.NewString(),
	}

	if err := r.inline.Handle(ctx, unit); err != nil {
		return types.ReadResult{}, fmt.Errorf("inline compute for %s: %w", unit.CacheKey(), err)
	}

	entry, err := r.store.GetEntry(ctx, unit.CacheKey(), configID)
	if err != nil {
		return types.ReadResult{}, fmt.Errorf("reading freshly computed %s: %w", unit.CacheKey(), err)
	}
	r.memory.Put(unit.CacheKey(), configID, entry)

	if r.refreshQueue != nil {
		refresh := unit
		refresh.ID = uuid.NewString()
		if _, err := r.refreshQueue.EnqueueIfAbsent(ctx, refresh, time.Now()); err != nil {
			r.logger.Warn(ctx, "background refresh not queued",
				logger.String("key", unit.CacheKey()),
				logger.Error(err),
			)
		}
	}

	r.logger.Info(ctx, "inline compute served a miss",
		logger.String("key", unit.CacheKey()),
		logger.Int64("config", configID),
	)
	return r.result(ctx, family, partition, configID, entry, types.SourceInline), nil
}
