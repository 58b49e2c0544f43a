// Package orchestrator turns a refresh request into a spaced sequence of
// work units: one compute unit per partition, each released one spacing
// interval after the previous, and a trailing aggregation unit once all
// siblings are expected to have finished.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mireles/canonry/internal/adapters/mq/queue"
	"github.com/mireles/canonry/internal/adapters/repository"
	"github.com/mireles/canonry/internal/domain/model"
	"github.com/mireles/canonry/internal/domain/scoring"
	"github.com/mireles/canonry/internal/domain/types"
	"github.com/mireles/canonry/pkg/logger"
	"github.com/mireles/canonry/pkg/metrics"
)

// Default scheduling constants.
const (
	defaultUnitSpacing      = 2 * time.Minute
	defaultAggregationDelay = 5 * time.Minute
)

// Catalog enumerates the partitions of a family.
type Catalog interface {
	Partitions(ctx context.Context, family string) ([]string, error)
}

// Store exposes the configuration, cache and attempt history the
// orchestrator consults.
type Store interface {
	GetConfig(ctx context.Context, id int64) (scoring.Config, error)
	GetEntry(ctx context.Context, partitionKey string, configID int64) (repository.Entry, error)
	CachedPartitions(ctx context.Context, family string, configID int64) (map[string]time.Time, error)
	FailedPartitions(ctx context.Context, family string, configID int64) ([]string, error)
	AttemptOutcomes(ctx context.Context, family string, configID int64) (map[string]repository.AttemptRecord, error)
}

// UnitQueue schedules units and answers what is still outstanding.
type UnitQueue interface {
	EnqueueIfAbsent(ctx context.Context, u model.WorkUnit, runAt time.Time) (bool, error)
	State(dedupeKey string) (queue.State, bool)
}

// Run reports one orchestration sweep.
type Run struct {
	ID          string `json:"run_id"`
	Family      string `json:"family"`
	ConfigID    int64  `json:"configuration_id"`
	UnitsQueued int    `json:"units_queued"`
}

// Orchestrator schedules recomputation sweeps.
type Orchestrator struct {
	catalog  Catalog
	store    Store
	queue    UnitQueue
	spacing  time.Duration
	aggDelay time.Duration
	now      func() time.Time // injectable for deterministic tests

	logger logger.Logger
}

// Option applies a configuration option to the Orchestrator.
type Option func(*Orchestrator)

// WithUnitSpacing sets the release interval between successive units of one
// sweep.
func WithUnitSpacing(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.spacing = d
		}
	}
}

// WithAggregationDelay sets the trailing delay before the aggregation unit,
// measured from the last partition unit's release time.
func WithAggregationDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.aggDelay = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an Orchestrator with the given options.
func New(catalog Catalog, store Store, unitQueue UnitQueue, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog:  catalog,
		store:    store,
		queue:    unitQueue,
		spacing:  defaultUnitSpacing,
		aggDelay: defaultAggregationDelay,
		now:      time.Now,
		logger:   logger.Get().Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Orchestrate schedules a full recomputation sweep for the family under the
// given configuration. Units already queued or executing are suppressed, so
// a duplicate call adds nothing.
func (o *Orchestrator) Orchestrate(ctx context.Context, family string, configID int64) (Run, error) {
	partitions, err := o.sweepPartitions(ctx, family, configID)
	if err != nil {
		return Run{}, err
	}
	return o.schedule(ctx, family, configID, partitions)
}

// RetryFailed schedules a sweep over only the partitions whose cache row is
// missing or whose last attempt failed, with the usual spacing.
func (o *Orchestrator) RetryFailed(ctx context.Context, family string, configID int64) (Run, error) {
	partitions, err := o.sweepPartitions(ctx, family, configID)
	if err != nil {
		return Run{}, err
	}

	cached, err := o.store.CachedPartitions(ctx, family, configID)
	if err != nil {
		return Run{}, fmt.Errorf("loading cached partitions: %w", err)
	}
	failed, err := o.store.FailedPartitions(ctx, family, configID)
	if err != nil {
		return Run{}, fmt.Errorf("loading failed partitions: %w", err)
	}
	failedSet := make(map[string]bool, len(failed))
	for _, p := range failed {
		failedSet[p] = true
	}

	var reduced []string
	for _, p := range partitions {
		if _, ok := cached[p]; !ok || failedSet[p] {
			reduced = append(reduced, p)
		}
	}
	if len(reduced) == 0 {
		return Run{ID: uuid.NewString(), Family: family, ConfigID: configID}, nil
	}
	return o.schedule(ctx, family, configID, reduced)
}

// sweepPartitions validates the request and enumerates the family.
func (o *Orchestrator) sweepPartitions(ctx context.Context, family string, configID int64) ([]string, error) {
	if !model.KnownFamily(family) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}

	cfg, err := o.store.GetConfig(ctx, configID)
	if err != nil {
		return nil, fmt.Errorf("loading configuration %d: %w", configID, err)
	}
	if cfg.Family != "" && cfg.Family != family {
		return nil, fmt.Errorf("%w: configuration %d targets %q", ErrFamilyMismatch, configID, cfg.Family)
	}

	partitions, err := o.catalog.Partitions(ctx, family)
	if err != nil {
		return nil, fmt.Errorf("enumerating partitions for %s: %w", family, err)
	}
	return partitions, nil
}

// schedule enqueues one compute unit per partition at i·spacing offsets and
// the aggregation unit after the last offset plus the trailing delay.
func (o *Orchestrator) schedule(ctx context.Context, family string, configID int64, partitions []string) (Run, error) {
	run := Run{
		ID:       uuid.NewString(),
		Family:   family,
		ConfigID: configID,
	}
	now := o.now()

	for i, partition := range partitions {
		unit := model.WorkUnit{
			ID:              uuid.NewString(),
			Kind:            model.UnitCompute,
			Family:          family,
			Partition:       partition,
			ConfigID:        configID,
			OrchestrationID: run.ID,
		}
		accepted, err := o.queue.EnqueueIfAbsent(ctx, unit, now.Add(time.Duration(i)*o.spacing))
		if err != nil {
			return run, fmt.Errorf("enqueuing unit for %s: %w", model.PartitionKey(family, partition), err)
		}
		if accepted {
			run.UnitsQueued++
		}
	}

	aggregate := model.WorkUnit{
		ID:              uuid.NewString(),
		Kind:            model.UnitAggregate,
		Family:          family,
		Partition:       model.SummaryPartition,
		ConfigID:        configID,
		OrchestrationID: run.ID,
	}
	aggregateAt := now.Add(time.Duration(len(partitions))*o.spacing + o.aggDelay)
	accepted, err := o.queue.EnqueueIfAbsent(ctx, aggregate, aggregateAt)
	if err != nil {
		return run, fmt.Errorf("enqueuing aggregation for %s: %w", family, err)
	}
	if accepted {
		run.UnitsQueued++
	}

	metrics.RecordOrchestration(family)
	metrics.RecordUnitsQueued(family, run.UnitsQueued)
	o.logger.Info(ctx, "sweep scheduled",
		logger.String("run", run.ID),
		logger.String("family", family),
		logger.Int64("config", configID),
		logger.Int("units", run.UnitsQueued),
		logger.Int("partitions", len(partitions)),
	)
	return run, nil
}

// Status reports the per-partition state of the family's recomputation under
// the configuration, combining queue, attempt history and cache presence.
func (o *Orchestrator) Status(ctx context.Context, family string, configID int64) (types.RefreshStatus, error) {
	partitions, err := o.sweepPartitions(ctx, family, configID)
	if err != nil {
		return types.RefreshStatus{}, err
	}

	cached, err := o.store.CachedPartitions(ctx, family, configID)
	if err != nil {
		return types.RefreshStatus{}, fmt.Errorf("loading cached partitions: %w", err)
	}
	attempts, err := o.store.AttemptOutcomes(ctx, family, configID)
	if err != nil {
		return types.RefreshStatus{}, fmt.Errorf("loading attempt history: %w", err)
	}

	status := types.RefreshStatus{
		Family:     family,
		ConfigID:   configID,
		Partitions: make(map[string]types.PartitionState, len(partitions)),
		Counts:     make(map[types.PartitionState]int),
	}

	for _, partition := range partitions {
		probe := model.WorkUnit{
			Kind:      model.UnitCompute,
			Family:    family,
			Partition: partition,
			ConfigID:  configID,
		}
		state := o.partitionState(probe, cached, attempts)
		status.Partitions[partition] = state
		status.Counts[state]++
	}

	if _, err := o.store.GetEntry(ctx, model.SummaryKey(family), configID); err == nil {
		status.Aggregated = true
	}

	return status, nil
}

// partitionState resolves one partition's state. Outstanding work wins over
// history; a failed last attempt wins over an older cached success.
func (o *Orchestrator) partitionState(probe model.WorkUnit, cached map[string]time.Time, attempts map[string]repository.AttemptRecord) types.PartitionState {
	if s, ok := o.queue.State(probe.DedupeKey()); ok {
		if s == queue.StateRunning {
			return types.StateRunning
		}
		return types.StateQueued
	}
	if rec, ok := attempts[probe.Partition]; ok && !rec.Succeeded {
		return types.StateFailed
	}
	if _, ok := cached[probe.Partition]; ok {
		return types.StateCompleted
	}
	return types.StateMissing
}
