// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/mireles/canonry/internal/adapters/memcache"
	unitqueue "github.com/mireles/canonry/internal/adapters/mq/queue"
	workerpool "github.com/mireles/canonry/internal/adapters/mq/worker"
	repository "github.com/mireles/canonry/internal/adapters/repository"
	"github.com/mireles/canonry/internal/adapters/source"
	"github.com/mireles/canonry/internal/compute"
	"github.com/mireles/canonry/internal/domain/scoring"
	"github.com/mireles/canonry/internal/domain/staleness"
	"github.com/mireles/canonry/internal/domain/types"
	"github.com/mireles/canonry/internal/orchestrator"
	"github.com/mireles/canonry/internal/reader"
	"github.com/mireles/canonry/pkg/logger"
	"github.com/mireles/canonry/pkg/metrics"
)

const shutdownTimeout = 30 * time.Second

// Service owns the component graph: durable store, catalog, memory tier,
// unit queue, worker pool, orchestrator, and cache reader. It implements
// the API dependencies for the scoring system.
type Service struct {
	mu sync.RWMutex

	// Core components
	repo       *repository.Client
	catalog    *source.SQLite
	memory     *memcache.Cache
	tracker    *staleness.Tracker
	unitQueue  *unitqueue.DelayQueue
	runner     *compute.Runner
	pool       *workerpool.Pool
	orch       *orchestrator.Orchestrator
	reader     *reader.Reader
	schedulers []*orchestrator.Scheduler

	// Configuration
	dbPath           string
	sourceDBPath     string
	workerCount      int
	queueSize        int
	maxAttempts      int
	retryBackoff     time.Duration
	unitSpacing      time.Duration
	aggregationDelay time.Duration
	unitBudget       time.Duration
	memoryTTL        time.Duration
	memoryMaxEntries int
	maxEntryAge      time.Duration
	inlineCompute    bool
	refreshSchedule  string
	refreshFamilies  []string

	// State
	started bool
	cancel  context.CancelFunc

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDatabasePath sets the durable score cache location.
func WithDatabasePath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.dbPath = path
		}
	}
}

// WithCatalogPath sets the work catalog location.
func WithCatalogPath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.sourceDBPath = path
		}
	}
}

// WithWorkerCount sets the number of unit workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize bounds outstanding units in the delay queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithMaxAttempts caps executions per unit.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the delay before a failed unit runs again.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retryBackoff = d
		}
	}
}

// WithUnitSpacing staggers compute units within one refresh sweep.
func WithUnitSpacing(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.unitSpacing = d
		}
	}
}

// WithAggregationDelay pads the aggregation unit past the last compute slot.
func WithAggregationDelay(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.aggregationDelay = d
		}
	}
}

// WithUnitBudget sets the wall-clock allowance for one unit execution.
func WithUnitBudget(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.unitBudget = d
		}
	}
}

// WithMemoryTTL expires entries in the in-memory cache tier.
func WithMemoryTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.memoryTTL = d
		}
	}
}

// WithMemoryMaxEntries bounds the in-memory cache tier.
func WithMemoryMaxEntries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.memoryMaxEntries = n
		}
	}
}

// WithMaxEntryAge sets the staleness horizon for cached scores.
func WithMaxEntryAge(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxEntryAge = d
		}
	}
}

// WithInlineCompute lets the read path compute missing scores inline.
// Development convenience only.
func WithInlineCompute(enabled bool) Option {
	return func(s *Service) {
		s.inlineCompute = enabled
	}
}

// WithRefreshSchedule enables periodic refresh sweeps for the given
// families. An empty spec leaves the scheduler off.
func WithRefreshSchedule(spec string, families []string) Option {
	return func(s *Service) {
		s.refreshSchedule = spec
		if len(families) > 0 {
			s.refreshFamilies = families
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		dbPath:           "canonry.db",
		sourceDBPath:     "catalog.db",
		workerCount:      runtime.NumCPU(),
		queueSize:        10_000,
		maxAttempts:      3,
		retryBackoff:     30 * time.Second,
		unitSpacing:      2 * time.Minute,
		aggregationDelay: 5 * time.Minute,
		unitBudget:       2 * time.Minute,
		memoryTTL:        5 * time.Minute,
		memoryMaxEntries: 1024,
		maxEntryAge:      24 * time.Hour,
		logger:           nil, // Will be replaced when service starts
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	// Initialize logger if not already set
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting scoring service...")

	// Background components outlive the caller's context; they stop on
	// Stop() via this cancel.
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	repo, err := repository.New(runCtx, s.dbPath)
	if err != nil {
		cancel()
		return fmt.Errorf("open score cache: %w", err)
	}
	s.repo = repo

	catalog, err := source.NewSQLite(runCtx, s.sourceDBPath)
	if err != nil {
		cancel()
		_ = repo.Close()
		return fmt.Errorf("open work catalog: %w", err)
	}
	s.catalog = catalog

	s.memory = memcache.New(
		memcache.WithTTL(s.memoryTTL),
		memcache.WithMaxEntries(s.memoryMaxEntries),
	)
	go s.memory.Run(runCtx)

	s.tracker = staleness.New(staleness.WithMaxAge(s.maxEntryAge))

	s.unitQueue = unitqueue.New(unitqueue.WithCapacity(s.queueSize))

	s.runner = compute.NewRunner(catalog, repo, compute.WithUnitBudget(s.unitBudget))

	s.orch = orchestrator.New(catalog, repo, s.unitQueue,
		orchestrator.WithUnitSpacing(s.unitSpacing),
		orchestrator.WithAggregationDelay(s.aggregationDelay),
	)

	// Construct schedulers before anything is running so a bad cron spec
	// fails startup cleanly.
	if s.refreshSchedule != "" {
		for _, family := range s.refreshFamilies {
			sched, err := orchestrator.NewScheduler(s.orch, repo, family, s.refreshSchedule)
			if err != nil {
				cancel()
				_ = catalog.Close()
				_ = repo.Close()
				return fmt.Errorf("refresh scheduler for %s: %w", family, err)
			}
			s.schedulers = append(s.schedulers, sched)
		}
	}

	s.pool = workerpool.NewPool(s.workerCount, s.unitQueue, s.runner,
		workerpool.WithLogger(s.logger),
		workerpool.WithMaxAttempts(s.maxAttempts),
		workerpool.WithRetryBackoff(s.retryBackoff),
	)
	s.pool.Start(runCtx)

	var readerOpts []reader.Option
	if s.inlineCompute {
		readerOpts = append(readerOpts, reader.WithInlineCompute(s.runner, s.unitQueue))
		s.logger.Warn(ctx, "inline compute enabled; cache misses will block on full scoring runs")
	}
	s.reader = reader.New(repo, catalog, s.memory, s.tracker, readerOpts...)

	for _, sched := range s.schedulers {
		sched.Start()
	}

	s.started = true
	s.logger.Info(ctx, "scoring service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.String("db", s.dbPath),
		logger.String("catalog", s.sourceDBPath),
		logger.Duration("maxEntryAge", s.maxEntryAge),
	)

	return nil
}

// Stop gracefully shuts down the service. Schedulers stop first so no new
// sweeps start, then the pool drains, then stores close.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping scoring service...")

	stopCtx, cancelStop := context.WithTimeout(ctx, shutdownTimeout)
	defer cancelStop()

	for _, sched := range s.schedulers {
		if err := sched.Stop(stopCtx); err != nil {
			s.logger.Warn(ctx, "scheduler stop timed out", logger.Error(err))
		}
	}
	s.schedulers = nil

	// Pool shutdown closes the unit queue and waits for in-flight units
	if s.pool != nil {
		if err := s.pool.Shutdown(stopCtx); err != nil {
			s.logger.Warn(ctx, "worker pool shutdown incomplete", logger.Error(err))
		}
	}

	// Halt the memory janitor and repository metrics loops
	if s.cancel != nil {
		s.cancel()
	}

	if s.catalog != nil {
		_ = s.catalog.Close()
	}
	if s.repo != nil {
		_ = s.repo.Close()
	}

	s.started = false
	s.logger.Info(ctx, "scoring service stopped")
}

// Read answers one partition lookup through the tiered cache.
func (s *Service) Read(ctx context.Context, family, partition string, configID int64) (types.ReadResult, error) {
	return s.reader.Read(ctx, family, partition, configID)
}

// Purge removes one cached row from the durable store and drops the
// corresponding memory tier entry so it cannot be served from there.
func (s *Service) Purge(ctx context.Context, partitionKey string, configID int64) error {
	if err := s.repo.Purge(ctx, partitionKey, configID); err != nil {
		return err
	}
	s.memory.Invalidate(partitionKey, configID)
	return nil
}

// Orchestrate triggers a full refresh sweep for a family.
func (s *Service) Orchestrate(ctx context.Context, family string, configID int64) (orchestrator.Run, error) {
	return s.orch.Orchestrate(ctx, family, configID)
}

// RetryFailed re-enqueues only the partitions whose last attempt failed.
func (s *Service) RetryFailed(ctx context.Context, family string, configID int64) (orchestrator.Run, error) {
	return s.orch.RetryFailed(ctx, family, configID)
}

// Status reports per-partition refresh progress.
func (s *Service) Status(ctx context.Context, family string, configID int64) (types.RefreshStatus, error) {
	return s.orch.Status(ctx, family, configID)
}

// ActiveConfig returns the family's single active configuration.
func (s *Service) ActiveConfig(ctx context.Context, family string) (scoring.Config, error) {
	return s.repo.ActiveConfig(ctx, family)
}

// CreateConfig stores a new draft configuration.
func (s *Service) CreateConfig(ctx context.Context, cfg scoring.Config) (scoring.Config, error) {
	return s.repo.CreateConfig(ctx, cfg)
}

// GetConfig fetches one configuration by id.
func (s *Service) GetConfig(ctx context.Context, id int64) (scoring.Config, error) {
	return s.repo.GetConfig(ctx, id)
}

// ListConfigs lists stored configurations, optionally filtered by family.
func (s *Service) ListConfigs(ctx context.Context, family string) ([]scoring.Config, error) {
	return s.repo.ListConfigs(ctx, family)
}

// ActivateConfig validates a configuration and makes it the family's
// active one. Subsequent unpinned reads resolve to it.
func (s *Service) ActivateConfig(ctx context.Context, id int64) (scoring.Config, error) {
	return s.repo.ActivateConfig(ctx, id)
}

// DeactivateConfig retires a configuration without activating another.
func (s *Service) DeactivateConfig(ctx context.Context, id int64) error {
	return s.repo.DeactivateConfig(ctx, id)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
	}

	if !s.started {
		return stats
	}

	queueDepth := s.unitQueue.Len(ctx)
	outstanding := s.unitQueue.Outstanding()
	memory := s.memory.Stats()

	stats["queueDepth"] = queueDepth
	stats["outstandingUnits"] = outstanding
	stats["memoryEntries"] = memory.Entries
	stats["memoryHits"] = memory.Hits
	stats["memoryMisses"] = memory.Misses
	stats["memoryEvictions"] = memory.Evictions

	if counts, err := s.repo.Counts(ctx); err == nil {
		stats["cacheEntries"] = counts["score_cache"]
		stats["configurations"] = counts["configurations"]
		stats["unitAttempts"] = counts["unit_attempts"]
		metrics.UpdateCacheEntryCount(counts["score_cache"])
		metrics.UpdateConfigurationCount(counts["configurations"])
	}

	metrics.UpdateQueueDepth(queueDepth)
	metrics.UpdateOutstandingUnits(outstanding)

	return stats
}

// Ping verifies the durable store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return fmt.Errorf("service not started")
	}
	return s.repo.Ping(ctx)
}
