// Package compute executes work units. A compute unit scores every work in
// one partition and writes the ranked result to the durable cache in a
// single upsert; an aggregation unit folds the finished partitions of a
// family into a cross-partition summary.
package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mireles/canonry/internal/adapters/repository"
	"github.com/mireles/canonry/internal/domain/model"
	"github.com/mireles/canonry/internal/domain/scoring"
	"github.com/mireles/canonry/pkg/logger"
	"github.com/mireles/canonry/pkg/metrics"
)

// Default runner configuration constants.
const (
	defaultUnitBudget  = 2 * time.Minute
	defaultTopListSize = 50
)

// Catalog supplies the corpus a unit reads. Computation never writes back.
type Catalog interface {
	Partitions(ctx context.Context, family string) ([]string, error)
	WorksForPartition(ctx context.Context, family, partition string) ([]model.Work, error)
}

// Store persists computed results and per-unit outcomes.
type Store interface {
	GetConfig(ctx context.Context, id int64) (scoring.Config, error)
	UpsertEntry(ctx context.Context, e repository.Entry) error
	EntriesForFamily(ctx context.Context, family string, configID int64) ([]repository.Entry, error)
	RecordSuccess(ctx context.Context, partitionKey string, configID int64) error
	RecordFailure(ctx context.Context, partitionKey string, configID int64, cause string) error
}

// Runner executes units within a wall-clock budget. Results materialize in
// memory first; the cache write happens once, at the end, so a failed unit
// leaves no partial row behind.
type Runner struct {
	catalog Catalog
	store   Store
	budget  time.Duration
	topSize int

	logger logger.Logger
}

// Option applies a configuration option to the Runner.
type Option func(*Runner)

// WithUnitBudget bounds the wall-clock time one unit may take. Partitions
// that cannot fit the budget need finer partitioning, not a longer budget.
func WithUnitBudget(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.budget = d
		}
	}
}

// WithTopListSize sets how many works the family summary's overall list
// keeps.
func WithTopListSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.topSize = n
		}
	}
}

// NewRunner creates a Runner with the given options.
func NewRunner(catalog Catalog, store Store, opts ...Option) *Runner {
	r := &Runner{
		catalog: catalog,
		store:   store,
		budget:  defaultUnitBudget,
		topSize: defaultTopListSize,
		logger:  logger.Get().Named("compute"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle runs one unit to completion and records the outcome against the
// unit's cache key.
func (r *Runner) Handle(ctx context.Context, u model.WorkUnit) error {
	budgetCtx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()

	var err error
	switch u.Kind {
	case model.UnitCompute:
		err = r.computePartition(budgetCtx, u)
	case model.UnitAggregate:
		err = r.aggregateFamily(budgetCtx, u)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownUnitKind, u.Kind)
	}

	key := u.CacheKey()
	if err != nil {
		metrics.RecordErrorByComponent("compute", string(u.Kind))
		if recErr := r.store.RecordFailure(ctx, key, u.ConfigID, err.Error()); recErr != nil {
			r.logger.Error(ctx, "recording unit failure failed",
				logger.String("key", key),
				logger.Error(recErr),
			)
		}
		return err
	}

	return r.store.RecordSuccess(ctx, key, u.ConfigID)
}

// computePartition scores one partition under the unit's configuration and
// upserts the ranked result.
func (r *Runner) computePartition(ctx context.Context, u model.WorkUnit) error {
	start := time.Now()
	key := model.PartitionKey(u.Family, u.Partition)

	cfg, err := r.store.GetConfig(ctx, u.ConfigID)
	if err != nil {
		return fmt.Errorf("loading configuration %d: %w", u.ConfigID, err)
	}

	works, err := r.catalog.WorksForPartition(ctx, u.Family, u.Partition)
	if err != nil {
		return fmt.Errorf("loading works for %s: %w", key, err)
	}

	engine, err := scoring.NewEngine(cfg, scoring.BuildPopulation(works))
	if err != nil {
		return err
	}

	items := make([]model.RankedItem, 0, len(works))
	for i := range works {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("budget exhausted scoring %s: %w", key, err)
		}
		result := engine.Score(works[i])
		items = append(items, model.RankedItem{
			WorkID:    works[i].ID,
			Title:     works[i].Title,
			Year:      works[i].Year,
			Score:     result.Total,
			Breakdown: result.Breakdown,
		})
	}
	metrics.RecordWorksScored(len(items))

	rank(items)

	payload, err := json.Marshal(model.RankedList{
		Family:    u.Family,
		Partition: u.Partition,
		Items:     items,
	})
	if err != nil {
		return fmt.Errorf("encoding ranking for %s: %w", key, err)
	}

	entry := repository.Entry{
		PartitionKey: key,
		ConfigID:     u.ConfigID,
		Payload:      payload,
		Statistics:   summarize(items),
		Metadata: model.Metadata{
			ConfigID:        cfg.ID,
			ConfigVersion:   cfg.Version,
			OrchestrationID: u.OrchestrationID,
			EngineVersion:   scoring.EngineVersion,
			ComputeMillis:   time.Since(start).Milliseconds(),
		},
		CalculatedAt: time.Now(),
	}
	if err := r.store.UpsertEntry(ctx, entry); err != nil {
		return fmt.Errorf("writing cache entry for %s: %w", key, err)
	}

	r.logger.Info(ctx, "partition computed",
		logger.String("key", key),
		logger.Int64("config", u.ConfigID),
		logger.Int("works", len(items)),
		logger.Int64("millis", entry.Metadata.ComputeMillis),
	)
	return nil
}

// aggregateFamily folds every cached partition of the family into one
// summary entry. Partitions without a cache row are listed as missing, not
// skipped silently.
func (r *Runner) aggregateFamily(ctx context.Context, u model.WorkUnit) error {
	start := time.Now()

	cfg, err := r.store.GetConfig(ctx, u.ConfigID)
	if err != nil {
		return fmt.Errorf("loading configuration %d: %w", u.ConfigID, err)
	}

	expected, err := r.catalog.Partitions(ctx, u.Family)
	if err != nil {
		return fmt.Errorf("enumerating partitions for %s: %w", u.Family, err)
	}

	entries, err := r.store.EntriesForFamily(ctx, u.Family, u.ConfigID)
	if err != nil {
		return fmt.Errorf("loading cached partitions for %s: %w", u.Family, err)
	}

	present := make(map[string]bool, len(entries))
	summaries := make([]model.PartitionSummary, 0, len(entries))
	var all []model.RankedItem
	for _, entry := range entries {
		partition := strings.TrimPrefix(entry.PartitionKey, u.Family+":")
		present[partition] = true
		summaries = append(summaries, model.PartitionSummary{
			Partition: partition,
			WorkCount: entry.Statistics.WorkCount,
			MeanScore: entry.Statistics.MeanScore,
			MaxScore:  entry.Statistics.MaxScore,
		})

		var list model.RankedList
		if err := json.Unmarshal(entry.Payload, &list); err != nil {
			return fmt.Errorf("decoding ranking for %s: %w", entry.PartitionKey, err)
		}
		all = append(all, list.Items...)
	}

	var missing []string
	for _, partition := range expected {
		if !present[partition] {
			missing = append(missing, partition)
		}
	}

	rank(all)
	top := all
	if len(top) > r.topSize {
		top = top[:r.topSize]
	}

	payload, err := json.Marshal(model.FamilySummary{
		Family:            u.Family,
		GeneratedAt:       time.Now(),
		Partitions:        summaries,
		TopOverall:        top,
		MissingPartitions: missing,
	})
	if err != nil {
		return fmt.Errorf("encoding summary for %s: %w", u.Family, err)
	}

	entry := repository.Entry{
		PartitionKey: model.SummaryKey(u.Family),
		ConfigID:     u.ConfigID,
		Payload:      payload,
		Statistics:   summarize(all),
		Metadata: model.Metadata{
			ConfigID:        cfg.ID,
			ConfigVersion:   cfg.Version,
			OrchestrationID: u.OrchestrationID,
			EngineVersion:   scoring.EngineVersion,
			ComputeMillis:   time.Since(start).Milliseconds(),
		},
		CalculatedAt: time.Now(),
	}
	if err := r.store.UpsertEntry(ctx, entry); err != nil {
		return fmt.Errorf("writing summary entry for %s: %w", u.Family, err)
	}

	r.logger.Info(ctx, "family aggregated",
		logger.String("family", u.Family),
		logger.Int64("config", u.ConfigID),
		logger.Int("partitions", len(summaries)),
		logger.Int("missing", len(missing)),
	)
	return nil
}

// rank orders items best first and stamps ranks. Ties break by title, then
// work id, so repeated runs produce identical output.
func rank(items []model.RankedItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if items[i].Title != items[j].Title {
			return items[i].Title < items[j].Title
		}
		return items[i].WorkID < items[j].WorkID
	})
	for i := range items {
		items[i].Rank = i + 1
	}
}

// summarize computes descriptive statistics over ranked items.
func summarize(items []model.RankedItem) model.Statistics {
	if len(items) == 0 {
		return model.Statistics{}
	}

	min, max := items[0].Score, items[0].Score
	sum := 0.0
	for _, item := range items {
		if item.Score < min {
			min = item.Score
		}
		if item.Score > max {
			max = item.Score
		}
		sum += item.Score
	}
	mean := sum / float64(len(items))

	variance := 0.0
	for _, item := range items {
		d := item.Score - mean
		variance += d * d
	}
	variance /= float64(len(items))

	return model.Statistics{
		WorkCount: len(items),
		MeanScore: mean,
		MinScore:  min,
		MaxScore:  max,
		StdDev:    math.Sqrt(variance),
	}
}
