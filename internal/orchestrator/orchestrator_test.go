package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/mireles/canonry/internal/adapters/mq/queue"
	"github.com/mireles/canonry/internal/adapters/repository"
	"github.com/mireles/canonry/internal/domain/model"
	"github.com/mireles/canonry/internal/domain/scoring"
	"github.com/mireles/canonry/internal/domain/types"
	"github.com/mireles/canonry/internal/orchestrator"
	logging "github.com/mireles/canonry/pkg/logger"
)

type fakeCatalog struct {
	partitions []string
}

func (f *fakeCatalog) Partitions(ctx context.Context, family string) ([]string, error) {
	return f.partitions, nil
}

type fakeStore struct {
	cfg           scoring.Config
	cached        map[string]time.Time
	failed        []string
	attempts      map[string]repository.AttemptRecord
	summaryExists bool
}

func (f *fakeStore) GetConfig(ctx context.Context, id int64) (scoring.Config, error) {
	if id != f.cfg.ID {
		return scoring.Config{}, repository.ErrConfigNotFound
	}
	return f.cfg, nil
}

func (f *fakeStore) GetEntry(ctx context.Context, partitionKey string, configID int64) (repository.Entry, error) {
	if f.summaryExists && partitionKey == model.SummaryKey(f.cfg.Family) {
		return repository.Entry{PartitionKey: partitionKey, ConfigID: configID}, nil
	}
	return repository.Entry{}, repository.ErrCacheMissing
}

func (f *fakeStore) CachedPartitions(ctx context.Context, family string, configID int64) (map[string]time.Time, error) {
	return f.cached, nil
}

func (f *fakeStore) FailedPartitions(ctx context.Context, family string, configID int64) ([]string, error) {
	return f.failed, nil
}

func (f *fakeStore) AttemptOutcomes(ctx context.Context, family string, configID int64) (map[string]repository.AttemptRecord, error) {
	return f.attempts, nil
}

type enqueueCall struct {
	unit  model.WorkUnit
	runAt time.Time
}

type fakeQueue struct {
	mu     sync.Mutex
	calls  []enqueueCall
	states map[string]queue.State
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{states: make(map[string]queue.State)}
}

func (f *fakeQueue) EnqueueIfAbsent(ctx context.Context, u model.WorkUnit, runAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, seen := f.states[u.DedupeKey()]; seen {
		return false, nil
	}
	f.states[u.DedupeKey()] = queue.StateQueued
	f.calls = append(f.calls, enqueueCall{unit: u, runAt: runAt})
	return true, nil
}

func (f *fakeQueue) State(dedupeKey string) (queue.State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[dedupeKey]
	return s, ok
}

func decadeStore() *fakeStore {
	return &fakeStore{
		cfg: scoring.Config{
			ID:                  1,
			Version:             1,
			Family:              model.FamilyDecade,
			CategoryWeights:     map[model.Category]float64{model.CategoryRatings: 1.0},
			NormalizationMethod: scoring.MethodNone,
		},
		cached:   map[string]time.Time{},
		attempts: map[string]repository.AttemptRecord{},
	}
}

func TestOrchestrate(t *testing.T) {
	Convey("Given three partitions and a fixed clock", t, func() {
		_ = logging.Init()

		base := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
		catalog := &fakeCatalog{partitions: []string{"1980", "1990", "2000"}}
		store := decadeStore()
		fq := newFakeQueue()
		orch := orchestrator.New(catalog, store, fq,
			orchestrator.WithUnitSpacing(2*time.Minute),
			orchestrator.WithAggregationDelay(5*time.Minute),
			orchestrator.WithClock(func() time.Time { return base }),
		)

		Convey("When a sweep is orchestrated", func() {
			run, err := orch.Orchestrate(context.Background(), model.FamilyDecade, 1)
			So(err, ShouldBeNil)

			Convey("Then one unit per partition plus the aggregation is queued", func() {
				So(run.UnitsQueued, ShouldEqual, 4)
				So(run.ID, ShouldNotBeEmpty)
				So(fq.calls, ShouldHaveLength, 4)
			})

			Convey("Then release times are spaced, with the aggregation trailing", func() {
				So(fq.calls[0].runAt.Equal(base), ShouldBeTrue)
				So(fq.calls[1].runAt.Equal(base.Add(2*time.Minute)), ShouldBeTrue)
				So(fq.calls[2].runAt.Equal(base.Add(4*time.Minute)), ShouldBeTrue)
				So(fq.calls[3].unit.Kind, ShouldEqual, model.UnitAggregate)
				So(fq.calls[3].runAt.Equal(base.Add(6*time.Minute+5*time.Minute)), ShouldBeTrue)
			})

			Convey("Then every unit carries the run id", func() {
				for _, call := range fq.calls {
					So(call.unit.OrchestrationID, ShouldEqual, run.ID)
				}
			})

			Convey("And a duplicate sweep queues nothing", func() {
				again, err := orch.Orchestrate(context.Background(), model.FamilyDecade, 1)
				So(err, ShouldBeNil)
				So(again.UnitsQueued, ShouldEqual, 0)
				So(fq.calls, ShouldHaveLength, 4)
			})
		})

		Convey("When the family is unknown", func() {
			_, err := orch.Orchestrate(context.Background(), "continent", 1)
			So(errors.Is(err, orchestrator.ErrUnknownFamily), ShouldBeTrue)
		})

		Convey("When the configuration belongs to another family", func() {
			store.cfg.Family = model.FamilyStudio
			_, err := orch.Orchestrate(context.Background(), model.FamilyDecade, 1)
			So(errors.Is(err, orchestrator.ErrFamilyMismatch), ShouldBeTrue)
		})

		Convey("When the configuration does not exist", func() {
			_, err := orch.Orchestrate(context.Background(), model.FamilyDecade, 9)
			So(errors.Is(err, repository.ErrConfigNotFound), ShouldBeTrue)
		})
	})
}

func TestOrchestrateAgainstRealQueue(t *testing.T) {
	Convey("Given a real delay queue with far-future releases", t, func() {
		_ = logging.Init()

		catalog := &fakeCatalog{partitions: []string{"1980", "1990", "2000"}}
		store := decadeStore()
		dq := queue.New(queue.WithCapacity(100))
		defer dq.Close()

		orch := orchestrator.New(catalog, store, dq,
			orchestrator.WithUnitSpacing(time.Hour),
			orchestrator.WithAggregationDelay(time.Hour),
		)

		Convey("When the same sweep runs twice", func() {
			first, err := orch.Orchestrate(context.Background(), model.FamilyDecade, 1)
			So(err, ShouldBeNil)
			second, err := orch.Orchestrate(context.Background(), model.FamilyDecade, 1)
			So(err, ShouldBeNil)

			Convey("Then the queue holds exactly one unit per partition plus the aggregation", func() {
				So(first.UnitsQueued, ShouldEqual, 4)
				So(second.UnitsQueued, ShouldEqual, 0)
				So(dq.Outstanding(), ShouldEqual, 4)
			})
		})
	})
}

func TestRetryFailed(t *testing.T) {
	Convey("Given a family where one partition is missing and one failed", t, func() {
		_ = logging.Init()

		base := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
		catalog := &fakeCatalog{partitions: []string{"1980", "1990", "2000"}}
		store := decadeStore()
		store.cached = map[string]time.Time{"1990": base, "2000": base}
		store.failed = []string{"2000"}
		fq := newFakeQueue()
		orch := orchestrator.New(catalog, store, fq,
			orchestrator.WithUnitSpacing(2*time.Minute),
			orchestrator.WithAggregationDelay(5*time.Minute),
			orchestrator.WithClock(func() time.Time { return base }),
		)

		Convey("When failed partitions are retried", func() {
			run, err := orch.RetryFailed(context.Background(), model.FamilyDecade, 1)
			So(err, ShouldBeNil)

			Convey("Then only the reduced set is queued, spacing intact", func() {
				So(run.UnitsQueued, ShouldEqual, 3)
				So(fq.calls[0].unit.Partition, ShouldEqual, "1980")
				So(fq.calls[0].runAt.Equal(base), ShouldBeTrue)
				So(fq.calls[1].unit.Partition, ShouldEqual, "2000")
				So(fq.calls[1].runAt.Equal(base.Add(2*time.Minute)), ShouldBeTrue)
				So(fq.calls[2].unit.Kind, ShouldEqual, model.UnitAggregate)
			})
		})

		Convey("When nothing is missing or failed", func() {
			store.cached = map[string]time.Time{"1980": base, "1990": base, "2000": base}
			store.failed = nil
			run, err := orch.RetryFailed(context.Background(), model.FamilyDecade, 1)

			Convey("Then the sweep is empty", func() {
				So(err, ShouldBeNil)
				So(run.UnitsQueued, ShouldEqual, 0)
				So(fq.calls, ShouldBeEmpty)
			})
		})
	})
}

func TestStatus(t *testing.T) {
	Convey("Given partitions in every state", t, func() {
		_ = logging.Init()

		catalog := &fakeCatalog{partitions: []string{"1970", "1980", "1990", "2000"}}
		store := decadeStore()
		store.cached = map[string]time.Time{"1990": time.Now()}
		store.attempts = map[string]repository.AttemptRecord{
			"1980": {Attempts: 3, Succeeded: false, LastError: "source unavailable"},
			"1990": {Attempts: 1, Succeeded: true},
		}
		store.summaryExists = true
		fq := newFakeQueue()
		fq.states[model.WorkUnit{
			Kind: model.UnitCompute, Family: model.FamilyDecade, Partition: "1970", ConfigID: 1,
		}.DedupeKey()] = queue.StateRunning

		orch := orchestrator.New(catalog, store, fq)

		Convey("When status is read", func() {
			status, err := orch.Status(context.Background(), model.FamilyDecade, 1)
			So(err, ShouldBeNil)

			Convey("Then each partition reports its own state", func() {
				So(status.Partitions["1970"], ShouldEqual, types.StateRunning)
				So(status.Partitions["1980"], ShouldEqual, types.StateFailed)
				So(status.Partitions["1990"], ShouldEqual, types.StateCompleted)
				So(status.Partitions["2000"], ShouldEqual, types.StateMissing)
			})

			Convey("Then counts and the aggregation flag line up", func() {
				So(status.Counts[types.StateRunning], ShouldEqual, 1)
				So(status.Counts[types.StateFailed], ShouldEqual, 1)
				So(status.Counts[types.StateCompleted], ShouldEqual, 1)
				So(status.Counts[types.StateMissing], ShouldEqual, 1)
				So(status.Aggregated, ShouldBeTrue)
				So(status.Done(), ShouldBeFalse)
			})
		})
	})
}
