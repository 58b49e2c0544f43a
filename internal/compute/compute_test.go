package compute_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/mireles/canonry/internal/adapters/repository"
	"github.com/mireles/canonry/internal/compute"
	"github.com/mireles/canonry/internal/domain/model"
	"github.com/mireles/canonry/internal/domain/scoring"
	logging "github.com/mireles/canonry/pkg/logger"
)

type fakeCatalog struct {
	partitions map[string][]string
	works      map[string][]model.Work
	err        error
}

func (f *fakeCatalog) Partitions(ctx context.Context, family string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.partitions[family], nil
}

func (f *fakeCatalog) WorksForPartition(ctx context.Context, family, partition string) ([]model.Work, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.works[model.PartitionKey(family, partition)], nil
}

type fakeStore struct {
	mu        sync.Mutex
	configs   map[int64]scoring.Config
	entries   map[string]repository.Entry
	successes []string
	failures  map[string]string
}

func newFakeStore(cfg scoring.Config) *fakeStore {
	return &fakeStore{
		configs:  map[int64]scoring.Config{cfg.ID: cfg},
		entries:  make(map[string]repository.Entry),
		failures: make(map[string]string),
	}
}

func (f *fakeStore) GetConfig(ctx context.Context, id int64) (scoring.Config, error) {
	cfg, ok := f.configs[id]
	if !ok {
		return scoring.Config{}, repository.ErrConfigNotFound
	}
	return cfg, nil
}

func (f *fakeStore) UpsertEntry(ctx context.Context, e repository.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[e.PartitionKey] = e
	return nil
}

func (f *fakeStore) EntriesForFamily(ctx context.Context, family string, configID int64) ([]repository.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.Entry
	for key, e := range f.entries {
		if key == model.SummaryKey(family) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) RecordSuccess(ctx context.Context, partitionKey string, configID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes = append(f.successes, partitionKey)
	return nil
}

func (f *fakeStore) RecordFailure(ctx context.Context, partitionKey string, configID int64, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[partitionKey] = cause
	return nil
}

func (f *fakeStore) entry(key string) (repository.Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	return e, ok
}

func ratingsOnlyConfig() scoring.Config {
	return scoring.Config{
		ID:                  1,
		Version:             1,
		Name:                "ratings straight through",
		Family:              model.FamilyDecade,
		CategoryWeights:     map[model.Category]float64{model.CategoryRatings: 1.0},
		NormalizationMethod: scoring.MethodNone,
	}
}

func ratedWork(id, title string, rating float64) model.Work {
	return model.Work{
		ID:     id,
		Title:  title,
		Year:   1994,
		Decade: "1990",
		Values: map[model.Category]float64{model.CategoryRatings: rating},
	}
}

func computeUnit(partition string) model.WorkUnit {
	return model.WorkUnit{
		ID:              "unit-" + partition,
		Kind:            model.UnitCompute,
		Family:          model.FamilyDecade,
		Partition:       partition,
		ConfigID:        1,
		OrchestrationID: "run-42",
		Attempt:         1,
	}
}

func TestComputeUnit(t *testing.T) {
	Convey("Given a runner over a seeded catalog", t, func() {
		_ = logging.Init()

		catalog := &fakeCatalog{
			partitions: map[string][]string{model.FamilyDecade: {"1990"}},
			works: map[string][]model.Work{
				"decade:1990": {
					ratedWork("w-1", "The Long Harvest", 9.0),
					ratedWork("w-2", "Glass Orchard", 5.0),
					ratedWork("w-3", "Northern Signal", 7.0),
				},
			},
		}
		store := newFakeStore(ratingsOnlyConfig())
		runner := compute.NewRunner(catalog, store)

		Convey("When a compute unit runs", func() {
			err := runner.Handle(context.Background(), computeUnit("1990"))
			So(err, ShouldBeNil)

			entry, ok := store.entry("decade:1990")
			So(ok, ShouldBeTrue)

			Convey("Then the payload ranks works best first", func() {
				var list model.RankedList
				So(json.Unmarshal(entry.Payload, &list), ShouldBeNil)
				So(list.Items, ShouldHaveLength, 3)
				So(list.Items[0].WorkID, ShouldEqual, "w-1")
				So(list.Items[0].Rank, ShouldEqual, 1)
				So(list.Items[0].Score, ShouldAlmostEqual, 0.9, 1e-9)
				So(list.Items[1].WorkID, ShouldEqual, "w-3")
				So(list.Items[2].WorkID, ShouldEqual, "w-2")
			})

			Convey("Then statistics describe the scores", func() {
				So(entry.Statistics.WorkCount, ShouldEqual, 3)
				So(entry.Statistics.MeanScore, ShouldAlmostEqual, 0.7, 1e-9)
				So(entry.Statistics.MinScore, ShouldAlmostEqual, 0.5, 1e-9)
				So(entry.Statistics.MaxScore, ShouldAlmostEqual, 0.9, 1e-9)
			})

			Convey("Then metadata carries provenance", func() {
				So(entry.Metadata.ConfigID, ShouldEqual, 1)
				So(entry.Metadata.ConfigVersion, ShouldEqual, 1)
				So(entry.Metadata.OrchestrationID, ShouldEqual, "run-42")
				So(entry.Metadata.EngineVersion, ShouldEqual, scoring.EngineVersion)
				So(entry.CalculatedAt.IsZero(), ShouldBeFalse)
			})

			Convey("Then the attempt is recorded as a success", func() {
				So(store.successes, ShouldContain, "decade:1990")
			})
		})

		Convey("When the partition is empty", func() {
			err := runner.Handle(context.Background(), computeUnit("1970"))
			So(err, ShouldBeNil)

			Convey("Then an empty ranking is still cached", func() {
				entry, ok := store.entry("decade:1970")
				So(ok, ShouldBeTrue)
				So(entry.Statistics.WorkCount, ShouldEqual, 0)

				var list model.RankedList
				So(json.Unmarshal(entry.Payload, &list), ShouldBeNil)
				So(list.Items, ShouldBeEmpty)
			})
		})

		Convey("When the configuration does not exist", func() {
			unit := computeUnit("1990")
			unit.ConfigID = 99
			err := runner.Handle(context.Background(), unit)

			Convey("Then the unit fails without writing", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, repository.ErrConfigNotFound), ShouldBeTrue)
				_, ok := store.entry("decade:1990")
				So(ok, ShouldBeFalse)
				So(store.failures["decade:1990"], ShouldNotBeEmpty)
			})
		})

		Convey("When the catalog fails", func() {
			catalog.err = errors.New("source unavailable")
			err := runner.Handle(context.Background(), computeUnit("1990"))

			Convey("Then no cache row appears and the failure is recorded", func() {
				So(err, ShouldNotBeNil)
				_, ok := store.entry("decade:1990")
				So(ok, ShouldBeFalse)
				So(store.failures["decade:1990"], ShouldContainSubstring, "source unavailable")
			})
		})

		Convey("When the budget is already spent", func() {
			tight := compute.NewRunner(catalog, store, compute.WithUnitBudget(time.Nanosecond))
			time.Sleep(time.Millisecond)
			err := tight.Handle(context.Background(), computeUnit("1990"))

			Convey("Then the unit fails all-or-nothing", func() {
				So(err, ShouldNotBeNil)
				_, ok := store.entry("decade:1990")
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When the unit kind is unknown", func() {
			unit := computeUnit("1990")
			unit.Kind = model.UnitKind("vacuum")
			err := runner.Handle(context.Background(), unit)

			Convey("Then the runner rejects it", func() {
				So(errors.Is(err, compute.ErrUnknownUnitKind), ShouldBeTrue)
			})
		})
	})
}

func TestAggregateUnit(t *testing.T) {
	Convey("Given cached rankings for two of three partitions", t, func() {
		_ = logging.Init()

		catalog := &fakeCatalog{
			partitions: map[string][]string{model.FamilyDecade: {"1980", "1990", "2000"}},
			works: map[string][]model.Work{
				"decade:1990": {ratedWork("w-1", "The Long Harvest", 9.0)},
				"decade:2000": {ratedWork("w-4", "Quiet Anthem", 8.0)},
			},
		}
		store := newFakeStore(ratingsOnlyConfig())
		runner := compute.NewRunner(catalog, store, compute.WithTopListSize(1))

		So(runner.Handle(context.Background(), computeUnit("1990")), ShouldBeNil)
		So(runner.Handle(context.Background(), computeUnit("2000")), ShouldBeNil)

		Convey("When the aggregation unit runs", func() {
			unit := model.WorkUnit{
				ID:              "unit-agg",
				Kind:            model.UnitAggregate,
				Family:          model.FamilyDecade,
				Partition:       model.SummaryPartition,
				ConfigID:        1,
				OrchestrationID: "run-42",
			}
			So(runner.Handle(context.Background(), unit), ShouldBeNil)

			entry, ok := store.entry(model.SummaryKey(model.FamilyDecade))
			So(ok, ShouldBeTrue)

			var summary model.FamilySummary
			So(json.Unmarshal(entry.Payload, &summary), ShouldBeNil)

			Convey("Then the uncached partition is surfaced as missing", func() {
				So(summary.MissingPartitions, ShouldResemble, []string{"1980"})
				So(summary.Partitions, ShouldHaveLength, 2)
			})

			Convey("Then the overall list is bounded and re-ranked", func() {
				So(summary.TopOverall, ShouldHaveLength, 1)
				So(summary.TopOverall[0].WorkID, ShouldEqual, "w-1")
				So(summary.TopOverall[0].Rank, ShouldEqual, 1)
			})

			Convey("Then summary statistics span every cached work", func() {
				So(entry.Statistics.WorkCount, ShouldEqual, 2)
				So(entry.Statistics.MaxScore, ShouldAlmostEqual, 0.9, 1e-9)
				So(entry.Statistics.MinScore, ShouldAlmostEqual, 0.8, 1e-9)
			})

			Convey("Then the outcome is recorded under the summary key", func() {
				So(store.successes, ShouldContain, model.SummaryKey(model.FamilyDecade))
			})
		})
	})
}
