package repository_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	repository "github.com/mireles/canonry/internal/adapters/repository"
	model "github.com/mireles/canonry/internal/domain/model"
	scoring "github.com/mireles/canonry/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func newClient(t *testing.T) *repository.Client {
	t.Helper()
	client, err := repository.New(context.Background(), filepath.Join(t.TempDir(), "canonry.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func draftConfig() scoring.Config {
	return scoring.Config{
		Name:   "baseline",
		Family: model.FamilyDecade,
		CategoryWeights: map[model.Category]float64{
			model.CategoryRatings:  0.6,
			model.CategoryAwards:   0.2,
			model.CategoryCultural: 0.2,
		},
		NormalizationMethod: scoring.MethodNone,
	}
}

func TestConfigLifecycle(t *testing.T) {
	ctx := context.Background()

	Convey("Given a configuration store", t, func() {
		client := newClient(t)

		Convey("Creating a draft assigns id and version", func() {
			created, err := client.CreateConfig(ctx, draftConfig())
			So(err, ShouldBeNil)
			So(created.ID, ShouldBeGreaterThan, 0)
			So(created.Version, ShouldEqual, 1)
			So(created.IsDraft, ShouldBeTrue)
			So(created.IsActive, ShouldBeFalse)
			So(created.DeployedAt.IsZero(), ShouldBeTrue)

			Convey("And versions are monotonic per family", func() {
				second, err := client.CreateConfig(ctx, draftConfig())
				So(err, ShouldBeNil)
				So(second.Version, ShouldEqual, 2)
			})

			Convey("And the draft can be read back intact", func() {
				got, err := client.GetConfig(ctx, created.ID)
				So(err, ShouldBeNil)
				So(got.Name, ShouldEqual, "baseline")
				So(got.Family, ShouldEqual, model.FamilyDecade)
				So(got.CategoryWeights[model.CategoryRatings], ShouldAlmostEqual, 0.6)
				So(got.NormalizationMethod, ShouldEqual, scoring.MethodNone)
			})
		})

		Convey("Creating with an unknown family is rejected", func() {
			cfg := draftConfig()
			cfg.Family = "genre"
			_, err := client.CreateConfig(ctx, cfg)
			So(errors.Is(err, scoring.ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("Reading an unknown id reports not found", func() {
			_, err := client.GetConfig(ctx, 9999)
			So(errors.Is(err, repository.ErrConfigNotFound), ShouldBeTrue)
		})

		Convey("Activation flips the draft into the family's single active configuration", func() {
			created, err := client.CreateConfig(ctx, draftConfig())
			So(err, ShouldBeNil)

			activated, err := client.ActivateConfig(ctx, created.ID)
			So(err, ShouldBeNil)
			So(activated.IsActive, ShouldBeTrue)
			So(activated.IsDraft, ShouldBeFalse)
			So(activated.DeployedAt.IsZero(), ShouldBeFalse)

			active, err := client.ActiveConfig(ctx, model.FamilyDecade)
			So(err, ShouldBeNil)
			So(active.ID, ShouldEqual, created.ID)

			Convey("And activating a second configuration displaces the first", func() {
				second, err := client.CreateConfig(ctx, draftConfig())
				So(err, ShouldBeNil)
				_, err = client.ActivateConfig(ctx, second.ID)
				So(err, ShouldBeNil)

				active, err := client.ActiveConfig(ctx, model.FamilyDecade)
				So(err, ShouldBeNil)
				So(active.ID, ShouldEqual, second.ID)

				first, err := client.GetConfig(ctx, created.ID)
				So(err, ShouldBeNil)
				So(first.IsActive, ShouldBeFalse)
			})

			Convey("And deactivation leaves the family with no active configuration", func() {
				So(client.DeactivateConfig(ctx, created.ID), ShouldBeNil)
				_, err := client.ActiveConfig(ctx, model.FamilyDecade)
				So(errors.Is(err, repository.ErrNoActiveConfig), ShouldBeTrue)
			})
		})

		Convey("Activating an invalid draft fails without mutating stored state", func() {
			cfg := draftConfig()
			cfg.CategoryWeights = map[model.Category]float64{model.CategoryRatings: 0.4}
			created, err := client.CreateConfig(ctx, cfg)
			So(err, ShouldBeNil)

			_, err = client.ActivateConfig(ctx, created.ID)
			So(errors.Is(err, scoring.ErrInvalidConfig), ShouldBeTrue)

			got, err := client.GetConfig(ctx, created.ID)
			So(err, ShouldBeNil)
			So(got.IsActive, ShouldBeFalse)
			So(got.IsDraft, ShouldBeTrue)
			So(got.DeployedAt.IsZero(), ShouldBeTrue)

			_, err = client.ActiveConfig(ctx, model.FamilyDecade)
			So(errors.Is(err, repository.ErrNoActiveConfig), ShouldBeTrue)
		})

		Convey("Listing filters by family", func() {
			_, err := client.CreateConfig(ctx, draftConfig())
			So(err, ShouldBeNil)
			studio := draftConfig()
			studio.Family = model.FamilyStudio
			_, err = client.CreateConfig(ctx, studio)
			So(err, ShouldBeNil)

			decadeOnly, err := client.ListConfigs(ctx, model.FamilyDecade)
			So(err, ShouldBeNil)
			So(len(decadeOnly), ShouldEqual, 1)

			all, err := client.ListConfigs(ctx, "")
			So(err, ShouldBeNil)
			So(len(all), ShouldEqual, 2)
		})
	})
}

func TestCacheEntries(t *testing.T) {
	ctx := context.Background()

	Convey("Given a durable cache with an active configuration", t, func() {
		client := newClient(t)
		cfg, err := client.CreateConfig(ctx, draftConfig())
		So(err, ShouldBeNil)

		key := model.PartitionKey(model.FamilyDecade, "1990")
		entry := repository.Entry{
			PartitionKey: key,
			ConfigID:     cfg.ID,
			Payload:      json.RawMessage(`{"items":[{"rank":1}]}`),
			Statistics:   model.Statistics{WorkCount: 12, MeanScore: 0.61},
			Metadata:     model.Metadata{ConfigID: cfg.ID, ConfigVersion: cfg.Version, EngineVersion: scoring.EngineVersion},
		}

		Convey("An upserted entry reads back intact", func() {
			So(client.UpsertEntry(ctx, entry), ShouldBeNil)

			got, err := client.GetEntry(ctx, key, cfg.ID)
			So(err, ShouldBeNil)
			So(string(got.Payload), ShouldEqual, `{"items":[{"rank":1}]}`)
			So(got.Statistics.WorkCount, ShouldEqual, 12)
			So(got.Metadata.EngineVersion, ShouldEqual, scoring.EngineVersion)
			So(got.CalculatedAt.IsZero(), ShouldBeFalse)
		})

		Convey("Upserting the same key twice keeps one row with the latest write", func() {
			first := entry
			first.CalculatedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
			So(client.UpsertEntry(ctx, first), ShouldBeNil)

			second := entry
			second.Payload = json.RawMessage(`{"items":[{"rank":1},{"rank":2}]}`)
			second.CalculatedAt = time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
			So(client.UpsertEntry(ctx, second), ShouldBeNil)

			counts, err := client.Counts(ctx)
			So(err, ShouldBeNil)
			So(counts["score_cache"], ShouldEqual, 1)

			got, err := client.GetEntry(ctx, key, cfg.ID)
			So(err, ShouldBeNil)
			So(string(got.Payload), ShouldEqual, `{"items":[{"rank":1},{"rank":2}]}`)
			So(got.CalculatedAt.UnixNano(), ShouldEqual, second.CalculatedAt.UnixNano())
		})

		Convey("Reading an absent key reports a cache miss", func() {
			_, err := client.GetEntry(ctx, model.PartitionKey(model.FamilyDecade, "1880"), cfg.ID)
			So(errors.Is(err, repository.ErrCacheMissing), ShouldBeTrue)

			_, err = client.EntryAge(ctx, model.PartitionKey(model.FamilyDecade, "1880"), cfg.ID)
			So(errors.Is(err, repository.ErrCacheMissing), ShouldBeTrue)
		})

		Convey("Entry age reflects calculated_at", func() {
			aged := entry
			aged.CalculatedAt = time.Now().Add(-2 * time.Hour)
			So(client.UpsertEntry(ctx, aged), ShouldBeNil)

			age, err := client.EntryAge(ctx, key, cfg.ID)
			So(err, ShouldBeNil)
			So(age, ShouldBeGreaterThan, time.Hour)
		})

		Convey("Family scans exclude the summary row", func() {
			So(client.UpsertEntry(ctx, entry), ShouldBeNil)

			other := entry
			other.PartitionKey = model.PartitionKey(model.FamilyDecade, "2000")
			So(client.UpsertEntry(ctx, other), ShouldBeNil)

			summary := entry
			summary.PartitionKey = model.SummaryKey(model.FamilyDecade)
			So(client.UpsertEntry(ctx, summary), ShouldBeNil)

			partitions, err := client.CachedPartitions(ctx, model.FamilyDecade, cfg.ID)
			So(err, ShouldBeNil)
			So(len(partitions), ShouldEqual, 2)
			So(partitions, ShouldContainKey, "1990")
			So(partitions, ShouldContainKey, "2000")

			entries, err := client.EntriesForFamily(ctx, model.FamilyDecade, cfg.ID)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 2)
		})

		Convey("Purge removes the row and purging again reports a miss", func() {
			So(client.UpsertEntry(ctx, entry), ShouldBeNil)
			So(client.Purge(ctx, key, cfg.ID), ShouldBeNil)

			_, err := client.GetEntry(ctx, key, cfg.ID)
			So(errors.Is(err, repository.ErrCacheMissing), ShouldBeTrue)
			So(errors.Is(client.Purge(ctx, key, cfg.ID), repository.ErrCacheMissing), ShouldBeTrue)
		})
	})
}

func TestAttemptTracking(t *testing.T) {
	ctx := context.Background()

	Convey("Given unit attempt records", t, func() {
		client := newClient(t)
		cfg, err := client.CreateConfig(ctx, draftConfig())
		So(err, ShouldBeNil)

		key1990 := model.PartitionKey(model.FamilyDecade, "1990")
		key2000 := model.PartitionKey(model.FamilyDecade, "2000")

		Convey("Failures surface in the failed partition list", func() {
			So(client.RecordFailure(ctx, key1990, cfg.ID, "source timeout"), ShouldBeNil)
			So(client.RecordSuccess(ctx, key2000, cfg.ID), ShouldBeNil)

			failed, err := client.FailedPartitions(ctx, model.FamilyDecade, cfg.ID)
			So(err, ShouldBeNil)
			So(failed, ShouldResemble, []string{"1990"})

			Convey("And a later success clears the failure", func() {
				So(client.RecordSuccess(ctx, key1990, cfg.ID), ShouldBeNil)

				failed, err := client.FailedPartitions(ctx, model.FamilyDecade, cfg.ID)
				So(err, ShouldBeNil)
				So(len(failed), ShouldEqual, 0)

				outcomes, err := client.AttemptOutcomes(ctx, model.FamilyDecade, cfg.ID)
				So(err, ShouldBeNil)
				So(outcomes["1990"].Attempts, ShouldEqual, 2)
				So(outcomes["1990"].Succeeded, ShouldBeTrue)
				So(outcomes["1990"].LastError, ShouldEqual, "")
			})
		})

		Convey("Outcome records keep the failure cause", func() {
			So(client.RecordFailure(ctx, key1990, cfg.ID, "panic in scorer"), ShouldBeNil)

			outcomes, err := client.AttemptOutcomes(ctx, model.FamilyDecade, cfg.ID)
			So(err, ShouldBeNil)
			So(outcomes["1990"].LastError, ShouldEqual, "panic in scorer")
			So(outcomes["1990"].Succeeded, ShouldBeFalse)
		})
	})
}
