// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"time"
)

// Category identifies one scoring dimension of a work. The set is closed:
// configurations referencing a category outside Categories() fail validation.
type Category string

// The closed category set.
const (
	CategoryRatings    Category = "ratings"
	CategoryPopularity Category = "popularity"
	CategoryAwards     Category = "awards"
	CategoryCultural   Category = "cultural"
	CategoryLongevity  Category = "longevity"
)

// Scale declares the raw value range a category is reported in. Normalization
// rescales raw values into [0,1] using this range.
type Scale struct {
	Floor   float64
	Ceiling float64
}

var categoryScales = map[Category]Scale{
	CategoryRatings:    {Floor: 0, Ceiling: 10},  // mean audience rating
	CategoryPopularity: {Floor: 0, Ceiling: 100}, // popularity index
	CategoryAwards:     {Floor: 0, Ceiling: 20},  // weighted award points
	CategoryCultural:   {Floor: 0, Ceiling: 100}, // cultural-impact index
	CategoryLongevity:  {Floor: 0, Ceiling: 100}, // sustained-interest index
}

// Categories returns the closed category set in stable order.
func Categories() []Category {
	return []Category{
		CategoryRatings,
		CategoryPopularity,
		CategoryAwards,
		CategoryCultural,
		CategoryLongevity,
	}
}

// KnownCategory reports whether c is part of the closed set.
func KnownCategory(c Category) bool {
	_, ok := categoryScales[c]
	return ok
}

// CategoryScale returns the declared raw scale for c. Unknown categories get
// the unit scale so callers degrade predictably instead of dividing by zero.
func CategoryScale(c Category) Scale {
	if s, ok := categoryScales[c]; ok {
		return s
	}
	return Scale{Floor: 0, Ceiling: 1}
}

// Computation families. A family fixes how the work corpus is partitioned.
const (
	FamilyDecade = "decade"
	FamilyStudio = "studio"
)

// Families returns the known computation families.
func Families() []string {
	return []string{FamilyDecade, FamilyStudio}
}

// KnownFamily reports whether f is a supported computation family.
func KnownFamily(f string) bool {
	return f == FamilyDecade || f == FamilyStudio
}

// SummaryPartition is the reserved partition name under which the
// cross-partition aggregation result is cached for a family.
const SummaryPartition = "all"

// PartitionKey builds the durable cache key prefix for one partition of a
// family, e.g. "decade:1990".
func PartitionKey(family, partition string) string {
	return fmt.Sprintf("%s:%s", family, partition)
}

// SummaryKey builds the cache key for a family's aggregation entry.
func SummaryKey(family string) string {
	return PartitionKey(family, SummaryPartition)
}

// Work is one scored entity: a film/title record with per-category raw
// values. Values only holds categories the source actually reported; a
// missing key means missing data, resolved by the configuration's
// missing-data strategy.
type Work struct {
	ID      string
	Title   string
	Year    int
	Decade  string
	Studio  string
	Values  map[Category]float64
	Samples map[Category]int64 // evidence counts (e.g. votes behind a rating)

	UpdatedAt time.Time // last source mutation for this record
}

// Value returns the raw value for c and whether it was reported.
func (w Work) Value(c Category) (float64, bool) {
	v, ok := w.Values[c]
	return v, ok
}

// SampleCount returns the evidence count backing category c, 0 if unknown.
func (w Work) SampleCount(c Category) int64 {
	return w.Samples[c]
}

// UnitKind discriminates the two job types the orchestrator schedules.
type UnitKind string

const (
	// UnitCompute scores one partition and upserts its cache entry.
	UnitCompute UnitKind = "compute"
	// UnitAggregate runs the trailing cross-partition aggregation.
	UnitAggregate UnitKind = "aggregate"
)

// WorkUnit is the job argument bundle for one schedulable computation.
// It is ephemeral: it exists only inside the job queue and is consumed
// exactly once per delivery; nothing persists it.
type WorkUnit struct {
	ID              string // job id, unique per enqueue
	Kind            UnitKind
	Family          string
	Partition       string
	ConfigID        int64
	OrchestrationID string // correlates units of one refresh sweep
	Attempt         int    // delivery attempt, starting at 1
	EnqueuedAt      time.Time
}

// DedupeKey identifies logically-equal outstanding work. Two units with the
// same key must never be queued or executing at the same time.
func (u WorkUnit) DedupeKey() string {
	return fmt.Sprintf("%s|%s|%s|%d", u.Kind, u.Family, u.Partition, u.ConfigID)
}

// CacheKey returns the durable cache key this unit writes to.
func (u WorkUnit) CacheKey() string {
	if u.Kind == UnitAggregate {
		return SummaryKey(u.Family)
	}
	return PartitionKey(u.Family, u.Partition)
}
