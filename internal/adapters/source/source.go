// Package source adapts the works corpus this service scores but does not
// own. The corpus sits in its own SQLite database, maintained by ingestion
// tooling outside this service; everything here is read-side except the
// seeding helper used by development tooling.
package source

import (
	"context"
	"time"

	"github.com/mireles/canonry/internal/domain/model"
)

// Catalog is the source-data boundary the orchestrator, the workers, and the
// reader consume.
type Catalog interface {
	// Partitions enumerates the fixed partition set for a family.
	Partitions(ctx context.Context, family string) ([]string, error)

	// WorksForPartition loads every work belonging to one partition of a
	// family.
	WorksForPartition(ctx context.Context, family, partition string) ([]model.Work, error)

	// LastChanged reports the newest source mutation relevant to one
	// partition. Passing the summary partition (or an empty partition)
	// covers the whole family. A zero time means the corpus is empty there.
	LastChanged(ctx context.Context, family, partition string) (time.Time, error)
}
