package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mireles/canonry/internal/domain/model"
)

const worksSchema = `
CREATE TABLE IF NOT EXISTS works (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	year INTEGER NOT NULL,
	decade TEXT NOT NULL,
	studio TEXT NOT NULL,
	category_values TEXT NOT NULL,
	sample_counts TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_works_decade ON works(decade);
CREATE INDEX IF NOT EXISTS idx_works_studio ON works(studio);
`

// SQLite reads the works corpus from a SQLite database. It satisfies Catalog.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the corpus database at path.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open corpus database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, worksSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init corpus schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// partitionColumn maps a family onto the works column that partitions it.
// Families are a closed set; anything else is rejected.
func partitionColumn(family string) (string, error) {
	switch family {
	case model.FamilyDecade:
		return "decade", nil
	case model.FamilyStudio:
		return "studio", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFamily, family)
}

// Partitions returns the distinct partition names present in the corpus for
// one family, in lexical order.
func (s *SQLite) Partitions(ctx context.Context, family string) ([]string, error) {
	column, err := partitionColumn(family)
	if err != nil {
		return nil, err
	}

	// Column names come from the closed family set, never from callers.
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT DISTINCT %s FROM works ORDER BY %s", column, column))
	if err != nil {
		return nil, fmt.Errorf("partitions for %s: %w", family, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// WorksForPartition loads every work in one partition of a family.
func (s *SQLite) WorksForPartition(ctx context.Context, family, partition string) ([]model.Work, error) {
	column, err := partitionColumn(family)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, title, year, decade, studio, category_values, sample_counts, updated_at
		FROM works WHERE %s = ? ORDER BY id`, column),
		partition,
	)
	if err != nil {
		return nil, fmt.Errorf("works for %s:%s: %w", family, partition, err)
	}
	defer rows.Close()

	var out []model.Work
	for rows.Next() {
		var w model.Work
		var values, samples string
		var updatedAt int64
		if err := rows.Scan(&w.ID, &w.Title, &w.Year, &w.Decade, &w.Studio, &values, &samples, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan work: %w", err)
		}
		if err := json.Unmarshal([]byte(values), &w.Values); err != nil {
			return nil, fmt.Errorf("unmarshal values for %s: %w", w.ID, err)
		}
		if err := json.Unmarshal([]byte(samples), &w.Samples); err != nil {
			return nil, fmt.Errorf("unmarshal samples for %s: %w", w.ID, err)
		}
		w.UpdatedAt = time.Unix(0, updatedAt)
		out = append(out, w)
	}
	return out, rows.Err()
}

// LastChanged reports the newest updated_at among works of a partition, or
// family-wide when partition is empty or the summary partition. Zero when
// nothing matches.
func (s *SQLite) LastChanged(ctx context.Context, family, partition string) (time.Time, error) {
	column, err := partitionColumn(family)
	if err != nil {
		return time.Time{}, err
	}

	query := "SELECT COALESCE(MAX(updated_at), 0) FROM works"
	args := []any{}
	if partition != "" && partition != model.SummaryPartition {
		query = fmt.Sprintf("%s WHERE %s = ?", query, column)
		args = append(args, partition)
	}

	var max int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&max); err != nil {
		return time.Time{}, fmt.Errorf("last changed for %s:%s: %w", family, partition, err)
	}
	if max == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, max), nil
}

// Seed inserts or replaces works wholesale. Development tooling and tests
// only; the production corpus is written elsewhere.
func (s *SQLite) Seed(ctx context.Context, works []model.Work) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO works
			(id, title, year, decade, studio, category_values, sample_counts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare seed: %w", err)
	}
	defer stmt.Close()

	for _, w := range works {
		values, err := json.Marshal(w.Values)
		if err != nil {
			return fmt.Errorf("marshal values for %s: %w", w.ID, err)
		}
		samples, err := json.Marshal(w.Samples)
		if err != nil {
			return fmt.Errorf("marshal samples for %s: %w", w.ID, err)
		}
		updatedAt := w.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			w.ID, w.Title, w.Year, w.Decade, w.Studio,
			string(values), string(samples), updatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("seed work %s: %w", w.ID, err)
		}
	}

	return tx.Commit()
}
