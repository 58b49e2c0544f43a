// Package repository persists everything this service owns: the durable
// score cache, the configuration store, and per-unit attempt records.
// Backed by SQLite through database/sql.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mireles/canonry/pkg/metrics"
)

// Default client configuration constants.
const (
	defaultBusyTimeout           = 5 * time.Second
	defaultMetricsUpdateInterval = 15 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS configurations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	version INTEGER NOT NULL,
	name TEXT NOT NULL,
	family TEXT NOT NULL,
	category_weights TEXT NOT NULL,
	normalization_method TEXT NOT NULL,
	normalization_settings TEXT NOT NULL,
	missing_data_strategies TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 0,
	is_draft INTEGER NOT NULL DEFAULT 1,
	deployed_at INTEGER,
	created_at INTEGER NOT NULL,
	UNIQUE(family, version)
);
CREATE INDEX IF NOT EXISTS idx_configurations_family ON configurations(family);

CREATE TABLE IF NOT EXISTS score_cache (
	partition_key TEXT NOT NULL,
	configuration_id INTEGER NOT NULL,
	payload TEXT NOT NULL,
	statistics TEXT NOT NULL,
	metadata TEXT NOT NULL,
	calculated_at INTEGER NOT NULL,
	UNIQUE(partition_key, configuration_id),
	FOREIGN KEY (configuration_id) REFERENCES configurations(id)
);
CREATE INDEX IF NOT EXISTS idx_score_cache_config ON score_cache(configuration_id);

CREATE TABLE IF NOT EXISTS unit_attempts (
	partition_key TEXT NOT NULL,
	configuration_id INTEGER NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	succeeded INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL,
	UNIQUE(partition_key, configuration_id)
);
`

// Client wraps the SQLite database. All methods are safe for concurrent use;
// SQLite serializes writers and WAL mode keeps readers unblocked.
type Client struct {
	db *sql.DB

	busyTimeout           time.Duration
	metricsUpdateInterval time.Duration

	// Periodic gauge refresh
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// New opens (creating if needed) the database at path, applies the pragmas
// the service depends on, and prepares the schema.
func New(ctx context.Context, path string, opts ...Option) (*Client, error) {
	c := &Client{
		busyTimeout:           defaultBusyTimeout,
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		stopChan:              make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", c.busyTimeout.Milliseconds()),
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	c.db = db
	c.startMetricsUpdater(ctx)

	return c, nil
}

// startMetricsUpdater starts a background goroutine that refreshes row-count
// gauges at the configured interval.
func (c *Client) startMetricsUpdater(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			case <-ticker.C:
				c.updateMetrics(ctx)
			}
		}
	}()
}

func (c *Client) updateMetrics(ctx context.Context) {
	if n, err := c.countRows(ctx, "score_cache"); err == nil {
		metrics.UpdateCacheEntryCount(n)
	}
	if n, err := c.countRows(ctx, "configurations"); err == nil {
		metrics.UpdateConfigurationCount(n)
	}
}

func (c *Client) countRows(ctx context.Context, table string) (int, error) {
	var n int
	// Table names come from the fixed schema above, never from callers.
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}

// Counts returns row counts per owned table, for the stats endpoint.
func (c *Client) Counts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, 3)
	for _, table := range []string{"configurations", "score_cache", "unit_attempts"} {
		n, err := c.countRows(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// Ping verifies the database is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close stops the metrics updater and closes the database.
func (c *Client) Close() error {
	select {
	case <-c.stopChan:
		// already closed
	default:
		close(c.stopChan)
	}
	c.wg.Wait()
	return c.db.Close()
}
