package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mireles/canonry/internal/domain/model"
	"github.com/mireles/canonry/pkg/metrics"
)

// Entry is one row of the durable score cache, keyed by
// (partition_key, configuration_id).
type Entry struct {
	PartitionKey string
	ConfigID     int64
	Payload      json.RawMessage
	Statistics   model.Statistics
	Metadata     model.Metadata
	CalculatedAt time.Time
}

// UpsertEntry writes e, replacing any previous row for the same key. The
// write is a single statement: either the whole row lands or nothing does.
// A later write for the same key always wins.
func (c *Client) UpsertEntry(ctx context.Context, e Entry) error {
	stats, err := json.Marshal(e.Statistics)
	if err != nil {
		return fmt.Errorf("marshal statistics: %w", err)
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	calculatedAt := e.CalculatedAt
	if calculatedAt.IsZero() {
		calculatedAt = time.Now()
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO score_cache (partition_key, configuration_id, payload, statistics, metadata, calculated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(partition_key, configuration_id) DO UPDATE SET
			payload = excluded.payload,
			statistics = excluded.statistics,
			metadata = excluded.metadata,
			calculated_at = excluded.calculated_at`,
		e.PartitionKey, e.ConfigID, string(payload), string(stats), string(meta), calculatedAt.UnixNano(),
	)
	if err != nil {
		metrics.RecordCacheWriteError()
		return fmt.Errorf("upsert %s: %w", e.PartitionKey, err)
	}

	metrics.RecordCacheUpsert()
	return nil
}

// GetEntry returns the cached row for (partitionKey, configID).
// Returns ErrCacheMissing when no row exists.
func (c *Client) GetEntry(ctx context.Context, partitionKey string, configID int64) (Entry, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT payload, statistics, metadata, calculated_at
		FROM score_cache
		WHERE partition_key = ? AND configuration_id = ?`,
		partitionKey, configID,
	)

	e := Entry{PartitionKey: partitionKey, ConfigID: configID}
	var payload, stats, meta string
	var calculatedAt int64
	if err := row.Scan(&payload, &stats, &meta, &calculatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrCacheMissing
		}
		return Entry{}, fmt.Errorf("get %s: %w", partitionKey, err)
	}

	e.Payload = json.RawMessage(payload)
	if err := json.Unmarshal([]byte(stats), &e.Statistics); err != nil {
		return Entry{}, fmt.Errorf("unmarshal statistics for %s: %w", partitionKey, err)
	}
	if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
		return Entry{}, fmt.Errorf("unmarshal metadata for %s: %w", partitionKey, err)
	}
	e.CalculatedAt = time.Unix(0, calculatedAt)
	return e, nil
}

// EntryAge returns how old the cached row for the key is.
// Returns ErrCacheMissing when no row exists.
func (c *Client) EntryAge(ctx context.Context, partitionKey string, configID int64) (time.Duration, error) {
	var calculatedAt int64
	err := c.db.QueryRowContext(ctx, `
		SELECT calculated_at FROM score_cache
		WHERE partition_key = ? AND configuration_id = ?`,
		partitionKey, configID,
	).Scan(&calculatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrCacheMissing
		}
		return 0, fmt.Errorf("age of %s: %w", partitionKey, err)
	}
	return time.Since(time.Unix(0, calculatedAt)), nil
}

// CachedPartitions returns, for one family and configuration, each cached
// partition name mapped to its calculated_at. The family summary row is not
// a partition and is excluded.
func (c *Client) CachedPartitions(ctx context.Context, family string, configID int64) (map[string]time.Time, error) {
	prefix := family + ":"
	rows, err := c.db.QueryContext(ctx, `
		SELECT partition_key, calculated_at FROM score_cache
		WHERE partition_key LIKE ? AND configuration_id = ?`,
		prefix+"%", configID,
	)
	if err != nil {
		return nil, fmt.Errorf("cached partitions for %s: %w", family, err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var key string
		var calculatedAt int64
		if err := rows.Scan(&key, &calculatedAt); err != nil {
			return nil, fmt.Errorf("scan cached partition: %w", err)
		}
		partition := strings.TrimPrefix(key, prefix)
		if partition == model.SummaryPartition {
			continue
		}
		out[partition] = time.Unix(0, calculatedAt)
	}
	return out, rows.Err()
}

// EntriesForFamily returns the full cached rows of a family's partitions for
// one configuration, excluding the summary row, ordered by partition key.
func (c *Client) EntriesForFamily(ctx context.Context, family string, configID int64) ([]Entry, error) {
	prefix := family + ":"
	rows, err := c.db.QueryContext(ctx, `
		SELECT partition_key, payload, statistics, metadata, calculated_at
		FROM score_cache
		WHERE partition_key LIKE ? AND configuration_id = ?
		ORDER BY partition_key`,
		prefix+"%", configID,
	)
	if err != nil {
		return nil, fmt.Errorf("entries for %s: %w", family, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e := Entry{ConfigID: configID}
		var payload, stats, meta string
		var calculatedAt int64
		if err := rows.Scan(&e.PartitionKey, &payload, &stats, &meta, &calculatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if strings.TrimPrefix(e.PartitionKey, prefix) == model.SummaryPartition {
			continue
		}
		e.Payload = json.RawMessage(payload)
		if err := json.Unmarshal([]byte(stats), &e.Statistics); err != nil {
			return nil, fmt.Errorf("unmarshal statistics for %s: %w", e.PartitionKey, err)
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %s: %w", e.PartitionKey, err)
		}
		e.CalculatedAt = time.Unix(0, calculatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Purge removes one cached row. This is the only deletion path for cache
// entries and exists for administrative use. Returns ErrCacheMissing when no
// row matched.
func (c *Client) Purge(ctx context.Context, partitionKey string, configID int64) error {
	res, err := c.db.ExecContext(ctx, `
		DELETE FROM score_cache
		WHERE partition_key = ? AND configuration_id = ?`,
		partitionKey, configID,
	)
	if err != nil {
		return fmt.Errorf("purge %s: %w", partitionKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("purge %s: %w", partitionKey, err)
	}
	if n == 0 {
		return ErrCacheMissing
	}

	metrics.RecordCachePurge()
	return nil
}
