package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mireles/canonry/internal/domain/model"
)

// AttemptRecord tracks delivery history for one (partition_key,
// configuration_id) pair. Succeeded reflects the most recent attempt only.
type AttemptRecord struct {
	Attempts  int
	Succeeded bool
	LastError string
	UpdatedAt time.Time
}

// RecordSuccess notes a successful unit execution for the key.
func (c *Client) RecordSuccess(ctx context.Context, partitionKey string, configID int64) error {
	return c.recordAttempt(ctx, partitionKey, configID, true, "")
}

// RecordFailure notes a failed unit execution for the key with its cause.
func (c *Client) RecordFailure(ctx context.Context, partitionKey string, configID int64, cause string) error {
	return c.recordAttempt(ctx, partitionKey, configID, false, cause)
}

func (c *Client) recordAttempt(ctx context.Context, partitionKey string, configID int64, succeeded bool, cause string) error {
	ok := 0
	if succeeded {
		ok = 1
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO unit_attempts (partition_key, configuration_id, attempts, succeeded, last_error, updated_at)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(partition_key, configuration_id) DO UPDATE SET
			attempts = attempts + 1,
			succeeded = excluded.succeeded,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		partitionKey, configID, ok, cause, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record attempt for %s: %w", partitionKey, err)
	}
	return nil
}

// AttemptOutcomes returns the attempt history of a family's partitions for
// one configuration, keyed by partition name. The summary key's record, if
// any, is excluded.
func (c *Client) AttemptOutcomes(ctx context.Context, family string, configID int64) (map[string]AttemptRecord, error) {
	prefix := family + ":"
	rows, err := c.db.QueryContext(ctx, `
		SELECT partition_key, attempts, succeeded, last_error, updated_at
		FROM unit_attempts
		WHERE partition_key LIKE ? AND configuration_id = ?`,
		prefix+"%", configID,
	)
	if err != nil {
		return nil, fmt.Errorf("attempt outcomes for %s: %w", family, err)
	}
	defer rows.Close()

	out := make(map[string]AttemptRecord)
	for rows.Next() {
		var key, lastError string
		var attempts, succeeded int
		var updatedAt int64
		if err := rows.Scan(&key, &attempts, &succeeded, &lastError, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		partition := strings.TrimPrefix(key, prefix)
		if partition == model.SummaryPartition {
			continue
		}
		out[partition] = AttemptRecord{
			Attempts:  attempts,
			Succeeded: succeeded != 0,
			LastError: lastError,
			UpdatedAt: time.Unix(0, updatedAt),
		}
	}
	return out, rows.Err()
}

// FailedPartitions returns partition names whose most recent attempt failed,
// for one family and configuration.
func (c *Client) FailedPartitions(ctx context.Context, family string, configID int64) ([]string, error) {
	outcomes, err := c.AttemptOutcomes(ctx, family, configID)
	if err != nil {
		return nil, err
	}
	var out []string
	for partition, rec := range outcomes {
		if !rec.Succeeded {
			out = append(out, partition)
		}
	}
	return out, nil
}
