package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mireles/canonry/internal/domain/model"
	"github.com/mireles/canonry/internal/domain/scoring"
	"github.com/mireles/canonry/pkg/metrics"
)

// CreateConfig stores cfg as a new draft and returns it with its assigned ID
// and version. Drafts are stored without full validation; Validate gates
// activation, not creation. When cfg.Version is zero the next version for
// the family is assigned.
func (c *Client) CreateConfig(ctx context.Context, cfg scoring.Config) (scoring.Config, error) {
	if cfg.Name == "" {
		return scoring.Config{}, fmt.Errorf("%w: configuration name required", scoring.ErrInvalidConfig)
	}
	if !model.KnownFamily(cfg.Family) {
		return scoring.Config{}, fmt.Errorf("%w: unknown family %q", scoring.ErrInvalidConfig, cfg.Family)
	}

	weights, err := json.Marshal(cfg.CategoryWeights)
	if err != nil {
		return scoring.Config{}, fmt.Errorf("marshal weights: %w", err)
	}
	settings, err := json.Marshal(cfg.NormalizationSettings)
	if err != nil {
		return scoring.Config{}, fmt.Errorf("marshal settings: %w", err)
	}
	strategies, err := json.Marshal(cfg.MissingDataStrategies)
	if err != nil {
		return scoring.Config{}, fmt.Errorf("marshal strategies: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return scoring.Config{}, fmt.Errorf("begin create: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version := cfg.Version
	if version == 0 {
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM configurations WHERE family = ?`,
			cfg.Family,
		).Scan(&version)
		if err != nil {
			return scoring.Config{}, fmt.Errorf("next version for %s: %w", cfg.Family, err)
		}
	}

	createdAt := time.Now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO configurations
			(version, name, family, category_weights, normalization_method,
			 normalization_settings, missing_data_strategies, is_active, is_draft, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 1, ?)`,
		version, cfg.Name, cfg.Family, string(weights), string(cfg.NormalizationMethod),
		string(settings), string(strategies), createdAt.UnixNano(),
	)
	if err != nil {
		return scoring.Config{}, fmt.Errorf("insert configuration: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return scoring.Config{}, fmt.Errorf("configuration id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return scoring.Config{}, fmt.Errorf("commit create: %w", err)
	}

	cfg.ID = id
	cfg.Version = version
	cfg.IsActive = false
	cfg.IsDraft = true
	cfg.DeployedAt = time.Time{}
	cfg.CreatedAt = createdAt
	return cfg, nil
}

// GetConfig returns the stored configuration with the given id.
// Returns ErrConfigNotFound when it does not exist.
func (c *Client) GetConfig(ctx context.Context, id int64) (scoring.Config, error) {
	row := c.db.QueryRowContext(ctx, configSelect+` WHERE id = ?`, id)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return scoring.Config{}, ErrConfigNotFound
	}
	return cfg, err
}

// ActiveConfig returns the single active configuration for a family.
// Returns ErrNoActiveConfig when the family has none.
func (c *Client) ActiveConfig(ctx context.Context, family string) (scoring.Config, error) {
	row := c.db.QueryRowContext(ctx, configSelect+` WHERE family = ? AND is_active = 1`, family)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return scoring.Config{}, ErrNoActiveConfig
	}
	return cfg, err
}

// ListConfigs returns stored configurations, newest version first. An empty
// family lists every family.
func (c *Client) ListConfigs(ctx context.Context, family string) ([]scoring.Config, error) {
	query := configSelect + ` ORDER BY family, version DESC`
	args := []any{}
	if family != "" {
		query = configSelect + ` WHERE family = ? ORDER BY version DESC`
		args = append(args, family)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	defer rows.Close()

	var out []scoring.Config
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// ActivateConfig performs the activation transition for the configuration
// with the given id: validate, deactivate the family's current active
// configuration, then mark this one active with a fresh deployed_at and the
// draft flag cleared. The whole transition is one transaction; an invalid
// configuration mutates nothing.
func (c *Client) ActivateConfig(ctx context.Context, id int64) (scoring.Config, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return scoring.Config{}, fmt.Errorf("begin activate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, configSelect+` WHERE id = ?`, id)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return scoring.Config{}, ErrConfigNotFound
	}
	if err != nil {
		return scoring.Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return scoring.Config{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE configurations SET is_active = 0 WHERE family = ? AND is_active = 1 AND id != ?`,
		cfg.Family, id,
	); err != nil {
		return scoring.Config{}, fmt.Errorf("deactivate current: %w", err)
	}

	deployedAt := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE configurations SET is_active = 1, is_draft = 0, deployed_at = ? WHERE id = ?`,
		deployedAt.UnixNano(), id,
	); err != nil {
		return scoring.Config{}, fmt.Errorf("activate %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return scoring.Config{}, fmt.Errorf("commit activate: %w", err)
	}

	metrics.RecordConfigActivation(cfg.Family)

	cfg.IsActive = true
	cfg.IsDraft = false
	cfg.DeployedAt = deployedAt
	return cfg, nil
}

// DeactivateConfig clears the active flag on the configuration with the
// given id. Deactivating an inactive configuration is a no-op.
func (c *Client) DeactivateConfig(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, `UPDATE configurations SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate %d: %w", id, err)
	}
	if n == 0 {
		return ErrConfigNotFound
	}
	return nil
}

const configSelect = `
	SELECT id, version, name, family, category_weights, normalization_method,
	       normalization_settings, missing_data_strategies, is_active, is_draft,
	       deployed_at, created_at
	FROM configurations`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (scoring.Config, error) {
	var cfg scoring.Config
	var weights, method, settings, strategies string
	var isActive, isDraft int
	var deployedAt sql.NullInt64
	var createdAt int64

	err := row.Scan(&cfg.ID, &cfg.Version, &cfg.Name, &cfg.Family, &weights, &method,
		&settings, &strategies, &isActive, &isDraft, &deployedAt, &createdAt)
	if err != nil {
		return scoring.Config{}, err
	}

	if err := json.Unmarshal([]byte(weights), &cfg.CategoryWeights); err != nil {
		return scoring.Config{}, fmt.Errorf("unmarshal weights for %d: %w", cfg.ID, err)
	}
	cfg.NormalizationMethod = scoring.Method(method)
	if err := json.Unmarshal([]byte(settings), &cfg.NormalizationSettings); err != nil {
		return scoring.Config{}, fmt.Errorf("unmarshal settings for %d: %w", cfg.ID, err)
	}
	if err := json.Unmarshal([]byte(strategies), &cfg.MissingDataStrategies); err != nil {
		return scoring.Config{}, fmt.Errorf("unmarshal strategies for %d: %w", cfg.ID, err)
	}

	cfg.IsActive = isActive != 0
	cfg.IsDraft = isDraft != 0
	if deployedAt.Valid {
		cfg.DeployedAt = time.Unix(0, deployedAt.Int64)
	}
	cfg.CreatedAt = time.Unix(0, createdAt)
	return cfg, nil
}
