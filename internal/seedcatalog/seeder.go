package seedcatalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mireles/canonry/internal/adapters/source"
	"github.com/mireles/canonry/internal/domain/model"
	"github.com/mireles/canonry/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
)

// seedCatalog writes the generated works into the catalog database the
// service reads from. The catalog is external input to the scoring service,
// so it is written directly rather than through the API.
func seedCatalog(ctx context.Context, config *Config, works []model.Work, stats *Stats) error {
	logger.Get().Info(ctx, "seeding catalog database",
		logger.String("path", config.CatalogPath),
		logger.Int("works", len(works)))

	cat, err := source.NewSQLite(ctx, config.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer func() {
		if err := cat.Close(); err != nil {
			logger.Get().Error(context.Background(), "failed to close catalog", logger.Error(err))
		}
	}()

	if err := cat.Seed(ctx, works); err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}

	stats.WorksSeeded = len(works)
	logger.Get().Info(ctx, "catalog seeded", logger.Int("works", len(works)))
	return nil
}

// saveWorksToFile saves the generated works to a JSON file.
func saveWorksToFile(ctx context.Context, config *Config, works []model.Work) error {
	if len(works) == 0 {
		return fmt.Errorf("no works to save")
	}

	// Determine output filename
	filename := config.OutputFile
	if filename == "" {
		timestamp := time.Now().Format("20060102_150405")
		filename = "generated_works_" + timestamp + ".json"
	}

	// Ensure the directory exists
	dir := filepath.Dir(filename)
	if dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Write works to file
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Get().Error(context.Background(), "failed to close file", logger.Error(err))
		}
	}()

	// Write JSON array
	if _, err := file.WriteString("[\n"); err != nil {
		return fmt.Errorf("failed to write opening bracket: %w", err)
	}

	for i, work := range works {
		jsonData, err := marshalJSON(work)
		if err != nil {
			return fmt.Errorf("failed to marshal work %d: %w", i, err)
		}

		if _, err := file.Write(jsonData); err != nil {
			return fmt.Errorf("failed to write work %d: %w", i, err)
		}

		// Add comma except for last work
		if i < len(works)-1 {
			if _, err := file.WriteString(","); err != nil {
				return fmt.Errorf("failed to write comma: %w", err)
			}
		}
		_, _ = file.WriteString("\n")
	}

	if _, err := file.WriteString("]\n"); err != nil {
		return fmt.Errorf("failed to write closing bracket: %w", err)
	}

	logger.Get().Info(ctx, "works saved to file", logger.String("filename", filename))
	return nil
}
