package seedcatalog

import (
	"context"
	"fmt"
	"time"

	"github.com/mireles/canonry/internal/domain/model"
	"github.com/mireles/canonry/pkg/logger"
)

// Run executes the complete seeding run: generate works, write them into
// the catalog, and optionally drive a refresh sweep through the service
// API to verify the pipeline end to end.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{
		StartTime: time.Now(),
	}

	logger.Get().Info(ctx, "starting canonry catalog seeding",
		logger.String("catalog", config.CatalogPath),
		logger.Int("works", config.NumWorks),
		logger.String("family", config.Family),
		logger.Any("verify", config.Verify),
		logger.String("baseURL", config.BaseURL),
		logger.Int("workers", config.Workers),
		logger.String("timeout", config.Timeout.String()),
		logger.String("logFile", config.LogFile),
		logger.Any("verbose", config.Verbose))

	// Step 1: Generate works
	works, err := generateWorks(ctx, config, stats)
	if err != nil {
		return fmt.Errorf("work generation failed: %w", err)
	}

	// Step 2: Seed the catalog database
	if err := seedCatalog(ctx, config, works, stats); err != nil {
		return fmt.Errorf("catalog seeding failed: %w", err)
	}

	// Step 3: Save works to file
	if err := saveWorksToFile(ctx, config, works); err != nil {
		logger.Get().Warn(ctx, "failed to save works to file", logger.Error(err))
	}

	// Steps 4+ drive the service API; skipped unless verification is on.
	if config.Verify {
		if err := verifyThroughService(ctx, config, works, stats); err != nil {
			return err
		}
	}

	// Final statistics
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	displayFinalStats(stats)

	logger.Get().Info(ctx, "seeding run completed successfully")
	return nil
}

// verifyThroughService exercises the running service: configuration
// lifecycle, refresh orchestration, and cache reads over the seeded data.
func verifyThroughService(ctx context.Context, config *Config, works []model.Work, stats *Stats) error {
	// Step 4: Check service health
	if err := checkServiceHealth(ctx, config); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	client := newHTTPClient(config.Timeout)

	// Step 5: Create and activate a configuration
	configID, err := createConfiguration(ctx, client, config)
	if err != nil {
		return fmt.Errorf("configuration setup failed: %w", err)
	}

	// Step 6: Trigger a refresh sweep
	if err := triggerRefresh(ctx, client, config, configID, stats); err != nil {
		return fmt.Errorf("refresh trigger failed: %w", err)
	}

	// Step 7: Wait for the sweep to finish
	if err := waitForCompletion(ctx, client, config, configID); err != nil {
		return fmt.Errorf("sweep completion failed: %w", err)
	}

	// Step 8: Fetch rankings and the family summary
	rankings, err := fetchRankings(ctx, config, works, configID, stats)
	if err != nil {
		return fmt.Errorf("ranking retrieval failed: %w", err)
	}

	summary, err := fetchSummary(ctx, client, config, configID)
	if err != nil {
		return fmt.Errorf("summary retrieval failed: %w", err)
	}

	// Step 9: Verify results
	if err := verifyResults(ctx, config, works, rankings, summary, stats); err != nil {
		return fmt.Errorf("result verification failed: %w", err)
	}

	return nil
}

// displayFinalStats prints the final run statistics.
func displayFinalStats(stats *Stats) {
	var worksPerSecond float64
	if stats.Duration > 0 {
		worksPerSecond = float64(stats.WorksSeeded) / stats.Duration.Seconds()
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("worksGenerated", stats.WorksGenerated),
		logger.Int("worksSeeded", stats.WorksSeeded),
		logger.Int("unitsQueued", stats.UnitsQueued),
		logger.Int("partitionsChecked", stats.PartitionsChecked),
		logger.Int("rankedWorks", stats.RankedWorks),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("worksPerSecond", worksPerSecond))
}
