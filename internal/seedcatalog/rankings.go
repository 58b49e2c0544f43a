package seedcatalog

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mireles/canonry/internal/domain/model"
)

// partitionFor maps one work to its partition under the chosen family.
func partitionFor(family string, work model.Work) string {
	if family == model.FamilyStudio {
		return work.Studio
	}
	return work.Decade
}

// uniquePartitions lists the distinct partitions the seeded works span,
// sorted for stable output.
func uniquePartitions(family string, works []model.Work) []string {
	seen := make(map[string]struct{})
	for _, work := range works {
		seen[partitionFor(family, work)] = struct{}{}
	}

	partitions := make([]string, 0, len(seen))
	for p := range seen {
		partitions = append(partitions, p)
	}
	sort.Strings(partitions)
	return partitions
}

// fetchRankings retrieves every partition's cached ranking concurrently.
func fetchRankings(ctx context.Context, config *Config, works []model.Work, configID int64, stats *Stats) ([]model.RankedList, error) {
	partitions := uniquePartitions(config.Family, works)
	log.Printf("🏆 Fetching %d partition rankings with %d workers...", len(partitions), config.Workers)

	client := newHTTPClient(config.Timeout)

	// Results storage
	rankings := make([]model.RankedList, len(partitions))
	errs := make([]error, len(partitions))
	var fetched int64

	// Create worker pool
	indexChan := make(chan int, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for index := range indexChan {
				select {
				case <-ctx.Done():
					errs[index] = ctx.Err()
				default:
					list, err := fetchPartition(ctx, client, config, partitions[index], configID)
					if err != nil {
						errs[index] = err
						if config.Verbose {
							log.Printf("⚠️  Failed to fetch partition %s: %v", partitions[index], err)
						}
						continue
					}
					rankings[index] = list
					atomic.AddInt64(&fetched, 1)
				}
			}
		}()
	}

	// Send partition indices to workers
	go func() {
		defer close(indexChan)
		for i := range partitions {
			select {
			case <-ctx.Done():
				return
			case indexChan <- i:
			}
		}
	}()

	// Wait for all workers to complete
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	stats.PartitionsChecked = len(partitions)
	log.Printf("✅ Retrieved %d partition rankings", atomic.LoadInt64(&fetched))

	return rankings, nil
}
