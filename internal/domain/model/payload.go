package model

import "time"

// RankedItem is one scored work inside a cached ranking.
type RankedItem struct {
	Rank      int                  `json:"rank"`
	WorkID    string               `json:"work_id"`
	Title     string               `json:"title"`
	Year      int                  `json:"year"`
	Score     float64              `json:"score"`
	Breakdown map[Category]float64 `json:"breakdown"`
}

// RankedList is the computed payload cached per (partition, configuration):
// every work of the partition ordered by inclusion likelihood.
type RankedList struct {
	Family    string       `json:"family"`
	Partition string       `json:"partition"`
	Items     []RankedItem `json:"items"`
}

// Statistics summarizes one cached ranking.
type Statistics struct {
	WorkCount int     `json:"work_count"`
	MeanScore float64 `json:"mean_score"`
	MinScore  float64 `json:"min_score"`
	MaxScore  float64 `json:"max_score"`
	StdDev    float64 `json:"std_dev"`
}

// Metadata carries provenance for a cache entry.
type Metadata struct {
	ConfigID        int64  `json:"config_id"`
	ConfigVersion   int64  `json:"config_version"`
	OrchestrationID string `json:"orchestration_id,omitempty"`
	EngineVersion   string `json:"engine_version"`
	ComputeMillis   int64  `json:"compute_millis"`
}

// PartitionSummary is the per-partition digest inside a family aggregation.
type PartitionSummary struct {
	Partition string  `json:"partition"`
	WorkCount int     `json:"work_count"`
	MeanScore float64 `json:"mean_score"`
	MaxScore  float64 `json:"max_score"`
}

// FamilySummary is the aggregation unit's payload: cross-partition
// comparison plus the partitions that had no cache entry at aggregation
// time (surfaced, not silently skipped).
type FamilySummary struct {
	Family            string             `json:"family"`
	GeneratedAt       time.Time          `json:"generated_at"`
	Partitions        []PartitionSummary `json:"partitions"`
	TopOverall        []RankedItem       `json:"top_overall"`
	MissingPartitions []string           `json:"missing_partitions,omitempty"`
}
