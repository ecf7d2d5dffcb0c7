package ingest

import (
	"time"

	"github.com/osmwatch/changepulse/internal/store"
)

// HourStats are the aggregates of one hourly bucket.
type HourStats struct {
	UniqueMappers    int64                  `json:"unique_mappers"`
	ActiveCountries  int64                  `json:"active_countries"`
	AverageChanges   int64                  `json:"average_changes"`
	NewEdits         int64                  `json:"new_edits"`
	LargestChangeset int64                  `json:"largest_changeset"`
	CommentQuality   float64                `json:"comment_quality"`
	ProjectTags      int64                  `json:"project_tags"`
	TopMappers       []store.DimensionTotal `json:"top_mappers"`
	TopCountries     []store.DimensionTotal `json:"top_countries"`
	TopTags          []store.DimensionTotal `json:"top_tags"`
}

// BatchStats summarize the most recent feed batch, before any
// dedup filtering.
type BatchStats struct {
	Size             int      `json:"size"`
	NewEvents        int      `json:"new_events"`
	TopMappers       []string `json:"top_mappers"`
	AverageChanges   int64    `json:"average_changes"`
	LargestChangeset int64    `json:"largest_changeset"`
}

// Trends carries the downsampled chart series.
type Trends struct {
	TotalChangesets []store.TrendPoint `json:"total_changesets"`
	EditsPerMinute  []store.TrendPoint `json:"edits_per_minute"`
}

// Snapshot is the consolidated state published after each tick.
type Snapshot struct {
	Timestamp       time.Time        `json:"timestamp"`
	Bucket          int64            `json:"bucket"`
	TotalChangesets int64            `json:"total_changesets"`
	TotalEdits      int64            `json:"total_edits"`
	EditsPerMinute  int64            `json:"edits_per_minute"`
	ThisHour        HourStats        `json:"this_hour"`
	LastHour        HourStats        `json:"last_hour"`
	AllTimeHighs    map[string]int64 `json:"all_time_highs"`
	Batch           BatchStats       `json:"batch"`
	Trends          Trends           `json:"trends"`
}
