package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
)

// Well-known all-time-high keys. The hourly keys are snapshotted from
// the just-completed bucket on each hour transition; the totals are
// monotonic counters fed every tick.
const (
	HighTotalChangesets  = "total_changesets"
	HighTotalEdits       = "total_edits"
	HighEditsPerMinute   = "edits_per_minute_all_time_high"
	HighAverageChanges   = "average_changes_hour_all_time_high"
	HighUniqueMappers    = "unique_mappers_hour_all_time_high"
	HighNewEdits         = "new_edits_hour_all_time_high"
	HighActiveCountries  = "active_countries_hour_all_time_high"
	HighProjectTags      = "project_tags_hour_all_time_high"
	HighTopMapperLeader  = "top_mapper_leader_hour_all_time_high"
	HighTopCountryLeader = "top_country_leader_hour_all_time_high"
	HighCommentQuality   = "comment_quality_all_time_high"
	HighLargestChangeset = "largest_changeset_all_time_high"
)

// RecordAndGetHigh applies monotonic-max semantics to the named
// record: the write happens only if candidate exceeds the stored
// value, and the post-write high is returned either way. Negative and
// non-finite candidates are clamped to zero before comparison.
func (s *Store) RecordAndGetHigh(
	ctx context.Context,
	metric string,
	candidate float64,
) (int64, error) {
	if math.IsNaN(candidate) || math.IsInf(candidate, 0) || candidate < 0 {
		candidate = 0
	}

	value := int64(math.Round(candidate))

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO all_time_highs (metric, value)
		VALUES (?, ?)
		ON CONFLICT (metric)
			DO UPDATE SET value = excluded.value
			WHERE excluded.value > value`,
		metric, value,
	); err != nil {
		return 0, fmt.Errorf("recording all-time high %s: %w", metric, err)
	}

	return s.GetHigh(ctx, metric)
}

// GetHigh returns the stored all-time high for metric, zero if absent.
func (s *Store) GetHigh(ctx context.Context, metric string) (int64, error) {
	var value int64

	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM all_time_highs WHERE metric = ?", metric,
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("reading all-time high %s: %w", metric, err)
	}

	return value, nil
}
