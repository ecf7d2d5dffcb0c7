package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Trend series names.
const (
	SeriesTotalChangesets = "total_changesets"
	SeriesEditsPerMinute  = "edits_per_minute"
)

// TrendPoint is one timestamped sample of a series.
type TrendPoint struct {
	TimestampMs int64 `json:"timestamp"`
	Value       int64 `json:"value"`
}

// AppendTrend inserts a sample unless it duplicates the immediately
// preceding stored point's value, so ticks with no observable change
// do not bloat the series.
func (s *Store) AppendTrend(
	ctx context.Context,
	series string,
	timestampMs int64,
	value int64,
) error {
	var last int64

	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM trend_points
		WHERE series = ?
		ORDER BY timestamp_ms DESC
		LIMIT 1`,
		series,
	).Scan(&last)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First point of the series.
	case err != nil:
		return fmt.Errorf("reading latest trend point: %w", err)
	case last == value:
		return nil
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trend_points (series, timestamp_ms, value)
		VALUES (?, ?, ?)`,
		series, timestampMs, value,
	); err != nil {
		return fmt.Errorf("appending trend point: %w", err)
	}

	return nil
}

// PruneTrend deletes points of series older than now - retention.
// Called before every append so the table tracks the retention window
// instead of growing monotonically.
func (s *Store) PruneTrend(
	ctx context.Context,
	series string,
	retention time.Duration,
	now time.Time,
) error {
	cutoff := now.UnixMilli() - retention.Milliseconds()

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM trend_points
		WHERE series = ? AND timestamp_ms < ?`,
		series, cutoff,
	); err != nil {
		return fmt.Errorf("pruning trend %s: %w", series, err)
	}

	return nil
}

// QueryTrend returns the points of series within [now-window, now] in
// ascending timestamp order, downsampled to at most maxPoints entries.
// Downsampling keeps the visually significant points (peaks, troughs)
// and always includes the first and last point of the selected range.
func (s *Store) QueryTrend(
	ctx context.Context,
	series string,
	window time.Duration,
	maxPoints int,
	now time.Time,
) ([]TrendPoint, error) {
	cutoff := now.UnixMilli() - window.Milliseconds()

	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp_ms, value FROM trend_points
		WHERE series = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC`,
		series, cutoff, now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying trend %s: %w", series, err)
	}
	defer rows.Close()

	var points []TrendPoint

	for rows.Next() {
		var p TrendPoint
		if err := rows.Scan(&p.TimestampMs, &p.Value); err != nil {
			return nil, fmt.Errorf("scanning trend point: %w", err)
		}

		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trend points: %w", err)
	}

	return Downsample(points, maxPoints), nil
}
