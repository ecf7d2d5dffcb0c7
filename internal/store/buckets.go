package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/osmwatch/changepulse/internal/clock"
)

// Increment adds amount to the (bucket, key) counter, recording
// eventID in the membership table so the same event can never
// contribute to the same counter twice. The membership check and the
// counter update commit atomically: duplicate delivery of the same
// event across polls is a no-op.
func (s *Store) Increment(
	ctx context.Context,
	bucket clock.Bucket,
	key Key,
	amount int64,
	eventID int64,
) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning increment transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO bucket_memberships
			(bucket, metric, dimension, event_id)
		VALUES (?, ?, ?, ?)`,
		int64(bucket), key.Metric, key.Dimension, eventID,
	)
	if err != nil {
		return fmt.Errorf("inserting membership: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking membership insert: %w", err)
	}

	if inserted == 0 {
		// Event already counted for this (bucket, key).
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bucket_totals (bucket, metric, dimension, total)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (bucket, metric, dimension)
			DO UPDATE SET total = total + excluded.total`,
		int64(bucket), key.Metric, key.Dimension, amount,
	); err != nil {
		return fmt.Errorf("updating total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing increment: %w", err)
	}

	return nil
}

// Get returns the total for (bucket, key), zero if absent.
func (s *Store) Get(
	ctx context.Context,
	bucket clock.Bucket,
	key Key,
) (int64, error) {
	var total int64

	err := s.db.QueryRowContext(ctx, `
		SELECT total FROM bucket_totals
		WHERE bucket = ? AND metric = ? AND dimension = ?`,
		int64(bucket), key.Metric, key.Dimension,
	).Scan(&total)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("reading total: %w", err)
	}

	return total, nil
}

// TopN returns the n highest totals for metric in bucket, ties broken
// by dimension ascending so rankings are deterministic.
func (s *Store) TopN(
	ctx context.Context,
	bucket clock.Bucket,
	metric string,
	n int,
) ([]DimensionTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dimension, total FROM bucket_totals
		WHERE bucket = ? AND metric = ? AND total > 0
		ORDER BY total DESC, dimension ASC
		LIMIT ?`,
		int64(bucket), metric, n,
	)
	if err != nil {
		return nil, fmt.Errorf("querying top %d for %s: %w", n, metric, err)
	}
	defer rows.Close()

	out := make([]DimensionTotal, 0, n)

	for rows.Next() {
		var dt DimensionTotal
		if err := rows.Scan(&dt.Dimension, &dt.Total); err != nil {
			return nil, fmt.Errorf("scanning top row: %w", err)
		}

		out = append(out, dt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating top rows: %w", err)
	}

	return out, nil
}

// DistinctCount returns how many dimension values have a non-zero
// total for metric in bucket (e.g. unique contributors this hour).
func (s *Store) DistinctCount(
	ctx context.Context,
	bucket clock.Bucket,
	metric string,
) (int64, error) {
	var count int64

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bucket_totals
		WHERE bucket = ? AND metric = ? AND total > 0`,
		int64(bucket), metric,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting distinct dimensions: %w", err)
	}

	return count, nil
}

// RecordBucketMax raises the per-bucket maximum for metric to value if
// value exceeds the stored maximum. Negative values are clamped to
// zero. Used for "largest changeset this hour".
func (s *Store) RecordBucketMax(
	ctx context.Context,
	bucket clock.Bucket,
	metric string,
	value int64,
) error {
	if value < 0 {
		value = 0
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO bucket_maxima (bucket, metric, value)
		VALUES (?, ?, ?)
		ON CONFLICT (bucket, metric)
			DO UPDATE SET value = excluded.value
			WHERE excluded.value > value`,
		int64(bucket), metric, value,
	); err != nil {
		return fmt.Errorf("recording bucket max: %w", err)
	}

	return nil
}

// GetBucketMax returns the per-bucket maximum for metric, zero if
// absent.
func (s *Store) GetBucketMax(
	ctx context.Context,
	bucket clock.Bucket,
	metric string,
) (int64, error) {
	var value int64

	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM bucket_maxima
		WHERE bucket = ? AND metric = ?`,
		int64(bucket), metric,
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("reading bucket max: %w", err)
	}

	return value, nil
}

// Prune deletes every bucket row older than current - retainBuckets.
// The last pruned bucket is memoized so repeated calls inside the same
// hour do not rescan the tables; callers invoke it every tick.
func (s *Store) Prune(
	ctx context.Context,
	current clock.Bucket,
	retainBuckets int64,
) error {
	s.pruneMu.Lock()
	if s.hasPruned && s.lastPruned == current {
		s.pruneMu.Unlock()

		return nil
	}
	s.pruneMu.Unlock()

	cutoff := int64(current) - retainBuckets

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning prune transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{
		"bucket_totals",
		"bucket_memberships",
		"bucket_maxima",
	} {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE bucket < ?", cutoff,
		); err != nil {
			return fmt.Errorf("pruning %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing prune: %w", err)
	}

	s.pruneMu.Lock()
	s.lastPruned = current
	s.hasPruned = true
	s.pruneMu.Unlock()

	return nil
}
