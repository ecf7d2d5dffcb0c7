package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendTrend_SkipsUnchangedValue(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.AppendTrend(ctx, SeriesTotalChangesets, 1000, 42))
	require.NoError(t, s.AppendTrend(ctx, SeriesTotalChangesets, 2000, 42))
	require.NoError(t, s.AppendTrend(ctx, SeriesTotalChangesets, 3000, 43))

	points, err := s.QueryTrend(ctx, SeriesTotalChangesets, time.Hour, 100, now)
	require.NoError(t, err)

	require.Len(t, points, 2)
	assert.Equal(t, TrendPoint{TimestampMs: 1000, Value: 42}, points[0])
	assert.Equal(t, TrendPoint{TimestampMs: 3000, Value: 43}, points[1])
}

func TestAppendTrend_SeriesAreIndependent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.AppendTrend(ctx, SeriesTotalChangesets, 1000, 42))
	require.NoError(t, s.AppendTrend(ctx, SeriesEditsPerMinute, 1000, 42))

	points, err := s.QueryTrend(ctx, SeriesEditsPerMinute, time.Hour, 100, now)
	require.NoError(t, err)
	require.Len(t, points, 1)
}

func TestPruneTrend_AgeBased(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	old := now.Add(-3 * time.Hour).UnixMilli()
	fresh := now.Add(-10 * time.Minute).UnixMilli()

	require.NoError(t, s.AppendTrend(ctx, SeriesEditsPerMinute, old, 10))
	require.NoError(t, s.AppendTrend(ctx, SeriesEditsPerMinute, fresh, 20))

	require.NoError(t, s.PruneTrend(ctx, SeriesEditsPerMinute, 2*time.Hour, now))

	points, err := s.QueryTrend(ctx, SeriesEditsPerMinute, 4*time.Hour, 100, now)
	require.NoError(t, err)

	require.Len(t, points, 1)
	assert.Equal(t, fresh, points[0].TimestampMs)
}

func TestQueryTrend_WindowFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	inside := now.Add(-30 * time.Minute).UnixMilli()
	outside := now.Add(-90 * time.Minute).UnixMilli()

	require.NoError(t, s.AppendTrend(ctx, SeriesEditsPerMinute, outside, 5))
	require.NoError(t, s.AppendTrend(ctx, SeriesEditsPerMinute, inside, 6))

	points, err := s.QueryTrend(ctx, SeriesEditsPerMinute, time.Hour, 100, now)
	require.NoError(t, err)

	require.Len(t, points, 1)
	assert.Equal(t, inside, points[0].TimestampMs)
}

func TestQueryTrend_DownsamplesToCapWithExactBoundaries(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	// 10,000 points spanning two hours, values varying so no append
	// is deduplicated.
	start := now.Add(-2 * time.Hour).UnixMilli()
	step := (2 * time.Hour).Milliseconds() / 10_000

	var first, last int64

	for i := 0; i < 10_000; i++ {
		ts := start + int64(i)*step
		if i == 0 {
			first = ts
		}

		last = ts

		require.NoError(t, s.AppendTrend(ctx, SeriesEditsPerMinute, ts, int64(i%500)))
	}

	points, err := s.QueryTrend(ctx, SeriesEditsPerMinute, 2*time.Hour, 100, now)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(points), 100)
	require.NotEmpty(t, points)
	assert.Equal(t, first, points[0].TimestampMs)
	assert.Equal(t, last, points[len(points)-1].TimestampMs)

	// Ascending order preserved.
	for i := 1; i < len(points); i++ {
		assert.Greater(t, points[i].TimestampMs, points[i-1].TimestampMs)
	}
}
