package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmwatch/changepulse/internal/clock"
)

func TestIncrement_Idempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := Key{Metric: "top_mapper", Dimension: "alice"}

	require.NoError(t, s.Increment(ctx, 100, key, 5, 1))
	require.NoError(t, s.Increment(ctx, 100, key, 5, 1))

	total, err := s.Get(ctx, 100, key)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
}

func TestIncrement_SameEventDifferentMetrics(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// One event feeds two metric dimensions without cross-talk.
	require.NoError(t, s.Increment(ctx, 100, Key{Metric: "top_mapper", Dimension: "alice"}, 5, 1))
	require.NoError(t, s.Increment(ctx, 100, Key{Metric: "top_country", Dimension: "US"}, 5, 1))

	mapper, err := s.Get(ctx, 100, Key{Metric: "top_mapper", Dimension: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), mapper)

	country, err := s.Get(ctx, 100, Key{Metric: "top_country", Dimension: "US"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), country)
}

func TestIncrement_DistinctEventsAccumulate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := Key{Metric: "top_mapper", Dimension: "alice"}

	require.NoError(t, s.Increment(ctx, 100, key, 5, 1))
	require.NoError(t, s.Increment(ctx, 100, key, 3, 2))

	total, err := s.Get(ctx, 100, key)
	require.NoError(t, err)
	assert.Equal(t, int64(8), total)
}

func TestGet_AbsentIsZero(t *testing.T) {
	s := testStore(t)

	total, err := s.Get(context.Background(), 999, Key{Metric: "nope"})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestTopN_OrderAndTieBreak(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Increment(ctx, 100, Key{Metric: "top_mapper", Dimension: "carol"}, 10, 1))
	require.NoError(t, s.Increment(ctx, 100, Key{Metric: "top_mapper", Dimension: "bob"}, 20, 2))
	require.NoError(t, s.Increment(ctx, 100, Key{Metric: "top_mapper", Dimension: "alice"}, 10, 3))
	require.NoError(t, s.Increment(ctx, 100, Key{Metric: "top_mapper", Dimension: "dave"}, 1, 4))

	top, err := s.TopN(ctx, 100, "top_mapper", 3)
	require.NoError(t, err)

	require.Len(t, top, 3)
	assert.Equal(t, DimensionTotal{Dimension: "bob", Total: 20}, top[0])
	// Equal totals rank by dimension ascending.
	assert.Equal(t, DimensionTotal{Dimension: "alice", Total: 10}, top[1])
	assert.Equal(t, DimensionTotal{Dimension: "carol", Total: 10}, top[2])
}

func TestTopN_IgnoresOtherBuckets(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Increment(ctx, 100, Key{Metric: "top_mapper", Dimension: "alice"}, 5, 1))
	require.NoError(t, s.Increment(ctx, 101, Key{Metric: "top_mapper", Dimension: "bob"}, 50, 2))

	top, err := s.TopN(ctx, 100, "top_mapper", 10)
	require.NoError(t, err)

	require.Len(t, top, 1)
	assert.Equal(t, "alice", top[0].Dimension)
}

func TestDistinctCount(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Increment(ctx, 100, Key{Metric: "unique_mapper", Dimension: "alice"}, 1, 1))
	require.NoError(t, s.Increment(ctx, 100, Key{Metric: "unique_mapper", Dimension: "bob"}, 1, 2))
	require.NoError(t, s.Increment(ctx, 100, Key{Metric: "unique_mapper", Dimension: "alice"}, 1, 3))

	count, err := s.DistinctCount(ctx, 100, "unique_mapper")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestPrune_RemovesOldBuckets(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := Key{Metric: "top_mapper", Dimension: "alice"}

	require.NoError(t, s.Increment(ctx, 100, key, 5, 1))
	require.NoError(t, s.Increment(ctx, 120, key, 7, 2))
	require.NoError(t, s.RecordBucketMax(ctx, 100, "largest_changeset", 99))

	require.NoError(t, s.Prune(ctx, 125, 25))

	old, err := s.Get(ctx, 100, key)
	require.NoError(t, err)
	assert.Zero(t, old)

	oldMax, err := s.GetBucketMax(ctx, 100, "largest_changeset")
	require.NoError(t, err)
	assert.Zero(t, oldMax)

	kept, err := s.Get(ctx, 120, key)
	require.NoError(t, err)
	assert.Equal(t, int64(7), kept)
}

func TestPrune_MemoizesBucket(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Prune(ctx, 200, 25))

	// Inserting behind the cutoff after a prune: the memoized second
	// call must not rescan, the row survives until the next bucket.
	require.NoError(t, s.Increment(ctx, 170, Key{Metric: "top_mapper", Dimension: "alice"}, 5, 1))
	require.NoError(t, s.Prune(ctx, 200, 25))

	total, err := s.Get(ctx, 170, Key{Metric: "top_mapper", Dimension: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	// A new bucket triggers a real prune.
	require.NoError(t, s.Prune(ctx, 201, 25))

	total, err = s.Get(ctx, 170, Key{Metric: "top_mapper", Dimension: "alice"})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRecordBucketMax_Monotonic(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordBucketMax(ctx, 100, "largest_changeset", 50))
	require.NoError(t, s.RecordBucketMax(ctx, 100, "largest_changeset", 20))

	max, err := s.GetBucketMax(ctx, 100, "largest_changeset")
	require.NoError(t, err)
	assert.Equal(t, int64(50), max)

	require.NoError(t, s.RecordBucketMax(ctx, 100, "largest_changeset", 80))

	max, err = s.GetBucketMax(ctx, 100, "largest_changeset")
	require.NoError(t, err)
	assert.Equal(t, int64(80), max)
}

func TestIncrement_BucketTypeRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	bucket := clock.BucketOf(clock.StartOf(480000))
	require.NoError(t, s.Increment(ctx, bucket, Key{Metric: "new_edits"}, 12, 7))

	total, err := s.Get(ctx, 480000, Key{Metric: "new_edits"})
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)
}
