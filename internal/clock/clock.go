// Package clock maps wall-clock time onto discrete hourly buckets.
// Every hourly aggregate in the store is partitioned by the bucket
// index computed here.
package clock

import "time"

// Bucket is an hourly time partition index: floor(epoch_ms / 1h).
// Buckets are totally ordered and never reused once pruned.
type Bucket int64

const bucketMillis = int64(time.Hour / time.Millisecond)

// BucketOf returns the bucket containing t. The computation is done on
// the epoch millisecond value, so it is independent of the location
// attached to t.
func BucketOf(t time.Time) Bucket {
	return Bucket(t.UnixMilli() / bucketMillis)
}

// Offset shifts a bucket index by delta hours. Callers use delta=-1 to
// address "last hour" without re-deriving wall-clock time.
func Offset(b Bucket, delta int64) Bucket {
	return b + Bucket(delta)
}

// StartOf returns the UTC wall-clock time at which bucket b begins.
func StartOf(b Bucket) time.Time {
	return time.UnixMilli(int64(b) * bucketMillis).UTC()
}
