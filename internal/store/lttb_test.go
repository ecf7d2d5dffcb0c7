package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeSeries(n int, value func(i int) int64) []TrendPoint {
	points := make([]TrendPoint, n)
	for i := range points {
		points[i] = TrendPoint{TimestampMs: int64(i) * 1000, Value: value(i)}
	}

	return points
}

func TestDownsample_NoopWhenUnderCap(t *testing.T) {
	points := makeSeries(50, func(i int) int64 { return int64(i) })

	got := Downsample(points, 100)
	assert.Equal(t, points, got)
}

func TestDownsample_CapRespected(t *testing.T) {
	points := makeSeries(10_000, func(i int) int64 { return int64(i % 77) })

	got := Downsample(points, 100)
	assert.LessOrEqual(t, len(got), 100)
}

func TestDownsample_KeepsBoundaries(t *testing.T) {
	points := makeSeries(5000, func(i int) int64 { return int64(i) })

	got := Downsample(points, 50)
	require.NotEmpty(t, got)
	assert.Equal(t, points[0], got[0])
	assert.Equal(t, points[len(points)-1], got[len(got)-1])
}

func TestDownsample_PreservesPeak(t *testing.T) {
	// Flat series with one spike: stride sampling would likely drop
	// it, triangle selection must keep it.
	points := makeSeries(1000, func(i int) int64 {
		if i == 500 {
			return 100_000
		}

		return 10
	})

	got := Downsample(points, 20)

	var sawPeak bool

	for _, p := range got {
		if p.Value == 100_000 {
			sawPeak = true
		}
	}

	assert.True(t, sawPeak, "downsampling dropped the peak")
}

func TestDownsample_TinyCaps(t *testing.T) {
	points := makeSeries(100, func(i int) int64 { return int64(i) })

	one := Downsample(points, 1)
	require.Len(t, one, 1)
	assert.Equal(t, points[0], one[0])

	two := Downsample(points, 2)
	require.Len(t, two, 2)
	assert.Equal(t, points[0], two[0])
	assert.Equal(t, points[99], two[1])
}

func TestDownsample_AscendingOrder(t *testing.T) {
	points := makeSeries(3000, func(i int) int64 { return int64((i * 31) % 997) })

	got := Downsample(points, 64)

	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].TimestampMs, got[i-1].TimestampMs)
	}
}
