package store

import "math"

// Downsample reduces points to at most maxPoints entries using
// largest-triangle-three-buckets selection: the time range is split
// into maxPoints-2 buckets and each bucket keeps the point forming the
// largest triangle with the previously chosen point and the average of
// the next bucket. The first and last points are always kept, so the
// rendered span's boundaries are exact. Raw series can run to tens of
// thousands of points while a chart needs only hundreds; naive stride
// sampling flattens peaks, LTTB keeps them.
func Downsample(points []TrendPoint, maxPoints int) []TrendPoint {
	if maxPoints <= 0 || len(points) <= maxPoints {
		return points
	}

	if maxPoints == 1 {
		return points[:1]
	}

	if maxPoints == 2 {
		return []TrendPoint{points[0], points[len(points)-1]}
	}

	sampled := make([]TrendPoint, 0, maxPoints)
	sampled = append(sampled, points[0])

	// Interior points are distributed across maxPoints-2 buckets.
	interior := points[1 : len(points)-1]
	bucketSize := float64(len(interior)) / float64(maxPoints-2)

	prev := points[0]

	for i := 0; i < maxPoints-2; i++ {
		lo := int(math.Floor(float64(i) * bucketSize))
		hi := int(math.Floor(float64(i+1) * bucketSize))

		if hi > len(interior) {
			hi = len(interior)
		}

		if lo >= hi {
			continue
		}

		// Average of the following bucket (or the terminal point)
		// anchors the triangle's third vertex.
		nextLo := hi
		nextHi := int(math.Floor(float64(i+2) * bucketSize))

		if nextHi > len(interior) {
			nextHi = len(interior)
		}

		var avgX, avgY float64

		if nextLo < nextHi {
			for _, p := range interior[nextLo:nextHi] {
				avgX += float64(p.TimestampMs)
				avgY += float64(p.Value)
			}

			n := float64(nextHi - nextLo)
			avgX /= n
			avgY /= n
		} else {
			last := points[len(points)-1]
			avgX = float64(last.TimestampMs)
			avgY = float64(last.Value)
		}

		best := interior[lo]
		bestArea := -1.0

		for _, p := range interior[lo:hi] {
			area := math.Abs(
				(float64(prev.TimestampMs)-avgX)*
					(float64(p.Value)-float64(prev.Value)) -
					(float64(prev.TimestampMs)-float64(p.TimestampMs))*
						(avgY-float64(prev.Value)),
			)

			if area > bestArea {
				bestArea = area
				best = p
			}
		}

		sampled = append(sampled, best)
		prev = best
	}

	return append(sampled, points[len(points)-1])
}
