// Package country resolves changeset bounding boxes to ISO 3166-1
// alpha-2 country codes. Resolution is deliberately coarse: an
// embedded table of country bounding rectangles, smallest-area match
// first, with a corner vote as fallback for coastal or border-crossing
// boxes whose center falls in water. Exact geographic precision is out
// of scope for a live dashboard.
package country

import (
	"regexp"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"github.com/osmwatch/changepulse/internal/feed"
)

var codePattern = regexp.MustCompile(`^[A-Z]{2}$`)

// cacheCapacity bounds the center-point memo cache; oldest entries are
// evicted first.
const cacheCapacity = 4000

// Resolver maps bounding boxes to country codes.
type Resolver struct {
	log    logrus.FieldLogger
	bounds []countryBound

	mu         sync.Mutex
	cache      map[string]string
	cacheOrder []string
	cacheHead  int
}

// NewResolver creates a Resolver backed by the embedded country table.
func NewResolver(log logrus.FieldLogger) (*Resolver, error) {
	bounds, err := loadBounds()
	if err != nil {
		return nil, err
	}

	return &Resolver{
		log:    log.WithField("component", "country"),
		bounds: bounds,
		cache:  make(map[string]string, cacheCapacity),
	}, nil
}

// Normalize uppercases and validates a candidate alpha-2 code,
// returning "" for anything that is not a plausible country code.
func Normalize(code string) string {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if !codePattern.MatchString(normalized) {
		return ""
	}

	// "UN" and similar placeholder codes are not countries.
	if normalized == "UN" || normalized == "XX" {
		return ""
	}

	return normalized
}

// Known reports whether code appears in the embedded country table.
func (r *Resolver) Known(code string) bool {
	for _, b := range r.bounds {
		if b.code == code {
			return true
		}
	}

	return false
}

// ResolveChangeset returns the country code for a changeset's bounding
// box, or "" when the box is missing or unresolvable.
func (r *Resolver) ResolveChangeset(cs feed.Changeset) string {
	if !cs.HasBounds() {
		return ""
	}

	centerLat := (cs.MinLat + cs.MaxLat) / 2
	centerLon := (cs.MinLon + cs.MaxLon) / 2

	if code := r.resolvePoint(centerLat, centerLon); code != "" {
		return code
	}

	// Center in water or no-man's-land: vote across the corners.
	corners := [4][2]float64{
		{cs.MinLat, cs.MinLon},
		{cs.MinLat, cs.MaxLon},
		{cs.MaxLat, cs.MinLon},
		{cs.MaxLat, cs.MaxLon},
	}

	votes := make(map[string]int, 4)

	for _, corner := range corners {
		if code := r.resolvePoint(corner[0], corner[1]); code != "" {
			votes[code]++
		}
	}

	best := ""
	bestVotes := 0

	for code, n := range votes {
		if n > bestVotes || (n == bestVotes && code < best) {
			best = code
			bestVotes = n
		}
	}

	return best
}

func (r *Resolver) resolvePoint(lat, lon float64) string {
	key := cacheKey(lat, lon)

	r.mu.Lock()
	if code, ok := r.cache[key]; ok {
		r.mu.Unlock()

		return code
	}
	r.mu.Unlock()

	code := r.lookup(lat, lon)
	r.remember(key, code)

	return code
}

// lookup finds the smallest country rectangle containing the point, so
// small countries win over the large neighbors whose rectangle
// overlaps them.
func (r *Resolver) lookup(lat, lon float64) string {
	point := orb.Point{lon, lat}

	best := ""
	bestArea := 0.0

	for _, b := range r.bounds {
		if !b.bound.Contains(point) {
			continue
		}

		area := boundArea(b.bound)
		if best == "" || area < bestArea {
			best = b.code
			bestArea = area
		}
	}

	return best
}

func (r *Resolver) remember(key, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cache[key]; ok {
		return
	}

	if len(r.cache) >= cacheCapacity {
		oldest := r.cacheOrder[r.cacheHead]
		delete(r.cache, oldest)
		r.cacheOrder[r.cacheHead] = key
		r.cacheHead = (r.cacheHead + 1) % cacheCapacity
	} else {
		r.cacheOrder = append(r.cacheOrder, key)
	}

	r.cache[key] = code
}
