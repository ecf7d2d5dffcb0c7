package country

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// countries.csv rows: code,minLon,minLat,maxLon,maxLat.
//
//go:embed countries.csv
var countriesCSV string

type countryBound struct {
	code  string
	bound orb.Bound
}

func loadBounds() ([]countryBound, error) {
	lines := strings.Split(strings.TrimSpace(countriesCSV), "\n")
	bounds := make([]countryBound, 0, len(lines))

	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) != 5 {
			return nil, fmt.Errorf(
				"countries.csv line %d: expected 5 fields, got %d",
				i+1, len(fields),
			)
		}

		code := Normalize(fields[0])
		if code == "" {
			return nil, fmt.Errorf(
				"countries.csv line %d: invalid code %q", i+1, fields[0],
			)
		}

		coords := make([]float64, 4)

		for j, f := range fields[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf(
					"countries.csv line %d: parsing %q: %w", i+1, f, err,
				)
			}

			coords[j] = v
		}

		bounds = append(bounds, countryBound{
			code: code,
			bound: orb.Bound{
				Min: orb.Point{coords[0], coords[1]},
				Max: orb.Point{coords[2], coords[3]},
			},
		})
	}

	return bounds, nil
}

func boundArea(b orb.Bound) float64 {
	return (b.Max[0] - b.Min[0]) * (b.Max[1] - b.Min[1])
}

func cacheKey(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', 4, 64) + "," +
		strconv.FormatFloat(lon, 'f', 4, 64)
}
