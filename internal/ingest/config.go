package ingest

import "time"

// Config configures the ingestion loop.
type Config struct {
	// Interval is the tick cadence. Defaults to 6s.
	Interval time.Duration `yaml:"interval"`

	// RetainBuckets is how many hourly buckets to keep before
	// pruning. Defaults to 25 so "last hour" always survives a
	// bucket transition.
	RetainBuckets int64 `yaml:"retain_buckets"`

	// TopMappers is the size of the hourly top-mapper leaderboard.
	// Defaults to 5.
	TopMappers int `yaml:"top_mappers"`

	// TopCountries is the size of the hourly top-country
	// leaderboard. Defaults to 5.
	TopCountries int `yaml:"top_countries"`

	// TopTags is the size of the hourly project-tag leaderboard.
	// Defaults to 8.
	TopTags int `yaml:"top_tags"`

	// ChangesetTrendRetention bounds the total-changesets trend
	// series. Defaults to 24h.
	ChangesetTrendRetention time.Duration `yaml:"changeset_trend_retention"`

	// RateTrendRetention bounds the edits-per-minute trend series.
	// Defaults to 2h.
	RateTrendRetention time.Duration `yaml:"rate_trend_retention"`

	// TrendMaxPoints caps the snapshot's trend series length.
	// Defaults to 200.
	TrendMaxPoints int `yaml:"trend_max_points"`

	// PerfectCommentLength is the comment length that scores 100%.
	// Defaults to 180.
	PerfectCommentLength int64 `yaml:"perfect_comment_length"`

	// MinCommentSample is the minimum number of commented
	// changesets before an hourly comment quality is reported.
	// Defaults to 25.
	MinCommentSample int64 `yaml:"min_comment_sample"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:                6 * time.Second,
		RetainBuckets:           25,
		TopMappers:              5,
		TopCountries:            5,
		TopTags:                 8,
		ChangesetTrendRetention: 24 * time.Hour,
		RateTrendRetention:      2 * time.Hour,
		TrendMaxPoints:          200,
		PerfectCommentLength:    180,
		MinCommentSample:        25,
	}
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}

	if c.RetainBuckets <= 0 {
		c.RetainBuckets = defaults.RetainBuckets
	}

	if c.TopMappers <= 0 {
		c.TopMappers = defaults.TopMappers
	}

	if c.TopCountries <= 0 {
		c.TopCountries = defaults.TopCountries
	}

	if c.TopTags <= 0 {
		c.TopTags = defaults.TopTags
	}

	if c.ChangesetTrendRetention <= 0 {
		c.ChangesetTrendRetention = defaults.ChangesetTrendRetention
	}

	if c.RateTrendRetention <= 0 {
		c.RateTrendRetention = defaults.RateTrendRetention
	}

	if c.TrendMaxPoints <= 0 {
		c.TrendMaxPoints = defaults.TrendMaxPoints
	}

	if c.PerfectCommentLength <= 0 {
		c.PerfectCommentLength = defaults.PerfectCommentLength
	}

	if c.MinCommentSample <= 0 {
		c.MinCommentSample = defaults.MinCommentSample
	}
}
