// Package rate turns the bursty per-tick counts coming off the public
// changeset feed into a stable edits-per-minute gauge. Raw throughput
// from the feed is dominated by batch imports, feed lag and polling
// jitter, so the estimator layers a median-based outlier cap, a
// per-tick step cap and an exponential moving average on top of the
// raw windowed rate.
package rate

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Config holds the estimator tuning knobs. The defaults were inherited
// from the production deployment; treat them as starting points for
// tuning, not derived values.
type Config struct {
	// Window is the rolling span of raw samples used to compute the
	// instantaneous rate. Defaults to 90s.
	Window time.Duration `yaml:"window"`

	// MinSpan is the minimum elapsed time the sample window must
	// cover before a rate is computed. Very short spans amplify
	// noise. Defaults to 18s.
	MinSpan time.Duration `yaml:"min_span"`

	// HistorySize bounds the buffer of recent stabilized rates used
	// for the median baseline. Defaults to 60.
	HistorySize int `yaml:"history_size"`

	// BaselineMinSamples is how much rate history must exist before
	// the median baseline cap engages. Defaults to 10.
	BaselineMinSamples int `yaml:"baseline_min_samples"`

	// BaselineMultiplier and BaselineSlack cap the raw rate at
	// max(median*multiplier, median+slack), rejecting isolated
	// spikes such as a single giant import changeset.
	// Defaults: 2.35 and 900.
	BaselineMultiplier float64 `yaml:"baseline_multiplier"`
	BaselineSlack      int64   `yaml:"baseline_slack"`

	// StepMultiplier and StepSlack cap how far the rate may move in
	// one tick relative to the current smoothed value:
	// smoothed*multiplier + slack. Defaults: 1.45 and 420.
	StepMultiplier float64 `yaml:"step_multiplier"`
	StepSlack      int64   `yaml:"step_slack"`

	// SmoothingAlpha is the EMA weight applied to each new
	// stabilized rate. Defaults to 0.34.
	SmoothingAlpha float64 `yaml:"smoothing_alpha"`
}

// DefaultConfig returns a Config with the production defaults.
func DefaultConfig() Config {
	return Config{
		Window:             90 * time.Second,
		MinSpan:            18 * time.Second,
		HistorySize:        60,
		BaselineMinSamples: 10,
		BaselineMultiplier: 2.35,
		BaselineSlack:      900,
		StepMultiplier:     1.45,
		StepSlack:          420,
		SmoothingAlpha:     0.34,
	}
}

// ApplyDefaults fills unset fields with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()

	if c.Window <= 0 {
		c.Window = d.Window
	}

	if c.MinSpan <= 0 {
		c.MinSpan = d.MinSpan
	}

	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}

	if c.BaselineMinSamples <= 0 {
		c.BaselineMinSamples = d.BaselineMinSamples
	}

	if c.BaselineMultiplier <= 0 {
		c.BaselineMultiplier = d.BaselineMultiplier
	}

	if c.BaselineSlack <= 0 {
		c.BaselineSlack = d.BaselineSlack
	}

	if c.StepMultiplier <= 0 {
		c.StepMultiplier = d.StepMultiplier
	}

	if c.StepSlack <= 0 {
		c.StepSlack = d.StepSlack
	}

	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1 {
		c.SmoothingAlpha = d.SmoothingAlpha
	}
}

type sample struct {
	at    time.Time
	count int64
}

// Estimator computes the smoothed edits-per-minute signal. Safe for
// concurrent use: the ingestion loop observes, request handlers read.
type Estimator struct {
	cfg Config

	mu       sync.Mutex
	samples  []sample
	history  []int64
	smoothed int64
}

// New creates an Estimator.
func New(cfg Config) *Estimator {
	cfg.ApplyDefaults()

	return &Estimator{cfg: cfg}
}

// Observe records the raw event count for one tick and returns the
// updated smoothed rate. Negative or non-finite inputs are clamped to
// zero rather than rejected. If the sample window is still too sparse
// or too short, the smoothed value is returned unchanged.
func (e *Estimator) Observe(now time.Time, count int64) int64 {
	if count < 0 {
		count = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.samples = append(e.samples, sample{at: now, count: count})
	e.dropExpired(now)

	if len(e.samples) < 2 {
		return e.smoothed
	}

	elapsed := e.samples[len(e.samples)-1].at.Sub(e.samples[0].at)
	if elapsed < e.cfg.MinSpan {
		return e.smoothed
	}

	var sum int64
	for _, s := range e.samples {
		sum += s.count
	}

	raw := int64(math.Round(
		float64(sum) * float64(time.Minute/time.Millisecond) /
			float64(elapsed.Milliseconds()),
	))

	stabilized := e.capToBaseline(raw)
	stabilized = e.capToStep(stabilized)

	e.pushHistory(stabilized)

	alpha := e.cfg.SmoothingAlpha
	if e.smoothed == 0 {
		// Seed directly so a cold start does not crawl up from zero.
		e.smoothed = stabilized
	} else {
		e.smoothed = int64(math.Round(
			float64(e.smoothed)*(1-alpha) + float64(stabilized)*alpha,
		))
	}

	if e.smoothed < 0 {
		e.smoothed = 0
	}

	return e.smoothed
}

// Current returns the latest smoothed rate without recording a sample.
func (e *Estimator) Current() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.smoothed
}

func (e *Estimator) dropExpired(now time.Time) {
	cutoff := now.Add(-e.cfg.Window)

	keep := e.samples[:0]
	for _, s := range e.samples {
		if !s.at.Before(cutoff) {
			keep = append(keep, s)
		}
	}

	e.samples = keep
}

// capToBaseline bounds raw at max(median*mult, median+slack) once
// enough stabilized history exists to trust the median.
func (e *Estimator) capToBaseline(raw int64) int64 {
	if len(e.history) < e.cfg.BaselineMinSamples {
		return raw
	}

	med := median(e.history)

	limit := int64(math.Round(float64(med) * e.cfg.BaselineMultiplier))
	if slackLimit := med + e.cfg.BaselineSlack; slackLimit > limit {
		limit = slackLimit
	}

	if raw > limit {
		return limit
	}

	return raw
}

// capToStep bounds the rate's per-tick movement relative to the
// current smoothed value, regardless of what history says.
func (e *Estimator) capToStep(r int64) int64 {
	limit := int64(math.Round(
		float64(e.smoothed)*e.cfg.StepMultiplier,
	)) + e.cfg.StepSlack

	if r > limit {
		return limit
	}

	return r
}

func (e *Estimator) pushHistory(r int64) {
	e.history = append(e.history, r)
	if len(e.history) > e.cfg.HistorySize {
		e.history = e.history[1:]
	}
}

func median(values []int64) int64 {
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}

	return sorted[mid]
}
