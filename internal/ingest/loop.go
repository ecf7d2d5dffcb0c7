// Package ingest runs the polling loop that turns the changeset feed
// into hourly aggregates, rate estimates, trend series, and published
// snapshots.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/osmwatch/changepulse/internal/archive"
	"github.com/osmwatch/changepulse/internal/clock"
	"github.com/osmwatch/changepulse/internal/dedup"
	"github.com/osmwatch/changepulse/internal/export"
	"github.com/osmwatch/changepulse/internal/feed"
	"github.com/osmwatch/changepulse/internal/publish"
	"github.com/osmwatch/changepulse/internal/rate"
	"github.com/osmwatch/changepulse/internal/store"
)

// Bucket metric names.
const (
	metricTopMapper       = "top_mapper"
	metricTopCountry      = "top_country"
	metricProjectTag      = "project_tag"
	metricUniqueMapper    = "unique_mapper"
	metricAvgChangesTotal = "avg_changes_total"
	metricAvgChangesCount = "avg_changes_count"
	metricNewEdits        = "new_edits"
	metricCommentScore    = "comment_score"
	metricCommentCount    = "comment_count"
	metricLargest         = "largest_changeset"
)

// globalDimension is the dimension used for bucket-wide counters
// that have no per-user/per-country/per-tag breakdown.
const globalDimension = "all"

// commentScoreScale stores comment scores as percent*100 so the
// hourly average keeps two decimal places in integer storage.
const commentScoreScale = 100

// CountryResolver maps a changeset's bbox to an ISO alpha-2 code.
type CountryResolver interface {
	ResolveChangeset(cs feed.Changeset) string
}

// Loop is the single-flight tick orchestrator.
type Loop struct {
	log      logrus.FieldLogger
	cfg      Config
	feed     feed.Client
	resolver CountryResolver
	store    *store.Store
	rate     *rate.Estimator
	pub      publish.Publisher
	archiver *archive.Archiver
	health   *export.HealthMetrics

	seen *dedup.Tracker

	running atomic.Bool

	athMu         sync.Mutex
	lastAthBucket clock.Bucket
	athSnapped    bool

	snapMu sync.RWMutex
	latest *Snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// New wires a Loop. The archiver may be nil.
func New(
	log logrus.FieldLogger,
	cfg Config,
	feedClient feed.Client,
	resolver CountryResolver,
	st *store.Store,
	estimator *rate.Estimator,
	pub publish.Publisher,
	archiver *archive.Archiver,
	health *export.HealthMetrics,
) *Loop {
	cfg.ApplyDefaults()

	return &Loop{
		log:      log.WithField("component", "ingest"),
		cfg:      cfg,
		feed:     feedClient,
		resolver: resolver,
		store:    st,
		rate:     estimator,
		pub:      pub,
		archiver: archiver,
		health:   health,
		seen:     dedup.New(dedup.DefaultCapacity),
	}
}

// Start launches the tick loop.
func (l *Loop) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.run(loopCtx)

	l.log.WithField("interval", l.cfg.Interval).Info("Ingestion loop started")

	return nil
}

// Stop halts the tick loop.
func (l *Loop) Stop() error {
	if l.cancel != nil {
		l.cancel()
		<-l.done
	}

	return nil
}

// Latest returns the most recently published snapshot, nil before
// the first successful tick.
func (l *Loop) Latest() *Snapshot {
	l.snapMu.RLock()
	defer l.snapMu.RUnlock()

	return l.latest
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx, time.Now().UTC())
		}
	}
}

// tick runs one poll cycle. Overlapping ticks are skipped rather
// than queued; a failed tick logs and leaves state as it was.
func (l *Loop) tick(ctx context.Context, now time.Time) {
	if !l.running.CompareAndSwap(false, true) {
		l.health.TicksSkipped.Inc()
		l.log.Warn("Previous tick still running, skipping")

		return
	}
	defer l.running.Store(false)

	l.health.TicksTotal.Inc()

	started := time.Now()

	if err := l.process(ctx, now); err != nil {
		l.health.TickErrors.Inc()
		l.log.WithError(err).Error("Tick failed")
	}

	l.health.TickDuration.Observe(time.Since(started).Seconds())
}

func (l *Loop) process(ctx context.Context, now time.Time) error {
	bucket := clock.BucketOf(now)
	l.health.CurrentBucket.Set(float64(bucket))

	fetchStarted := time.Now()

	batch, err := l.feed.FetchLatest(ctx)
	if err != nil {
		l.health.FetchErrors.Inc()

		return fmt.Errorf("fetching feed: %w", err)
	}

	l.health.FetchDuration.Observe(time.Since(fetchStarted).Seconds())
	l.health.EventsSeen.Add(float64(len(batch)))

	// Cold start: mark the first poll's events seen without
	// counting them, so historical feed contents do not register
	// as a burst of fresh activity.
	if !l.seen.Primed() {
		ids := make([]int64, 0, len(batch))
		for _, cs := range batch {
			ids = append(ids, cs.ID)
		}

		l.seen.Prime(ids)

		l.log.WithField("events", len(ids)).Info("Seen-event tracker primed")

		return nil
	}

	if err := l.store.Prune(ctx, bucket, l.cfg.RetainBuckets); err != nil {
		return fmt.Errorf("pruning buckets: %w", err)
	}

	l.snapshotPreviousHourHighs(ctx, bucket)

	newEvents := make([]feed.Changeset, 0, len(batch))

	for i := range batch {
		cs := &batch[i]
		cs.CountryCode = l.resolver.ResolveChangeset(*cs)

		if l.seen.Has(cs.ID) {
			continue
		}

		l.seen.Record(cs.ID)
		newEvents = append(newEvents, *cs)
	}

	l.health.EventsNew.Add(float64(len(newEvents)))

	var newEdits int64

	for _, cs := range newEvents {
		if err := l.countEvent(ctx, bucket, cs); err != nil {
			return fmt.Errorf("counting event %d: %w", cs.ID, err)
		}

		newEdits += cs.ChangesCount
	}

	smoothed := l.rate.Observe(now, newEdits)
	l.health.EditsPerMinute.Set(float64(smoothed))

	totalChangesets, totalEdits, err := l.updateTotals(ctx, batch, newEdits)
	if err != nil {
		return fmt.Errorf("updating totals: %w", err)
	}

	if err := l.appendTrends(ctx, now, totalChangesets, smoothed); err != nil {
		return fmt.Errorf("appending trends: %w", err)
	}

	if l.archiver != nil {
		if err := l.archiver.Archive(ctx, newEvents, ExtractHashtags); err != nil {
			l.health.ArchiveErrors.Inc()
			l.log.WithError(err).Warn("Archiving batch failed")
		}
	}

	snap, err := l.buildSnapshot(ctx, now, bucket, batch, newEvents, totalChangesets, totalEdits, smoothed)
	if err != nil {
		return fmt.Errorf("building snapshot: %w", err)
	}

	l.snapMu.Lock()
	l.latest = snap
	l.snapMu.Unlock()

	if err := l.pub.Publish(snap); err != nil {
		l.health.PublishErrors.Inc()

		return fmt.Errorf("publishing snapshot: %w", err)
	}

	l.health.SubscribersConnected.Set(float64(l.pub.Subscribers()))

	return nil
}

// countEvent applies one new changeset to every hourly counter it
// contributes to. Each increment reuses the changeset id as the
// membership key, so a changeset reappearing in a later poll cannot
// inflate any counter twice.
func (l *Loop) countEvent(ctx context.Context, bucket clock.Bucket, cs feed.Changeset) error {
	type increment struct {
		key    store.Key
		amount int64
	}

	tags := ExtractHashtags(cs.Comment)

	increments := []increment{
		{store.Key{Metric: metricTopMapper, Dimension: cs.User}, cs.ChangesCount},
		{store.Key{Metric: metricUniqueMapper, Dimension: cs.User}, 1},
		{store.Key{Metric: metricAvgChangesTotal, Dimension: globalDimension}, cs.ChangesCount},
		{store.Key{Metric: metricAvgChangesCount, Dimension: globalDimension}, 1},
		{store.Key{Metric: metricNewEdits, Dimension: globalDimension}, cs.ChangesCount},
	}

	if cs.CountryCode != "" {
		increments = append(increments,
			increment{store.Key{Metric: metricTopCountry, Dimension: cs.CountryCode}, cs.ChangesCount})
	}

	for _, tag := range tags {
		increments = append(increments,
			increment{store.Key{Metric: metricProjectTag, Dimension: tag}, 1})
	}

	if cs.Comment != "" {
		increments = append(increments,
			increment{store.Key{Metric: metricCommentScore, Dimension: globalDimension}, l.commentScore(cs.Comment)},
			increment{store.Key{Metric: metricCommentCount, Dimension: globalDimension}, 1},
		)
	}

	for _, inc := range increments {
		if err := l.store.Increment(ctx, bucket, inc.key, inc.amount, cs.ID); err != nil {
			return err
		}
	}

	if err := l.store.RecordBucketMax(ctx, bucket, metricLargest, cs.ChangesCount); err != nil {
		return err
	}

	if _, err := l.store.RecordAndGetHigh(ctx, store.HighLargestChangeset, float64(cs.ChangesCount)); err != nil {
		return err
	}

	return l.store.RecordLifetime(ctx, store.LifetimeEvent{
		EventID: cs.ID,
		Mapper:  cs.User,
		Country: cs.CountryCode,
		Tags:    tags,
		Changes: cs.ChangesCount,
	})
}

// commentScore maps a comment length onto percent*commentScoreScale,
// saturating at the configured ideal length. Length is measured in
// characters, not bytes, so non-ASCII comments score the same as
// ASCII ones.
func (l *Loop) commentScore(comment string) int64 {
	length := int64(utf8.RuneCountInString(comment))
	if length >= l.cfg.PerfectCommentLength {
		return 100 * commentScoreScale
	}

	return length * 100 * commentScoreScale / l.cfg.PerfectCommentLength
}

// updateTotals advances the monotonic global counters. The changeset
// total is the highest changeset id seen; the edit total accumulates
// the new edits of each tick.
func (l *Loop) updateTotals(ctx context.Context, batch []feed.Changeset, newEdits int64) (int64, int64, error) {
	var maxID int64

	for _, cs := range batch {
		if cs.ID > maxID {
			maxID = cs.ID
		}
	}

	totalChangesets, err := l.store.RecordAndGetHigh(ctx, store.HighTotalChangesets, float64(maxID))
	if err != nil {
		return 0, 0, err
	}

	previousEdits, err := l.store.GetHigh(ctx, store.HighTotalEdits)
	if err != nil {
		return 0, 0, err
	}

	totalEdits, err := l.store.RecordAndGetHigh(ctx, store.HighTotalEdits, float64(previousEdits+newEdits))
	if err != nil {
		return 0, 0, err
	}

	return totalChangesets, totalEdits, nil
}

func (l *Loop) appendTrends(ctx context.Context, now time.Time, totalChangesets, smoothed int64) error {
	ts := now.UnixMilli()

	if err := l.store.PruneTrend(ctx, store.SeriesTotalChangesets, l.cfg.ChangesetTrendRetention, now); err != nil {
		return err
	}

	if err := l.store.AppendTrend(ctx, store.SeriesTotalChangesets, ts, totalChangesets); err != nil {
		return err
	}

	if err := l.store.PruneTrend(ctx, store.SeriesEditsPerMinute, l.cfg.RateTrendRetention, now); err != nil {
		return err
	}

	return l.store.AppendTrend(ctx, store.SeriesEditsPerMinute, ts, smoothed)
}

// snapshotPreviousHourHighs folds the just-completed hour's stats
// into the hourly all-time-high records, once per bucket transition.
func (l *Loop) snapshotPreviousHourHighs(ctx context.Context, bucket clock.Bucket) {
	l.athMu.Lock()

	if l.athSnapped && l.lastAthBucket == bucket {
		l.athMu.Unlock()

		return
	}

	first := !l.athSnapped
	l.lastAthBucket = bucket
	l.athSnapped = true
	l.athMu.Unlock()

	// Nothing to fold on the very first tick of the process.
	if first {
		return
	}

	prev := clock.Offset(bucket, -1)

	stats, err := l.hourStats(ctx, prev)
	if err != nil {
		l.log.WithError(err).Warn("Reading previous hour for all-time highs failed")

		return
	}

	highs := map[string]int64{
		store.HighAverageChanges:  stats.AverageChanges,
		store.HighUniqueMappers:   stats.UniqueMappers,
		store.HighNewEdits:        stats.NewEdits,
		store.HighActiveCountries: stats.ActiveCountries,
		store.HighProjectTags:     stats.ProjectTags,
	}

	if len(stats.TopMappers) > 0 {
		highs[store.HighTopMapperLeader] = stats.TopMappers[0].Total
	}

	if len(stats.TopCountries) > 0 {
		highs[store.HighTopCountryLeader] = stats.TopCountries[0].Total
	}

	for metric, value := range highs {
		if _, err := l.store.RecordAndGetHigh(ctx, metric, float64(value)); err != nil {
			l.log.WithError(err).WithField("metric", metric).
				Warn("Recording hourly all-time high failed")
		}
	}

	if stats.CommentQuality > 0 {
		if _, err := l.store.RecordAndGetHigh(
			ctx,
			store.HighCommentQuality,
			stats.CommentQuality*commentScoreScale,
		); err != nil {
			l.log.WithError(err).Warn("Recording comment quality high failed")
		}
	}
}

func (l *Loop) hourStats(ctx context.Context, bucket clock.Bucket) (HourStats, error) {
	var stats HourStats

	var err error

	if stats.UniqueMappers, err = l.store.DistinctCount(ctx, bucket, metricUniqueMapper); err != nil {
		return stats, err
	}

	if stats.ActiveCountries, err = l.store.DistinctCount(ctx, bucket, metricTopCountry); err != nil {
		return stats, err
	}

	if stats.ProjectTags, err = l.store.DistinctCount(ctx, bucket, metricProjectTag); err != nil {
		return stats, err
	}

	total, err := l.store.Get(ctx, bucket, store.Key{Metric: metricAvgChangesTotal, Dimension: globalDimension})
	if err != nil {
		return stats, err
	}

	count, err := l.store.Get(ctx, bucket, store.Key{Metric: metricAvgChangesCount, Dimension: globalDimension})
	if err != nil {
		return stats, err
	}

	if count > 0 {
		stats.AverageChanges = (total + count/2) / count
	}

	if stats.NewEdits, err = l.store.Get(ctx, bucket, store.Key{Metric: metricNewEdits, Dimension: globalDimension}); err != nil {
		return stats, err
	}

	if stats.LargestChangeset, err = l.store.GetBucketMax(ctx, bucket, metricLargest); err != nil {
		return stats, err
	}

	scoreTotal, err := l.store.Get(ctx, bucket, store.Key{Metric: metricCommentScore, Dimension: globalDimension})
	if err != nil {
		return stats, err
	}

	scoreCount, err := l.store.Get(ctx, bucket, store.Key{Metric: metricCommentCount, Dimension: globalDimension})
	if err != nil {
		return stats, err
	}

	// Quality is only reported once the sample is large enough to
	// mean something.
	if scoreCount >= l.cfg.MinCommentSample {
		stats.CommentQuality = float64(scoreTotal) / float64(scoreCount) / commentScoreScale
	}

	if stats.TopMappers, err = l.store.TopN(ctx, bucket, metricTopMapper, l.cfg.TopMappers); err != nil {
		return stats, err
	}

	if stats.TopCountries, err = l.store.TopN(ctx, bucket, metricTopCountry, l.cfg.TopCountries); err != nil {
		return stats, err
	}

	if stats.TopTags, err = l.store.TopN(ctx, bucket, metricProjectTag, l.cfg.TopTags); err != nil {
		return stats, err
	}

	return stats, nil
}

func (l *Loop) buildSnapshot(
	ctx context.Context,
	now time.Time,
	bucket clock.Bucket,
	batch, newEvents []feed.Changeset,
	totalChangesets, totalEdits, smoothed int64,
) (*Snapshot, error) {
	thisHour, err := l.hourStats(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("reading current hour: %w", err)
	}

	lastHour, err := l.hourStats(ctx, clock.Offset(bucket, -1))
	if err != nil {
		return nil, fmt.Errorf("reading previous hour: %w", err)
	}

	highs := make(map[string]int64, 10)

	rateHigh, err := l.store.RecordAndGetHigh(ctx, store.HighEditsPerMinute, float64(smoothed))
	if err != nil {
		return nil, err
	}

	highs[store.HighEditsPerMinute] = rateHigh

	for _, metric := range []string{
		store.HighAverageChanges,
		store.HighUniqueMappers,
		store.HighNewEdits,
		store.HighActiveCountries,
		store.HighProjectTags,
		store.HighTopMapperLeader,
		store.HighTopCountryLeader,
		store.HighCommentQuality,
		store.HighLargestChangeset,
	} {
		value, err := l.store.GetHigh(ctx, metric)
		if err != nil {
			return nil, fmt.Errorf("reading all-time high %s: %w", metric, err)
		}

		highs[metric] = value
	}

	changesetTrend, err := l.store.QueryTrend(ctx, store.SeriesTotalChangesets, l.cfg.ChangesetTrendRetention, l.cfg.TrendMaxPoints, now)
	if err != nil {
		return nil, fmt.Errorf("querying changeset trend: %w", err)
	}

	rateTrend, err := l.store.QueryTrend(ctx, store.SeriesEditsPerMinute, l.cfg.RateTrendRetention, l.cfg.TrendMaxPoints, now)
	if err != nil {
		return nil, fmt.Errorf("querying rate trend: %w", err)
	}

	return &Snapshot{
		Timestamp:       now,
		Bucket:          int64(bucket),
		TotalChangesets: totalChangesets,
		TotalEdits:      totalEdits,
		EditsPerMinute:  smoothed,
		ThisHour:        thisHour,
		LastHour:        lastHour,
		AllTimeHighs:    highs,
		Batch:           batchStats(batch, newEvents),
		Trends: Trends{
			TotalChangesets: changesetTrend,
			EditsPerMinute:  rateTrend,
		},
	}, nil
}

// batchStats summarizes the raw poll batch, mirroring the per-batch
// numbers shown next to the hourly aggregates.
func batchStats(batch, newEvents []feed.Changeset) BatchStats {
	stats := BatchStats{
		Size:      len(batch),
		NewEvents: len(newEvents),
	}

	if len(batch) == 0 {
		return stats
	}

	counts := make(map[string]int64, len(batch))

	var total int64

	for _, cs := range batch {
		counts[cs.User]++
		total += cs.ChangesCount

		if cs.ChangesCount > stats.LargestChangeset {
			stats.LargestChangeset = cs.ChangesCount
		}
	}

	stats.AverageChanges = (total + int64(len(batch))/2) / int64(len(batch))

	users := make([]string, 0, len(counts))
	for user := range counts {
		users = append(users, user)
	}

	sort.Slice(users, func(i, j int) bool {
		if counts[users[i]] != counts[users[j]] {
			return counts[users[i]] > counts[users[j]]
		}

		return users[i] < users[j]
	})

	if len(users) > 3 {
		users = users[:3]
	}

	stats.TopMappers = users

	return stats
}
