package archive

import (
	"context"
	"fmt"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/osmwatch/changepulse/internal/feed"
)

// Archiver fans records out to the configured sinks.
type Archiver struct {
	log        logrus.FieldLogger
	cfg        Config
	httpProc   *processor.BatchItemProcessor[Record]
	clickhouse *ClickHouseSink
}

// New creates an Archiver from config. Returns nil when no sink is
// enabled; callers treat a nil Archiver as a no-op.
func New(log logrus.FieldLogger, cfg Config) (*Archiver, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if !cfg.Enabled() {
		return nil, nil
	}

	a := &Archiver{
		log: log.WithField("component", "archive"),
		cfg: cfg,
	}

	if cfg.HTTP.Enabled {
		proc, err := NewHTTPProcessor(log, cfg.HTTP)
		if err != nil {
			return nil, fmt.Errorf("creating http processor: %w", err)
		}

		a.httpProc = proc
	}

	if cfg.ClickHouse.Enabled {
		a.clickhouse = NewClickHouseSink(log, cfg.ClickHouse)
	}

	return a, nil
}

// Start connects the sinks that need a connection.
func (a *Archiver) Start(ctx context.Context) error {
	if a == nil {
		return nil
	}

	if a.clickhouse != nil {
		if err := a.clickhouse.Start(ctx); err != nil {
			return fmt.Errorf("starting clickhouse sink: %w", err)
		}
	}

	return nil
}

// Archive converts closed changesets into records and queues them
// on every enabled sink.
func (a *Archiver) Archive(ctx context.Context, changesets []feed.Changeset, hashtags func(string) []string) error {
	if a == nil || len(changesets) == 0 {
		return nil
	}

	now := time.Now().UTC()

	records := make([]*Record, 0, len(changesets))

	for _, cs := range changesets {
		rec := &Record{
			ID:             cs.ID,
			User:           cs.User,
			ChangesCount:   cs.ChangesCount,
			CreatedAt:      cs.CreatedAt,
			ClosedAt:       cs.ClosedAt,
			CountryCode:    cs.CountryCode,
			Comment:        cs.Comment,
			ReceivedAt:     now,
			MetaClientName: a.cfg.MetaClientName,
		}

		if hashtags != nil {
			rec.Hashtags = hashtags(cs.Comment)
		}

		records = append(records, rec)
	}

	if a.httpProc != nil {
		if err := a.httpProc.Write(ctx, records); err != nil {
			return fmt.Errorf("queueing http batch: %w", err)
		}
	}

	if a.clickhouse != nil {
		for _, rec := range records {
			if err := a.clickhouse.Append(ctx, rec); err != nil {
				return fmt.Errorf("queueing clickhouse batch: %w", err)
			}
		}
	}

	return nil
}

// Stop drains and shuts down all sinks.
func (a *Archiver) Stop() error {
	if a == nil {
		return nil
	}

	var firstErr error

	if a.httpProc != nil {
		if err := a.httpProc.Shutdown(context.Background()); err != nil {
			a.log.WithError(err).Error("HTTP processor shutdown failed")

			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if a.clickhouse != nil {
		if err := a.clickhouse.Stop(); err != nil {
			a.log.WithError(err).Error("ClickHouse sink shutdown failed")

			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
