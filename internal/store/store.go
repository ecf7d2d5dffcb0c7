// Package store persists every hourly aggregate behind the live stats:
// idempotent bucketed counters, per-bucket maxima, all-time highs and
// trend series. SQLite in WAL mode gives the single-writer ingestion
// loop short transactions while request handlers read concurrently.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // database/sql driver.

	"github.com/osmwatch/changepulse/internal/clock"
	"github.com/osmwatch/changepulse/internal/migrate"
)

// Config configures the stats database.
type Config struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`
}

// Key addresses one counter inside one bucket: a metric name plus an
// optional dimension value (user, country code, hashtag). Metrics
// without a dimension use the empty string.
type Key struct {
	Metric    string
	Dimension string
}

// DimensionTotal is one ranked entry returned by TopN.
type DimensionTotal struct {
	Dimension string `json:"dimension"`
	Total     int64  `json:"total"`
}

// Store owns the stats database. All methods are safe for concurrent
// use; writes run in short transactions so readers never observe a
// membership row without its counter update.
type Store struct {
	log logrus.FieldLogger
	db  *sql.DB

	pruneMu    sync.Mutex
	lastPruned clock.Bucket
	hasPruned  bool
}

// Open opens (creating if necessary) the stats database at cfg.Path
// and applies pending schema migrations.
func Open(log logrus.FieldLogger, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}

	if err := migrate.Run(log, cfg.Path); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	dsn := "file:" + cfg.Path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.Path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()

		return nil, fmt.Errorf("pinging database %s: %w", cfg.Path, err)
	}

	log.WithField("component", "store").
		WithField("path", cfg.Path).
		Info("Stats database opened")

	return &Store{
		log: log.WithField("component", "store"),
		db:  db,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ResetAll deletes every row from every stats table. Exposed through
// the admin reset endpoint only.
func (s *Store) ResetAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning reset transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{
		"bucket_totals",
		"bucket_memberships",
		"bucket_maxima",
		"all_time_highs",
		"trend_points",
		"lifetime_totals",
		"lifetime_attributions",
		"lifetime_participants",
		"lifetime_memberships",
	} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reset: %w", err)
	}

	s.pruneMu.Lock()
	s.hasPruned = false
	s.pruneMu.Unlock()

	s.log.Warn("All stats tables reset")

	return nil
}
