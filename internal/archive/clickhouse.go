package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/sirupsen/logrus"
)

// ClickHouseSink buffers records and batch-inserts them into a
// ClickHouse table.
type ClickHouseSink struct {
	log  logrus.FieldLogger
	cfg  ClickHouseConfig
	conn clickhouse.Conn

	mu      sync.Mutex
	pending []*Record

	cancel context.CancelFunc
	done   chan struct{}
}

// NewClickHouseSink creates a ClickHouse sink.
func NewClickHouseSink(log logrus.FieldLogger, cfg ClickHouseConfig) *ClickHouseSink {
	cfg.ApplyDefaults()

	return &ClickHouseSink{
		log:     log.WithField("component", "archive_clickhouse"),
		cfg:     cfg,
		pending: make([]*Record, 0, cfg.BatchSize),
	}
}

// Start opens the connection and begins the flush loop.
func (s *ClickHouseSink) Start(ctx context.Context) error {
	opts := &clickhouse.Options{
		Addr: []string{s.cfg.Endpoint},
		Auth: clickhouse.Auth{
			Database: s.cfg.Database,
			Username: s.cfg.Username,
			Password: s.cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return fmt.Errorf("opening ClickHouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("pinging ClickHouse: %w", err)
	}

	s.conn = conn

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.flushLoop(loopCtx)

	s.log.WithField("endpoint", s.cfg.Endpoint).Info("ClickHouse sink connected")

	return nil
}

// Append queues a record for the next batch insert. A full buffer
// triggers an immediate flush.
func (s *ClickHouseSink) Append(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	s.pending = append(s.pending, rec)
	full := len(s.pending) >= s.cfg.BatchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}

	return nil
}

// Flush writes all pending records in a single batch insert.
func (s *ClickHouseSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = make([]*Record, 0, s.cfg.BatchSize)
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	table := fmt.Sprintf("%s.%s", s.cfg.Database, s.cfg.Table)

	query := fmt.Sprintf(`INSERT INTO %s (
		id, user, changes_count, created_at, closed_at,
		country_code, comment, hashtags, received_at, meta_client_name
	)`, table)

	insert, err := s.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing batch: %w", err)
	}

	for _, rec := range batch {
		if err := insert.Append(
			rec.ID, rec.User, rec.ChangesCount, rec.CreatedAt, rec.ClosedAt,
			rec.CountryCode, rec.Comment, rec.Hashtags, rec.ReceivedAt, rec.MetaClientName,
		); err != nil {
			return fmt.Errorf("appending row: %w", err)
		}
	}

	if err := insert.Send(); err != nil {
		return fmt.Errorf("sending batch: %w", err)
	}

	s.log.WithField("rows", len(batch)).Debug("Flushed changeset batch")

	return nil
}

func (s *ClickHouseSink) flushLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.log.WithError(err).Error("Periodic flush failed")
			}
		}
	}
}

// Stop flushes remaining records and closes the connection.
func (s *ClickHouseSink) Stop() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	if s.conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Flush(ctx); err != nil {
		s.log.WithError(err).Error("Final flush failed")
	}

	return s.conn.Close()
}
