// Package service wires the changepulse components together and
// manages their lifecycle.
package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/osmwatch/changepulse/internal/api"
	"github.com/osmwatch/changepulse/internal/archive"
	"github.com/osmwatch/changepulse/internal/country"
	"github.com/osmwatch/changepulse/internal/export"
	"github.com/osmwatch/changepulse/internal/feed"
	"github.com/osmwatch/changepulse/internal/ingest"
	"github.com/osmwatch/changepulse/internal/publish"
	"github.com/osmwatch/changepulse/internal/rate"
	"github.com/osmwatch/changepulse/internal/store"
)

// Service is the top-level orchestrator for changepulse.
type Service interface {
	// Start initializes all components and begins ingestion.
	Start(ctx context.Context) error
	// Stop shuts down all components gracefully.
	Stop() error
}

type service struct {
	log      logrus.FieldLogger
	cfg      *Config
	health   *export.HealthMetrics
	store    *store.Store
	hub      *publish.Hub
	archiver *archive.Archiver
	loop     *ingest.Loop
	api      *api.Server

	cancel context.CancelFunc
}

// New creates a new Service.
func New(log logrus.FieldLogger, cfg *Config) (Service, error) {
	cfg.ApplyDefaults()

	health := export.NewHealthMetrics(log, cfg.Health)

	st, err := store.Open(log, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	resolver, err := country.NewResolver(log)
	if err != nil {
		st.Close()

		return nil, fmt.Errorf("creating country resolver: %w", err)
	}

	archiver, err := archive.New(log, cfg.Archive)
	if err != nil {
		st.Close()

		return nil, fmt.Errorf("creating archiver: %w", err)
	}

	hub := publish.NewHub(log)

	loop := ingest.New(
		log,
		cfg.Ingest,
		feed.NewClient(log, cfg.Feed),
		resolver,
		st,
		rate.New(cfg.Rate),
		hub,
		archiver,
		health,
	)

	apiServer := api.NewServer(log, cfg.API, api.SnapshotFunc(func() any {
		if snap := loop.Latest(); snap != nil {
			return snap
		}

		return nil
	}), st, hub)

	return &service{
		log:      log.WithField("component", "service"),
		cfg:      cfg,
		health:   health,
		store:    st,
		hub:      hub,
		archiver: archiver,
		loop:     loop,
		api:      apiServer,
	}, nil
}

func (s *service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.health.Start(ctx); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}

	if err := s.archiver.Start(ctx); err != nil {
		return fmt.Errorf("starting archiver: %w", err)
	}

	go s.hub.Run(ctx)

	if err := s.api.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	if err := s.loop.Start(ctx); err != nil {
		return fmt.Errorf("starting ingestion loop: %w", err)
	}

	s.log.Info("Service started")

	return nil
}

func (s *service) Stop() error {
	s.log.Info("Stopping service")

	if err := s.loop.Stop(); err != nil {
		s.log.WithError(err).Error("Stopping ingestion loop failed")
	}

	if err := s.api.Stop(); err != nil {
		s.log.WithError(err).Error("Stopping api server failed")
	}

	if err := s.archiver.Stop(); err != nil {
		s.log.WithError(err).Error("Stopping archiver failed")
	}

	if err := s.health.Stop(); err != nil {
		s.log.WithError(err).Error("Stopping health metrics failed")
	}

	if s.cancel != nil {
		s.cancel()
	}

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}

	s.log.Info("Service stopped")

	return nil
}
