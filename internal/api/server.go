// Package api serves the read-side HTTP endpoints: the latest
// snapshot, trend queries, the websocket upgrade, and the admin
// reset.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/osmwatch/changepulse/internal/store"
)

// Config configures the API server.
type Config struct {
	// Addr is the listen address. Defaults to ":8080".
	Addr string `yaml:"addr"`
}

// SnapshotSource yields the most recent published snapshot.
type SnapshotSource interface {
	Latest() any
}

// SnapshotFunc adapts a function to SnapshotSource.
type SnapshotFunc func() any

// Latest implements SnapshotSource.
func (f SnapshotFunc) Latest() any { return f() }

// Server is the read-side HTTP server.
type Server struct {
	log      logrus.FieldLogger
	addr     string
	source   SnapshotSource
	store    *store.Store
	ws       http.Handler
	server   *http.Server
	listener net.Listener
}

// NewServer creates the API server. ws handles websocket upgrades
// and may be nil to disable /ws.
func NewServer(
	log logrus.FieldLogger,
	cfg Config,
	source SnapshotSource,
	st *store.Store,
	ws http.Handler,
) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	return &Server{
		log:    log.WithField("component", "api"),
		addr:   addr,
		source: source,
		store:  st,
		ws:     ws,
	}
}

// Start begins serving.
func (s *Server) Start(_ context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/trend", s.handleTrend)
	mux.HandleFunc("/api/users", s.handleUsers)
	mux.HandleFunc("/api/countries", s.handleCountries)
	mux.HandleFunc("/api/projects", s.handleProjects)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	if s.ws != nil {
		mux.Handle("/ws", s.ws)
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	s.listener = ln

	s.server = &http.Server{
		Handler: mux,
	}

	go func() {
		s.log.WithField("addr", ln.Addr().String()).Info("API server started")

		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("API server error")
		}
	}()

	return nil
}

// Addr returns the actual listener address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.addr
}

// Stop shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	return s.server.Close()
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	snap := s.source.Latest()
	if snap == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)

		return
	}

	writeJSON(w, snap)
}

// Trend query bounds.
const (
	defaultTrendWindow = 24 * time.Hour
	defaultMaxPoints   = 200
	maxMaxPoints       = 2000
)

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	series := r.URL.Query().Get("series")

	switch series {
	case store.SeriesTotalChangesets, store.SeriesEditsPerMinute:
	default:
		http.Error(w, "unknown series", http.StatusBadRequest)

		return
	}

	window := defaultTrendWindow

	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid window", http.StatusBadRequest)

			return
		}

		window = parsed
	}

	maxPoints := defaultMaxPoints

	if raw := r.URL.Query().Get("max_points"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxMaxPoints {
			http.Error(w, "invalid max_points", http.StatusBadRequest)

			return
		}

		maxPoints = parsed
	}

	points, err := s.store.QueryTrend(r.Context(), series, window, maxPoints, time.Now().UTC())
	if err != nil {
		s.log.WithError(err).Error("Trend query failed")
		http.Error(w, "trend query failed", http.StatusInternalServerError)

		return
	}

	if points == nil {
		points = []store.TrendPoint{}
	}

	writeJSON(w, map[string]any{
		"series": series,
		"points": points,
	})
}

// handleUsers serves the cumulative per-mapper edit totals with each
// mapper's leading country.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	mappers, err := s.store.LifetimeMappers(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Lifetime mapper query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)

		return
	}

	writeJSON(w, mappers)
}

// handleCountries serves the cumulative per-country edit totals.
func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	countries, err := s.store.LifetimeCountries(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Lifetime country query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)

		return
	}

	writeJSON(w, countries)
}

// handleProjects serves the cumulative per-hashtag edit totals with
// leading country and participant counts.
func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	projects, err := s.store.LifetimeProjects(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Lifetime project query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)

		return
	}

	writeJSON(w, projects)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	if err := s.store.ResetAll(r.Context()); err != nil {
		s.log.WithError(err).Error("Reset failed")
		http.Error(w, "reset failed", http.StatusInternalServerError)

		return
	}

	s.log.Warn("All stats reset via API")

	writeJSON(w, map[string]string{"status": "reset"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}
