package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmwatch/changepulse/internal/clock"
	"github.com/osmwatch/changepulse/internal/store"
)

func startServer(t *testing.T, snapshot any) (*Server, *store.Store) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	st, err := store.Open(log, store.Config{
		Path: filepath.Join(t.TempDir(), "stats.db"),
	})
	require.NoError(t, err)

	srv := NewServer(log, Config{Addr: "127.0.0.1:0"}, SnapshotFunc(func() any {
		return snapshot
	}), st, nil)

	require.NoError(t, srv.Start(context.Background()))

	t.Cleanup(func() {
		srv.Stop()
		st.Close()
	})

	// Give server a moment to start serving.
	time.Sleep(50 * time.Millisecond)

	return srv, st
}

func TestServer_StatsNotReady(t *testing.T) {
	srv, _ := startServer(t, nil)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/stats", srv.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_Stats(t *testing.T) {
	srv, _ := startServer(t, map[string]any{"edits_per_minute": 4200})

	resp, err := http.Get(fmt.Sprintf("http://%s/api/stats", srv.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"edits_per_minute":4200`)
}

func TestServer_Trend(t *testing.T) {
	srv, st := startServer(t, nil)

	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		ts := now.Add(time.Duration(i-5) * time.Minute).UnixMilli()
		require.NoError(t, st.AppendTrend(ctx, store.SeriesEditsPerMinute, ts, int64(100+i)))
	}

	url := fmt.Sprintf("http://%s/api/trend?series=%s&window=1h&max_points=100",
		srv.Addr(), store.SeriesEditsPerMinute)

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Series string             `json:"series"`
		Points []store.TrendPoint `json:"points"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))

	assert.Equal(t, store.SeriesEditsPerMinute, got.Series)
	assert.Len(t, got.Points, 5)
}

func TestServer_TrendValidation(t *testing.T) {
	srv, _ := startServer(t, nil)

	tests := []struct {
		name  string
		query string
	}{
		{"unknown series", "series=bogus"},
		{"missing series", ""},
		{"bad window", "series=edits_per_minute&window=soon"},
		{"negative window", "series=edits_per_minute&window=-1h"},
		{"bad max_points", "series=edits_per_minute&max_points=lots"},
		{"oversized max_points", "series=edits_per_minute&max_points=100000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(fmt.Sprintf("http://%s/api/trend?%s", srv.Addr(), tt.query))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestServer_Reset(t *testing.T) {
	srv, st := startServer(t, nil)

	ctx := context.Background()
	bucket := clock.BucketOf(time.Now().UTC())
	key := store.Key{Metric: "top_mapper", Dimension: "alice"}

	require.NoError(t, st.Increment(ctx, bucket, key, 5, 1))

	resp, err := http.Post(fmt.Sprintf("http://%s/api/reset", srv.Addr()), "", strings.NewReader(""))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	total, err := st.Get(ctx, bucket, key)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestServer_ResetRequiresPost(t *testing.T) {
	srv, _ := startServer(t, nil)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/reset", srv.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_Healthz(t *testing.T) {
	srv, _ := startServer(t, nil)

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", srv.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestServer_LifetimeEndpoints(t *testing.T) {
	srv, st := startServer(t, nil)
	ctx := context.Background()

	require.NoError(t, st.RecordLifetime(ctx, store.LifetimeEvent{
		EventID: 1, Mapper: "alice", Country: "DE", Changes: 10,
		Tags: []string{"hotosm-project-1"},
	}))
	require.NoError(t, st.RecordLifetime(ctx, store.LifetimeEvent{
		EventID: 2, Mapper: "bob", Country: "FR", Changes: 25,
	}))

	resp, err := http.Get(fmt.Sprintf("http://%s/api/users", srv.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var users []store.MapperLifetime
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&users))
	require.Len(t, users, 2)
	assert.Equal(t, store.MapperLifetime{User: "bob", Count: 25, CountryCode: "FR"}, users[0])
	assert.Equal(t, store.MapperLifetime{User: "alice", Count: 10, CountryCode: "DE"}, users[1])

	resp, err = http.Get(fmt.Sprintf("http://%s/api/countries", srv.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var countries []store.CountryLifetime
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&countries))
	require.Len(t, countries, 2)
	assert.Equal(t, store.CountryLifetime{CountryCode: "FR", Count: 25}, countries[0])

	resp, err = http.Get(fmt.Sprintf("http://%s/api/projects", srv.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var projects []store.ProjectLifetime
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&projects))
	require.Len(t, projects, 1)
	assert.Equal(t, "hotosm-project-1", projects[0].Tag)
	assert.Equal(t, int64(1), projects[0].Participants)
}

func TestServer_LifetimeEndpointsEmpty(t *testing.T) {
	srv, _ := startServer(t, nil)

	for _, path := range []string{"/api/users", "/api/countries", "/api/projects"} {
		resp, err := http.Get(fmt.Sprintf("http://%s%s", srv.Addr(), path))
		require.NoError(t, err)

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "[]", strings.TrimSpace(string(body)))
	}
}

func TestServer_LifetimeEndpointsRequireGet(t *testing.T) {
	srv, _ := startServer(t, nil)

	resp, err := http.Post(fmt.Sprintf("http://%s/api/users", srv.Addr()), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
