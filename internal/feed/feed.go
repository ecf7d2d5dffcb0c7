// Package feed polls the OpenStreetMap API for recently closed
// changesets. The upstream is treated as unreliable: requests are
// bounded by a timeout and any failure is surfaced to the caller, who
// skips the tick rather than crashing.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Changeset is one externally reported change submission.
type Changeset struct {
	ID           int64     `json:"id"`
	User         string    `json:"user"`
	ChangesCount int64     `json:"changes_count"`
	CreatedAt    time.Time `json:"created_at"`
	ClosedAt     time.Time `json:"closed_at"`
	MinLat       float64   `json:"min_lat"`
	MinLon       float64   `json:"min_lon"`
	MaxLat       float64   `json:"max_lat"`
	MaxLon       float64   `json:"max_lon"`
	Comment      string    `json:"comment"`

	// CountryCode is filled in by the ingestion loop after geographic
	// resolution; empty when the bounding box is missing or unresolvable.
	CountryCode string `json:"country_code,omitempty"`
}

// HasBounds reports whether the changeset carries a usable bounding
// box. Changesets with no edits touching geometry come without one.
func (c Changeset) HasBounds() bool {
	return !(c.MinLat == 0 && c.MinLon == 0 && c.MaxLat == 0 && c.MaxLon == 0)
}

// Client fetches the latest closed changesets from the upstream API.
type Client interface {
	// FetchLatest retrieves the most recently closed changesets,
	// newest first.
	FetchLatest(ctx context.Context) ([]Changeset, error)
}

type client struct {
	log      logrus.FieldLogger
	endpoint string
	limit    int
	http     *http.Client
}

// NewClient creates a new changeset feed client.
func NewClient(log logrus.FieldLogger, cfg Config) Client {
	cfg.ApplyDefaults()

	return &client{
		log:      log.WithField("component", "feed"),
		endpoint: cfg.Endpoint,
		limit:    cfg.Limit,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// changesetJSON mirrors the wire format of /api/0.6/changesets.json.
type changesetJSON struct {
	ID           int64             `json:"id"`
	User         string            `json:"user"`
	ChangesCount int64             `json:"changes_count"`
	CreatedAt    string            `json:"created_at"`
	ClosedAt     string            `json:"closed_at"`
	Open         bool              `json:"open"`
	MinLat       float64           `json:"min_lat"`
	MinLon       float64           `json:"min_lon"`
	MaxLat       float64           `json:"max_lat"`
	MaxLon       float64           `json:"max_lon"`
	Tags         map[string]string `json:"tags"`
}

func (c *client) FetchLatest(ctx context.Context) ([]Changeset, error) {
	var resp struct {
		Changesets []changesetJSON `json:"changesets"`
	}

	query := url.Values{
		"limit":  {strconv.Itoa(c.limit)},
		"closed": {"true"},
	}

	path := "/api/0.6/changesets.json?" + query.Encode()

	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("fetching changesets: %w", err)
	}

	out := make([]Changeset, 0, len(resp.Changesets))

	for _, cs := range resp.Changesets {
		if cs.Open {
			// Only closed changesets have final change counts.
			continue
		}

		out = append(out, Changeset{
			ID:           cs.ID,
			User:         cs.User,
			ChangesCount: cs.ChangesCount,
			CreatedAt:    parseTime(cs.CreatedAt),
			ClosedAt:     parseTime(cs.ClosedAt),
			MinLat:       cs.MinLat,
			MinLon:       cs.MinLon,
			MaxLat:       cs.MaxLat,
			MaxLon:       cs.MaxLon,
			Comment:      cs.Tags["comment"],
		})
	}

	return out, nil
}

// parseTime tolerates the upstream's timestamp variants; a zero time
// is returned for anything unparseable rather than failing the batch.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}

	return time.Time{}
}

func (c *client) getJSON(
	ctx context.Context,
	path string,
	target any,
) error {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.endpoint+path, nil,
	)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", path, err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("executing request for %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)

		return fmt.Errorf(
			"unexpected status %d from %s: %s",
			resp.StatusCode,
			path,
			string(body),
		)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}

	return nil
}
