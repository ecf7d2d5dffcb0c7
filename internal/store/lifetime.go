package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Lifetime metric names. Unlike bucket metrics these never expire;
// they accumulate for as long as the database lives.
const (
	lifetimeMapper  = "mapper"
	lifetimeCountry = "country"
	lifetimeTag     = "tag"
)

// LifetimeEvent carries one changeset's contribution to the
// cumulative per-dimension totals.
type LifetimeEvent struct {
	EventID int64
	Mapper  string
	Country string
	Tags    []string
	Changes int64
}

// MapperLifetime is one mapper's cumulative edit total, attributed to
// the country they have edited the most.
type MapperLifetime struct {
	User        string `json:"user"`
	Count       int64  `json:"count"`
	CountryCode string `json:"country_code,omitempty"`
}

// CountryLifetime is one country's cumulative edit total.
type CountryLifetime struct {
	CountryCode string `json:"country_code"`
	Count       int64  `json:"count"`
}

// ProjectLifetime is one project hashtag's cumulative edit total, with
// its leading country and distinct contributor count.
type ProjectLifetime struct {
	Tag          string `json:"tag"`
	Count        int64  `json:"count"`
	CountryCode  string `json:"country_code,omitempty"`
	Participants int64  `json:"participants"`
}

// RecordLifetime folds one changeset into the cumulative totals. The
// event id gates the whole contribution through a membership row, so
// a changeset replayed across polls or restarts is a no-op.
func (s *Store) RecordLifetime(ctx context.Context, ev LifetimeEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning lifetime transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO lifetime_memberships (event_id)
		VALUES (?)`,
		ev.EventID,
	)
	if err != nil {
		return fmt.Errorf("inserting lifetime membership: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking lifetime membership: %w", err)
	}

	if inserted == 0 {
		// Event already folded in.
		return tx.Commit()
	}

	if err := addLifetime(ctx, tx, lifetimeMapper, ev.Mapper, ev.Changes); err != nil {
		return err
	}

	if ev.Country != "" {
		if err := addLifetime(ctx, tx, lifetimeCountry, ev.Country, ev.Changes); err != nil {
			return err
		}

		if err := addAttribution(ctx, tx, lifetimeMapper, ev.Mapper, ev.Country, ev.Changes); err != nil {
			return err
		}
	}

	for _, tag := range ev.Tags {
		if err := addLifetime(ctx, tx, lifetimeTag, tag, ev.Changes); err != nil {
			return err
		}

		if ev.Country != "" {
			if err := addAttribution(ctx, tx, lifetimeTag, tag, ev.Country, ev.Changes); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO lifetime_participants (tag, user)
			VALUES (?, ?)`,
			tag, ev.Mapper,
		); err != nil {
			return fmt.Errorf("recording tag participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing lifetime record: %w", err)
	}

	return nil
}

func addLifetime(ctx context.Context, tx *sql.Tx, metric, dimension string, amount int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO lifetime_totals (metric, dimension, total)
		VALUES (?, ?, ?)
		ON CONFLICT (metric, dimension)
			DO UPDATE SET total = total + excluded.total`,
		metric, dimension, amount,
	); err != nil {
		return fmt.Errorf("updating lifetime total %s/%s: %w", metric, dimension, err)
	}

	return nil
}

func addAttribution(ctx context.Context, tx *sql.Tx, metric, dimension, attribution string, amount int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO lifetime_attributions (metric, dimension, attribution, total)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (metric, dimension, attribution)
			DO UPDATE SET total = total + excluded.total`,
		metric, dimension, attribution, amount,
	); err != nil {
		return fmt.Errorf("updating lifetime attribution %s/%s: %w", metric, dimension, err)
	}

	return nil
}

// LifetimeMappers returns every mapper's cumulative edit total in
// descending order, ties broken by user ascending. The attributed
// country is the one the mapper has the most edits in, ties broken by
// code ascending.
func (s *Store) LifetimeMappers(ctx context.Context) ([]MapperLifetime, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			totals.dimension,
			totals.total,
			COALESCE((
				SELECT attribution
				FROM lifetime_attributions
				WHERE metric = ? AND dimension = totals.dimension
				ORDER BY total DESC, attribution ASC
				LIMIT 1
			), '')
		FROM lifetime_totals AS totals
		WHERE totals.metric = ? AND totals.total > 0
		ORDER BY totals.total DESC, totals.dimension ASC`,
		lifetimeMapper, lifetimeMapper,
	)
	if err != nil {
		return nil, fmt.Errorf("querying lifetime mappers: %w", err)
	}
	defer rows.Close()

	out := []MapperLifetime{}

	for rows.Next() {
		var m MapperLifetime
		if err := rows.Scan(&m.User, &m.Count, &m.CountryCode); err != nil {
			return nil, fmt.Errorf("scanning lifetime mapper: %w", err)
		}

		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lifetime mappers: %w", err)
	}

	return out, nil
}

// LifetimeCountries returns every country's cumulative edit total in
// descending order, ties broken by code ascending.
func (s *Store) LifetimeCountries(ctx context.Context) ([]CountryLifetime, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dimension, total
		FROM lifetime_totals
		WHERE metric = ? AND total > 0
		ORDER BY total DESC, dimension ASC`,
		lifetimeCountry,
	)
	if err != nil {
		return nil, fmt.Errorf("querying lifetime countries: %w", err)
	}
	defer rows.Close()

	out := []CountryLifetime{}

	for rows.Next() {
		var c CountryLifetime
		if err := rows.Scan(&c.CountryCode, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning lifetime country: %w", err)
		}

		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lifetime countries: %w", err)
	}

	return out, nil
}

// LifetimeProjects returns every project hashtag's cumulative edit
// total in descending order, with its leading country and distinct
// contributor count.
func (s *Store) LifetimeProjects(ctx context.Context) ([]ProjectLifetime, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			totals.dimension,
			totals.total,
			COALESCE((
				SELECT attribution
				FROM lifetime_attributions
				WHERE metric = ? AND dimension = totals.dimension
				ORDER BY total DESC, attribution ASC
				LIMIT 1
			), ''),
			(
				SELECT COUNT(*)
				FROM lifetime_participants
				WHERE tag = totals.dimension
			)
		FROM lifetime_totals AS totals
		WHERE totals.metric = ? AND totals.total > 0
		ORDER BY totals.total DESC, totals.dimension ASC`,
		lifetimeTag, lifetimeTag,
	)
	if err != nil {
		return nil, fmt.Errorf("querying lifetime projects: %w", err)
	}
	defer rows.Close()

	out := []ProjectLifetime{}

	for rows.Next() {
		var p ProjectLifetime
		if err := rows.Scan(&p.Tag, &p.Count, &p.CountryCode, &p.Participants); err != nil {
			return nil, fmt.Errorf("scanning lifetime project: %w", err)
		}

		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lifetime projects: %w", err)
	}

	return out, nil
}
