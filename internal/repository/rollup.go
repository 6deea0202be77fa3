package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shortstat/shortstat/internal/model"
)

// Rollup rows use an empty link_id for the global scope so the unique
// (link_id, period, date) index can enforce at-most-one summary per
// key without NULL special-casing.

// RollupFilter scopes rollup read queries. Start and End are
// inclusive UTC day midnights.
type RollupFilter struct {
	LinkID  string // one link's rollups
	OwnerID string // rollups of links owned by this user
	Global  bool   // only global-scope rollups
	Start   time.Time
	End     time.Time
}

// UpsertRollup writes a rollup summary with whole-document replace
// semantics: every column is overwritten on conflict, so a re-run of
// the aggregator over unchanged events is a no-op in effect.
func (r *Repository) UpsertRollup(ctx context.Context, s *model.RollupSummary) error {
	countries, err := marshalBuckets(s.Countries)
	if err != nil {
		return fmt.Errorf("marshal countries: %w", err)
	}
	devices, err := marshalBuckets(s.Devices)
	if err != nil {
		return fmt.Errorf("marshal devices: %w", err)
	}
	browsers, err := marshalBuckets(s.Browsers)
	if err != nil {
		return fmt.Errorf("marshal browsers: %w", err)
	}
	hours, err := marshalBuckets(s.Hours)
	if err != nil {
		return fmt.Errorf("marshal hours: %w", err)
	}
	referrers, err := marshalBuckets(s.Referrers)
	if err != nil {
		return fmt.Errorf("marshal referrers: %w", err)
	}

	query := `
		INSERT INTO rollups (
			id, link_id, period, date,
			total_visits, unique_visits,
			countries, devices, browsers, hours, referrers,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (link_id, period, date) DO UPDATE SET
			total_visits = EXCLUDED.total_visits,
			unique_visits = EXCLUDED.unique_visits,
			countries = EXCLUDED.countries,
			devices = EXCLUDED.devices,
			browsers = EXCLUDED.browsers,
			hours = EXCLUDED.hours,
			referrers = EXCLUDED.referrers,
			updated_at = NOW()
	`

	_, err = r.pool.Exec(ctx, query,
		s.ID,
		s.LinkID,
		s.Period,
		s.Date,
		s.TotalVisits,
		s.UniqueVisits,
		countries,
		devices,
		browsers,
		hours,
		referrers,
	)
	if err != nil {
		return fmt.Errorf("upsert rollup: %w", err)
	}

	return nil
}

// GlobalRollupExists reports whether a global-scope daily summary
// exists for the given UTC day. The aggregator uses it as the
// "day already closed" marker.
func (r *Repository) GlobalRollupExists(ctx context.Context, day time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM rollups
			WHERE link_id = '' AND period = $1 AND date = $2
		)
	`, model.PeriodDaily, day).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check rollup existence: %w", err)
	}
	return exists, nil
}

// GetRollups retrieves daily summaries matching the filter, sorted
// chronologically.
func (r *Repository) GetRollups(ctx context.Context, f RollupFilter) ([]*model.RollupSummary, error) {
	query := `
		SELECT id, link_id, period, date,
		       total_visits, unique_visits,
		       countries, devices, browsers, hours, referrers,
		       created_at, updated_at
		FROM rollups
		WHERE period = $1
	`
	args := []any{model.PeriodDaily}
	idx := 2

	switch {
	case f.Global:
		query += " AND link_id = ''"
	case f.LinkID != "":
		query += fmt.Sprintf(" AND link_id = $%d", idx)
		args = append(args, f.LinkID)
		idx++
	case f.OwnerID != "":
		query += fmt.Sprintf(" AND link_id <> '' AND EXISTS (SELECT 1 FROM links l WHERE l.id = rollups.link_id AND l.owner_id = $%d)", idx)
		args = append(args, f.OwnerID)
		idx++
	}

	if !f.Start.IsZero() {
		query += fmt.Sprintf(" AND date >= $%d", idx)
		args = append(args, f.Start)
		idx++
	}
	if !f.End.IsZero() {
		query += fmt.Sprintf(" AND date <= $%d", idx)
		args = append(args, f.End)
		idx++
	}

	query += " ORDER BY date ASC, link_id ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rollups: %w", err)
	}
	defer rows.Close()

	var summaries []*model.RollupSummary
	for rows.Next() {
		var s model.RollupSummary
		var countries, devices, browsers, hours, referrers []byte

		err := rows.Scan(
			&s.ID,
			&s.LinkID,
			&s.Period,
			&s.Date,
			&s.TotalVisits,
			&s.UniqueVisits,
			&countries,
			&devices,
			&browsers,
			&hours,
			&referrers,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan rollup: %w", err)
		}

		s.Date = s.Date.UTC()
		if s.Countries, err = unmarshalBuckets(countries); err != nil {
			return nil, fmt.Errorf("unmarshal countries: %w", err)
		}
		if s.Devices, err = unmarshalBuckets(devices); err != nil {
			return nil, fmt.Errorf("unmarshal devices: %w", err)
		}
		if s.Browsers, err = unmarshalBuckets(browsers); err != nil {
			return nil, fmt.Errorf("unmarshal browsers: %w", err)
		}
		if s.Hours, err = unmarshalBuckets(hours); err != nil {
			return nil, fmt.Errorf("unmarshal hours: %w", err)
		}
		if s.Referrers, err = unmarshalBuckets(referrers); err != nil {
			return nil, fmt.Errorf("unmarshal referrers: %w", err)
		}

		summaries = append(summaries, &s)
	}

	return summaries, rows.Err()
}

func marshalBuckets(buckets []model.BucketStat) ([]byte, error) {
	if buckets == nil {
		buckets = []model.BucketStat{}
	}
	return json.Marshal(buckets)
}

func unmarshalBuckets(data []byte) ([]model.BucketStat, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var buckets []model.BucketStat
	if err := json.Unmarshal(data, &buckets); err != nil {
		return nil, err
	}
	return buckets, nil
}
