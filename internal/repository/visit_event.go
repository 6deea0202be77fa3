package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/shortstat/shortstat/internal/model"
)

// VisitDimension selects the grouping column for breakdown queries.
// Each dimension maps to a fixed SQL expression; callers can never
// inject arbitrary column names.
type VisitDimension string

const (
	DimCountry     VisitDimension = "country"
	DimDeviceType  VisitDimension = "device_type"
	DimDeviceBrand VisitDimension = "device_brand"
	DimBrowser     VisitDimension = "browser"
	DimHour        VisitDimension = "hour"
	DimDayOfWeek   VisitDimension = "day_of_week"
	DimReferrer    VisitDimension = "referrer"
)

// dimensionExpr maps a dimension to its grouping expression. Empty
// values collapse into a single bucket so that every event lands in
// exactly one bucket per dimension.
var dimensionExpr = map[VisitDimension]string{
	DimCountry:     `COALESCE(NULLIF(v.country, ''), 'unknown')`,
	DimDeviceType:  `COALESCE(NULLIF(v.device_type, ''), 'unknown')`,
	DimDeviceBrand: `COALESCE(NULLIF(v.device_brand, ''), 'unknown')`,
	DimBrowser:     `COALESCE(NULLIF(v.browser, ''), 'unknown')`,
	DimHour:        `v.hour::text`,
	DimDayOfWeek:   `v.day_of_week::text`,
	DimReferrer:    `COALESCE(NULLIF(v.referrer_host, ''), '(direct)')`,
}

// VisitFilter scopes visit-event read queries.
// Start is inclusive, End exclusive. A zero End means unbounded.
type VisitFilter struct {
	LinkID     string // restrict to one link
	OwnerID    string // restrict to links owned by this user
	DeviceType string // restrict to one device type (e.g. mobile-brand queries)
	Start      time.Time
	End        time.Time
}

// VisitTotals is the typed result of the totals query.
type VisitTotals struct {
	Visits       int64
	UniqueVisits int64
}

// DayVisits is one point of a per-day visit timeline.
type DayVisits struct {
	Day          time.Time
	Visits       int64
	UniqueVisits int64
}

// BulkInsertVisits inserts visit events with idempotency via
// ON CONFLICT DO NOTHING on the stream event ID. Events are immutable:
// no code path updates or deletes a row after this insert.
func (r *Repository) BulkInsertVisits(ctx context.Context, events []*model.VisitEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	query := `
		INSERT INTO visit_events (
			id, event_id, link_id, short_code,
			ip, user_agent, referrer, referrer_host,
			country, region, city, timezone,
			device_type, device_brand, os,
			browser, browser_version, browser_engine,
			visitor_id, session_id, is_unique_visitor,
			visited_at, hour, day_of_week, day_of_month, month, year,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, NOW()
		)
		ON CONFLICT (event_id) DO NOTHING
	`

	for _, e := range events {
		batch.Queue(query,
			e.ID,
			e.EventID,
			e.LinkID,
			e.ShortCode,
			nullableString(e.IP),
			nullableString(e.UserAgent),
			nullableString(e.Referrer),
			nullableString(e.ReferrerHost),
			nullableString(e.Country),
			nullableString(e.Region),
			nullableString(e.City),
			nullableString(e.Timezone),
			nullableString(e.DeviceType),
			nullableString(e.DeviceBrand),
			nullableString(e.OS),
			nullableString(e.Browser),
			nullableString(e.BrowserVersion),
			nullableString(e.BrowserEngine),
			nullableString(e.VisitorID),
			e.SessionID,
			e.IsUniqueVisitor,
			e.VisitedAt,
			e.Hour,
			e.DayOfWeek,
			e.DayOfMonth,
			e.Month,
			e.Year,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < len(events); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert visit %d: %w", i, err)
		}
	}

	return nil
}

// HasVisitSince reports whether a visit already exists for the link
// from the same visitor within [since, until). The durable visitor ID
// is preferred; the session fingerprint is the fallback when no cookie
// was present. Used by the uniqueness classifier.
//
// This is a plain read; there is no transactional guard against a
// concurrent insert between this check and the caller's write.
func (r *Repository) HasVisitSince(ctx context.Context, linkID, visitorID, sessionID string, since, until time.Time) (bool, error) {
	var query string
	var ident string

	if visitorID != "" {
		query = `
			SELECT EXISTS (
				SELECT 1 FROM visit_events
				WHERE link_id = $1 AND visitor_id = $2
				  AND visited_at >= $3 AND visited_at < $4
			)
		`
		ident = visitorID
	} else {
		query = `
			SELECT EXISTS (
				SELECT 1 FROM visit_events
				WHERE link_id = $1 AND session_id = $2
				  AND visited_at >= $3 AND visited_at < $4
			)
		`
		ident = sessionID
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, query, linkID, ident, since, until).Scan(&exists); err != nil {
		return false, fmt.Errorf("check visit existence: %w", err)
	}

	return exists, nil
}

// EarliestVisitTime returns the timestamp of the oldest visit event.
// The second return value is false when the event store is empty.
func (r *Repository) EarliestVisitTime(ctx context.Context) (time.Time, bool, error) {
	var earliest *time.Time
	err := r.pool.QueryRow(ctx, `SELECT MIN(visited_at) FROM visit_events`).Scan(&earliest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query earliest visit: %w", err)
	}
	if earliest == nil {
		return time.Time{}, false, nil
	}
	return earliest.UTC(), true, nil
}

// DistinctLinkIDs returns the links with at least one visit in
// [start, end), for per-link rollup fan-out.
func (r *Repository) DistinctLinkIDs(ctx context.Context, start, end time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT link_id FROM visit_events
		WHERE visited_at >= $1 AND visited_at < $2
		ORDER BY link_id
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("query distinct link ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan link id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// VisitTotals counts visits and unique visits matching the filter.
func (r *Repository) VisitTotals(ctx context.Context, f VisitFilter) (VisitTotals, error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE v.is_unique_visitor)
		FROM visit_events v
	` + visitWhere(&f)

	var totals VisitTotals
	if err := r.pool.QueryRow(ctx, query, visitArgs(&f)...).Scan(&totals.Visits, &totals.UniqueVisits); err != nil {
		return VisitTotals{}, fmt.Errorf("query visit totals: %w", err)
	}

	return totals, nil
}

// GroupVisits groups visits matching the filter by the given
// dimension, sorted by visit count descending. A limit of 0 means
// unlimited.
func (r *Repository) GroupVisits(ctx context.Context, f VisitFilter, dim VisitDimension, limit int) ([]model.BucketStat, error) {
	expr, ok := dimensionExpr[dim]
	if !ok {
		return nil, fmt.Errorf("unknown visit dimension %q", dim)
	}

	query := fmt.Sprintf(`
		SELECT %s AS bucket,
		       COUNT(*) AS visits,
		       COUNT(*) FILTER (WHERE v.is_unique_visitor) AS unique_visits
		FROM visit_events v
	`, expr) + visitWhere(&f) + `
		GROUP BY bucket
		ORDER BY visits DESC, bucket ASC
	`

	args := visitArgs(&f)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("group visits by %s: %w", dim, err)
	}
	defer rows.Close()

	var buckets []model.BucketStat
	for rows.Next() {
		var b model.BucketStat
		if err := rows.Scan(&b.Key, &b.Visits, &b.UniqueVisits); err != nil {
			return nil, fmt.Errorf("scan %s bucket: %w", dim, err)
		}
		buckets = append(buckets, b)
	}

	return buckets, rows.Err()
}

// CountVisitsByDay returns the per-day visit timeline for the filter,
// sorted chronologically.
func (r *Repository) CountVisitsByDay(ctx context.Context, f VisitFilter) ([]DayVisits, error) {
	query := `
		SELECT date_trunc('day', v.visited_at AT TIME ZONE 'UTC') AS day,
		       COUNT(*) AS visits,
		       COUNT(*) FILTER (WHERE v.is_unique_visitor) AS unique_visits
		FROM visit_events v
	` + visitWhere(&f) + `
		GROUP BY day
		ORDER BY day ASC
	`

	rows, err := r.pool.Query(ctx, query, visitArgs(&f)...)
	if err != nil {
		return nil, fmt.Errorf("count visits by day: %w", err)
	}
	defer rows.Close()

	var days []DayVisits
	for rows.Next() {
		var d DayVisits
		if err := rows.Scan(&d.Day, &d.Visits, &d.UniqueVisits); err != nil {
			return nil, fmt.Errorf("scan day visits: %w", err)
		}
		d.Day = d.Day.UTC()
		days = append(days, d)
	}

	return days, rows.Err()
}

// visitWhere builds the WHERE clause for a VisitFilter. Placeholder
// numbering must match visitArgs.
func visitWhere(f *VisitFilter) string {
	clause := " WHERE 1=1"
	idx := 1

	if f.LinkID != "" {
		clause += fmt.Sprintf(" AND v.link_id = $%d", idx)
		idx++
	}
	if f.OwnerID != "" {
		clause += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM links l WHERE l.id = v.link_id AND l.owner_id = $%d)", idx)
		idx++
	}
	if f.DeviceType != "" {
		clause += fmt.Sprintf(" AND v.device_type = $%d", idx)
		idx++
	}
	if !f.Start.IsZero() {
		clause += fmt.Sprintf(" AND v.visited_at >= $%d", idx)
		idx++
	}
	if !f.End.IsZero() {
		clause += fmt.Sprintf(" AND v.visited_at < $%d", idx)
		idx++
	}

	return clause
}

// visitArgs builds the argument list matching visitWhere.
func visitArgs(f *VisitFilter) []any {
	args := make([]any, 0, 5)
	if f.LinkID != "" {
		args = append(args, f.LinkID)
	}
	if f.OwnerID != "" {
		args = append(args, f.OwnerID)
	}
	if f.DeviceType != "" {
		args = append(args, f.DeviceType)
	}
	if !f.Start.IsZero() {
		args = append(args, f.Start)
	}
	if !f.End.IsZero() {
		args = append(args, f.End)
	}
	return args
}

// nullableString returns nil for empty strings.
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
