// Package report answers owner-scoped analytics range queries by
// merging pre-aggregated rollup summaries with live event data.
//
// Every query splits its range at "today" (UTC midnight at query
// time): closed days come from the rollup store, the current day is
// grouped live from raw events, and the two portions are merged by
// additive union over category keys. The one exception is the
// mobile-brand breakdown, which is not part of the rollup schema and
// always reads raw events across the whole range.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/shortstat/shortstat/internal/model"
	"github.com/shortstat/shortstat/internal/repository"
)

// ErrLinkNotFound is returned for single-link queries against links
// that do not exist or are not owned by the caller. Ownership
// failures deliberately look identical to missing links.
var ErrLinkNotFound = repository.ErrLinkNotFound

// Store is the storage surface the report service reads. Both stores
// are read-only here; only the aggregator writes rollups.
type Store interface {
	GetLinkByID(ctx context.Context, id string) (*model.Link, error)
	GetRollups(ctx context.Context, f repository.RollupFilter) ([]*model.RollupSummary, error)
	VisitTotals(ctx context.Context, f repository.VisitFilter) (repository.VisitTotals, error)
	GroupVisits(ctx context.Context, f repository.VisitFilter, dim repository.VisitDimension, limit int) ([]model.BucketStat, error)
	CountVisitsByDay(ctx context.Context, f repository.VisitFilter) ([]repository.DayVisits, error)
}

// TimelinePoint is one day of a visit timeline.
type TimelinePoint struct {
	Date         string `json:"date"` // YYYY-MM-DD
	Visits       int64  `json:"visits"`
	UniqueVisits int64  `json:"unique_visits"`
}

// Overview is the totals report for an owner's links.
type Overview struct {
	TotalVisits  int64           `json:"total_visits"`
	UniqueVisits int64           `json:"unique_visits"`
	Timeline     []TimelinePoint `json:"timeline"`
}

// DevicesReport is the combined device-type and browser breakdown.
type DevicesReport struct {
	Devices  []Share `json:"devices"`
	Browsers []Share `json:"browsers"`
}

// TimePatterns is the hour-of-day / day-of-week visit distribution.
// Hourly keys are "0".."23", DaysOfWeek keys "0" (Sunday) .. "6".
type TimePatterns struct {
	Hourly     []Share `json:"hourly"`
	DaysOfWeek []Share `json:"days_of_week"`
}

// LinkDetail is the full analytics view for a single link.
type LinkDetail struct {
	Link         *model.Link     `json:"link"`
	TotalVisits  int64           `json:"total_visits"`
	UniqueVisits int64           `json:"unique_visits"`
	Timeline     []TimelinePoint `json:"timeline"`
	Countries    []Share         `json:"countries"`
	Devices      []Share         `json:"devices"`
	Browsers     []Share         `json:"browsers"`
	Referrers    []Share         `json:"referrers"`
}

// Service merges historical and real-time analytics.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a report Service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With("component", "report.service"),
		now:    time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (s *Service) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Resolve maps a raw range input to explicit UTC instants against the
// service clock.
func (s *Service) Resolve(in RangeInput) (Range, error) {
	return ResolveRange(in, s.now())
}

// split is the historical/live partition of a resolved range.
// hist covers closed days served from rollups (inclusive day
// midnights); live covers [liveStart, liveEnd) served from raw
// events. Either side may be absent.
type split struct {
	hasHist   bool
	histStart time.Time
	histEnd   time.Time
	hasLive   bool
	liveStart time.Time
	liveEnd   time.Time
}

// splitRange partitions a range at the today boundary. Today is
// always served live; rollups only ever cover days the aggregator
// considers closed.
func splitRange(rng Range, today time.Time) split {
	var sp split

	if rng.Start.Before(today) {
		sp.hasHist = true
		sp.histStart = rng.Start
		sp.histEnd = rng.End
		if lastClosed := today.Add(-24 * time.Hour); sp.histEnd.After(lastClosed) {
			sp.histEnd = lastClosed
		}
	}

	if !rng.End.Before(today) {
		sp.hasLive = true
		sp.liveStart = today
		if rng.Start.After(today) {
			sp.liveStart = rng.Start
		}
		sp.liveEnd = rng.ExclusiveEnd()
	}

	return sp
}

func (s *Service) today() time.Time {
	return s.now().UTC().Truncate(24 * time.Hour)
}

// Overview returns merged totals and a day-by-day timeline for all of
// the owner's links.
func (s *Service) Overview(ctx context.Context, ownerID string, rng Range) (*Overview, error) {
	sp := splitRange(rng, s.today())

	var totalVisits, uniqueVisits int64
	timeline := newMergeMap()

	if sp.hasHist {
		rollups, err := s.store.GetRollups(ctx, repository.RollupFilter{
			OwnerID: ownerID,
			Start:   sp.histStart,
			End:     sp.histEnd,
		})
		if err != nil {
			return nil, fmt.Errorf("read rollups: %w", err)
		}
		for _, r := range rollups {
			totalVisits += r.TotalVisits
			uniqueVisits += r.UniqueVisits
			timeline.add(r.Date.Format(dateLayout), r.TotalVisits, r.UniqueVisits)
		}
	}

	if sp.hasLive {
		filter := repository.VisitFilter{OwnerID: ownerID, Start: sp.liveStart, End: sp.liveEnd}

		totals, err := s.store.VisitTotals(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("live totals: %w", err)
		}
		totalVisits += totals.Visits
		uniqueVisits += totals.UniqueVisits

		days, err := s.store.CountVisitsByDay(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("live timeline: %w", err)
		}
		for _, d := range days {
			timeline.add(d.Day.Format(dateLayout), d.Visits, d.UniqueVisits)
		}
	}

	return &Overview{
		TotalVisits:  totalVisits,
		UniqueVisits: uniqueVisits,
		Timeline:     timelinePoints(timeline),
	}, nil
}

// Countries returns the merged country breakdown.
func (s *Service) Countries(ctx context.Context, ownerID string, rng Range) ([]Share, error) {
	return s.mergedBreakdown(ctx, ownerID, "", rng, repository.DimCountry,
		func(r *model.RollupSummary) []model.BucketStat { return r.Countries })
}

// Devices returns the merged device-type and browser breakdowns.
func (s *Service) Devices(ctx context.Context, ownerID string, rng Range) (*DevicesReport, error) {
	devices, err := s.mergedBreakdown(ctx, ownerID, "", rng, repository.DimDeviceType,
		func(r *model.RollupSummary) []model.BucketStat { return r.Devices })
	if err != nil {
		return nil, err
	}

	browsers, err := s.mergedBreakdown(ctx, ownerID, "", rng, repository.DimBrowser,
		func(r *model.RollupSummary) []model.BucketStat { return r.Browsers })
	if err != nil {
		return nil, err
	}

	return &DevicesReport{Devices: devices, Browsers: browsers}, nil
}

// DeviceTypes returns the merged device-type breakdown alone.
func (s *Service) DeviceTypes(ctx context.Context, ownerID string, rng Range) ([]Share, error) {
	return s.mergedBreakdown(ctx, ownerID, "", rng, repository.DimDeviceType,
		func(r *model.RollupSummary) []model.BucketStat { return r.Devices })
}

// MobileBrands returns the device-brand breakdown for mobile visits.
// Brand is not part of the rollup schema, so this query always reads
// raw events across the entire range, historical days included: an
// accuracy-over-latency trade-off unique to this breakdown.
func (s *Service) MobileBrands(ctx context.Context, ownerID string, rng Range) ([]Share, error) {
	buckets, err := s.store.GroupVisits(ctx, repository.VisitFilter{
		OwnerID:    ownerID,
		DeviceType: "mobile",
		Start:      rng.Start,
		End:        rng.ExclusiveEnd(),
	}, repository.DimDeviceBrand, 0)
	if err != nil {
		return nil, fmt.Errorf("group mobile brands: %w", err)
	}

	m := newMergeMap()
	m.addBuckets(buckets)
	return m.shares(), nil
}

// TimePatterns returns the merged hour-of-day and day-of-week visit
// distributions. Hours merge from the rollup hour breakdown; each
// rollup contributes its whole-day total to the weekday of its date.
func (s *Service) TimePatterns(ctx context.Context, ownerID string, rng Range) (*TimePatterns, error) {
	sp := splitRange(rng, s.today())

	hours := newMergeMap()
	weekdays := newMergeMap()

	if sp.hasHist {
		rollups, err := s.store.GetRollups(ctx, repository.RollupFilter{
			OwnerID: ownerID,
			Start:   sp.histStart,
			End:     sp.histEnd,
		})
		if err != nil {
			return nil, fmt.Errorf("read rollups: %w", err)
		}
		for _, r := range rollups {
			hours.addBuckets(r.Hours)
			weekdays.add(strconv.Itoa(int(r.Date.Weekday())), r.TotalVisits, r.UniqueVisits)
		}
	}

	if sp.hasLive {
		filter := repository.VisitFilter{OwnerID: ownerID, Start: sp.liveStart, End: sp.liveEnd}

		liveHours, err := s.store.GroupVisits(ctx, filter, repository.DimHour, 0)
		if err != nil {
			return nil, fmt.Errorf("live hours: %w", err)
		}
		hours.addBuckets(liveHours)

		liveDays, err := s.store.GroupVisits(ctx, filter, repository.DimDayOfWeek, 0)
		if err != nil {
			return nil, fmt.Errorf("live weekdays: %w", err)
		}
		weekdays.addBuckets(liveDays)
	}

	return &TimePatterns{
		Hourly:     hours.sharesByNumericKey(),
		DaysOfWeek: weekdays.sharesByNumericKey(),
	}, nil
}

// LinkDetail returns the full merged view for one link after
// verifying the requesting owner created it.
func (s *Service) LinkDetail(ctx context.Context, ownerID, linkID string, rng Range) (*LinkDetail, error) {
	link, err := s.store.GetLinkByID(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if link.OwnerID != ownerID {
		return nil, ErrLinkNotFound
	}

	sp := splitRange(rng, s.today())

	detail := &LinkDetail{Link: link}
	timeline := newMergeMap()
	countries := newMergeMap()
	devices := newMergeMap()
	browsers := newMergeMap()
	referrers := newMergeMap()

	if sp.hasHist {
		rollups, err := s.store.GetRollups(ctx, repository.RollupFilter{
			LinkID: linkID,
			Start:  sp.histStart,
			End:    sp.histEnd,
		})
		if err != nil {
			return nil, fmt.Errorf("read rollups: %w", err)
		}
		for _, r := range rollups {
			detail.TotalVisits += r.TotalVisits
			detail.UniqueVisits += r.UniqueVisits
			timeline.add(r.Date.Format(dateLayout), r.TotalVisits, r.UniqueVisits)
			countries.addBuckets(r.Countries)
			devices.addBuckets(r.Devices)
			browsers.addBuckets(r.Browsers)
			referrers.addBuckets(r.Referrers)
		}
	}

	if sp.hasLive {
		filter := repository.VisitFilter{LinkID: linkID, Start: sp.liveStart, End: sp.liveEnd}

		totals, err := s.store.VisitTotals(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("live totals: %w", err)
		}
		detail.TotalVisits += totals.Visits
		detail.UniqueVisits += totals.UniqueVisits

		days, err := s.store.CountVisitsByDay(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("live timeline: %w", err)
		}
		for _, d := range days {
			timeline.add(d.Day.Format(dateLayout), d.Visits, d.UniqueVisits)
		}

		for dim, dst := range map[repository.VisitDimension]mergeMap{
			repository.DimCountry:    countries,
			repository.DimDeviceType: devices,
			repository.DimBrowser:    browsers,
			repository.DimReferrer:   referrers,
		} {
			buckets, err := s.store.GroupVisits(ctx, filter, dim, 0)
			if err != nil {
				return nil, fmt.Errorf("live %s breakdown: %w", dim, err)
			}
			dst.addBuckets(buckets)
		}
	}

	detail.Timeline = timelinePoints(timeline)
	detail.Countries = countries.shares()
	detail.Devices = devices.shares()
	detail.Browsers = browsers.shares()
	detail.Referrers = referrers.shares()

	return detail, nil
}

// mergedBreakdown runs the standard split/merge for one dimension:
// the historical portion from the given rollup breakdown selector,
// the live portion from a grouping query.
func (s *Service) mergedBreakdown(
	ctx context.Context,
	ownerID, linkID string,
	rng Range,
	dim repository.VisitDimension,
	histBuckets func(*model.RollupSummary) []model.BucketStat,
) ([]Share, error) {
	sp := splitRange(rng, s.today())
	m := newMergeMap()

	if sp.hasHist {
		rollups, err := s.store.GetRollups(ctx, repository.RollupFilter{
			LinkID:  linkID,
			OwnerID: ownerID,
			Start:   sp.histStart,
			End:     sp.histEnd,
		})
		if err != nil {
			return nil, fmt.Errorf("read rollups: %w", err)
		}
		for _, r := range rollups {
			m.addBuckets(histBuckets(r))
		}
	}

	if sp.hasLive {
		buckets, err := s.store.GroupVisits(ctx, repository.VisitFilter{
			LinkID:  linkID,
			OwnerID: ownerID,
			Start:   sp.liveStart,
			End:     sp.liveEnd,
		}, dim, 0)
		if err != nil {
			return nil, fmt.Errorf("live %s breakdown: %w", dim, err)
		}
		m.addBuckets(buckets)
	}

	return m.shares(), nil
}

// timelinePoints converts a date-keyed merge map to a chronological
// timeline.
func timelinePoints(m mergeMap) []TimelinePoint {
	points := make([]TimelinePoint, 0, len(m))
	for date, c := range m {
		points = append(points, TimelinePoint{Date: date, Visits: c.visits, UniqueVisits: c.uniques})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points
}
