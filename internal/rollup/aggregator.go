// Package rollup pre-aggregates visit events into daily summaries.
//
// The aggregator walks closed UTC days in chronological order and
// writes one summary per (scope, day) via whole-document upserts, so
// runs are idempotent and safe to trigger at any time. The current
// day is never aggregated; reports serve it live from the event
// store.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/shortstat/shortstat/internal/metrics"
	"github.com/shortstat/shortstat/internal/model"
	"github.com/shortstat/shortstat/internal/repository"
)

// ErrRunInProgress is returned when a trigger fires while a previous
// run is still executing. Overlapping triggers are dropped, not
// queued.
var ErrRunInProgress = errors.New("rollup run already in progress")

// Store is the storage surface the aggregator needs: read-only access
// to visit events and upsert access to rollups.
type Store interface {
	EarliestVisitTime(ctx context.Context) (time.Time, bool, error)
	DistinctLinkIDs(ctx context.Context, start, end time.Time) ([]string, error)
	VisitTotals(ctx context.Context, f repository.VisitFilter) (repository.VisitTotals, error)
	GroupVisits(ctx context.Context, f repository.VisitFilter, dim repository.VisitDimension, limit int) ([]model.BucketStat, error)
	GlobalRollupExists(ctx context.Context, day time.Time) (bool, error)
	UpsertRollup(ctx context.Context, s *model.RollupSummary) error
}

// Aggregator computes daily rollup summaries from raw visit events.
type Aggregator struct {
	store   Store
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time

	runMu sync.Mutex
}

// NewAggregator creates a new Aggregator.
func NewAggregator(store Store, logger *slog.Logger, recorder metrics.Recorder) *Aggregator {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Aggregator{
		store:   store,
		logger:  logger.With("component", "rollup.aggregator"),
		metrics: recorder,
		now:     time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (a *Aggregator) SetNow(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

// Run aggregates every pending closed day and returns how many days
// were aggregated. Any storage error aborts the run and propagates;
// the next trigger is the retry.
//
// Returns ErrRunInProgress when another run holds the guard.
func (a *Aggregator) Run(ctx context.Context) (int, error) {
	if !a.runMu.TryLock() {
		a.logger.Warn("dropping rollup trigger, run in progress")
		return 0, ErrRunInProgress
	}
	defer a.runMu.Unlock()

	start := time.Now()
	today := utcMidnight(a.now())

	earliest, ok, err := a.store.EarliestVisitTime(ctx)
	if err != nil {
		return 0, fmt.Errorf("find earliest visit: %w", err)
	}
	if !ok {
		a.logger.Debug("no visit events, nothing to aggregate")
		return 0, nil
	}

	aggregated := 0

	// Strictly chronological so a crash-and-resume never skips a day.
	for day := utcMidnight(earliest); day.Before(today); day = day.Add(24 * time.Hour) {
		exists, err := a.store.GlobalRollupExists(ctx, day)
		if err != nil {
			return aggregated, fmt.Errorf("check rollup for %s: %w", day.Format("2006-01-02"), err)
		}
		if exists {
			continue
		}

		if err := a.aggregateDay(ctx, day); err != nil {
			return aggregated, fmt.Errorf("aggregate %s: %w", day.Format("2006-01-02"), err)
		}
		aggregated++
	}

	if aggregated > 0 {
		a.logger.Info("rollup run complete",
			"days_aggregated", aggregated,
			"duration_ms", float64(time.Since(start).Microseconds())/1000,
		)
	}
	a.metrics.ObserveRollupRun(aggregated, time.Since(start))

	return aggregated, nil
}

// aggregateDay computes and writes every summary for one closed day:
// one per link with events that day, then the global one. Links are
// processed sequentially to bound load; the global summary is written
// last so its presence marks the day complete. A run interrupted
// mid-day leaves the global summary missing and the next run
// recomputes the whole day.
func (a *Aggregator) aggregateDay(ctx context.Context, day time.Time) error {
	end := day.Add(24 * time.Hour)

	linkIDs, err := a.store.DistinctLinkIDs(ctx, day, end)
	if err != nil {
		return fmt.Errorf("distinct links: %w", err)
	}

	for _, linkID := range linkIDs {
		summary, err := a.buildSummary(ctx, linkID, day)
		if err != nil {
			return fmt.Errorf("build summary for link %s: %w", linkID, err)
		}
		if err := a.store.UpsertRollup(ctx, summary); err != nil {
			return fmt.Errorf("upsert summary for link %s: %w", linkID, err)
		}
	}

	global, err := a.buildSummary(ctx, "", day)
	if err != nil {
		return fmt.Errorf("build global summary: %w", err)
	}
	if err := a.store.UpsertRollup(ctx, global); err != nil {
		return fmt.Errorf("upsert global summary: %w", err)
	}

	a.logger.Info("day aggregated",
		"date", day.Format("2006-01-02"),
		"links", len(linkIDs),
		"total_visits", global.TotalVisits,
	)

	return nil
}

// buildSummary runs the independent grouping queries for one scope
// concurrently and assembles the summary document.
func (a *Aggregator) buildSummary(ctx context.Context, linkID string, day time.Time) (*model.RollupSummary, error) {
	filter := repository.VisitFilter{
		LinkID: linkID,
		Start:  day,
		End:    day.Add(24 * time.Hour),
	}

	var (
		totals    repository.VisitTotals
		countries []model.BucketStat
		devices   []model.BucketStat
		browsers  []model.BucketStat
		hours     []model.BucketStat
		referrers []model.BucketStat
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		totals, err = a.store.VisitTotals(gctx, filter)
		return err
	})
	g.Go(func() (err error) {
		countries, err = a.store.GroupVisits(gctx, filter, repository.DimCountry, 0)
		return err
	})
	g.Go(func() (err error) {
		devices, err = a.store.GroupVisits(gctx, filter, repository.DimDeviceType, 0)
		return err
	})
	g.Go(func() (err error) {
		browsers, err = a.store.GroupVisits(gctx, filter, repository.DimBrowser, 0)
		return err
	})
	g.Go(func() (err error) {
		hours, err = a.store.GroupVisits(gctx, filter, repository.DimHour, 0)
		return err
	})
	g.Go(func() (err error) {
		referrers, err = a.store.GroupVisits(gctx, filter, repository.DimReferrer, model.ReferrerLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortHourBuckets(hours)

	return &model.RollupSummary{
		ID:           ulid.Make().String(),
		LinkID:       linkID,
		Period:       model.PeriodDaily,
		Date:         day,
		TotalVisits:  totals.Visits,
		UniqueVisits: totals.UniqueVisits,
		Countries:    countries,
		Devices:      devices,
		Browsers:     browsers,
		Hours:        hours,
		Referrers:    referrers,
	}, nil
}

// sortHourBuckets reorders the hour breakdown chronologically; the
// grouping query returns it sorted by visits.
func sortHourBuckets(hours []model.BucketStat) {
	sort.Slice(hours, func(i, j int) bool {
		hi, _ := strconv.Atoi(hours[i].Key)
		hj, _ := strconv.Atoi(hours[j].Key)
		return hi < hj
	})
}

// utcMidnight truncates an instant to its UTC day.
func utcMidnight(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
