package rollup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shortstat/shortstat/internal/model"
	"github.com/shortstat/shortstat/internal/repository"
)

// fakeStore implements Store over an in-memory event slice so the
// aggregator can be exercised without a database.
type fakeStore struct {
	mu      sync.Mutex
	events  []*model.VisitEvent
	rollups map[string]*model.RollupSummary

	upserts int
	errOn   string // method name that should fail

	// When gate is set, EarliestVisitTime signals entered once and
	// then blocks until gate is closed. Used to hold a run open.
	gate        chan struct{}
	entered     chan struct{}
	enteredOnce sync.Once
}

func newFakeStore() *fakeStore {
	return &fakeStore{rollups: make(map[string]*model.RollupSummary)}
}

func rollupKey(linkID string, day time.Time) string {
	return linkID + "|" + day.Format("2006-01-02")
}

func (s *fakeStore) addEvent(linkID, country, device, browser, referrerHost string, unique bool, at time.Time) {
	e := &model.VisitEvent{
		LinkID:          linkID,
		Country:         country,
		DeviceType:      device,
		Browser:         browser,
		ReferrerHost:    referrerHost,
		IsUniqueVisitor: unique,
	}
	e.SetVisitedAt(at)
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *fakeStore) matching(f repository.VisitFilter) []*model.VisitEvent {
	var out []*model.VisitEvent
	for _, e := range s.events {
		if f.LinkID != "" && e.LinkID != f.LinkID {
			continue
		}
		if f.DeviceType != "" && e.DeviceType != f.DeviceType {
			continue
		}
		if !f.Start.IsZero() && e.VisitedAt.Before(f.Start) {
			continue
		}
		if !f.End.IsZero() && !e.VisitedAt.Before(f.End) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (s *fakeStore) EarliestVisitTime(ctx context.Context) (time.Time, bool, error) {
	if s.gate != nil {
		s.enteredOnce.Do(func() { close(s.entered) })
		<-s.gate
	}
	if s.errOn == "EarliestVisitTime" {
		return time.Time{}, false, errors.New("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return time.Time{}, false, nil
	}
	earliest := s.events[0].VisitedAt
	for _, e := range s.events[1:] {
		if e.VisitedAt.Before(earliest) {
			earliest = e.VisitedAt
		}
	}
	return earliest, true, nil
}

func (s *fakeStore) DistinctLinkIDs(ctx context.Context, start, end time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	for _, e := range s.matching(repository.VisitFilter{Start: start, End: end}) {
		seen[e.LinkID] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *fakeStore) VisitTotals(ctx context.Context, f repository.VisitFilter) (repository.VisitTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var t repository.VisitTotals
	for _, e := range s.matching(f) {
		t.Visits++
		if e.IsUniqueVisitor {
			t.UniqueVisits++
		}
	}
	return t, nil
}

func bucketKey(e *model.VisitEvent, dim repository.VisitDimension) string {
	coalesce := func(v string) string {
		if v == "" {
			return "unknown"
		}
		return v
	}
	switch dim {
	case repository.DimCountry:
		return coalesce(e.Country)
	case repository.DimDeviceType:
		return coalesce(e.DeviceType)
	case repository.DimDeviceBrand:
		return coalesce(e.DeviceBrand)
	case repository.DimBrowser:
		return coalesce(e.Browser)
	case repository.DimHour:
		return strconv.Itoa(e.Hour)
	case repository.DimDayOfWeek:
		return strconv.Itoa(e.DayOfWeek)
	case repository.DimReferrer:
		if e.ReferrerHost == "" {
			return "(direct)"
		}
		return e.ReferrerHost
	}
	return ""
}

func (s *fakeStore) GroupVisits(ctx context.Context, f repository.VisitFilter, dim repository.VisitDimension, limit int) ([]model.BucketStat, error) {
	if s.errOn == "GroupVisits" {
		return nil, errors.New("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	grouped := make(map[string]*model.BucketStat)
	for _, e := range s.matching(f) {
		key := bucketKey(e, dim)
		b, ok := grouped[key]
		if !ok {
			b = &model.BucketStat{Key: key}
			grouped[key] = b
		}
		b.Visits++
		if e.IsUniqueVisitor {
			b.UniqueVisits++
		}
	}

	buckets := make([]model.BucketStat, 0, len(grouped))
	for _, b := range grouped {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Visits != buckets[j].Visits {
			return buckets[i].Visits > buckets[j].Visits
		}
		return buckets[i].Key < buckets[j].Key
	})
	if limit > 0 && len(buckets) > limit {
		buckets = buckets[:limit]
	}
	return buckets, nil
}

func (s *fakeStore) GlobalRollupExists(ctx context.Context, day time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rollups[rollupKey("", day)]
	return ok, nil
}

func (s *fakeStore) UpsertRollup(ctx context.Context, sum *model.RollupSummary) error {
	if s.errOn == "UpsertRollup" {
		return errors.New("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	s.rollups[rollupKey(sum.LinkID, sum.Date)] = sum
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAggregatorRun_ConcreteRollup(t *testing.T) {
	store := newFakeStore()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// 10 events for link A: US x6, CA x4.
	for i := 0; i < 6; i++ {
		store.addEvent("link-a", "US", "desktop", "Chrome", "example.com", i == 0, day.Add(time.Duration(i)*time.Minute))
	}
	for i := 0; i < 4; i++ {
		store.addEvent("link-a", "CA", "mobile", "Safari", "", i == 0, day.Add(10*time.Hour))
	}

	agg := NewAggregator(store, testLogger(), nil)
	agg.SetNow(fixedNow(time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)))

	days, err := agg.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if days != 1 {
		t.Fatalf("expected 1 day aggregated, got %d", days)
	}

	link := store.rollups[rollupKey("link-a", day)]
	if link == nil {
		t.Fatal("expected per-link summary for 2024-01-01")
	}
	if link.TotalVisits != 10 {
		t.Errorf("expected totalVisits 10, got %d", link.TotalVisits)
	}
	if link.UniqueVisits != 2 {
		t.Errorf("expected uniqueVisits 2, got %d", link.UniqueVisits)
	}
	wantCountries := []model.BucketStat{
		{Key: "US", Visits: 6, UniqueVisits: 1},
		{Key: "CA", Visits: 4, UniqueVisits: 1},
	}
	if len(link.Countries) != 2 || link.Countries[0] != wantCountries[0] || link.Countries[1] != wantCountries[1] {
		t.Errorf("unexpected country breakdown: %+v", link.Countries)
	}

	global := store.rollups[rollupKey("", day)]
	if global == nil {
		t.Fatal("expected global summary for 2024-01-01")
	}
	if global.TotalVisits != 10 {
		t.Errorf("expected global totalVisits 10, got %d", global.TotalVisits)
	}
	if global.Period != model.PeriodDaily {
		t.Errorf("expected period daily, got %s", global.Period)
	}
	if !global.IsGlobal() {
		t.Error("expected global summary to report IsGlobal")
	}
}

func TestAggregatorRun_SumInvariant(t *testing.T) {
	store := newFakeStore()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	countries := []string{"US", "CA", "DE", "", "US", "VN", "CA"}
	devices := []string{"desktop", "mobile", "", "tablet", "mobile", "desktop", "bot"}
	browsers := []string{"Chrome", "Safari", "Firefox", "Chrome", "", "Edge", "Chrome"}
	for i := range countries {
		store.addEvent("link-a", countries[i], devices[i], browsers[i], "", i%2 == 0, day.Add(time.Duration(i)*time.Hour))
	}

	agg := NewAggregator(store, testLogger(), nil)
	agg.SetNow(fixedNow(day.Add(36 * time.Hour)))

	if _, err := agg.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sum := func(buckets []model.BucketStat) int64 {
		var total int64
		for _, b := range buckets {
			total += b.Visits
		}
		return total
	}

	global := store.rollups[rollupKey("", day)]
	if global == nil {
		t.Fatal("expected global summary")
	}
	for name, buckets := range map[string][]model.BucketStat{
		"countries": global.Countries,
		"devices":   global.Devices,
		"browsers":  global.Browsers,
		"hours":     global.Hours,
	} {
		if got := sum(buckets); got != global.TotalVisits {
			t.Errorf("expected %s visits to sum to %d, got %d", name, global.TotalVisits, got)
		}
	}
	if global.UniqueVisits > global.TotalVisits {
		t.Error("uniqueVisits must not exceed totalVisits")
	}
}

func TestAggregatorRun_Idempotent(t *testing.T) {
	store := newFakeStore()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.addEvent("link-a", "US", "desktop", "Chrome", "", true, day.Add(time.Hour))

	agg := NewAggregator(store, testLogger(), nil)
	agg.SetNow(fixedNow(day.Add(30 * time.Hour)))

	days, err := agg.Run(context.Background())
	if err != nil || days != 1 {
		t.Fatalf("first run: days=%d err=%v", days, err)
	}
	firstUpserts := store.upserts

	days, err = agg.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if days != 0 {
		t.Errorf("expected second run to aggregate 0 days, got %d", days)
	}
	if store.upserts != firstUpserts {
		t.Errorf("expected no writes on second run, got %d extra", store.upserts-firstUpserts)
	}
}

func TestAggregatorRun_NeverAggregatesToday(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	today := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	// Plenty of data, all of it today.
	for i := 0; i < 50; i++ {
		store.addEvent("link-a", "US", "desktop", "Chrome", "", false, today.Add(time.Duration(i)*time.Minute))
	}

	agg := NewAggregator(store, testLogger(), nil)
	agg.SetNow(fixedNow(now))

	days, err := agg.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if days != 0 {
		t.Errorf("expected 0 days aggregated, got %d", days)
	}
	if len(store.rollups) != 0 {
		t.Errorf("expected no rollups for the current day, got %d", len(store.rollups))
	}
}

func TestAggregatorRun_WalksDaysChronologically(t *testing.T) {
	store := newFakeStore()
	day1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	day3 := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	store.addEvent("link-a", "US", "desktop", "Chrome", "", true, day1.Add(time.Hour))
	store.addEvent("link-b", "CA", "mobile", "Safari", "", true, day3.Add(time.Hour))

	agg := NewAggregator(store, testLogger(), nil)
	agg.SetNow(fixedNow(time.Date(2024, 1, 4, 6, 0, 0, 0, time.UTC)))

	days, err := agg.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if days != 3 {
		t.Errorf("expected 3 days aggregated (including the empty middle day), got %d", days)
	}

	// The empty middle day still gets a zero global summary so the
	// walk never revisits it.
	day2 := day1.Add(24 * time.Hour)
	empty := store.rollups[rollupKey("", day2)]
	if empty == nil {
		t.Fatal("expected a global summary for the empty day")
	}
	if empty.TotalVisits != 0 {
		t.Errorf("expected empty day totalVisits 0, got %d", empty.TotalVisits)
	}
}

func TestAggregatorRun_ReferrerCap(t *testing.T) {
	store := newFakeStore()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// More referrer hosts than the cap.
	for i := 0; i < model.ReferrerLimit+5; i++ {
		host := fmt.Sprintf("ref%02d.example.com", i)
		store.addEvent("link-a", "US", "desktop", "Chrome", host, false, day.Add(time.Duration(i)*time.Minute))
	}

	agg := NewAggregator(store, testLogger(), nil)
	agg.SetNow(fixedNow(day.Add(30 * time.Hour)))

	if _, err := agg.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	global := store.rollups[rollupKey("", day)]
	if len(global.Referrers) != model.ReferrerLimit {
		t.Errorf("expected referrers capped at %d, got %d", model.ReferrerLimit, len(global.Referrers))
	}

	var refVisits int64
	for _, b := range global.Referrers {
		refVisits += b.Visits
	}
	if refVisits > global.TotalVisits {
		t.Error("referrer visits must not exceed totalVisits")
	}
	if refVisits == global.TotalVisits {
		t.Error("expected capped referrer list to sum below totalVisits in this fixture")
	}
}

func TestAggregatorRun_HoursSortedChronologically(t *testing.T) {
	store := newFakeStore()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Hour 23 busiest, then 0, then 11: visit-count order differs
	// from chronological order.
	for i := 0; i < 5; i++ {
		store.addEvent("link-a", "US", "desktop", "Chrome", "", false, day.Add(23*time.Hour))
	}
	store.addEvent("link-a", "US", "desktop", "Chrome", "", false, day)
	store.addEvent("link-a", "US", "desktop", "Chrome", "", false, day)
	store.addEvent("link-a", "US", "desktop", "Chrome", "", false, day.Add(11*time.Hour))

	agg := NewAggregator(store, testLogger(), nil)
	agg.SetNow(fixedNow(day.Add(30 * time.Hour)))

	if _, err := agg.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	global := store.rollups[rollupKey("", day)]
	want := []string{"0", "11", "23"}
	if len(global.Hours) != len(want) {
		t.Fatalf("expected %d hour buckets, got %d", len(want), len(global.Hours))
	}
	for i, key := range want {
		if global.Hours[i].Key != key {
			t.Errorf("expected hour bucket %d to be %s, got %s", i, key, global.Hours[i].Key)
		}
	}
}

func TestAggregatorRun_EmptyStore(t *testing.T) {
	agg := NewAggregator(newFakeStore(), testLogger(), nil)

	days, err := agg.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if days != 0 {
		t.Errorf("expected 0 days for empty store, got %d", days)
	}
}

func TestAggregatorRun_StorageErrorAborts(t *testing.T) {
	store := newFakeStore()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.addEvent("link-a", "US", "desktop", "Chrome", "", true, day.Add(time.Hour))
	store.errOn = "UpsertRollup"

	agg := NewAggregator(store, testLogger(), nil)
	agg.SetNow(fixedNow(day.Add(30 * time.Hour)))

	days, err := agg.Run(context.Background())
	if err == nil {
		t.Fatal("expected storage error to propagate")
	}
	if days != 0 {
		t.Errorf("expected 0 days before the failure, got %d", days)
	}
}

func TestAggregatorRun_DropsOverlappingRun(t *testing.T) {
	store := newFakeStore()
	store.gate = make(chan struct{})
	store.entered = make(chan struct{})

	agg := NewAggregator(store, testLogger(), nil)

	firstDone := make(chan error, 1)
	go func() {
		_, err := agg.Run(context.Background())
		firstDone <- err
	}()

	// Wait for the first run to be inside the store call.
	<-store.entered

	_, err := agg.Run(context.Background())
	if !errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress for overlapping trigger, got %v", err)
	}

	close(store.gate)
	if err := <-firstDone; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
}
