package report

import (
	"testing"

	"github.com/shortstat/shortstat/internal/model"
)

func TestMergeMap_AdditiveUnion(t *testing.T) {
	m := newMergeMap()
	m.addBuckets([]model.BucketStat{
		{Key: "US", Visits: 6, UniqueVisits: 4},
		{Key: "CA", Visits: 4, UniqueVisits: 2},
	})
	m.addBuckets([]model.BucketStat{
		{Key: "US", Visits: 2, UniqueVisits: 1},
		{Key: "DE", Visits: 3, UniqueVisits: 3},
	})

	shares := m.shares()
	if len(shares) != 3 {
		t.Fatalf("got %d shares, want 3", len(shares))
	}

	// Sorted descending by visits: US 8, DE 3... CA 4 outranks DE.
	want := []Share{
		{Key: "US", Visits: 8, UniqueVisits: 5, Percent: 53.33},
		{Key: "CA", Visits: 4, UniqueVisits: 2, Percent: 26.67},
		{Key: "DE", Visits: 3, UniqueVisits: 3, Percent: 20},
	}
	for i, w := range want {
		if shares[i] != w {
			t.Errorf("shares[%d] = %+v, want %+v", i, shares[i], w)
		}
	}
}

func TestMergeMap_PercentAgainstMergedTotal(t *testing.T) {
	// Percentages divide by the combined historical+live total, never
	// by either partial total alone.
	m := newMergeMap()
	m.add("US", 5, 5) // historical portion
	m.add("US", 3, 1) // live portion
	m.add("CA", 2, 2)

	for _, s := range m.shares() {
		if s.Key == "US" && s.Percent != 80 {
			t.Errorf("US percent = %v, want 80", s.Percent)
		}
		if s.Key == "CA" && s.Percent != 20 {
			t.Errorf("CA percent = %v, want 20", s.Percent)
		}
	}
}

func TestMergeMap_EmptyTotal(t *testing.T) {
	m := newMergeMap()
	if got := m.shares(); len(got) != 0 {
		t.Errorf("empty map produced %d shares", len(got))
	}
	if percent(0, 0) != 0 {
		t.Error("percent of zero total should be 0, not NaN")
	}
}

func TestMergeMap_NumericKeyOrdering(t *testing.T) {
	m := newMergeMap()
	m.add("23", 1, 1)
	m.add("0", 9, 9)
	m.add("11", 5, 5)

	shares := m.sharesByNumericKey()
	got := []string{shares[0].Key, shares[1].Key, shares[2].Key}
	want := []string{"0", "11", "23"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keys = %v, want %v", got, want)
		}
	}
}
