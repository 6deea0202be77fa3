package model

import "time"

// PeriodDaily is the only rollup period currently produced.
const PeriodDaily = "daily"

// ReferrerLimit caps the referrer breakdown stored in a rollup.
// Because of the cap, referrer visits may sum to less than
// TotalVisits; every other breakdown sums exactly.
const ReferrerLimit = 20

// BucketStat is one entry of a rollup breakdown: a category key with
// its visit counters.
type BucketStat struct {
	Key          string `json:"key"`
	Visits       int64  `json:"visits"`
	UniqueVisits int64  `json:"unique_visits"`
}

// RollupSummary is the pre-aggregated daily statistics document for
// one scope. LinkID is empty for the global scope (all links).
//
// A summary is created or wholesale-replaced by the aggregator;
// it is never partially patched and never deleted.
type RollupSummary struct {
	ID     string    `json:"id"`
	LinkID string    `json:"link_id,omitempty"` // empty = global scope
	Period string    `json:"period"`            // always "daily"
	Date   time.Time `json:"date"`              // UTC midnight

	TotalVisits  int64 `json:"total_visits"`
	UniqueVisits int64 `json:"unique_visits"`

	Countries []BucketStat `json:"countries"` // sorted by visits desc
	Devices   []BucketStat `json:"devices"`   // sorted by visits desc
	Browsers  []BucketStat `json:"browsers"`  // sorted by visits desc
	Hours     []BucketStat `json:"hours"`     // keys "0".."23", sorted by hour asc
	Referrers []BucketStat `json:"referrers"` // top 20 by visits desc

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsGlobal reports whether the summary covers all links.
func (s *RollupSummary) IsGlobal() bool {
	return s.LinkID == ""
}
