package report

import (
	"math"
	"sort"
	"strconv"

	"github.com/shortstat/shortstat/internal/model"
)

// Share is one entry of a merged breakdown: a category key with its
// counters and its percentage of the merged total.
type Share struct {
	Key          string  `json:"key"`
	Visits       int64   `json:"visits"`
	UniqueVisits int64   `json:"unique_visits"`
	Percent      float64 `json:"percent"`
}

// counters accumulates one category bucket during a merge.
type counters struct {
	visits  int64
	uniques int64
}

// mergeMap is the additive union of per-category counters from the
// historical and live portions of a query.
type mergeMap map[string]*counters

func newMergeMap() mergeMap {
	return make(mergeMap)
}

func (m mergeMap) add(key string, visits, uniques int64) {
	c, ok := m[key]
	if !ok {
		c = &counters{}
		m[key] = c
	}
	c.visits += visits
	c.uniques += uniques
}

// addBuckets folds a breakdown list into the map.
func (m mergeMap) addBuckets(buckets []model.BucketStat) {
	for _, b := range buckets {
		m.add(b.Key, b.Visits, b.UniqueVisits)
	}
}

// totalVisits sums the visit counters across every bucket.
func (m mergeMap) totalVisits() int64 {
	var total int64
	for _, c := range m {
		total += c.visits
	}
	return total
}

// shares converts the map to a slice sorted descending by visits,
// with percentages computed against the merged total (never against
// either partial total alone).
func (m mergeMap) shares() []Share {
	total := m.totalVisits()

	result := make([]Share, 0, len(m))
	for key, c := range m {
		result = append(result, Share{
			Key:          key,
			Visits:       c.visits,
			UniqueVisits: c.uniques,
			Percent:      percent(c.visits, total),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Visits != result[j].Visits {
			return result[i].Visits > result[j].Visits
		}
		return result[i].Key < result[j].Key
	})

	return result
}

// sharesByNumericKey is shares() with chronological ordering for
// hour-of-day and day-of-week breakdowns.
func (m mergeMap) sharesByNumericKey() []Share {
	result := m.shares()
	sort.Slice(result, func(i, j int) bool {
		ki, _ := strconv.Atoi(result[i].Key)
		kj, _ := strconv.Atoi(result[j].Key)
		return ki < kj
	})
	return result
}

// percent returns visits as a share of total, rounded to two
// decimals.
func percent(visits, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(visits)/float64(total)*10000) / 100
}
