package report

import (
	"errors"
	"fmt"
	"time"
)

// Period is a named relative date range.
type Period string

// Supported relative periods.
const (
	PeriodToday      Period = "today"
	PeriodYesterday  Period = "yesterday"
	PeriodLast7Days  Period = "last7days"
	PeriodLast30Days Period = "last30days"
	PeriodLast90Days Period = "last90days"
)

// DefaultPeriod applies when the request names neither a period nor
// explicit dates.
const DefaultPeriod = PeriodLast30Days

const dateLayout = "2006-01-02"

// ErrInvalidRange is returned for unparseable or inverted ranges.
var ErrInvalidRange = errors.New("invalid date range")

// RangeInput is the raw date-range request: an optional explicit
// start/end date pair and an optional named period. Explicit dates
// take precedence over the period entirely.
type RangeInput struct {
	StartDate string `json:"start_date,omitempty"` // YYYY-MM-DD
	EndDate   string `json:"end_date,omitempty"`   // YYYY-MM-DD
	Period    Period `json:"period,omitempty"`
}

// Range is a resolved date range. Start and End are inclusive UTC day
// midnights: the range covers every event in [Start, End+24h).
type Range struct {
	Start time.Time
	End   time.Time
}

// ExclusiveEnd returns the first instant after the range.
func (r Range) ExclusiveEnd() time.Time {
	return r.End.Add(24 * time.Hour)
}

// Days returns the number of days the range covers.
func (r Range) Days() int {
	return int(r.ExclusiveEnd().Sub(r.Start)/(24*time.Hour))
}

// ResolveRange maps a RangeInput to explicit UTC instants, evaluated
// against the given current instant. An explicit start/end pair
// overrides the period; otherwise the period (or DefaultPeriod) is
// anchored at the current UTC day.
func ResolveRange(in RangeInput, now time.Time) (Range, error) {
	if in.StartDate != "" || in.EndDate != "" {
		return resolveExplicit(in.StartDate, in.EndDate)
	}

	period := in.Period
	if period == "" {
		period = DefaultPeriod
	}

	today := now.UTC().Truncate(24 * time.Hour)

	switch period {
	case PeriodToday:
		return Range{Start: today, End: today}, nil
	case PeriodYesterday:
		y := today.Add(-24 * time.Hour)
		return Range{Start: y, End: y}, nil
	case PeriodLast7Days:
		return Range{Start: today.AddDate(0, 0, -6), End: today}, nil
	case PeriodLast30Days:
		return Range{Start: today.AddDate(0, 0, -29), End: today}, nil
	case PeriodLast90Days:
		return Range{Start: today.AddDate(0, 0, -89), End: today}, nil
	default:
		return Range{}, fmt.Errorf("%w: unknown period %q", ErrInvalidRange, period)
	}
}

// resolveExplicit parses an explicit date pair. Both dates are
// required once either is supplied; a lone date is ambiguous.
func resolveExplicit(startDate, endDate string) (Range, error) {
	if startDate == "" || endDate == "" {
		return Range{}, fmt.Errorf("%w: start_date and end_date must both be set", ErrInvalidRange)
	}

	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return Range{}, fmt.Errorf("%w: bad start_date %q", ErrInvalidRange, startDate)
	}
	end, err := time.Parse(dateLayout, endDate)
	if err != nil {
		return Range{}, fmt.Errorf("%w: bad end_date %q", ErrInvalidRange, endDate)
	}
	if end.Before(start) {
		return Range{}, fmt.Errorf("%w: end_date before start_date", ErrInvalidRange)
	}

	return Range{Start: start.UTC(), End: end.UTC()}, nil
}
