package model

import "time"

// VisitEvent represents a single recorded redirect hit.
// Events are immutable once written; nothing in the application
// updates or deletes a row after insert.
type VisitEvent struct {
	ID      string `json:"id"`       // ULID (time-sortable)
	EventID string `json:"event_id"` // Idempotency key (Redis stream ID)

	// Link reference
	LinkID    string `json:"link_id"`
	ShortCode string `json:"short_code"`

	// Request facts
	IP           string `json:"ip,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`    // truncated to 500 chars
	Referrer     string `json:"referrer,omitempty"`      // sanitized, truncated
	ReferrerHost string `json:"referrer_host,omitempty"` // "(direct)" when absent

	// Geo enrichment (supplied by the edge / enrichment layer)
	Country  string `json:"country,omitempty"` // ISO 3166-1 alpha-2
	Region   string `json:"region,omitempty"`
	City     string `json:"city,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	// Device / browser enrichment
	DeviceType     string `json:"device_type,omitempty"` // desktop, mobile, tablet, bot
	DeviceBrand    string `json:"device_brand,omitempty"`
	OS             string `json:"os,omitempty"`
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	BrowserEngine  string `json:"browser_engine,omitempty"`

	// Visitor identity
	VisitorID       string `json:"visitor_id,omitempty"` // long-lived cookie value, empty on first-ever hit
	SessionID       string `json:"session_id"`           // hour-bucketed fingerprint
	IsUniqueVisitor bool   `json:"is_unique_visitor"`    // fixed at write time, never revisited

	// Timestamps. The calendar fields are denormalized copies of
	// VisitedAt so group-by queries stay index-friendly.
	VisitedAt  time.Time `json:"visited_at"`
	Hour       int       `json:"hour"`         // 0-23, UTC
	DayOfWeek  int       `json:"day_of_week"`  // 0=Sunday
	DayOfMonth int       `json:"day_of_month"` // 1-31
	Month      int       `json:"month"`        // 1-12
	Year       int       `json:"year"`
	CreatedAt  time.Time `json:"created_at"`
}

// SetVisitedAt sets the event timestamp and fills the denormalized
// calendar fields from its UTC value.
func (e *VisitEvent) SetVisitedAt(t time.Time) {
	utc := t.UTC()
	e.VisitedAt = utc
	e.Hour = utc.Hour()
	e.DayOfWeek = int(utc.Weekday())
	e.DayOfMonth = utc.Day()
	e.Month = int(utc.Month())
	e.Year = utc.Year()
}

// Day returns the UTC midnight of the event's day.
func (e *VisitEvent) Day() time.Time {
	return e.VisitedAt.UTC().Truncate(24 * time.Hour)
}
