// Package model defines the shortstat domain entities.
package model

import (
	"strconv"
	"time"
)

// LinkStatus is the lifecycle state derived from a link's fields;
// it is never stored.
type LinkStatus string

const (
	LinkStatusActive   LinkStatus = "active"
	LinkStatusExpired  LinkStatus = "expired"
	LinkStatusDisabled LinkStatus = "disabled"
	LinkStatusDeleted  LinkStatus = "deleted"
)

// RedirectType is the HTTP status code a link redirects with.
type RedirectType int

const (
	RedirectPermanent RedirectType = 301
	RedirectTemporary RedirectType = 302
)

// IsValid reports whether the redirect type is one shortstat serves.
func (r RedirectType) IsValid() bool {
	return r == RedirectPermanent || r == RedirectTemporary
}

// Link is a tracked short link. ClickCount is the flushed total from
// the Redis counters, not a live value.
type Link struct {
	ID           string       `json:"id"`
	ShortCode    string       `json:"short_code"`
	Destination  string       `json:"destination"`
	RedirectType RedirectType `json:"redirect_type"`
	OwnerID      string       `json:"owner_id"`
	Enabled      bool         `json:"enabled"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
	DeletedAt    *time.Time   `json:"-"`
	ClickCount   int64        `json:"click_count"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Status derives the link's lifecycle state. Deletion wins over
// disabled, disabled over expired.
func (l *Link) Status() LinkStatus {
	switch {
	case l.DeletedAt != nil:
		return LinkStatusDeleted
	case !l.Enabled:
		return LinkStatusDisabled
	case l.IsExpired():
		return LinkStatusExpired
	default:
		return LinkStatusActive
	}
}

// IsActive reports whether the link may serve redirects.
func (l *Link) IsActive() bool {
	return l.Status() == LinkStatusActive
}

// IsExpired reports whether the link's expiry has passed.
func (l *Link) IsExpired() bool {
	return l.ExpiresAt != nil && time.Now().After(*l.ExpiresAt)
}

// CachedLink is the Redis-hash shape of a link on the redirect hot
// path. All fields are strings; Redis hashes carry no types.
type CachedLink struct {
	Destination  string `redis:"destination"`
	RedirectType string `redis:"redirect_type"`
	ExpiresAt    string `redis:"expires_at"` // unix seconds, "" = never
	Enabled      string `redis:"enabled"`    // "1" / "0"
	DeletedAt    string `redis:"deleted_at"` // unix seconds, "" = live
	UpdatedAt    string `redis:"updated_at"` // unix seconds
}

// ToLink rebuilds a Link from its cached hash. Unparseable
// timestamps are treated as absent; the redirect stays correct even
// if a hash field was corrupted.
func (c *CachedLink) ToLink(shortCode string) *Link {
	link := &Link{
		ShortCode:   shortCode,
		Destination: c.Destination,
		Enabled:     c.Enabled == "1",
	}

	if c.RedirectType == "301" {
		link.RedirectType = RedirectPermanent
	} else {
		link.RedirectType = RedirectTemporary
	}

	link.ExpiresAt = parseUnix(c.ExpiresAt)
	link.DeletedAt = parseUnix(c.DeletedAt)
	if t := parseUnix(c.UpdatedAt); t != nil {
		link.UpdatedAt = *t
	}

	return link
}

// ToCachedLink flattens a Link into its Redis-hash shape.
func (l *Link) ToCachedLink() *CachedLink {
	cached := &CachedLink{
		Destination:  l.Destination,
		RedirectType: strconv.Itoa(int(l.RedirectType)),
		Enabled:      boolToString(l.Enabled),
		UpdatedAt:    strconv.FormatInt(l.UpdatedAt.Unix(), 10),
	}
	if l.ExpiresAt != nil {
		cached.ExpiresAt = strconv.FormatInt(l.ExpiresAt.Unix(), 10)
	}
	if l.DeletedAt != nil {
		cached.DeletedAt = strconv.FormatInt(l.DeletedAt.Unix(), 10)
	}
	return cached
}

// parseUnix parses a unix-seconds string, nil when empty or invalid.
func parseUnix(s string) *time.Time {
	if s == "" {
		return nil
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	t := time.Unix(ts, 0)
	return &t
}

func boolToString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
