// Package visitor classifies visit uniqueness at event-write time.
//
// A visit is "unique" when no prior event exists for the same link
// from the same visitor within the trailing lookback window. The flag
// is computed once, before the event is persisted, and never
// revisited afterwards.
package visitor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultLookback is the trailing window for the first-seen check.
const DefaultLookback = 24 * time.Hour

// hourBucket is the fingerprint time resolution. Two hits from the
// same identity inside the same UTC hour share a fingerprint.
const hourBucket = "2006-01-02T15"

// Store is the event-store read surface the classifier needs.
type Store interface {
	HasVisitSince(ctx context.Context, linkID, visitorID, sessionID string, since, until time.Time) (bool, error)
}

// Fingerprint derives the session fingerprint for a hit: a
// deterministic hash of the identity (visitor cookie, or the client
// IP when no cookie exists), the user-agent string, and the UTC-hour
// bucket of the hit. Truncated to 16 hex chars; collisions are
// tolerated, this is an approximation aid, not an identifier.
func Fingerprint(identity, userAgent string, at time.Time) string {
	bucket := at.UTC().Format(hourBucket)
	data := fmt.Sprintf("shortstat:%s:%s:%s", identity, userAgent, bucket)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])[:16]
}

// Classifier decides the is-unique-visitor flag for incoming visits.
type Classifier struct {
	store    Store
	lookback time.Duration
}

// NewClassifier creates a Classifier backed by the given event store.
// A non-positive lookback falls back to DefaultLookback.
func NewClassifier(store Store, lookback time.Duration) *Classifier {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Classifier{store: store, lookback: lookback}
}

// Lookback returns the configured trailing window.
func (c *Classifier) Lookback() time.Duration {
	return c.lookback
}

// IsFirstSeen reports whether no prior event exists for the link from
// the same visitor within the trailing lookback window ending at
// `at`. The durable visitor ID is preferred; the session fingerprint
// is the fallback for cookie-less hits.
//
// The check is read-then-decide with no transactional guard:
// concurrent hits inside the race window can both be classified
// unique. That over-count is an accepted approximation, not an error,
// so it is never surfaced to the caller.
func (c *Classifier) IsFirstSeen(ctx context.Context, linkID, visitorID, sessionID string, at time.Time) (bool, error) {
	since := at.Add(-c.lookback)

	seen, err := c.store.HasVisitSince(ctx, linkID, visitorID, sessionID, since, at)
	if err != nil {
		return false, fmt.Errorf("lookback check: %w", err)
	}

	return !seen, nil
}
