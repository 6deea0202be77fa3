// Package ingest moves visit events from the redirect hot path into
// durable storage through a Redis stream. The publisher side stays
// cheap enough to never slow a redirect down; the worker side does
// the heavy lifting (user-agent parsing, uniqueness classification,
// batched persistence).
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shortstat/shortstat/internal/metrics"
)

const (
	// StreamKey is the Redis stream for visit events.
	StreamKey = "stream:visit_events"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:visit_events:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond
)

// VisitPayload is the compact wire format for visit events on the
// stream. Enrichment happens on the consumer side; the payload only
// carries what the redirect handler can read off the request.
type VisitPayload struct {
	ShortCode string `json:"sc"`
	LinkID    string `json:"lid"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"ua,omitempty"` // truncated
	Referrer  string `json:"r,omitempty"`  // sanitized, truncated
	VisitorID string `json:"vid,omitempty"` // durable visitor cookie, if present
	Country   string `json:"cc,omitempty"` // from edge headers
	Region    string `json:"rg,omitempty"`
	City      string `json:"ct,omitempty"`
	Timezone  string `json:"tz,omitempty"`
	VisitedAt int64  `json:"t"` // Unix milliseconds
}

// Publisher enqueues visit events to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new visit event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "ingest.publisher"),
		metrics: recorder,
	}
}

// Publish adds a visit event to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, event VisitPayload) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true, // ~MAXLEN for performance
		ID:     "*",  // Auto-generate ID
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()

	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged but not returned (fire-and-forget).
func (p *Publisher) PublishAsync(event VisitPayload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, event)
		if err != nil {
			p.logger.Warn("failed to publish visit event",
				"short_code", event.ShortCode,
				"error", err,
			)
			p.metrics.IncVisitPublished("dropped")
			return
		}

		p.logger.Debug("visit event published",
			"short_code", event.ShortCode,
			"stream_id", streamID,
		)
		p.metrics.IncVisitPublished("success")
	}()
}

// SanitizeReferrer cleans and truncates the referrer URL.
// Strips query parameters and fragments for privacy.
func SanitizeReferrer(ref string) string {
	if ref == "" {
		return ""
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}

	// Keep only scheme + host + path; strip query params and fragments
	parsed.RawQuery = ""
	parsed.Fragment = ""

	sanitized := parsed.String()
	if len(sanitized) > 500 {
		return sanitized[:500]
	}
	return sanitized
}

// TruncateUserAgent truncates user agent to max 500 chars.
func TruncateUserAgent(ua string) string {
	if len(ua) > 500 {
		return ua[:500]
	}
	return ua
}

// ReferrerHost extracts the host from a referrer URL. Empty referrers
// stay empty; storage and queries render them as "(direct)".
func ReferrerHost(ref string) string {
	if ref == "" {
		return ""
	}

	parsed, err := url.Parse(ref)
	if err != nil || parsed.Host == "" {
		return ""
	}

	return parsed.Host
}
