package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shortstat/shortstat/internal/model"
)

// Redis keys live under the ss: namespace so a shared instance can
// be swept or inspected per concern.
const (
	linkKeyPrefix     = "ss:link:"
	negCacheKeySuffix = ":neg"
	clicksKeyPrefix   = "ss:clicks:"

	// DefaultLinkTTL bounds how long an evict-failure can serve
	// stale link data.
	DefaultLinkTTL = 24 * time.Hour

	// NegativeCacheTTL is how long a miss shields Postgres from
	// repeat lookups of the same dead code.
	NegativeCacheTTL = 5 * time.Minute
)

var ErrCacheMiss = errors.New("cache miss")

func linkKey(shortCode string) string {
	return linkKeyPrefix + shortCode
}

func negKey(shortCode string) string {
	return linkKeyPrefix + shortCode + negCacheKeySuffix
}

func clicksKey(shortCode string) string {
	return clicksKeyPrefix + shortCode
}

// GetLink reads a cached link hash. ErrCacheMiss means the code has
// no entry; the caller decides whether Postgres gets asked.
func (c *Cache) GetLink(ctx context.Context, shortCode string) (*model.CachedLink, error) {
	result, err := c.client.HGetAll(ctx, linkKey(shortCode)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall link: %w", err)
	}
	if len(result) == 0 {
		return nil, ErrCacheMiss
	}

	return &model.CachedLink{
		Destination:  result["destination"],
		RedirectType: result["redirect_type"],
		ExpiresAt:    result["expires_at"],
		Enabled:      result["enabled"],
		DeletedAt:    result["deleted_at"],
		UpdatedAt:    result["updated_at"],
	}, nil
}

// SetLink caches a link as a hash. The TTL is capped at the link's
// own expiry so the cache cannot outlive the link; caching an
// already-expired link just clears its keys.
func (c *Cache) SetLink(ctx context.Context, shortCode string, link *model.Link) error {
	key := linkKey(shortCode)
	cached := link.ToCachedLink()

	ttl := DefaultLinkTTL
	if link.ExpiresAt != nil {
		expiresIn := time.Until(*link.ExpiresAt)
		if expiresIn <= 0 {
			c.client.Del(ctx, key, negKey(shortCode))
			return nil
		}
		if expiresIn < ttl {
			ttl = expiresIn
		}
	}

	fields := map[string]any{
		"destination":   cached.Destination,
		"redirect_type": cached.RedirectType,
		"enabled":       cached.Enabled,
		"updated_at":    cached.UpdatedAt,
	}
	if cached.ExpiresAt != "" {
		fields["expires_at"] = cached.ExpiresAt
	}
	if cached.DeletedAt != "" {
		fields["deleted_at"] = cached.DeletedAt
	}

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache link: %w", err)
	}

	// The code resolves now, so any negative entry is stale.
	c.client.Del(ctx, negKey(shortCode))

	return nil
}

// DeleteLink evicts a link and its negative entry.
func (c *Cache) DeleteLink(ctx context.Context, shortCode string) error {
	pipe := c.client.Pipeline()
	pipe.Del(ctx, linkKey(shortCode))
	pipe.Del(ctx, negKey(shortCode))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("evict link: %w", err)
	}

	return nil
}

// IsNegativelyCached reports whether the code recently resolved to
// nothing.
func (c *Cache) IsNegativelyCached(ctx context.Context, shortCode string) (bool, error) {
	exists, err := c.client.Exists(ctx, negKey(shortCode)).Result()
	if err != nil {
		return false, fmt.Errorf("check negative cache: %w", err)
	}
	return exists > 0, nil
}

// SetNegativeCache records that the code resolved to nothing.
func (c *Cache) SetNegativeCache(ctx context.Context, shortCode string) error {
	if err := c.client.SetEx(ctx, negKey(shortCode), "", NegativeCacheTTL).Err(); err != nil {
		return fmt.Errorf("set negative cache: %w", err)
	}
	return nil
}

// IncrementClicks bumps the per-link counter the flush job later
// drains into Postgres.
func (c *Cache) IncrementClicks(ctx context.Context, shortCode string) error {
	if err := c.client.Incr(ctx, clicksKey(shortCode)).Err(); err != nil {
		return fmt.Errorf("increment clicks: %w", err)
	}
	return nil
}

// RestoreClicks adds a count back onto the counter after a failed
// flush so the clicks are not lost.
func (c *Cache) RestoreClicks(ctx context.Context, shortCode string, count int64) error {
	if err := c.client.IncrBy(ctx, clicksKey(shortCode), count).Err(); err != nil {
		return fmt.Errorf("restore clicks: %w", err)
	}
	return nil
}

// GetAndResetClicks atomically drains the counter via GETDEL. A
// missing key reads as zero.
func (c *Cache) GetAndResetClicks(ctx context.Context, shortCode string) (int64, error) {
	result, err := c.client.GetDel(ctx, clicksKey(shortCode)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("drain clicks: %w", err)
	}

	count, err := strconv.ParseInt(result, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse click count: %w", err)
	}
	return count, nil
}

// ScanClickKeys lists every pending click counter via cursored SCAN,
// never KEYS, so the sweep cannot stall Redis.
func (c *Cache) ScanClickKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		batch, next, err := c.client.Scan(ctx, cursor, clicksKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan click keys: %w", err)
		}
		keys = append(keys, batch...)

		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// ExtractShortCodeFromClickKey recovers the short code from a click
// counter key, "" when the key is outside the counter namespace.
func ExtractShortCodeFromClickKey(key string) string {
	code, ok := strings.CutPrefix(key, clicksKeyPrefix)
	if !ok {
		return ""
	}
	return code
}
