package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shortstat/shortstat/internal/cache"
	"github.com/shortstat/shortstat/internal/repository"
)

// ClickFlusher periodically moves the Redis click counters into the
// links table. Redirects only touch Redis; this job makes the counts
// durable. Counts are approximate until the next flush.
type ClickFlusher struct {
	repo     *repository.Repository
	cache    *cache.Cache
	interval time.Duration
	logger   *slog.Logger

	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
}

// NewClickFlusher creates a ClickFlusher.
func NewClickFlusher(repo *repository.Repository, cacheClient *cache.Cache, interval time.Duration, logger *slog.Logger) *ClickFlusher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ClickFlusher{
		repo:     repo,
		cache:    cacheClient,
		interval: interval,
		logger:   logger.With("component", "clickflush"),
	}
}

// Run flushes on a fixed interval until the context is cancelled.
// A final flush runs on shutdown so pending counts are not stranded
// in Redis across a deploy.
func (f *ClickFlusher) Run(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return errors.New("click flusher already started")
	}
	f.started = true
	f.done = make(chan struct{})
	ctx, f.cancel = context.WithCancel(ctx)
	f.mu.Unlock()

	defer close(f.done)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Info("click flusher started", "interval", f.interval.String())

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := f.Flush(flushCtx); err != nil {
				f.logger.Error("final click flush failed", "error", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if n, err := f.Flush(ctx); err != nil {
				f.logger.Error("click flush failed", "error", err)
			} else if n > 0 {
				f.logger.Debug("flushed click counters", "links", n)
			}
		}
	}
}

// Shutdown stops the loop and waits for the final flush.
// It implements server.ShutdownFunc for integration with graceful shutdown.
func (f *ClickFlusher) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return nil
	}
	cancel := f.cancel
	done := f.done
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if done != nil {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("click flusher shutdown: %w", ctx.Err())
		}
	}
	return nil
}

// Flush drains every pending click counter into PostgreSQL and
// returns the number of links updated. A failed database write puts
// the count back onto the Redis counter for the next pass.
func (f *ClickFlusher) Flush(ctx context.Context) (int, error) {
	keys, err := f.cache.ScanClickKeys(ctx)
	if err != nil {
		return 0, err
	}

	flushed := 0
	for _, key := range keys {
		shortCode := cache.ExtractShortCodeFromClickKey(key)
		if shortCode == "" {
			continue
		}

		count, err := f.cache.GetAndResetClicks(ctx, shortCode)
		if err != nil {
			f.logger.Warn("failed to read click counter", "short_code", shortCode, "error", err)
			continue
		}
		if count == 0 {
			continue
		}

		if err := f.repo.IncrementClickCountByCode(ctx, shortCode, count); err != nil {
			f.logger.Warn("failed to persist click count", "short_code", shortCode, "count", count, "error", err)
			if restoreErr := f.cache.RestoreClicks(ctx, shortCode, count); restoreErr != nil {
				f.logger.Error("dropped click count", "short_code", shortCode, "count", count, "error", restoreErr)
			}
			continue
		}
		flushed++
	}

	return flushed, nil
}
