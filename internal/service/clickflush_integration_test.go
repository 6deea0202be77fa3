//go:build integration

package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shortstat/shortstat/internal/cache"
	"github.com/shortstat/shortstat/internal/repository"
	"github.com/shortstat/shortstat/internal/testutil"
)

func TestClickFlusher_FlushPersistsCounters(t *testing.T) {
	ctx, repo, cacheClient, flusher := newClickFlushTestEnv(t)

	link := testutil.NewTestLink(t, testutil.UniqueShortCode("cf"))
	if err := repo.CreateLink(ctx, link); err != nil {
		t.Fatalf("create link: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := cacheClient.IncrementClicks(ctx, link.ShortCode); err != nil {
			t.Fatalf("increment clicks: %v", err)
		}
	}

	flushed, err := flusher.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if flushed != 1 {
		t.Fatalf("expected 1 link flushed, got %d", flushed)
	}

	stored, err := repo.GetLinkByID(ctx, link.ID)
	if err != nil {
		t.Fatalf("get link: %v", err)
	}
	if stored.ClickCount != 3 {
		t.Fatalf("expected click_count 3, got %d", stored.ClickCount)
	}

	// Counter was reset; a second pass finds nothing to do.
	flushed, err = flusher.Flush(ctx)
	if err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if flushed != 0 {
		t.Fatalf("expected 0 links on second flush, got %d", flushed)
	}
}

func TestClickFlusher_UnknownCodeDoesNotError(t *testing.T) {
	ctx, _, cacheClient, flusher := newClickFlushTestEnv(t)

	// Counter for a code with no matching row: the UPDATE affects
	// nothing and the count is dropped.
	if err := cacheClient.IncrementClicks(ctx, "no-such-code"); err != nil {
		t.Fatalf("increment clicks: %v", err)
	}

	if _, err := flusher.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func newClickFlushTestEnv(t *testing.T) (context.Context, *repository.Repository, *cache.Cache, *ClickFlusher) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")
	redisURL := testutil.RequireEnv(t, "REDIS_URL")

	repo, err := repository.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(repo.Close)

	unlock, err := testutil.AcquireDBLock(ctx, repo.Pool())
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	if err := testutil.ResetLinksSchema(ctx, repo.Pool()); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	cacheClient, err := cache.New(ctx, redisURL)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() {
		_ = cacheClient.Close()
	})

	if err := testutil.FlushRedis(ctx, cacheClient.Client()); err != nil {
		t.Fatalf("flush redis: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	flusher := NewClickFlusher(repo, cacheClient, time.Second, logger)

	return ctx, repo, cacheClient, flusher
}
