//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shortstat/shortstat/internal/model"
	"github.com/shortstat/shortstat/internal/testutil"
)

func TestIntegrationLinks_CreateAndFetch(t *testing.T) {
	ctx, repo := newLinkTestEnv(t)

	shortCode := testutil.UniqueShortCode("create")
	link := testutil.NewTestLink(t, shortCode)

	if err := repo.CreateLink(ctx, link); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	byID, err := repo.GetLinkByID(ctx, link.ID)
	if err != nil {
		t.Fatalf("GetLinkByID: %v", err)
	}
	if byID.ShortCode != shortCode {
		t.Errorf("ShortCode = %q, want %q", byID.ShortCode, shortCode)
	}
	if byID.Destination != link.Destination {
		t.Errorf("Destination = %q, want %q", byID.Destination, link.Destination)
	}
	if byID.CreatedAt.IsZero() {
		t.Error("CreatedAt not persisted")
	}

	byCode, err := repo.GetLinkByShortCode(ctx, shortCode)
	if err != nil {
		t.Fatalf("GetLinkByShortCode: %v", err)
	}
	if byCode.ID != link.ID {
		t.Errorf("ID = %q, want %q", byCode.ID, link.ID)
	}
}

func TestIntegrationLinks_DuplicateAlias(t *testing.T) {
	ctx, repo := newLinkTestEnv(t)

	shortCode := testutil.UniqueShortCode("dup")
	first := testutil.NewTestLink(t, shortCode)
	second := testutil.NewTestLink(t, shortCode)
	second.ID = testutil.UniqueID("link")

	if err := repo.CreateLink(ctx, first); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	if err := repo.CreateLink(ctx, second); !errors.Is(err, ErrAliasExists) {
		t.Errorf("second CreateLink error = %v, want ErrAliasExists", err)
	}
}

func TestIntegrationLinks_NotFound(t *testing.T) {
	ctx, repo := newLinkTestEnv(t)

	if _, err := repo.GetLinkByID(ctx, "no-such-id"); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("GetLinkByID error = %v, want ErrLinkNotFound", err)
	}
	if _, err := repo.GetLinkByShortCode(ctx, "no-such-code"); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("GetLinkByShortCode error = %v, want ErrLinkNotFound", err)
	}
}

func TestIntegrationLinks_Update(t *testing.T) {
	ctx, repo := newLinkTestEnv(t)

	link := testutil.NewTestLink(t, testutil.UniqueShortCode("update"))
	if err := repo.CreateLink(ctx, link); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	link.Destination = "https://blog.shortstat.dev/relaunch"
	if err := repo.UpdateLink(ctx, link); err != nil {
		t.Fatalf("UpdateLink: %v", err)
	}

	got, err := repo.GetLinkByID(ctx, link.ID)
	if err != nil {
		t.Fatalf("GetLinkByID: %v", err)
	}
	if got.Destination != link.Destination {
		t.Errorf("Destination = %q, want %q", got.Destination, link.Destination)
	}
	if !got.UpdatedAt.After(link.CreatedAt) {
		t.Error("UpdatedAt not advanced past CreatedAt")
	}
}

func TestIntegrationLinks_SoftDelete(t *testing.T) {
	ctx, repo := newLinkTestEnv(t)

	shortCode := testutil.UniqueShortCode("delete")
	link := testutil.NewTestLink(t, shortCode)
	if err := repo.CreateLink(ctx, link); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	if err := repo.DeleteLink(ctx, link.ID); err != nil {
		t.Fatalf("DeleteLink: %v", err)
	}

	// Gone from the redirect path.
	if _, err := repo.GetLinkByShortCode(ctx, shortCode); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("GetLinkByShortCode after delete error = %v, want ErrLinkNotFound", err)
	}

	// Still visible by ID so management APIs can show the tombstone.
	got, err := repo.GetLinkByID(ctx, link.ID)
	if err != nil {
		t.Fatalf("GetLinkByID after delete: %v", err)
	}
	if got.DeletedAt == nil {
		t.Error("DeletedAt not set by soft delete")
	}

	// The code is free for reuse.
	exists, err := repo.ShortCodeExists(ctx, shortCode)
	if err != nil {
		t.Fatalf("ShortCodeExists: %v", err)
	}
	if exists {
		t.Error("short code still claimed after soft delete")
	}
}

func TestIntegrationLinks_Pagination(t *testing.T) {
	ctx, repo := newLinkTestEnv(t)

	ownerID := "usr_pagination"
	for i := 0; i < 5; i++ {
		link := testutil.NewTestLink(t, testutil.UniqueShortCode("page"))
		link.OwnerID = ownerID
		if err := repo.CreateLink(ctx, link); err != nil {
			t.Fatalf("CreateLink: %v", err)
		}
		// Distinct created_at keeps the cursor ordering stable.
		time.Sleep(time.Millisecond)
	}

	filter := LinkFilter{OwnerID: ownerID}
	seen := map[string]bool{}

	page1, cursor1, err := repo.ListLinks(ctx, filter, "", 2)
	if err != nil {
		t.Fatalf("ListLinks page 1: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("page 1 length = %d, want 2", len(page1))
	}
	if cursor1 == "" {
		t.Fatal("page 1 cursor empty with more rows remaining")
	}

	page2, cursor2, err := repo.ListLinks(ctx, filter, cursor1, 2)
	if err != nil {
		t.Fatalf("ListLinks page 2: %v", err)
	}
	if len(page2) != 2 {
		t.Fatalf("page 2 length = %d, want 2", len(page2))
	}

	page3, _, err := repo.ListLinks(ctx, filter, cursor2, 2)
	if err != nil {
		t.Fatalf("ListLinks page 3: %v", err)
	}
	if len(page3) != 1 {
		t.Fatalf("page 3 length = %d, want 1", len(page3))
	}

	for _, page := range [][]*model.Link{page1, page2, page3} {
		for _, link := range page {
			if seen[link.ID] {
				t.Errorf("link %s appeared on two pages", link.ID)
			}
			seen[link.ID] = true
		}
	}
}

func TestIntegrationLinks_IncrementClickCount(t *testing.T) {
	ctx, repo := newLinkTestEnv(t)

	link := testutil.NewTestLink(t, testutil.UniqueShortCode("clicks"))
	if err := repo.CreateLink(ctx, link); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	// Two flush deltas must accumulate, not overwrite.
	for _, delta := range []int64{5, 3} {
		if err := repo.IncrementClickCount(ctx, link.ID, delta); err != nil {
			t.Fatalf("IncrementClickCount(%d): %v", delta, err)
		}
	}

	got, err := repo.GetLinkByID(ctx, link.ID)
	if err != nil {
		t.Fatalf("GetLinkByID: %v", err)
	}
	if got.ClickCount != 8 {
		t.Errorf("ClickCount = %d, want 8", got.ClickCount)
	}
}

func TestIntegrationLinks_ShortCodeExists(t *testing.T) {
	ctx, repo := newLinkTestEnv(t)

	shortCode := testutil.UniqueShortCode("exists")

	exists, err := repo.ShortCodeExists(ctx, shortCode)
	if err != nil {
		t.Fatalf("ShortCodeExists: %v", err)
	}
	if exists {
		t.Error("unclaimed short code reported as existing")
	}

	if err := repo.CreateLink(ctx, testutil.NewTestLink(t, shortCode)); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	exists, err = repo.ShortCodeExists(ctx, shortCode)
	if err != nil {
		t.Fatalf("ShortCodeExists after create: %v", err)
	}
	if !exists {
		t.Error("claimed short code reported as free")
	}
}

func TestIntegrationLinks_ExpiredStillReadable(t *testing.T) {
	ctx, repo := newLinkTestEnv(t)

	shortCode := testutil.UniqueShortCode("expired")
	link := testutil.NewTestLinkWithExpiry(t, shortCode, time.Now().Add(-time.Hour))
	if err := repo.CreateLink(ctx, link); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	// Expiry is computed at read time; the row itself stays queryable.
	got, err := repo.GetLinkByShortCode(ctx, shortCode)
	if err != nil {
		t.Fatalf("GetLinkByShortCode: %v", err)
	}
	if !got.IsExpired() {
		t.Error("link past its expires_at not reported expired")
	}
	if got.Status() != model.LinkStatusExpired {
		t.Errorf("Status = %q, want %q", got.Status(), model.LinkStatusExpired)
	}
}

func newLinkTestEnv(t *testing.T) (context.Context, *Repository) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	repo, err := New(ctx, dbURL)
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
		t.Fatalf("reset links schema: %v", err)
	}

	return ctx, repo
}
