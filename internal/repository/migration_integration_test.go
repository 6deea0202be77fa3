//go:build integration

package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shortstat/shortstat/internal/testutil"
)

// ============================================================================
// Migration Integration Tests
// ============================================================================

func TestIntegrationMigration_ApplyAllTables(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	// Verify all expected tables exist
	tables := []string{
		"links",
		"users",
		"api_keys",
		"visit_events",
		"rollups",
	}

	for _, table := range tables {
		t.Run(table, func(t *testing.T) {
			exists, err := tableExists(ctx, pool, table)
			if err != nil {
				t.Fatalf("tableExists failed: %v", err)
			}
			if !exists {
				t.Errorf("Table %q should exist after migrations", table)
			}
		})
	}
}

func TestIntegrationMigration_LinksTableSchema(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	// Verify links table has expected columns
	expectedColumns := []string{
		"id",
		"short_code",
		"destination",
		"redirect_type",
		"owner_id",
		"enabled",
		"expires_at",
		"deleted_at",
		"click_count",
		"created_at",
		"updated_at",
	}

	for _, col := range expectedColumns {
		t.Run(col, func(t *testing.T) {
			exists, err := columnExists(ctx, pool, "links", col)
			if err != nil {
				t.Fatalf("columnExists failed: %v", err)
			}
			if !exists {
				t.Errorf("Column %q should exist in links table", col)
			}
		})
	}
}

func TestIntegrationMigration_LinksConstraints(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	// Verify redirect_type check constraint
	_, err := pool.Exec(ctx, `
		INSERT INTO links (id, short_code, destination, redirect_type, owner_id)
		VALUES ('test-id', 'test-code', 'https://example.com', 999, 'system')
	`)
	if err == nil {
		t.Error("Expected check constraint violation for invalid redirect_type")
	}

	// Verify destination length constraint
	longDest := "https://example.com/" + string(make([]byte, 2100))
	_, err = pool.Exec(ctx, `
		INSERT INTO links (id, short_code, destination, redirect_type, owner_id)
		VALUES ('test-id', 'test-code', $1, 302, 'system')
	`, longDest)
	if err == nil {
		t.Error("Expected check constraint violation for destination > 2048 chars")
	}

	// Verify short_code length constraint
	_, err = pool.Exec(ctx, `
		INSERT INTO links (id, short_code, destination, redirect_type, owner_id)
		VALUES ('test-id', 'ab', 'https://example.com', 302, 'system')
	`)
	if err == nil {
		t.Error("Expected check constraint violation for short_code < 3 chars")
	}
}

func TestIntegrationMigration_APIKeysTableSchema(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	expectedColumns := []string{
		"id",
		"user_id",
		"key_hash",
		"key_prefix",
		"scopes",
		"rate_limit_tier",
		"name",
		"revoked_at",
		"last_used_at",
		"created_at",
	}

	for _, col := range expectedColumns {
		t.Run(col, func(t *testing.T) {
			exists, err := columnExists(ctx, pool, "api_keys", col)
			if err != nil {
				t.Fatalf("columnExists failed: %v", err)
			}
			if !exists {
				t.Errorf("Column %q should exist in api_keys table", col)
			}
		})
	}
}

func TestIntegrationMigration_VisitEventsTableSchema(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	visitEventCols := []string{
		"id",
		"event_id",
		"link_id",
		"short_code",
		"ip",
		"user_agent",
		"referrer",
		"referrer_host",
		"country",
		"region",
		"city",
		"timezone",
		"device_type",
		"device_brand",
		"os",
		"browser",
		"browser_version",
		"browser_engine",
		"visitor_id",
		"session_id",
		"is_unique_visitor",
		"visited_at",
		"hour",
		"day_of_week",
		"day_of_month",
		"month",
		"year",
		"created_at",
	}

	for _, col := range visitEventCols {
		exists, err := columnExists(ctx, pool, "visit_events", col)
		if err != nil {
			t.Fatalf("columnExists failed: %v", err)
		}
		if !exists {
			t.Errorf("Column %q should exist in visit_events table", col)
		}
	}
}

func TestIntegrationMigration_RollupsTableSchema(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	rollupCols := []string{
		"id",
		"link_id",
		"period",
		"date",
		"total_visits",
		"unique_visits",
		"countries",
		"devices",
		"browsers",
		"hours",
		"referrers",
		"created_at",
		"updated_at",
	}

	for _, col := range rollupCols {
		exists, err := columnExists(ctx, pool, "rollups", col)
		if err != nil {
			t.Fatalf("columnExists failed: %v", err)
		}
		if !exists {
			t.Errorf("Column %q should exist in rollups table", col)
		}
	}
}

func TestIntegrationMigration_RollupsUpsertKey(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	// Same (link_id, period, date) twice must conflict, not duplicate.
	const insert = `
		INSERT INTO rollups (id, link_id, period, date, total_visits, unique_visits)
		VALUES ($1, 'migration-test-link', 'daily', '2024-01-01', 1, 1)
	`
	if _, err := pool.Exec(ctx, insert, "rollup-a"); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	defer pool.Exec(ctx, `DELETE FROM rollups WHERE link_id = 'migration-test-link'`)

	if _, err := pool.Exec(ctx, insert, "rollup-b"); err == nil {
		t.Error("Expected primary key violation for duplicate (link_id, period, date)")
	}
}

func TestIntegrationMigration_RollbackLinks(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	root, err := testutil.ProjectRoot()
	if err != nil {
		t.Fatalf("ProjectRoot failed: %v", err)
	}

	// Apply down migration
	downPath := filepath.Join(root, "migrations", "000002_links.down.sql")
	downSQL, err := os.ReadFile(downPath)
	if err != nil {
		t.Fatalf("read down migration: %v", err)
	}
	if _, err := pool.Exec(ctx, string(downSQL)); err != nil {
		t.Fatalf("apply down migration: %v", err)
	}

	// Verify table doesn't exist
	exists, err := tableExists(ctx, pool, "links")
	if err != nil {
		t.Fatalf("tableExists failed: %v", err)
	}
	if exists {
		t.Error("links table should not exist after rollback")
	}

	// Re-apply up migration for cleanup
	upPath := filepath.Join(root, "migrations", "000002_links.up.sql")
	upSQL, err := os.ReadFile(upPath)
	if err != nil {
		t.Fatalf("read up migration: %v", err)
	}
	if _, err := pool.Exec(ctx, string(upSQL)); err != nil {
		t.Fatalf("reapply up migration: %v", err)
	}
}

func TestIntegrationMigration_Idempotency(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	root, err := testutil.ProjectRoot()
	if err != nil {
		t.Fatalf("ProjectRoot failed: %v", err)
	}

	// Apply up migration again (should be idempotent via IF NOT EXISTS)
	// Note: This tests the CREATE EXTENSION IF NOT EXISTS clause
	upPath := filepath.Join(root, "migrations", "000001_init.up.sql")
	upSQL, err := os.ReadFile(upPath)
	if err != nil {
		t.Fatalf("read init up migration: %v", err)
	}
	if _, err := pool.Exec(ctx, string(upSQL)); err != nil {
		t.Fatalf("second apply should not fail: %v", err)
	}
}

// ============================================================================
// Helper Functions
// ============================================================================

func tableExists(ctx context.Context, pool *pgxpool.Pool, tableName string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables 
			WHERE table_schema = 'public' 
			AND table_name = $1
		)
	`, tableName).Scan(&exists)
	return exists, err
}

func columnExists(ctx context.Context, pool *pgxpool.Pool, tableName, columnName string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.columns 
			WHERE table_schema = 'public' 
			AND table_name = $1 
			AND column_name = $2
		)
	`, tableName, columnName).Scan(&exists)
	return exists, err
}

// ============================================================================
// Test Environment Setup
// ============================================================================

func newMigrationTestEnv(t *testing.T) (context.Context, *pgxpool.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	unlock, err := testutil.AcquireDBLock(ctx, pool)
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	return ctx, pool
}
