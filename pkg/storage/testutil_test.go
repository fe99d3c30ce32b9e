package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestStorage opens a migrated storage for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh single-connection in-memory SQLite instance.
func newTestStorage(t *testing.T) *GormStorage {
	t.Helper()

	driver, dsn := "sqlite", ":memory:"
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		driver, dsn = "postgres", url
	}

	db, err := Open(driver, dsn)
	require.NoError(t, err, "open %s test db", driver)

	opts := []PoolOption{MaxOpenConns(2), MaxIdleConns(1)}
	if driver == "sqlite" {
		// every :memory: connection is a separate database
		opts = []PoolOption{MaxOpenConns(1), MaxIdleConns(1), ConnMaxLifetime(0), ConnMaxIdleTime(0)}
	}
	s, err := NewGormStorageWithPool(db, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")

	if driver == "postgres" {
		db.Exec("DELETE FROM jobs")
		t.Cleanup(func() {
			db.Exec("DELETE FROM jobs")
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})
	}
	return s
}
