// Package databasetest opens migrated in-memory SQLite databases for store
// tests.
package databasetest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dvloznov/receipt-capture/internal/database"
)

// New returns a fresh, fully migrated in-memory database closed at the end
// of the test.
func New(t testing.TB) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(ctx, database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migrations, err := database.Migrations()
	require.NoError(t, err)

	_, err = database.Migrate(ctx, db, migrations, "test")
	require.NoError(t, err)

	return db
}
