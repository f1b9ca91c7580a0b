package database_test

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/receipt-capture/internal/database"
)

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  int
		name     string
	}{
		{"0001_taxonomy.sql", true, 1, "taxonomy"},
		{"0012_add_index_on_records.sql", true, 12, "add_index_on_records"},
		{"001_invalid.sql", false, 0, ""},
		{"0001_test", false, 0, ""},
		{"0001.sql", false, 0, ""},
		{"invalid_0001_test.sql", false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := database.ParseMigrationFilename(tt.filename)
			assert.Equal(t, tt.valid, ok)
			assert.Equal(t, tt.version, version)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestStatements(t *testing.T) {
	script := `-- leading comment
CREATE TABLE a (
	id TEXT PRIMARY KEY
);

-- second
CREATE INDEX a_id ON a (id);
`
	stmts := database.Statements(script)

	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (\n\tid TEXT PRIMARY KEY\n);", stmts[0])
	assert.Equal(t, "CREATE INDEX a_id ON a (id);", stmts[1])
}

func TestReadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_second.sql": {Data: []byte("CREATE TABLE b (id TEXT);")},
		"m/0001_first.sql":  {Data: []byte("CREATE TABLE a (id TEXT);")},
		"m/README.md":       {Data: []byte("ignored")},
	}

	migrations, err := database.ReadMigrations(fsys, "m")
	require.NoError(t, err)

	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "first", migrations[0].Name)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Len(t, migrations[0].Checksum, 64)
	assert.NotEqual(t, migrations[0].Checksum, migrations[1].Checksum)
}

func TestReadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0001_a.sql": {Data: []byte("SELECT 1;")},
		"m/0001_b.sql": {Data: []byte("SELECT 2;")},
	}

	_, err := database.ReadMigrations(fsys, "m")
	assert.Error(t, err)
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	db, err := database.New(ctx, database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	migrations, err := database.Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	applied, err := database.Migrate(ctx, db, migrations, "test")
	require.NoError(t, err)
	assert.Len(t, applied, len(migrations))

	again, err := database.Migrate(ctx, db, migrations, "test")
	require.NoError(t, err)
	assert.Empty(t, again)

	recorded, err := database.Applied(ctx, db)
	require.NoError(t, err)
	require.Len(t, recorded, len(migrations))
	assert.Equal(t, "test", recorded[0].AppliedBy)
	assert.Equal(t, migrations[0].Checksum, recorded[0].Checksum)
}

func TestMigrate_DetectsModifiedMigration(t *testing.T) {
	ctx := context.Background()
	db, err := database.New(ctx, database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	original := []database.Migration{{Version: 1, Name: "a", SQL: "CREATE TABLE a (id TEXT);", Checksum: "one"}}
	_, err = database.Migrate(ctx, db, original, "test")
	require.NoError(t, err)

	modified := []database.Migration{{Version: 1, Name: "a", SQL: "CREATE TABLE a (id INTEGER);", Checksum: "two"}}
	_, err = database.Migrate(ctx, db, modified, "test")
	assert.ErrorContains(t, err, "modified after being applied")
}

func TestMigrate_FailedMigrationIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	db, err := database.New(ctx, database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	broken := []database.Migration{{Version: 1, Name: "broken", SQL: "CREATE TABLE ok (id TEXT);\nNOT SQL AT ALL;", Checksum: "x"}}
	_, err = database.Migrate(ctx, db, broken, "test")
	require.Error(t, err)

	recorded, err := database.Applied(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, recorded)
}
