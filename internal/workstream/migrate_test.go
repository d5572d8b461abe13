package workstream

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigratorUpAppliesAllPending(t *testing.T) {
	db := openTestDB(t)
	migrator, err := NewMigrator(db)
	require.NoError(t, err)

	applied, err := migrator.Up(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init"}, applied)

	// Re-running is a no-op.
	applied, err = migrator.Up(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestMigratorUpCreatesSchema(t *testing.T) {
	db := openTestDB(t)
	migrator, err := NewMigrator(db)
	require.NoError(t, err)
	_, err = migrator.Up(context.Background(), 0)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO workstreams (id, title, summary, is_scratch, state, default_model, created_at, updated_at)
		VALUES ('w1', 'Title', '', 0, 'active', '', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
	assert.NoError(t, err)
}

func TestMigratorDownRollsBack(t *testing.T) {
	db := openTestDB(t)
	migrator, err := NewMigrator(db)
	require.NoError(t, err)
	_, err = migrator.Up(context.Background(), 0)
	require.NoError(t, err)

	rolled, err := migrator.Down(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init"}, rolled)

	_, err = db.Exec(`INSERT INTO workstreams (id, title, summary, is_scratch, state, default_model, created_at, updated_at)
		VALUES ('w1', 'Title', '', 0, 'active', '', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
	assert.Error(t, err, "table should have been dropped by the down migration")
}

func TestMigratorStatus(t *testing.T) {
	db := openTestDB(t)
	migrator, err := NewMigrator(db)
	require.NoError(t, err)

	applied, pending, err := migrator.Status(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)
	require.Len(t, pending, 1)

	_, err = migrator.Up(context.Background(), 0)
	require.NoError(t, err)

	applied, pending, err = migrator.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "0001_init", applied[0].ID)
	assert.Empty(t, pending)
}

func TestOpenAppliesMigrations(t *testing.T) {
	db, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO workstreams (id, title, summary, is_scratch, state, default_model, created_at, updated_at)
		VALUES ('w1', 'Title', '', 0, 'active', '', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
	assert.NoError(t, err)
}
