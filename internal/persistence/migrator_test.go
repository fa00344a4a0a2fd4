package persistence_test

import (
	"context"
	"testing"
	"testing/fstest"

	"TimeMarket/internal/persistence"
	"TimeMarket/internal/testutil"
	"TimeMarket/migrations"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_PairsAndOrders(t *testing.T) {
	fsys := fstest.MapFS{
		"000002_more.up.sql":    {Data: []byte("CREATE TABLE b (id INT);")},
		"000002_more.down.sql":  {Data: []byte("DROP TABLE b;")},
		"000001_first.up.sql":   {Data: []byte("CREATE TABLE a (id INT);")},
		"README.md":             {Data: []byte("ignored")},
		"embed.go":              {Data: []byte("package migrations")},
		"000003_no_down.up.sql": {Data: []byte("SELECT 1;")},
	}
	ms, err := persistence.LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, ms, 3)

	assert.Equal(t, "000001", ms[0].Version)
	assert.Equal(t, "first", ms[0].Name)
	assert.Empty(t, ms[0].Down)
	assert.Equal(t, "more", ms[1].Name)
	assert.Equal(t, "DROP TABLE b;", ms[1].Down)
	assert.Equal(t, "no_down", ms[2].Name)
}

func TestLoadMigrations_RejectsDownWithoutUp(t *testing.T) {
	_, err := persistence.LoadMigrations(fstest.MapFS{
		"000001_orphan.down.sql": {Data: []byte("DROP TABLE a;")},
	})
	assert.ErrorContains(t, err, "no up script")
}

func TestLoadMigrations_RejectsConflictingNames(t *testing.T) {
	_, err := persistence.LoadMigrations(fstest.MapFS{
		"000001_a.up.sql":   {Data: []byte("SELECT 1;")},
		"000001_b.down.sql": {Data: []byte("SELECT 1;")},
	})
	assert.ErrorContains(t, err, "two names")
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	ms, err := persistence.LoadMigrations(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	for _, m := range ms {
		assert.NotEmpty(t, m.Down, "migration %s_%s must be reversible", m.Version, m.Name)
	}
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	m, err := persistence.NewMigrator(db, migrations.FS)
	require.NoError(t, err)

	n, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
