package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsSortsAndSkips(t *testing.T) {
	fsys := fstest.MapFS{
		"010_late.sql": {Data: []byte("SELECT 10;")},
		"002_runs.sql": {Data: []byte("SELECT 2;")},
		"001_core.sql": {Data: []byte("SELECT 1;")},
		"README.md":    {Data: []byte("docs")},
		"draft.sql":    {Data: []byte("SELECT 0;")},
		"abc_skip.sql": {Data: []byte("SELECT 0;")},
	}

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 3)
	require.Equal(t, []int{1, 2, 10}, []int{migrations[0].Version, migrations[1].Version, migrations[2].Version})
	require.Equal(t, "001_core.sql", migrations[0].Name)
	require.Equal(t, "SELECT 1;", migrations[0].SQL)
}

func TestEmbeddedMigrations(t *testing.T) {
	migrations, err := NewMigrator(nil, Migrations()).LoadMigrations()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(migrations), 2)
	require.Equal(t, 1, migrations[0].Version)
	require.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS drugs")
}
