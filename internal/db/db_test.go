package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenForTesting(t *testing.T) {
	d, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })

	assert.NoError(t, d.Ping())
}

func TestMigrationsApply(t *testing.T) {
	d, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })

	for _, table := range []string{"properties", "inspections", "zones", "elements"} {
		var name string
		err := d.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestOpenForTestingIsolated(t *testing.T) {
	a, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	b, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, b.Close()) })

	_, err = a.Exec("INSERT INTO properties (id, bedrooms, bathrooms) VALUES ('p1', 2, 1)")
	require.NoError(t, err)

	var n int
	require.NoError(t, b.QueryRow("SELECT COUNT(*) FROM properties").Scan(&n))
	assert.Zero(t, n)
}

func TestOpenFileReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checklists.db")

	d, err := Open(path)
	require.NoError(t, err)
	_, err = d.Exec("INSERT INTO properties (id, bedrooms, bathrooms) VALUES ('p1', 3, 2)")
	require.NoError(t, err)
	require.NoError(t, d.Close())

	// Migrations must be a no-op on an up-to-date database.
	d, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })

	var bedrooms int
	require.NoError(t, d.QueryRow("SELECT bedrooms FROM properties WHERE id = 'p1'").Scan(&bedrooms))
	assert.Equal(t, 3, bedrooms)
}
