package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavex-go/pavexc/pkg/config"
)

func writeTOML(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadFlattensNestedTables(t *testing.T) {
	path := writeTOML(t, "name = \"checkout\"\n\n[db]\nport = 5432\nhost = \"localhost\"\n")

	store, err := config.Load(path)
	require.NoError(t, err)

	v, ok := store.Lookup("name")
	require.True(t, ok)
	assert.Equal(t, "checkout", v)

	v, ok = store.Lookup("db.port")
	require.True(t, ok)
	assert.EqualValues(t, 5432, v)

	_, ok = store.Lookup("db.missing")
	assert.False(t, ok)
}

func TestLoadEmptyPathYieldsEmptyStore(t *testing.T) {
	store, err := config.Load("")
	require.NoError(t, err)
	_, ok := store.Lookup("anything")
	assert.False(t, ok)
}

func TestLoadEnvOverridesFileValue(t *testing.T) {
	path := writeTOML(t, "[db]\nhost = \"localhost\"\n")
	t.Setenv("PAVEX_DB_HOST", "prod.internal")

	store, err := config.Load(path)
	require.NoError(t, err)

	v, ok := store.Lookup("db.host")
	require.True(t, ok)
	assert.Equal(t, "prod.internal", v)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	assert.Error(t, err)
}
