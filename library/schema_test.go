package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Provision_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)

	require.NoError(t, db.Provision(ctx))

	version, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, version)
	assert.NoError(t, db.CheckSchema(ctx))
}

func Test_CheckSchema_FailsOnEmptyStore(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite3, filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer db.Close()

	err = db.CheckSchema(ctx)

	assert.ErrorIs(t, err, ErrSchemaMissing)
	assert.Contains(t, err.Error(), tableUsers)
}

func Test_SchemaVersion_ZeroWhenUnprovisioned(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer db.Close()

	version, err := db.SchemaVersion(ctx)

	require.NoError(t, err)
	assert.Zero(t, version)
}

func Test_DropSchema(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)

	require.NoError(t, db.DropSchema(ctx))

	assert.ErrorIs(t, db.CheckSchema(ctx), ErrSchemaMissing)
	require.NoError(t, db.Provision(ctx))
	assert.NoError(t, db.CheckSchema(ctx))
}

func Test_RemoveSQLiteFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lib.db")
	for _, f := range []string{path, path + "-wal"} {
		require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	}

	require.NoError(t, RemoveSQLiteFiles(path))

	for _, f := range []string{path, path + "-shm", path + "-wal"} {
		_, err := os.Stat(f)
		assert.True(t, os.IsNotExist(err), f)
	}
}
