package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aurantiaco-sucus/rdb-exp3/config"
	"github.com/aurantiaco-sucus/rdb-exp3/library"
	"github.com/doug-martin/goqu/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, dsn string) config.Config {
	t.Helper()
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	cfg.DBDSN = dsn
	cfg.LogLevel = "error"
	return cfg
}

func Test_ConfigCommand_ProvisionsDatabase(t *testing.T) {
	// setup
	dsn := filepath.Join(t.TempDir(), "lms.db")
	cfg := testConfig(t, "unused.db")
	cmd := newRootCmd(&cfg)
	cmd.SetArgs([]string{"config", "--db-dsn", dsn})

	// act
	err := cmd.ExecuteContext(context.Background())

	// assert
	require.NoError(t, err)
	db, err := library.Open(context.Background(), library.DriverSQLite3, dsn)
	require.NoError(t, err)
	defer db.Close()
	assert.NoError(t, db.CheckSchema(context.Background()))
}

func Test_RunConfig_OverwriteWipesData(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "lms.db")
	cfg := testConfig(t, dsn)
	require.NoError(t, runConfig(ctx, cfg, false))

	db, err := library.Open(ctx, library.DriverSQLite3, dsn)
	require.NoError(t, err)
	store, err := library.NewSerializer(db)
	require.NoError(t, err)
	mgr := library.NewLibraryManager(store)
	_, err = mgr.AddBook(ctx, "Dune", "Herbert", "")
	require.NoError(t, err)
	require.NoError(t, mgr.Close())

	// Without overwrite the data survives.
	require.NoError(t, runConfig(ctx, cfg, false))
	require.NoError(t, runConfig(ctx, cfg, true))

	db, err = library.Open(ctx, library.DriverSQLite3, dsn)
	require.NoError(t, err)
	defer db.Close()
	n, err := db.Count(ctx, "books", goqu.Ex{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func Test_RootCommand_RejectsInvalidFlags(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "lms.db"))
	cmd := newRootCmd(&cfg)
	cmd.SetArgs([]string{"config", "--db-driver", "mysql"})
	cmd.SilenceErrors = true

	err := cmd.ExecuteContext(context.Background())

	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func Test_RunServer_RefusesUnprovisionedDatabase(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "empty.db"))

	err := runServer(context.Background(), cfg)

	assert.ErrorIs(t, err, library.ErrSchemaMissing)
}
