//go:build integration

package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/testhelpers"
)

func TestCommands_AgainstServer(t *testing.T) {
	testDB := testhelpers.GetRegistryDB(t)
	cfgPath, objPath := setup(t)
	t.Setenv("DATABASE_URL", testDB.ConnStr)

	count := func(t *testing.T, sql string) int64 {
		t.Helper()
		var n int64
		require.NoError(t, testDB.Pool.QueryRow(context.Background(), sql).Scan(&n))
		return n
	}

	_, err := run(t, "--config", cfgPath, "--schema", "cli_it", "schema", "init", "--apply")
	require.NoError(t, err)

	_, err = run(t, "--config", cfgPath, "--schema", "cli_it", "compile", "--apply", objPath)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count(t, "select count(*) from information_schema.views where table_schema='cli_it' and table_name='v_cust'"))

	for i := 0; i < 2; i++ {
		_, err = run(t, "--config", cfgPath, "--schema", "cli_it", "seed", "--set", "sample_data", "--apply", objPath)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), count(t, "select count(*) from cli_it.cust"), "seeding is idempotent")

	out, err := run(t, "--config", cfgPath, "catalog", "--columns", "cli_it.cust")
	require.NoError(t, err)
	assert.Contains(t, out, "cli_it.cust")
	assert.Contains(t, out, "cust_name")

	_, err = run(t, "--config", cfgPath, "--schema", "cli_it", "drop", "--apply", objPath)
	require.NoError(t, err)
	_, err = run(t, "--config", cfgPath, "--schema", "cli_it", "schema", "drop", "--apply")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count(t, "select count(*) from information_schema.schemata where schema_name='cli_it'"))
}

func TestBootstrap_Idempotent(t *testing.T) {
	testDB := testhelpers.GetRegistryDB(t)
	cfgPath, _ := setup(t)
	t.Setenv("DATABASE_URL", testDB.ConnStr)

	_, err := run(t, "--config", cfgPath, "bootstrap")
	require.NoError(t, err)
}
