//go:build integration

package ddl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/database"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/models"
	pgsql "github.com/ekaya-inc/ekaya-pgsql/pkg/sql"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/testhelpers"
)

func TestCompiler_AppliesToServer(t *testing.T) {
	testDB := testhelpers.GetRegistryDB(t)
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	drv := postgres.NewDriver(nil, nil, nil, logger)
	defer drv.Close()
	cfg := &postgres.Config{ConnString: testDB.ConnStr}

	exec := func(t *testing.T, sql string) error {
		t.Helper()
		_, err := drv.Command(ctx, nil, cfg, pgsql.Statement{SQL: sql})
		return err
	}
	scalar := func(t *testing.T, sql string) any {
		t.Helper()
		env, err := drv.Scalar(ctx, nil, cfg, pgsql.Statement{SQL: sql})
		require.NoError(t, err)
		return env.Scalar
	}

	c := NewCompiler(&models.Module{Schema: "ddl_it", FactorySchema: database.RegistrySchema}, logger)
	require.NoError(t, exec(t, c.InitSchema()))

	code := &models.ObjectDescriptor{
		Kind: models.KindCode,
		Name: "code_sts",
		Init: models.SeedRows{models.NewRow("code_val", "ACTIVE", "code_txt", "Active")},
	}
	cust := custTable()
	cust.InitData = models.SeedRows{models.NewRow("cust_id", 100, "cust_name", "Seeded")}

	for _, obj := range []*models.ObjectDescriptor{code, cust} {
		sql, err := c.Compile(obj)
		require.NoError(t, err)
		require.NoError(t, exec(t, sql), obj.Name)
	}

	assert.Equal(t, int64(1), scalar(t,
		"select count(*) from jsharmony.code_sys where code_name='sts' and code_schema='ddl_it'"))
	assert.Equal(t, "ACTIVE", scalar(t, "select code_val from ddl_it.code_sts"))

	t.Run("insert trigger applies sql default", func(t *testing.T) {
		require.NoError(t, exec(t, "insert into ddl_it.cust(cust_name) values ('Acme')"))
		assert.Equal(t, true, scalar(t, "select cust_etstmp is not null from ddl_it.cust where cust_name='Acme'"))
		assert.Equal(t, "ACTIVE", scalar(t, "select cust_sts from ddl_it.cust where cust_name='Acme'"))
	})

	t.Run("update trigger blocks immutable column", func(t *testing.T) {
		err := exec(t, "update ddl_it.cust set cust_etstmp = now() - interval '1 day' where cust_name='Acme'")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Cannot update column cust_etstmp")
		require.NoError(t, exec(t, "update ddl_it.cust set cust_note = 'ok' where cust_name='Acme'"))
	})

	t.Run("seed is idempotent", func(t *testing.T) {
		seed, err := c.Seed(cust, SeedInitData)
		require.NoError(t, err)
		require.NoError(t, exec(t, c.SearchPath()+seed))
		require.NoError(t, exec(t, c.SearchPath()+seed))
		assert.Equal(t, int64(1), scalar(t, "select count(*) from ddl_it.cust where cust_id=100"))
	})

	for _, obj := range []*models.ObjectDescriptor{cust, code} {
		sql, err := c.Drop(obj)
		require.NoError(t, err)
		require.NoError(t, exec(t, c.SearchPath()+sql), obj.Name)
	}
	assert.Equal(t, int64(0), scalar(t,
		"select count(*) from jsharmony.code_sys where code_name='sts' and code_schema='ddl_it'"))
	require.NoError(t, exec(t, c.DropSchema()))
}
