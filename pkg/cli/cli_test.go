package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/config"
)

const objectsYAML = `
cust:
  type: table
  caption: [Customer, Customers]
  columns:
    - name: cust_id
      type: bigint
      key: true
    - name: cust_name
      type: varchar
      length: 72
  sample_data:
    - {cust_id: 1, cust_name: Acme}
v_cust:
  type: view
  tables:
    cust:
      columns: [cust_id, cust_name]
`

// setup writes a config and a descriptor file and returns their paths.
func setup(t *testing.T) (cfgPath, objPath string) {
	t.Helper()
	t.Setenv("PGHARMONY_SCHEMA", "")
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "pgharmony.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  ssl_mode: disable\nlog:\n  level: error\n"), 0644))
	objPath = filepath.Join(dir, "objects.yaml")
	require.NoError(t, os.WriteFile(objPath, []byte(objectsYAML), 0644))
	return cfgPath, objPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "pgharmony test\n", out)
}

func TestCompileCommand(t *testing.T) {
	cfgPath, objPath := setup(t)

	out, err := run(t, "--config", cfgPath, "--schema", "app", "compile", objPath)
	require.NoError(t, err)

	assert.Contains(t, out, "-- cust\nset search_path = app,pg_catalog;\ncreate table cust(")
	assert.Contains(t, out, "-- v_cust\n")
	assert.Less(t, strings.Index(out, "-- cust\n"), strings.Index(out, "-- v_cust\n"))
}

func TestCompileCommand_WatchRequiresApply(t *testing.T) {
	cfgPath, objPath := setup(t)

	_, err := run(t, "--config", cfgPath, "compile", "--watch", objPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--watch requires --apply")
}

func TestCompileCommand_MissingPath(t *testing.T) {
	cfgPath, _ := setup(t)

	_, err := run(t, "--config", cfgPath, "compile", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.yaml")
}

func TestDropCommand_ReverseOrder(t *testing.T) {
	cfgPath, objPath := setup(t)

	out, err := run(t, "--config", cfgPath, "--schema", "app", "drop", objPath)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "set search_path = app,pg_catalog;\n"))
	assert.Contains(t, out, "drop view if exists v_cust;")
	assert.Contains(t, out, "drop table if exists cust;")
	assert.Less(t, strings.Index(out, "-- v_cust\n"), strings.Index(out, "-- cust\n"), "dependents first")
}

func TestSeedCommand(t *testing.T) {
	cfgPath, objPath := setup(t)

	out, err := run(t, "--config", cfgPath, "seed", "--set", "sample_data", objPath)
	require.NoError(t, err)
	assert.Contains(t, out, "insert into cust(cust_id,cust_name) select 1,'Acme' where not exists (select * from cust where cust_id=1);")
	assert.NotContains(t, out, "-- v_cust", "objects without rows are skipped")

	out, err = run(t, "--config", cfgPath, "seed", objPath)
	require.NoError(t, err)
	assert.Empty(t, out, "no init_data rows")
}

func TestSeedCommand_UnknownSet(t *testing.T) {
	cfgPath, objPath := setup(t)

	_, err := run(t, "--config", cfgPath, "seed", "--set", "demo", objPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown seed set "demo"`)
}

func TestSchemaCommand(t *testing.T) {
	cfgPath, _ := setup(t)

	out, err := run(t, "--config", cfgPath, "--schema", "app", "schema", "init")
	require.NoError(t, err)
	assert.Equal(t, "-- app\ncreate schema app;\n\n", out)

	out, err = run(t, "--config", cfgPath, "--schema", "app", "schema", "drop")
	require.NoError(t, err)
	assert.Contains(t, out, "drop schema if exists app;")

	_, err = run(t, "--config", cfgPath, "schema", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no module schema configured")
}

func TestRootCommand_BadConfig(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "compile", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")
}

func TestParseTableRef(t *testing.T) {
	assert.Equal(t, &datasource.TableRef{Schema: "app", Name: "cust"}, parseTableRef("app.cust"))
	assert.Equal(t, &datasource.TableRef{Name: "cust"}, parseTableRef("cust"))
}

type fakeCatalog struct {
	tables  []datasource.TableMetadata
	columns []datasource.ColumnMetadata
	fks     []datasource.ForeignKeyMetadata
	colMsgs []string
	err     error
}

func (f *fakeCatalog) DiscoverTables(context.Context, *datasource.TableRef) ([]datasource.TableMetadata, []string, error) {
	return f.tables, nil, f.err
}

func (f *fakeCatalog) DiscoverColumns(context.Context, *datasource.TableRef) ([]datasource.ColumnMetadata, []string, error) {
	return f.columns, f.colMsgs, nil
}

func (f *fakeCatalog) DiscoverForeignKeys(context.Context, *datasource.TableRef) ([]datasource.ForeignKeyMetadata, []string, error) {
	return f.fks, nil, nil
}

func newFakeCatalog() *fakeCatalog {
	def := "nextval('cust_cust_id_seq'::regclass)"
	return &fakeCatalog{
		tables: []datasource.TableMetadata{
			{SchemaName: "app", TableName: "cust", TableType: "table", ModelName: "app.cust", Description: "Customers"},
		},
		columns: []datasource.ColumnMetadata{
			{SchemaName: "app", TableName: "cust", ColumnName: "cust_id", DataType: "bigint", IsPrimaryKey: true, DefaultValue: &def},
			{SchemaName: "app", TableName: "cust", ColumnName: "cust_sts", DataType: "varchar", IsNullable: true},
		},
		fks: []datasource.ForeignKeyMetadata{
			{ConstraintName: "fk_cust_sts", SourceSchema: "app", SourceTable: "cust", SourceColumn: "cust_sts",
				TargetSchema: "app", TargetTable: "code_sts", TargetColumn: "code_val"},
		},
		colMsgs: []string{"WARNING - Skipping Column: app.cust.cust_geo (geometry)"},
	}
}

func TestDiscoverAndRender(t *testing.T) {
	cmd := NewRootCmd("test")
	cmd.SetContext(context.Background())

	report, err := discover(cmd, newFakeCatalog(), nil, true, true)
	require.NoError(t, err)
	assert.Len(t, report.Tables, 1)
	assert.Len(t, report.Columns, 2)
	assert.Len(t, report.ForeignKeys, 1)
	assert.Equal(t, []string{"WARNING - Skipping Column: app.cust.cust_geo (geometry)"}, report.Messages)

	var out bytes.Buffer
	require.NoError(t, renderCatalog(&out, report))
	text := out.String()
	assert.Contains(t, text, "app.cust")
	assert.Contains(t, text, "Customers")
	assert.Contains(t, text, "nextval('cust_cust_id_seq'::regclass)")
	assert.Contains(t, text, "app.cust.cust_sts")
	assert.Contains(t, text, "app.code_sts.code_val")
}

func TestDiscover_SkipsUnrequested(t *testing.T) {
	cmd := NewRootCmd("test")
	cmd.SetContext(context.Background())

	report, err := discover(cmd, newFakeCatalog(), &datasource.TableRef{Name: "cust"}, false, false)
	require.NoError(t, err)
	assert.Len(t, report.Tables, 1)
	assert.Empty(t, report.Columns)
	assert.Empty(t, report.ForeignKeys)
	assert.Empty(t, report.Messages)
}

func TestDiscover_Error(t *testing.T) {
	cmd := NewRootCmd("test")
	cmd.SetContext(context.Background())
	fake := newFakeCatalog()
	fake.err = errors.New("connection refused")

	_, err := discover(cmd, fake, nil, true, false)
	assert.EqualError(t, err, "connection refused")
}

func TestRenderCatalog_Empty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, renderCatalog(&out, &catalogReport{}))
	assert.Equal(t, "(0 tables)\n", out.String())
}

func TestAppDriver_LogsPoolStatsOnClose(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	a := &app{cfg: &config.Config{}, logger: zap.New(core)}

	driver, closeDriver := a.driver()
	require.NotNil(t, driver)
	closeDriver()

	logs := recorded.FilterMessage("Closing connection pools").All()
	require.Len(t, logs, 1)
	assert.Equal(t, int64(0), logs[0].ContextMap()["pools"])
}
