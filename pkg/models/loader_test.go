package models

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/dbtypes"
)

const custYAML = `
cust:
  type: table
  caption: [Customer, Customers]
  columns:
    - name: cust_id
      type: bigint
      key: true
      identity: true
    - name: cust_name
      type: varchar
      length: 72
      unique: true
    - name: cust_sts
      type: varchar
      length: 8
      default: ACTIVE
      foreignkey:
        code_sts: {column: code_val, on_delete: cascade}
    - name: cust_etstmp
      type: datetime
      precision: 7
      default: {sql: now()}
      actions: [prevent_update]
    - name: cust_balance
      type: decimal
      precision: [10, 2]
      null: true
      default: null
  unique: [[cust_name, cust_sts]]
  index: [{columns: [cust_sts]}]
  triggers:
    - on: [validate_insert, validate_update]
      exec:
        - errorif(cust_name is null, 'Name required')
        - [ "update cust", "set cust_sts='A'", "where %%%ROWKEY%%%" ]
  init:
    - {cust_name: Acme, cust_sts: ACTIVE}
    - {sql: "update cust set cust_sts='ACTIVE'"}
v_cust:
  type: view
  tables:
    cust:
      columns: [cust_id, cust_name, {name: upper_name, sqlselect: upper(cust_name), type: varchar, length: 72}]
    code_sts:
      join_type: left
      join_columns: {cust.cust_sts: code_sts.code_val}
      columns: [code_txt]
  where: cust.cust_id > 0
`

func TestParseObjects_Mapping(t *testing.T) {
	objs, err := ParseObjects([]byte(custYAML))
	require.NoError(t, err)
	require.Len(t, objs, 2)

	cust := objs[0]
	assert.Equal(t, "cust", cust.Name)
	assert.Equal(t, KindTable, cust.Kind)
	assert.Equal(t, "Customers", cust.Caption.Plural())
	require.Len(t, cust.Columns, 5)

	id := cust.Columns[0]
	assert.True(t, id.Key)
	assert.True(t, id.Identity)
	assert.Equal(t, dbtypes.BigInt{}, id.Type)

	assert.Equal(t, dbtypes.VarChar{Length: 72}, cust.Columns[1].Type)
	assert.True(t, cust.Columns[1].Unique)

	sts := cust.Columns[2]
	require.NotNil(t, sts.Default)
	assert.Equal(t, "ACTIVE", sts.Default.Value)
	require.NotNil(t, sts.ForeignKey)
	assert.Equal(t, ForeignKeyRef{Table: "code_sts", Column: "code_val", OnDelete: "cascade"}, *sts.ForeignKey)

	ts := cust.Columns[3]
	assert.Equal(t, dbtypes.DateTime{Precision: 7}, ts.Type)
	assert.True(t, ts.Default.IsSQL())
	assert.Equal(t, "now()", ts.Default.SQL)
	assert.True(t, ts.HasAction(ActionPreventUpdate))

	bal := cust.Columns[4]
	assert.Equal(t, dbtypes.Decimal{Precision: 10, Scale: 2}, bal.Type)
	require.NotNil(t, bal.Default, "explicit null default is kept")
	assert.Nil(t, bal.Default.Value)

	assert.Equal(t, [][]string{{"cust_name", "cust_sts"}}, cust.Unique)
	assert.Equal(t, []IndexDescriptor{{Columns: []string{"cust_sts"}}}, cust.Indexes)

	require.Len(t, cust.Triggers, 1)
	assert.True(t, cust.Triggers[0].Fires("validate_update"))
	assert.False(t, cust.Triggers[0].Fires("delete"))
	assert.Equal(t, ExecList{
		"errorif(cust_name is null, 'Name required')",
		"update cust set cust_sts='A' where %%%ROWKEY%%%",
	}, cust.Triggers[0].Exec)

	require.Len(t, cust.Init, 2)
	keys := []string{}
	for pair := cust.Init[0].Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	assert.Equal(t, []string{"cust_name", "cust_sts"}, keys)

	view := objs[1]
	assert.Equal(t, KindView, view.Kind)
	require.Len(t, view.Tables, 2)
	assert.Equal(t, "cust", view.Tables[0].Name)
	require.Len(t, view.Tables[0].Columns, 3)
	assert.Equal(t, ViewColumn{Name: "upper_name", SQLSelect: "upper(cust_name)", Type: dbtypes.VarChar{Length: 72}}, view.Tables[0].Columns[2])
	assert.Equal(t, "left", view.Tables[1].JoinType)
	assert.Equal(t, []JoinPair{{Left: "cust.cust_sts", Right: "code_sts.code_val"}}, view.Tables[1].JoinColumns)
	assert.Equal(t, MultiLine("cust.cust_id > 0"), view.Where)
}

func TestParseObjects_SingleAndList(t *testing.T) {
	objs, err := ParseObjects([]byte("type: code\nname: app.code_sts\ncaption: Status\n"))
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "app.code_sts", objs[0].Name)
	assert.Equal(t, CodeTypeSys, objs[0].CodeRegistryType())

	objs, err = ParseObjects([]byte("- {type: code2, name: c1, code_type: app}\n- {type: view, name: v1}\n"))
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, CodeTypeApp, objs[0].CodeRegistryType())
}

func TestParseObjects_Errors(t *testing.T) {
	_, err := ParseObjects([]byte("t:\n  type: table\n  columns: [{name: geo, type: geometry}]\n"))
	require.Error(t, err)
	var cfgErr *apperrors.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
	assert.ErrorContains(t, err, "datatype not supported")

	_, err = ParseObjects([]byte("t:\n  type: table\n  columns: [{name: a, type: int, foreignkey: {x: id, y: id}}]\n"))
	assert.ErrorIs(t, err, apperrors.ErrDuplicateForeignKey)

	_, err = ParseObjects([]byte("t:\n  type: procedure\n"))
	assert.ErrorContains(t, err, "unsupported type")
}

func TestParseObjects_SeedFiles(t *testing.T) {
	objs, err := ParseObjects([]byte(`
cust:
  type: table
  init:
    - cust_id: 1
      _FILES: {b.png: "img/{{cust_id}}_b.png", a.png: img/a.png}
`))
	require.NoError(t, err)
	require.Len(t, objs[0].Init, 1)

	v, ok := objs[0].Init[0].Get(FilesKey)
	require.True(t, ok)
	files, ok := v.(*FileAttachments)
	require.True(t, ok)

	var got []string
	for pair := files.Oldest(); pair != nil; pair = pair.Next() {
		got = append(got, pair.Key+">"+pair.Value)
	}
	assert.Equal(t, []string{"b.png>img/{{cust_id}}_b.png", "a.png>img/a.png"}, got)

	_, err = ParseObjects([]byte("cust:\n  type: table\n  init:\n    - _FILES: [a.png]\n"))
	assert.ErrorContains(t, err, FilesKey)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("type: view\nname: v_b\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte("type: table\nname: t_a\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	objs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "t_a", objs[0].Name)
	assert.Equal(t, "v_b", objs[1].Name)
	assert.Equal(t, filepath.Join(dir, "a.yml"), objs[0].Path)
}

func TestCaption(t *testing.T) {
	assert.Equal(t, "", Caption(nil).Plural())
	assert.Equal(t, "Item", Caption{"Item"}.Plural())
	assert.Equal(t, "Items", Caption{"Item", "Items"}.Plural())
	assert.Equal(t, "Items", Caption{"", "Item", "Items"}.Plural())
}

func TestModule_RegistryTable(t *testing.T) {
	var m *Module
	assert.Equal(t, "code_sys", m.RegistryTable(KindCode, CodeTypeSys))
	assert.Equal(t, "", m.FactoryPrefix())

	m = &Module{FactorySchema: "jsharmony", Map: map[string]string{"code2_app": "ucod2_h"}}
	assert.Equal(t, "ucod2_h", m.RegistryTable(KindCode2, CodeTypeApp))
	assert.Equal(t, "code_app", m.RegistryTable(KindCode, CodeTypeApp))
	assert.Equal(t, "jsharmony.", m.FactoryPrefix())
}
