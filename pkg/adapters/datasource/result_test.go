package datasource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(pairs ...any) *Row {
	r := NewRow()
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Set(pairs[i].(string), pairs[i+1])
	}
	return r
}

func testSets() []ResultSet {
	return []ResultSet{
		{Columns: []ColumnInfo{{Name: "a", OID: 23}}, Rows: []*Row{row("a", int64(1)), row("a", int64(2))}},
		{Columns: []ColumnInfo{{Name: "n", OID: 20}}, Rows: []*Row{row("n", int64(7))}},
	}
}

func TestShape(t *testing.T) {
	t.Run("row", func(t *testing.T) {
		env := Shape(ReturnRow, testSets())
		require.NotNil(t, env.Row)
		v, _ := env.Row.Get("a")
		assert.Equal(t, int64(1), v)
		assert.Nil(t, env.Recordset)
	})

	t.Run("row without rows", func(t *testing.T) {
		env := Shape(ReturnRow, []ResultSet{{Columns: []ColumnInfo{{Name: "a"}}}})
		assert.Nil(t, env.Row)
	})

	t.Run("recordset", func(t *testing.T) {
		env := Shape(ReturnRecordset, testSets())
		assert.Len(t, env.Recordset, 2)
		assert.Equal(t, []ColumnInfo{{Name: "a", OID: 23}}, env.Columns)
	})

	t.Run("recordset with no statements is empty", func(t *testing.T) {
		env := Shape(ReturnRecordset, nil)
		assert.NotNil(t, env.Recordset)
		assert.Empty(t, env.Recordset)
	})

	t.Run("multirecordset", func(t *testing.T) {
		env := Shape(ReturnMultiRecordset, testSets())
		require.Len(t, env.Recordsets, 2)
		assert.Len(t, env.Recordsets[0], 2)
		assert.Len(t, env.Recordsets[1], 1)
	})

	t.Run("scalar", func(t *testing.T) {
		env := Shape(ReturnScalar, testSets())
		assert.Equal(t, int64(1), env.Scalar)
		assert.Nil(t, env.Row)
	})

	t.Run("command", func(t *testing.T) {
		env := Shape(ReturnCommand, testSets())
		assert.Nil(t, env.Row)
		assert.Nil(t, env.Recordset)
		assert.Nil(t, env.Scalar)
	})
}

func TestReturnMode_Valid(t *testing.T) {
	assert.True(t, ReturnMultiRecordset.Valid())
	assert.False(t, ReturnMode("table").Valid())
}
