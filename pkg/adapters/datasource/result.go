package datasource

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/apperrors"
)

// ReturnMode selects how the results of a statement batch are shaped.
type ReturnMode string

const (
	// ReturnRow yields the first row of the first row-returning statement.
	ReturnRow ReturnMode = "row"
	// ReturnRecordset yields every row of the first row-returning statement.
	ReturnRecordset ReturnMode = "recordset"
	// ReturnMultiRecordset yields one row list per row-returning statement.
	ReturnMultiRecordset ReturnMode = "multirecordset"
	// ReturnScalar yields the first column of the first row.
	ReturnScalar ReturnMode = "scalar"
	// ReturnCommand yields no value; only the affected row count.
	ReturnCommand ReturnMode = "command"
)

// Valid reports whether m is a known mode.
func (m ReturnMode) Valid() bool {
	switch m {
	case ReturnRow, ReturnRecordset, ReturnMultiRecordset, ReturnScalar, ReturnCommand:
		return true
	}
	return false
}

// Row is a decoded result row keyed by column name in select-list order.
type Row = orderedmap.OrderedMap[string, any]

// NewRow returns an empty row.
func NewRow() *Row {
	return orderedmap.New[string, any]()
}

// ColumnInfo describes one column of a result set.
type ColumnInfo struct {
	Name string `json:"name"`
	OID  uint32 `json:"oid"`
}

// ResultSet is one row-returning statement's output.
type ResultSet struct {
	Columns []ColumnInfo `json:"columns"`
	Rows    []*Row       `json:"rows"`
}

// ResultEnvelope carries the shaped value of a statement batch together with
// the diagnostics the server raised while it ran. Only the field matching
// Mode is set.
type ResultEnvelope struct {
	Mode         ReturnMode   `json:"mode"`
	Row          *Row         `json:"row,omitempty"`
	Recordset    []*Row       `json:"recordset,omitempty"`
	Recordsets   [][]*Row     `json:"recordsets,omitempty"`
	Scalar       any          `json:"scalar,omitempty"`
	Columns      []ColumnInfo `json:"columns,omitempty"`
	RowsAffected int64        `json:"rows_affected"`

	Notices  []*apperrors.ServerDiagnostic `json:"notices,omitempty"`
	Warnings []*apperrors.ServerDiagnostic `json:"warnings,omitempty"`
}

// Shape builds an envelope for mode from the row-returning result sets of a
// batch. Statements without a row description must already be filtered out.
func Shape(mode ReturnMode, sets []ResultSet) *ResultEnvelope {
	env := &ResultEnvelope{Mode: mode}
	switch mode {
	case ReturnRow:
		if len(sets) > 0 {
			env.Columns = sets[0].Columns
			if len(sets[0].Rows) > 0 {
				env.Row = sets[0].Rows[0]
			}
		}
	case ReturnRecordset:
		env.Recordset = []*Row{}
		if len(sets) > 0 {
			env.Columns = sets[0].Columns
			env.Recordset = sets[0].Rows
		}
	case ReturnMultiRecordset:
		env.Recordsets = make([][]*Row, len(sets))
		for i, s := range sets {
			env.Recordsets[i] = s.Rows
		}
	case ReturnScalar:
		if len(sets) > 0 && len(sets[0].Rows) > 0 {
			if first := sets[0].Rows[0].Oldest(); first != nil {
				env.Scalar = first.Value
			}
		}
	}
	return env
}
