package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/dbtypes"
)

func ptr(n int) *int { return &n }

func TestMapColumnType(t *testing.T) {
	tests := []struct {
		typeName  string
		length    *int
		precision *int
		scale     *int
		wantName  string
		wantType  dbtypes.LogicalType
	}{
		{"character varying", ptr(72), nil, nil, "varchar", dbtypes.VarChar{Length: 72}},
		{"character varying", nil, nil, nil, "varchar", dbtypes.VarChar{Length: dbtypes.MAX}},
		{"character", ptr(1), nil, nil, "char", dbtypes.Char{Length: 1}},
		{"text", nil, nil, nil, "varchar", dbtypes.VarChar{Length: dbtypes.MAX}},
		{"integer", nil, ptr(32), ptr(0), "int", dbtypes.Int{}},
		{"numeric", nil, ptr(10), ptr(2), "decimal", dbtypes.Decimal{Precision: 10, Scale: 2}},
		{"double precision", nil, ptr(53), nil, "double precision", dbtypes.Float{Bits: 53}},
		{"timestamp with time zone", nil, ptr(3), nil, "timestamptz", dbtypes.DateTime{Precision: 3}},
		{"time without time zone", nil, ptr(6), nil, "time", dbtypes.Time{Precision: 6}},
		{"date", nil, ptr(0), nil, "date", dbtypes.Date{}},
		{"uuid", nil, nil, nil, "uuid", nil},
		{"jsonb", nil, nil, nil, "jsonb", nil},
	}

	for _, tt := range tests {
		t.Run(tt.typeName+"/"+tt.wantName, func(t *testing.T) {
			name, lt, ok := mapColumnType(tt.typeName, tt.length, tt.precision, tt.scale)
			assert.True(t, ok)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantType, lt)
		})
	}
}

func TestMapColumnType_Unsupported(t *testing.T) {
	_, _, ok := mapColumnType("int4range", nil, nil, nil)
	assert.False(t, ok)
}
