// Package dbtypes defines the closed set of logical types used to format
// parameter literals and column definitions.
package dbtypes

import (
	"fmt"
	"time"
)

// MAX marks an unbounded character or binary length.
const MAX = -1

// LogicalType is the engine-agnostic description of how a value is cast in
// generated SQL. The set of implementations is closed: only the types in this
// package satisfy it.
type LogicalType interface {
	// Name returns the variant name, e.g. "VarChar".
	Name() string
	logicalType()
}

type (
	VarChar   struct{ Length int }
	Char      struct{ Length int }
	VarBinary struct{ Length int }
	BigInt    struct{}
	Int       struct{}
	SmallInt  struct{}
	TinyInt   struct{}
	Boolean   struct{}
	Decimal   struct{ Precision, Scale int }
	Float     struct{ Bits int }
	Date      struct{}
	Time      struct{ Precision int }
	DateTime  struct{ Precision int }
)

func (VarChar) Name() string   { return "VarChar" }
func (Char) Name() string      { return "Char" }
func (VarBinary) Name() string { return "VarBinary" }
func (BigInt) Name() string    { return "BigInt" }
func (Int) Name() string       { return "Int" }
func (SmallInt) Name() string  { return "SmallInt" }
func (TinyInt) Name() string   { return "TinyInt" }
func (Boolean) Name() string   { return "Boolean" }
func (Decimal) Name() string   { return "Decimal" }
func (Float) Name() string     { return "Float" }
func (Date) Name() string      { return "Date" }
func (Time) Name() string      { return "Time" }
func (DateTime) Name() string  { return "DateTime" }

func (VarChar) logicalType()   {}
func (Char) logicalType()      {}
func (VarBinary) logicalType() {}
func (BigInt) logicalType()    {}
func (Int) logicalType()       {}
func (SmallInt) logicalType()  {}
func (TinyInt) logicalType()   {}
func (Boolean) logicalType()   {}
func (Decimal) logicalType()   {}
func (Float) logicalType()     {}
func (Date) logicalType()      {}
func (Time) logicalType()      {}
func (DateTime) logicalType()  {}

// DateValue is a temporal parameter carrying out-of-band metadata.
// UTCOffset is in minutes; when set, Time is interpreted as UTC and the
// literal is shifted and suffixed with the zone. Microseconds is the
// sub-millisecond residue appended after the millisecond digits.
type DateValue struct {
	Time         time.Time
	UTCOffset    *int
	Microseconds *float64
}

// TypedValue pairs a logical type with a raw value.
type TypedValue struct {
	Type  LogicalType
	Value any
}

// ColumnType returns the PostgreSQL column type for t. Identity integer
// columns map to the serial family.
func ColumnType(t LogicalType, identity bool) (string, error) {
	switch v := t.(type) {
	case VarChar:
		if v.Length > 0 {
			return fmt.Sprintf("varchar(%d)", v.Length), nil
		}
		return "text", nil
	case Char:
		if v.Length > 0 {
			return fmt.Sprintf("char(%d)", v.Length), nil
		}
		return "char", nil
	case VarBinary:
		return "bytea", nil
	case BigInt:
		if identity {
			return "bigserial", nil
		}
		return "bigint", nil
	case Int:
		if identity {
			return "serial", nil
		}
		return "int", nil
	case SmallInt:
		if identity {
			return "smallserial", nil
		}
		return "smallint", nil
	case TinyInt:
		return "smallint", nil
	case Boolean:
		return "boolean", nil
	case Decimal:
		if v.Precision > 0 {
			return fmt.Sprintf("decimal(%d,%d)", v.Precision, v.Scale), nil
		}
		return "decimal", nil
	case Float:
		if v.Bits > 0 {
			return fmt.Sprintf("float(%d)", v.Bits), nil
		}
		return "real", nil
	case Date:
		return "date", nil
	case Time:
		return "time" + precision(v.Precision), nil
	case DateTime:
		return "timestamp" + precision(v.Precision), nil
	}
	return "", fmt.Errorf("logical type %v has no column type", t)
}

func precision(p int) string {
	if p <= 0 {
		return ""
	}
	// PostgreSQL caps fractional seconds at 6 digits.
	return fmt.Sprintf("(%d)", min(p, 6))
}

// Parse builds a LogicalType from the descriptor vocabulary used in model
// files: varchar, char, binary, bigint, int, smallint, tinyint, boolean,
// decimal, float, date, time, datetime.
func Parse(name string, length *int, prec []int) (LogicalType, error) {
	l := MAX
	if length != nil && *length >= 0 {
		l = *length
	}
	p := func(i int) int {
		if i < len(prec) {
			return prec[i]
		}
		return 0
	}
	switch name {
	case "varchar":
		return VarChar{Length: l}, nil
	case "char":
		return Char{Length: l}, nil
	case "binary", "varbinary":
		return VarBinary{Length: l}, nil
	case "bigint":
		return BigInt{}, nil
	case "int":
		return Int{}, nil
	case "smallint":
		return SmallInt{}, nil
	case "tinyint":
		return TinyInt{}, nil
	case "boolean":
		return Boolean{}, nil
	case "decimal":
		return Decimal{Precision: p(0), Scale: p(1)}, nil
	case "float":
		return Float{Bits: p(0)}, nil
	case "date":
		return Date{}, nil
	case "time":
		return Time{Precision: p(0)}, nil
	case "datetime":
		return DateTime{Precision: p(0)}, nil
	case "":
		return nil, fmt.Errorf("missing type")
	}
	return nil, fmt.Errorf("datatype not supported: %s", name)
}
