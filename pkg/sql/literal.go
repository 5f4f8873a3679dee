package sql

import (
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/dbtypes"
)

// NullLiteral is the literal emitted for absent or unparseable values.
const NullLiteral = "NULL"

// leadingIntRegex matches the integer prefix of a string, the way a lenient
// integer parse reads "12abc" as 12.
var leadingIntRegex = regexp.MustCompile(`^\s*([+-]?\d+)`)

// Encoder formats typed values as PostgreSQL literals. Location is the zone
// used to render temporal values that carry no UTC offset.
type Encoder struct {
	Location *time.Location
}

// NewEncoder returns an Encoder rendering times in loc (time.Local if nil).
func NewEncoder(loc *time.Location) *Encoder {
	if loc == nil {
		loc = time.Local
	}
	return &Encoder{Location: loc}
}

var defaultEncoder = NewEncoder(time.Local)

// Encode formats value as a literal of the given type using the local zone.
func Encode(t dbtypes.LogicalType, value any) (string, error) {
	return defaultEncoder.Encode(t, value)
}

// Escape makes s safe to place between single quotes. The server runs with
// standard_conforming_strings, so only quotes need doubling; NUL bytes are
// not representable in text and are dropped.
func Escape(s string) string {
	if !strings.ContainsAny(s, "'\x00") {
		return s
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.ReplaceAll(s, "'", "''")
}

// Quote returns s escaped and wrapped in single quotes.
func Quote(s string) string {
	return "'" + Escape(s) + "'"
}

// Encode formats value as a literal of type t. Values that cannot be
// interpreted as t encode as NULL; only an unknown type is an error.
func (e *Encoder) Encode(t dbtypes.LogicalType, value any) (string, error) {
	if t == nil {
		return "", apperrors.Configf("", apperrors.ErrUnsupportedType, "cannot encode value without a logical type")
	}
	if value == nil {
		return NullLiteral, nil
	}

	switch v := t.(type) {
	case dbtypes.VarChar:
		return encodeText(value, v.Length), nil
	case dbtypes.Char:
		return encodeText(value, v.Length), nil
	case dbtypes.VarBinary:
		return encodeBinary(value), nil
	case dbtypes.BigInt, dbtypes.Int, dbtypes.SmallInt, dbtypes.TinyInt:
		return encodeInteger(value), nil
	case dbtypes.Boolean:
		return encodeBoolean(value), nil
	case dbtypes.Decimal:
		return encodeDecimal(value, v), nil
	case dbtypes.Float:
		return encodeFloat(value, v), nil
	case dbtypes.Date, dbtypes.Time, dbtypes.DateTime:
		return e.encodeTemporal(t, value), nil
	}
	return "", apperrors.Configf("", apperrors.ErrUnsupportedType, "invalid logical type: %s", t.Name())
}

func encodeText(value any, length int) string {
	s := toString(value)
	if length != dbtypes.MAX && length >= 0 {
		if r := []rune(s); len(r) > length {
			s = string(r[:length])
		}
	}
	return Quote(s) + "::text"
}

func encodeBinary(value any) string {
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	default:
		b = []byte(toString(v))
	}
	if len(b) == 0 {
		return NullLiteral
	}
	return `'\x` + strings.ToUpper(hex.EncodeToString(b)) + `'::bytea`
}

// encodeInteger emits the exact integer text of value, truncating
// fractions. Range checking against the column type is left to the server,
// so out-of-range values fail instead of wrapping.
func encodeInteger(value any) string {
	switch v := value.(type) {
	case string:
		m := leadingIntRegex.FindStringSubmatch(v)
		if m == nil {
			return NullLiteral
		}
		d, err := decimal.NewFromString(m[1])
		if err != nil {
			return NullLiteral
		}
		return d.String()
	case bool:
		return NullLiteral
	case float32:
		return encodeInteger(float64(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NullLiteral
		}
		return decimal.NewFromFloat(v).Truncate(0).String()
	case decimal.Decimal:
		return v.Truncate(0).String()
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	}
	n, err := cast.ToInt64E(value)
	if err != nil {
		return NullLiteral
	}
	return strconv.FormatInt(n, 10)
}

func encodeBoolean(value any) string {
	switch v := value.(type) {
	case bool:
		if v {
			return "'true'"
		}
		return "'false'"
	case string:
		if v == "" {
			return NullLiteral
		}
	}
	return Quote(toString(value))
}

func encodeDecimal(value any, t dbtypes.Decimal) string {
	s, ok := numericText(value)
	if !ok {
		return NullLiteral
	}
	if _, err := decimal.NewFromString(s); err != nil {
		return NullLiteral
	}
	suffix := "::numeric"
	if t.Precision > 0 {
		suffix = fmt.Sprintf("::numeric(%d,%d)", t.Precision, t.Scale)
	}
	return Quote(s) + suffix
}

func encodeFloat(value any, t dbtypes.Float) string {
	s, ok := numericText(value)
	if !ok {
		return NullLiteral
	}
	f, err := cast.ToFloat64E(s)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return NullLiteral
	}
	suffix := "::float"
	if t.Bits > 0 {
		suffix = fmt.Sprintf("::float(%d)", t.Bits)
	}
	return Quote(s) + suffix
}

// numericText returns the textual form of a numeric value. NaN and
// infinite floats are rejected; callers reject their string spellings.
func numericText(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		return s, s != ""
	case bool:
		return "", false
	case float32:
		return numericText(float64(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", false
		}
	case decimal.Decimal:
		return v.String(), true
	}
	s, err := cast.ToStringE(value)
	if err != nil || s == "" {
		return "", false
	}
	return s, true
}

func (e *Encoder) encodeTemporal(t dbtypes.LogicalType, value any) string {
	var (
		tm     time.Time
		offset *int
		micros *float64
		ok     bool
	)

	switch v := value.(type) {
	case dbtypes.DateValue:
		tm, offset, micros, ok = v.Time, v.UTCOffset, v.Microseconds, true
	case *dbtypes.DateValue:
		if v == nil {
			return NullLiteral
		}
		tm, offset, micros, ok = v.Time, v.UTCOffset, v.Microseconds, true
	default:
		tm, ok = e.toTime(value)
	}
	if !ok || tm.IsZero() {
		return NullLiteral
	}

	suffix := ""
	if offset != nil {
		// The instant is UTC; render the wall clock of the opposite offset
		// and label it with the matching zone.
		sign := "-"
		mag := *offset
		if mag < 0 {
			sign = "+"
			mag = -mag
		}
		suffix = fmt.Sprintf(" %s%02d:%02d", sign, (mag/60)%24, mag%60)
		tm = tm.UTC().Add(time.Duration(-*offset) * time.Minute)
	} else {
		tm = tm.In(e.Location)
	}

	if micros != nil {
		residue := fmt.Sprintf("000%d", int64(math.Round(math.Abs(*micros))))
		residue = strings.TrimRight(residue[len(residue)-3:], "0")
		suffix = residue + suffix
	}

	switch t.(type) {
	case dbtypes.Date:
		return "'" + tm.Format("2006-01-02") + "'"
	case dbtypes.Time:
		return "'1970-01-01 " + tm.Format("15:04:05.000") + suffix + "'"
	default:
		return "'" + tm.Format("2006-01-02 15:04:05.000") + suffix + "'"
	}
}

// toTime interprets strings with the usual date layouts and numbers as
// epoch milliseconds.
func (e *Encoder) toTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		tm, err := cast.ToTimeInDefaultLocationE(s, e.Location)
		if err != nil {
			return time.Time{}, false
		}
		return tm, true
	case float32:
		return e.toTime(float64(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(v)), true
	case bool:
		return time.Time{}, false
	}
	ms, err := cast.ToInt64E(value)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return s
}
