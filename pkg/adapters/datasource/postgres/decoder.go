package postgres

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// DecodeFunc converts one text-format column value. src is never nil.
type DecodeFunc func(src []byte) (any, error)

const timetzOID uint32 = 1266

// Time-of-day values with no zone of their own are read as UTC wall clock.
var timeLayouts = []string{
	"15:04:05Z07:00:00",
	"15:04:05Z07:00",
	"15:04:05Z07",
	"15:04:05",
}

// DecoderTable maps type OIDs to decoders for text-format results. It is
// built once and shared by reference; Register calls must happen before the
// table is handed to a Driver. Types without an entry fall back to pgx's
// codecs, then to the raw string. Codec results are widened to int64 and
// float64, and infinite dates and timestamps come back as their text.
type DecoderTable struct {
	decoders map[uint32]DecodeFunc

	mu    sync.Mutex // guards types, whose codecs memoize plans
	types *pgtype.Map
}

// NewDecoderTable returns a table overriding pgx for booleans (every input
// spelling), numerics (exact decimals), text and time-of-day values (pinned
// to 1970-01-01).
func NewDecoderTable() *DecoderTable {
	t := &DecoderTable{
		decoders: make(map[uint32]DecodeFunc),
		types:    pgtype.NewMap(),
	}

	t.Register(pgtype.BoolOID, decodeBool)
	t.Register(pgtype.NumericOID, decodeNumeric)
	for _, oid := range []uint32{pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID, pgtype.NameOID} {
		t.Register(oid, decodeText)
	}
	t.Register(pgtype.TimeOID, decodeTime)
	t.Register(timetzOID, decodeTime)
	return t
}

// Register sets the decoder for oid, replacing any previous one.
func (t *DecoderTable) Register(oid uint32, fn DecodeFunc) {
	t.decoders[oid] = fn
}

// Decode converts a text-format value of type oid. A nil src is SQL NULL.
func (t *DecoderTable) Decode(oid uint32, src []byte) (any, error) {
	if src == nil {
		return nil, nil
	}
	if fn, ok := t.decoders[oid]; ok {
		return fn(src)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if typ, ok := t.types.TypeForOID(oid); ok {
		v, err := typ.Codec.DecodeValue(t.types, oid, pgtype.TextFormatCode, src)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", typ.Name, src, err)
		}
		return widen(v), nil
	}
	return string(src), nil
}

func widen(v any) any {
	switch n := v.(type) {
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint32:
		return int64(n)
	case float32:
		return float64(n)
	case pgtype.InfinityModifier:
		return n.String()
	}
	return v
}

func decodeText(src []byte) (any, error) {
	return string(src), nil
}

// decodeBool accepts the spellings PostgreSQL accepts on input as well as
// its own "t"/"f" output. An empty value is NULL.
func decodeBool(src []byte) (any, error) {
	switch strings.ToUpper(strings.TrimSpace(string(src))) {
	case "":
		return nil, nil
	case "TRUE", "T", "Y", "YES", "ON", "1":
		return true, nil
	case "FALSE", "F", "N", "NO", "OFF", "0":
		return false, nil
	}
	return nil, fmt.Errorf("invalid boolean value %q", src)
}

// decodeNumeric keeps the exact value. NaN and infinities have no decimal
// form and are returned as their text.
func decodeNumeric(src []byte) (any, error) {
	d, err := decimal.NewFromString(string(src))
	if err != nil {
		return string(src), nil
	}
	return d, nil
}

// decodeTime pins time-of-day values to 1970-01-01.
func decodeTime(src []byte) (any, error) {
	s := string(src)
	for _, layout := range timeLayouts {
		if tm, err := time.Parse(layout, s); err == nil {
			return tm.AddDate(1970, 0, 0), nil
		}
	}
	return s, nil
}
