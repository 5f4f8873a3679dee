package sql

import (
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/dbtypes"
)

// Params maps placeholder names to raw values. Insertion order matters: the
// i-th inserted parameter is encoded with the i-th entry of Statement.Types.
type Params = orderedmap.OrderedMap[string, any]

// Param is a single name/value pair used to build Params.
type Param struct {
	Name  string
	Value any
}

// NewParams builds Params from pairs, keeping their order.
func NewParams(pairs ...Param) *Params {
	p := orderedmap.New[string, any](len(pairs))
	for _, pair := range pairs {
		p.Set(pair.Name, pair.Value)
	}
	return p
}

// Statement is caller SQL plus everything needed to make it executable.
//
// Example:
//
//	stmt := sql.Statement{
//	    Context: "S1",
//	    SQL:     "select * from cust where cust_id = @cust_id",
//	    Types:   []dbtypes.LogicalType{dbtypes.BigInt{}},
//	    Params:  sql.NewParams(sql.Param{Name: "cust_id", Value: 42}),
//	}
//	text, _ := sql.Assemble(stmt)
//	// text == "set sessionvars.last_trigger_source to '';set sessionvars.appuser to 'S1';" +
//	//         "select * from cust where cust_id = 42"
type Statement struct {
	// Context identifies the acting user for audit and trigger logic.
	Context string
	// PreSQL is prepended to SQL before substitution.
	PreSQL string
	SQL    string
	Types  []dbtypes.LogicalType
	Params *Params
}

// Session variables shared with the generated trigger functions.
const (
	SessionVarAppUser           = "sessionvars.appuser"
	SessionVarLastTriggerSource = "sessionvars.last_trigger_source"
)

// ContextSQL returns the session prefix for a statement: a reset of the
// trigger re-entrancy marker and the acting user. An empty context clears
// the user left on a pooled connection by an earlier statement.
func ContextSQL(context string) string {
	return "set " + SessionVarLastTriggerSource + " to '';" +
		"set " + SessionVarAppUser + " to " + Quote(context) + ";"
}

// Assembler substitutes parameter literals into statements.
type Assembler struct {
	Encoder *Encoder
}

// NewAssembler returns an Assembler using enc (the local-zone encoder if nil).
func NewAssembler(enc *Encoder) *Assembler {
	if enc == nil {
		enc = defaultEncoder
	}
	return &Assembler{Encoder: enc}
}

var defaultAssembler = NewAssembler(nil)

// Assemble builds the final SQL text for stmt with the default assembler.
func Assemble(stmt Statement) (string, error) {
	return defaultAssembler.Assemble(stmt)
}

// Assemble builds the final SQL text for stmt. Parameters are written into the
// text as literals, never bound, so every literal carries its own cast.
func (a *Assembler) Assemble(stmt Statement) (string, error) {
	body := stmt.PreSQL + stmt.SQL

	literals, err := a.encodeParams(stmt)
	if err != nil {
		return "", err
	}
	if len(literals) > 0 {
		body = substitute(body, literals)
	}

	return ContextSQL(stmt.Context) + body, nil
}

func (a *Assembler) encodeParams(stmt Statement) (map[string]string, error) {
	if stmt.Params == nil || stmt.Params.Len() == 0 {
		return nil, nil
	}

	literals := make(map[string]string, stmt.Params.Len())
	i := 0
	for pair := stmt.Params.Oldest(); pair != nil; pair = pair.Next() {
		if i >= len(stmt.Types) || stmt.Types[i] == nil {
			return nil, apperrors.Configf(pair.Key, apperrors.ErrUnsupportedType, "missing logical type for parameter @%s", pair.Key)
		}
		value := pair.Value
		if s, ok := value.(string); ok && s == "" {
			value = nil
		}
		lit, err := a.Encoder.Encode(stmt.Types[i], value)
		if err != nil {
			return nil, err
		}
		literals[pair.Key] = lit
		i++
	}
	return literals, nil
}

// substitute replaces every @name placeholder in a single left-to-right pass.
// At each '@' the longest matching parameter name wins, and a name only
// matches when it is not followed by another identifier character, so @id
// never rewrites part of @id_list. Inserted literals are not rescanned.
func substitute(text string, literals map[string]string) string {
	names := make([]string, 0, len(literals))
	for name := range literals {
		names = append(names, name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	var sb strings.Builder
	sb.Grow(len(text))
	for i := 0; i < len(text); {
		if text[i] != '@' {
			sb.WriteByte(text[i])
			i++
			continue
		}
		rest := text[i+1:]
		matched := false
		for _, name := range names {
			if !strings.HasPrefix(rest, name) {
				continue
			}
			if len(rest) > len(name) && isIdentByte(rest[len(name)]) {
				continue
			}
			sb.WriteString(literals[name])
			i += 1 + len(name)
			matched = true
			break
		}
		if !matched {
			sb.WriteByte('@')
			i++
		}
	}
	return sb.String()
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
