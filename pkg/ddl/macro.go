package ddl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/apperrors"
	pgsql "github.com/ekaya-inc/ekaya-pgsql/pkg/sql"
)

// Template variables resolved after macro expansion.
const (
	varTableName = "%%%TABLENAME%%%"
	varRowKey    = "%%%ROWKEY%%%"
)

// InsertIDPlaceholder is replaced by the captured identity inside the
// statements passed to with_insert_identity.
const InsertIDPlaceholder = "@@INSERT_ID"

// Node is an element of parsed trigger code: literal text or a macro call.
type Node interface {
	node()
}

// Text is SQL copied to the output unchanged.
type Text struct {
	Value string
}

// Call is a macro invocation. Each argument is itself a node sequence, so
// macros nest.
type Call struct {
	Name string
	Args [][]Node
}

func (Text) node() {}
func (Call) node() {}

// Variable is a local declared in a trigger function.
type Variable struct {
	Name string
	Type string
}

// Declarations is the ordered set of variables the expanded code needs.
type Declarations struct {
	vars []Variable
}

// Declare adds v unless a variable with the same name exists.
func (d *Declarations) Declare(v Variable) {
	for _, existing := range d.vars {
		if existing.Name == v.Name {
			return
		}
	}
	d.vars = append(d.vars, v)
}

// Vars returns the declared variables in declaration order.
func (d *Declarations) Vars() []Variable {
	return d.vars
}

// ExpansionContext carries what macros resolve against. A context is scoped
// to one trigger function or one seed statement.
type ExpansionContext struct {
	// TableName is the object the code runs against.
	TableName string
	// RowKey is the predicate selecting the current row, e.g.
	// "app.cust.cust_id=new.cust_id".
	RowKey string
	// Declared collects locals required by macros; may be nil when the
	// caller has nowhere to declare them.
	Declared *Declarations
}

type macro struct {
	minArgs int
	expand  func(ctx *ExpansionContext, args []string) string
}

var macros map[string]macro

func init() {
	macros = map[string]macro{
		"set": {2, func(_ *ExpansionContext, a []string) string {
			return "update " + varTableName + " set " + a[0] + "=" + a[1] + " where " + varRowKey
		}},
		"setif": {3, func(_ *ExpansionContext, a []string) string {
			return "update " + varTableName + " set " + a[1] + "=" + a[2] + " where " + varRowKey + " and (" + a[0] + ")"
		}},
		"update": {1, func(_ *ExpansionContext, a []string) string {
			return "(old." + a[0] + " is distinct from new." + a[0] + ")"
		}},
		"top1": {1, func(_ *ExpansionContext, a []string) string {
			return a[0] + " limit 1"
		}},
		"null": {1, func(_ *ExpansionContext, a []string) string {
			return "(" + a[0] + " is null)"
		}},
		"errorif":               {2, expandErrorIf},
		"inserted":              {1, func(_ *ExpansionContext, a []string) string { return "new." + a[0] }},
		"deleted":               {1, func(_ *ExpansionContext, a []string) string { return "old." + a[0] }},
		"insert_values":         {1, func(_ *ExpansionContext, a []string) string { return "values(" + strings.Join(a, ",") + ")" }},
		"with_insert_identity":  {3, expandWithInsertIdentity},
		"increment_changes":     {1, expandNull},
		"return_insert_key":     {3, expandNull},
		"clear_insert_identity": {0, expandNull},
		"last_insert_identity":  {0, func(_ *ExpansionContext, _ []string) string { return "lastval()" }},
		"concat":                {0, expandConcat},
	}
}

func expandNull(_ *ExpansionContext, _ []string) string { return "NULL" }

// errorif raises when the condition holds. String messages are marked as
// application errors so clients can tell them from server failures.
func expandErrorIf(_ *ExpansionContext, a []string) string {
	msg := a[1]
	if strings.HasPrefix(msg, "'") {
		msg = "'Application Error - " + msg[1:]
	}
	return "if (" + a[0] + ") then \n  raise exception " + msg + "; \nend if"
}

// with_insert_identity runs an insert, captures the new key into insert_id
// and then runs the remaining statements with @@INSERT_ID bound to it.
func expandWithInsertIdentity(ctx *ExpansionContext, a []string) string {
	if ctx.Declared != nil {
		ctx.Declared.Declare(Variable{Name: "insert_id", Type: "bigint"})
	}
	rest := strings.Join(a[3:], ",")
	rest = strings.ReplaceAll(rest, InsertIDPlaceholder, "insert_id")
	return a[2] + " RETURNING " + a[1] + " INTO insert_id;\n" + rest + ";\n"
}

func expandConcat(_ *ExpansionContext, a []string) string {
	if len(a) == 0 {
		return "null"
	}
	return "(" + strings.Join(a, " || ") + ")"
}

// IsMacro reports whether name belongs to the macro vocabulary.
func IsMacro(name string) bool {
	_, ok := macros[name]
	return ok
}

// ParseMacros splits text into literal text and macro calls. A call is a
// vocabulary name directly followed by "(" that is not part of a longer
// identifier, a qualified name or a quoted string.
func ParseMacros(text string) ([]Node, error) {
	var (
		nodes []Node
		buf   strings.Builder
	)
	flush := func() {
		if buf.Len() > 0 {
			nodes = append(nodes, Text{Value: buf.String()})
			buf.Reset()
		}
	}

	for i := 0; i < len(text); {
		c := text[i]
		if c == '\'' || c == '"' {
			end := pgsql.SkipQuoted(text, i)
			buf.WriteString(text[i:end])
			i = end
			continue
		}
		if !isIdentStart(c) || (i > 0 && (isIdentPart(text[i-1]) || text[i-1] == '.')) {
			buf.WriteByte(c)
			i++
			continue
		}

		j := i
		for j < len(text) && isIdentPart(text[j]) {
			j++
		}
		name := text[i:j]
		if j >= len(text) || text[j] != '(' || !IsMacro(name) {
			buf.WriteString(name)
			i = j
			continue
		}

		args, end, err := parseArgs(text, j)
		if err != nil {
			return nil, fmt.Errorf("macro %s: %w", name, err)
		}
		call := Call{Name: name}
		for _, arg := range args {
			argNodes, err := ParseMacros(arg)
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, argNodes)
		}
		flush()
		nodes = append(nodes, call)
		i = end
	}
	flush()
	return nodes, nil
}

// parseArgs reads the parenthesized argument list starting at text[open]
// and returns the raw arguments split at top-level commas, plus the index
// after the closing parenthesis.
func parseArgs(text string, open int) ([]string, int, error) {
	var args []string
	depth := 0
	start := open + 1
	for i := open + 1; i < len(text); {
		switch text[i] {
		case '\'', '"':
			i = pgsql.SkipQuoted(text, i)
			continue
		case '(':
			depth++
		case ')':
			if depth == 0 {
				last := text[start:i]
				if len(args) > 0 || strings.TrimSpace(last) != "" {
					args = append(args, last)
				}
				return args, i + 1, nil
			}
			depth--
		case ',':
			if depth == 0 {
				args = append(args, text[start:i])
				start = i + 1
			}
		}
		i++
	}
	return nil, 0, fmt.Errorf("unbalanced parentheses")
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// Eval expands nodes against ctx.
func Eval(nodes []Node, ctx *ExpansionContext) (string, error) {
	var sb strings.Builder
	for _, n := range nodes {
		switch v := n.(type) {
		case Text:
			sb.WriteString(v.Value)
		case Call:
			out, err := evalCall(v, ctx)
			if err != nil {
				return "", err
			}
			sb.WriteString(out)
		default:
			return "", fmt.Errorf("unexpected macro node %T", n)
		}
	}
	return sb.String(), nil
}

func evalCall(call Call, ctx *ExpansionContext) (string, error) {
	m, ok := macros[call.Name]
	if !ok {
		return "", apperrors.Configf(call.Name, apperrors.ErrUnknownMacro, "unknown macro %s", call.Name)
	}
	if len(call.Args) < m.minArgs {
		return "", apperrors.Configf(call.Name, apperrors.ErrUnknownMacro,
			"macro %s expects at least %d arguments, got %d", call.Name, m.minArgs, len(call.Args))
	}
	args := make([]string, len(call.Args))
	for i, arg := range call.Args {
		s, err := Eval(arg, ctx)
		if err != nil {
			return "", err
		}
		args[i] = strings.TrimSpace(s)
	}
	return m.expand(ctx, args), nil
}

var doubleSemicolonRegex = regexp.MustCompile(`;\s*;`)

// ExpandMacros parses and expands text, then resolves the table name and
// row key template variables.
func ExpandMacros(text string, ctx *ExpansionContext) (string, error) {
	nodes, err := ParseMacros(text)
	if err != nil {
		return "", err
	}
	out, err := Eval(nodes, ctx)
	if err != nil {
		return "", err
	}
	out = strings.ReplaceAll(out, varTableName, ctx.TableName)
	out = strings.ReplaceAll(out, varRowKey, ctx.RowKey)
	return out, nil
}
