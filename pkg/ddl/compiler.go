// Package ddl compiles object descriptors into PostgreSQL DDL, trigger
// functions and seed statements.
package ddl

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/jinzhu/inflection"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/dbtypes"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/models"
	pgsql "github.com/ekaya-inc/ekaya-pgsql/pkg/sql"
)

// SchemaPlaceholder in descriptor text is replaced by the module schema.
const SchemaPlaceholder = "{schema}"

const defaultSchema = "public"

// Compiler turns descriptors into SQL text. It holds no per-object state and
// is safe for concurrent use.
type Compiler struct {
	module *models.Module
	logger *zap.Logger
}

// NewCompiler creates a compiler for the objects of module.
func NewCompiler(module *models.Module, logger *zap.Logger) *Compiler {
	if module == nil {
		module = &models.Module{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{module: module, logger: logger.Named("ddl")}
}

func (c *Compiler) schema() string {
	if c.module.Schema != "" {
		return c.module.Schema
	}
	return defaultSchema
}

func (c *Compiler) resolve(s string) string {
	return strings.ReplaceAll(s, SchemaPlaceholder, c.schema())
}

// objectSchema returns the schema prefix of the object name, or the module
// schema when the name is unqualified.
func (c *Compiler) objectSchema(obj *models.ObjectDescriptor) string {
	if s, _ := models.SplitName(c.resolve(obj.Name)); s != "" {
		return s
	}
	return c.schema()
}

// Compile returns the object DDL, its init rows and its triggers.
func (c *Compiler) Compile(obj *models.ObjectDescriptor) (string, error) {
	if obj != nil {
		if err := checkSeedKeys(obj); err != nil {
			return "", err
		}
	}
	initSQL, err := c.Init(obj)
	if err != nil {
		return "", err
	}
	triggerSQL, err := c.Triggers(obj)
	if err != nil {
		return "", err
	}
	return initSQL + triggerSQL, nil
}

// Init returns the DDL creating the object followed by its init rows.
func (c *Compiler) Init(obj *models.ObjectDescriptor) (string, error) {
	if obj == nil {
		return "", apperrors.Configf("", nil, "object descriptor is required")
	}

	var sb strings.Builder
	sb.WriteString(c.SearchPath())

	var err error
	switch obj.Kind {
	case models.KindTable:
		err = c.writeTable(&sb, obj)
	case models.KindView:
		err = c.writeView(&sb, obj)
	case models.KindCode, models.KindCode2:
		c.writeCode(&sb, obj)
	default:
		err = apperrors.Configf(obj.Name, nil, "unsupported object type %q", obj.Kind)
	}
	if err != nil {
		return "", err
	}

	seed, err := c.seedRows(obj, obj.Init)
	if err != nil {
		return "", err
	}
	sb.WriteString(seed)

	out := c.resolve(sb.String())
	c.logger.Debug("Compiled object",
		zap.String("object", obj.Name),
		zap.String("kind", string(obj.Kind)),
		zap.Int("length", len(out)))
	return out, nil
}

func (c *Compiler) writeTable(sb *strings.Builder, obj *models.ObjectDescriptor) error {
	if len(obj.Columns) == 0 {
		return apperrors.Configf(obj.Name, nil, "table has no columns")
	}

	namer := NewNamer()
	name := c.resolve(obj.Name)
	ident := sanitizeIdentifier(name)

	var (
		lines       []string
		foreignKeys []string
		uniqueCols  []string
	)
	for _, col := range obj.Columns {
		typ, err := dbtypes.ColumnType(col.Type, col.Identity)
		if err != nil {
			return apperrors.Configf(obj.Name+" > "+col.Name, apperrors.ErrUnsupportedType, "%s", err.Error())
		}
		line := "  " + col.Name + " " + typ
		if !col.Null {
			line += " not null"
		}
		if col.Default != nil && !col.Default.IsSQL() {
			line += " default " + sqlValue(col.Default.Value)
		}
		if col.Default.IsSQL() && pgsql.HasSemicolonOutsideStrings(col.Default.SQL) {
			return apperrors.Configf(obj.Name+" > "+col.Name, nil, "sql default must be a single expression: %s", col.Default.SQL)
		}
		lines = append(lines, line)

		if col.Unique {
			uniqueCols = append(uniqueCols, col.Name)
		}
		if fk := col.ForeignKey; fk != nil {
			actions, err := foreignKeyActions(fk.OnDelete, fk.OnUpdate)
			if err != nil {
				return apperrors.Configf(obj.Name+" > "+col.Name, err, "foreign key %s", err.Error())
			}
			foreignKeys = append(foreignKeys, fmt.Sprintf("  constraint %s foreign key (%s) references %s(%s)%s",
				namer.Name("fk", ident, col.Name), col.Name, fk.Table, fk.Column, actions))
		}
	}

	for _, fk := range obj.ForeignKeys {
		if len(fk.Columns) == 0 {
			return apperrors.Configf(obj.Name, nil, "foreign key missing columns")
		}
		cols := strings.Join(fk.Columns, ",")
		if fk.ForeignTable == "" {
			return apperrors.Configf(obj.Name, nil, "foreign key (%s) missing foreign_table", cols)
		}
		if len(fk.ForeignColumns) == 0 {
			return apperrors.Configf(obj.Name, nil, "foreign key (%s) missing foreign_columns", cols)
		}
		if len(fk.Columns) == 1 {
			if col, ok := obj.Column(fk.Columns[0]); ok && col.ForeignKey != nil {
				return apperrors.Configf(obj.Name+" > "+col.Name, apperrors.ErrDuplicateForeignKey,
					"column %s cannot have multiple foreign keys", col.Name)
			}
		}
		actions, err := foreignKeyActions(fk.OnDelete, fk.OnUpdate)
		if err != nil {
			return apperrors.Configf(obj.Name, err, "foreign key (%s) %s", cols, err.Error())
		}
		foreignKeys = append(foreignKeys, fmt.Sprintf("  constraint %s foreign key (%s) references %s(%s)%s",
			namer.Name(append([]string{"fk", ident}, fk.Columns...)...), cols, fk.ForeignTable,
			strings.Join(fk.ForeignColumns, ","), actions))
	}

	if keys := obj.PrimaryKeys(); len(keys) > 0 {
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.Name
		}
		lines = append(lines, fmt.Sprintf("  constraint %s primary key (%s)",
			namer.Name(ident, "pkey"), strings.Join(names, ",")))
	}
	for i, group := range obj.Unique {
		if len(group) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("  constraint %s unique (%s)",
			namer.Name("unique", ident, fmt.Sprint(i+1)), strings.Join(group, ",")))
	}
	for _, col := range uniqueCols {
		lines = append(lines, fmt.Sprintf("  constraint %s unique (%s)", namer.Name("unique", ident, col), col))
	}
	lines = append(lines, foreignKeys...)

	sb.WriteString("create table " + name + "(\n")
	sb.WriteString(strings.Join(lines, ",\n"))
	sb.WriteString("\n);\n")

	for i, idx := range obj.Indexes {
		if len(idx.Columns) == 0 {
			continue
		}
		fmt.Fprintf(sb, "create index %s on %s(%s);\n",
			namer.Name("index", ident, fmt.Sprint(i+1)), name, strings.Join(idx.Columns, ","))
	}
	return nil
}

// foreignKeyActions renders on delete / on update clauses. Only cascade and
// set null are supported.
func foreignKeyActions(onDelete, onUpdate string) (string, error) {
	var sb strings.Builder
	for _, a := range []struct{ verb, action string }{{"delete", onDelete}, {"update", onUpdate}} {
		switch strings.ToLower(strings.TrimSpace(a.action)) {
		case "":
		case "cascade":
			sb.WriteString(" on " + a.verb + " cascade")
		case "null", "set null":
			sb.WriteString(" on " + a.verb + " set null")
		default:
			return "", fmt.Errorf("%w: on_%s %s", apperrors.ErrUnsupportedAction, a.verb, a.action)
		}
	}
	return sb.String(), nil
}

func (c *Compiler) writeView(sb *strings.Builder, obj *models.ObjectDescriptor) error {
	if len(obj.Tables) == 0 {
		return apperrors.Configf(obj.Name, nil, "view has no tables")
	}

	ctes := make(map[string]bool, len(obj.With))
	for _, cte := range obj.With {
		ctes[cte.Name] = true
	}

	var cols, from []string
	for i, src := range obj.Tables {
		for _, col := range src.Columns {
			expr, err := viewColumn(src.Name, col, ctes)
			if err != nil {
				return apperrors.Configf(obj.Name+" > "+src.Name, apperrors.ErrUnsupportedType, "%s", err.Error())
			}
			cols = append(cols, expr)
		}

		if i == 0 {
			if src.JoinType != "" {
				return apperrors.Configf(obj.Name+" > "+src.Name, nil, "the first view table cannot be joined")
			}
			from = append(from, src.Name)
			continue
		}
		join, err := viewJoin(src)
		if err != nil {
			return apperrors.Configf(obj.Name+" > "+src.Name, nil, "%s", err.Error())
		}
		from = append(from, join)
	}
	if len(cols) == 0 {
		return apperrors.Configf(obj.Name, nil, "view has no columns")
	}

	sb.WriteString("create view " + c.resolve(obj.Name) + " as\n")
	if len(obj.With) > 0 {
		sb.WriteString("with ")
		for _, cte := range obj.With {
			if cte.Recursive {
				sb.WriteString("recursive ")
				break
			}
		}
		defs := make([]string, len(obj.With))
		for i, cte := range obj.With {
			def := cte.Name
			if len(cte.Columns) > 0 {
				def += "(" + strings.Join(cte.Columns, ",") + ")"
			}
			defs[i] = def + " as (\n  " + strings.TrimSpace(cte.SQL.String()) + "\n)"
		}
		sb.WriteString(strings.Join(defs, ",\n") + "\n")
	}
	sb.WriteString("select\n    " + strings.Join(cols, ",\n    "))
	sb.WriteString("\n  from " + strings.Join(from, "\n    "))
	for _, clause := range []struct {
		keyword string
		text    models.MultiLine
	}{
		{"where", obj.Where},
		{"group by", obj.GroupBy},
		{"having", obj.Having},
		{"order by", obj.OrderBy},
	} {
		if t := strings.TrimSpace(clause.text.String()); t != "" {
			sb.WriteString("\n  " + clause.keyword + " " + t)
		}
	}
	sb.WriteString(";\n")
	return nil
}

func viewColumn(source string, col models.ViewColumn, ctes map[string]bool) (string, error) {
	if col.SQLSelect != "" {
		expr := strings.TrimSpace(col.SQLSelect)
		if col.Type != nil {
			typ, err := dbtypes.ColumnType(col.Type, false)
			if err != nil {
				return "", err
			}
			expr = "cast(" + expr + " as " + typ + ")"
		}
		return "(" + expr + ") as " + col.Name, nil
	}

	name := col.Name
	if !strings.Contains(name, ".") {
		name = source + "." + name
	}
	qualifier := name[:strings.LastIndex(name, ".")]
	if strings.Count(name, ".") < 2 && !ctes[qualifier] {
		name = SchemaPlaceholder + "." + name
	}
	return name, nil
}

func viewJoin(src models.ViewSource) (string, error) {
	var join string
	switch src.JoinType {
	case "":
		return "cross join " + src.Name, nil
	case "inner":
		join = "inner join"
	case "left":
		join = "left outer join"
	case "right":
		join = "right outer join"
	default:
		return "", fmt.Errorf("join_type must be inner, left, or right")
	}
	on := "1=1"
	if len(src.JoinColumns) > 0 {
		conds := make([]string, len(src.JoinColumns))
		for i, p := range src.JoinColumns {
			conds[i] = p.Left + "=" + p.Right
		}
		on = strings.Join(conds, " and ")
	}
	return join + " " + src.Name + " on " + on, nil
}

// codeTable resolves the registry coordinates of a code table.
type codeTable struct {
	schema   string
	name     string // without the code_ / code2_ prefix
	table    string // schema qualified table created by the registry
	codeType string
	registry string
	factory  string
}

func (c *Compiler) codeTable(obj *models.ObjectDescriptor) codeTable {
	schema, name := models.SplitName(c.resolve(obj.Name))
	if schema == "" {
		schema = c.schema()
	}
	prefix := string(obj.Kind) + "_"
	name = strings.TrimPrefix(name, prefix)
	codeType := obj.CodeRegistryType()
	return codeTable{
		schema:   schema,
		name:     name,
		table:    schema + "." + prefix + name,
		codeType: codeType,
		registry: c.module.FactoryPrefix() + c.module.RegistryTable(obj.Kind, codeType),
		factory:  c.module.FactoryPrefix(),
	}
}

func (c *Compiler) writeCode(sb *strings.Builder, obj *models.ObjectDescriptor) {
	ct := c.codeTable(obj)
	desc := obj.Caption.Plural()
	if desc == "" {
		desc = defaultCaption(ct.name)
	}
	fmt.Fprintf(sb, "insert into %s (code_name, code_desc, code_schema, code_type) values (%s, %s, %s, %s);\n",
		ct.registry, pgsql.Quote(ct.name), pgsql.Quote(desc), pgsql.Quote(ct.schema), pgsql.Quote(ct.codeType))
	fmt.Fprintf(sb, "select * from %screate_%s_%s(%s,%s,%s);\n",
		ct.factory, obj.Kind, ct.codeType, pgsql.Quote(ct.schema), pgsql.Quote(ct.name), pgsql.Quote(desc))
}

// defaultCaption turns a code name such as "country_region" into
// "Country Regions".
func defaultCaption(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '_' || r == '-' || unicode.IsSpace(r) })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	if len(words) == 0 {
		return ""
	}
	last := len(words) - 1
	words[last] = inflection.Plural(words[last])
	return strings.Join(words, " ")
}

// Drop returns SQL removing the object's triggers, the object itself and,
// for code tables, its registry row.
func (c *Compiler) Drop(obj *models.ObjectDescriptor) (string, error) {
	if obj == nil {
		return "", apperrors.Configf("", nil, "object descriptor is required")
	}
	sql, err := c.DropTriggers(obj)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(sql)
	switch obj.Kind {
	case models.KindTable:
		sb.WriteString("drop table if exists " + c.resolve(obj.Name) + ";\n")
	case models.KindView:
		sb.WriteString("drop view if exists " + c.resolve(obj.Name) + ";\n")
	case models.KindCode, models.KindCode2:
		ct := c.codeTable(obj)
		sb.WriteString("drop table if exists " + ct.table + ";\n")
		fmt.Fprintf(&sb, "delete from %s where code_name=%s and code_schema=%s;\n",
			ct.registry, pgsql.Quote(ct.name), pgsql.Quote(ct.schema))
	default:
		return "", apperrors.Configf(obj.Name, nil, "unsupported object type %q", obj.Kind)
	}
	return sb.String(), nil
}

// SearchPath returns the statement making the module schema the default
// for unqualified names. Init output starts with it; Drop and Seed output
// expect the caller to set it.
func (c *Compiler) SearchPath() string {
	return "set search_path = " + c.schema() + ",pg_catalog;\n"
}

// InitSchema returns SQL creating the module schema.
func (c *Compiler) InitSchema() string {
	if c.module.Schema == "" {
		return ""
	}
	return "create schema " + c.module.Schema + ";\n"
}

// DropSchema returns SQL dropping the module schema. Objects must be dropped
// first.
func (c *Compiler) DropSchema() string {
	if c.module.Schema == "" {
		return ""
	}
	return "drop schema if exists " + c.module.Schema + ";\n"
}

// sqlValue renders a descriptor value as SQL. Maps with an "sql" key are
// raw expressions.
func sqlValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return pgsql.Quote(x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case time.Time:
		return pgsql.Quote(x.Format("2006-01-02 15:04:05.000Z07:00"))
	case map[string]any:
		if expr, ok := x["sql"]; ok {
			return cast.ToString(expr)
		}
	case *models.DefaultValue:
		if x.IsSQL() {
			return x.SQL
		}
		return sqlValue(x.Value)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return pgsql.Quote(fmt.Sprint(v))
	}
	return pgsql.Escape(s)
}
