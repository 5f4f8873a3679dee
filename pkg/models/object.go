package models

import (
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/dbtypes"
)

// ObjectKind identifies the schema object a descriptor compiles to.
type ObjectKind string

const (
	KindTable ObjectKind = "table"
	KindView  ObjectKind = "view"
	KindCode  ObjectKind = "code"
	KindCode2 ObjectKind = "code2"
)

// Code table registries.
const (
	CodeTypeSys = "sys"
	CodeTypeApp = "app"
)

// Row is one seed row: column name to value, in declaration order. A value
// may be a map with a single "sql" key holding a raw SQL expression. A row
// whose only key is "sql" is a raw statement.
type Row = orderedmap.OrderedMap[string, any]

// FilesKey holds a row's file attachments: source file name (relative to
// the descriptor's data_files directory) to destination path under the data
// directory. A destination may embed {{expr}} SQL evaluated against the row.
const FilesKey = "_FILES"

// FileAttachments maps attachment sources to destinations, in declaration
// order.
type FileAttachments = orderedmap.OrderedMap[string, string]

// SeedRows is a list of seed rows.
type SeedRows []*Row

// NewRow builds a Row from alternating column names and values.
func NewRow(kv ...any) *Row {
	r := orderedmap.New[string, any](len(kv) / 2)
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i].(string), kv[i+1])
	}
	return r
}

// ObjectDescriptor describes a table, view or code lookup table. It is built
// by the caller or loaded from YAML and is never mutated by the compiler.
type ObjectDescriptor struct {
	Kind ObjectKind `yaml:"type"`
	// Name may be schema qualified ("app.cust") and may contain the
	// {schema} placeholder.
	Name string `yaml:"name"`
	// Caption is [singular] or [singular, plural] or [_, singular, plural].
	Caption  Caption `yaml:"caption"`
	CodeType string  `yaml:"code_type"` // "sys" or "app", code kinds only

	Columns     []ColumnDescriptor     `yaml:"columns"`
	ForeignKeys []ForeignKeyDescriptor `yaml:"foreignkeys"`
	Unique      [][]string             `yaml:"unique"`
	Indexes     []IndexDescriptor      `yaml:"index"`
	Triggers    []TriggerDescriptor    `yaml:"triggers"`

	// View definition
	Tables  ViewSources             `yaml:"tables"`
	With    []CommonTableExpression `yaml:"with"`
	Where   MultiLine               `yaml:"where"`
	GroupBy MultiLine               `yaml:"group_by"`
	Having  MultiLine               `yaml:"having"`
	OrderBy MultiLine               `yaml:"order_by"`

	// Seeding
	DataKeys   []string `yaml:"data_keys"`
	Init       SeedRows `yaml:"init"`
	InitData   SeedRows `yaml:"init_data"`
	SampleData SeedRows `yaml:"sample_data"`

	// Path is the file the descriptor was loaded from, if any.
	Path string `yaml:"-"`
}

// ColumnDescriptor describes one table column.
type ColumnDescriptor struct {
	Name       string
	Type       dbtypes.LogicalType
	Key        bool
	Identity   bool
	Null       bool
	Unique     bool
	Default    *DefaultValue
	ForeignKey *ForeignKeyRef
	// Actions holds column behaviours such as "prevent_update".
	Actions []string
}

// ActionPreventUpdate makes a column immutable after insert.
const ActionPreventUpdate = "prevent_update"

// HasAction reports whether the column declares the named action.
func (c *ColumnDescriptor) HasAction(action string) bool {
	for _, a := range c.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// DefaultValue is a column default: either a literal (string, number, bool
// or nil for SQL null) or a raw SQL expression applied by the insert
// validation trigger when the column is null.
type DefaultValue struct {
	Value any
	SQL   string
}

// IsSQL reports whether the default is an expression rather than a literal.
func (d *DefaultValue) IsSQL() bool { return d != nil && d.SQL != "" }

// ForeignKeyRef is a single-column reference declared on a column.
type ForeignKeyRef struct {
	Table    string
	Column   string
	OnDelete string
	OnUpdate string
}

// ForeignKeyDescriptor is a table-level, possibly multi-column foreign key.
type ForeignKeyDescriptor struct {
	Columns        []string `yaml:"columns"`
	ForeignTable   string   `yaml:"foreign_table"`
	ForeignColumns []string `yaml:"foreign_columns"`
	OnDelete       string   `yaml:"on_delete"`
	OnUpdate       string   `yaml:"on_update"`
}

// IndexDescriptor is a non-unique index.
type IndexDescriptor struct {
	Columns []string `yaml:"columns"`
}

// TriggerDescriptor is a fragment of trigger code. Fragments sharing a
// Prefix form one trigger family compiled into its own functions.
type TriggerDescriptor struct {
	On     []string  `yaml:"on"`
	Prefix string    `yaml:"prefix"`
	SQL    MultiLine `yaml:"sql"`
	// Exec statements may contain macro invocations.
	Exec ExecList `yaml:"exec"`
}

// Fires reports whether the fragment is bound to event.
func (t *TriggerDescriptor) Fires(event string) bool {
	for _, on := range t.On {
		if on == event {
			return true
		}
	}
	return false
}

// ViewSource is one table of a view's from clause.
type ViewSource struct {
	Name     string
	Columns  []ViewColumn
	JoinType string // "", "inner", "left" or "right"
	// JoinColumns pairs are rendered as left=right.
	JoinColumns []JoinPair
}

// JoinPair is one equality of a join condition.
type JoinPair struct {
	Left  string
	Right string
}

// ViewColumn is a selected column, or a computed expression when SQLSelect
// is set. Type, when set, casts the expression.
type ViewColumn struct {
	Name      string
	SQLSelect string
	Type      dbtypes.LogicalType
}

// CommonTableExpression is a with-clause entry of a view.
type CommonTableExpression struct {
	Name      string    `yaml:"name"`
	Columns   []string  `yaml:"columns"`
	Recursive bool      `yaml:"recursive"`
	SQL       MultiLine `yaml:"sql"`
}

// SplitName separates an optional schema prefix from an object name.
func SplitName(name string) (schema, object string) {
	if idx := strings.Index(name, "."); idx >= 0 {
		return name[:idx], name[idx+1:]
	}
	return "", name
}

// PrimaryKeys returns the key columns in declaration order.
func (o *ObjectDescriptor) PrimaryKeys() []ColumnDescriptor {
	var keys []ColumnDescriptor
	for _, c := range o.Columns {
		if c.Key {
			keys = append(keys, c)
		}
	}
	return keys
}

// Column returns the column with the given name.
func (o *ObjectDescriptor) Column(name string) (*ColumnDescriptor, bool) {
	for i := range o.Columns {
		if o.Columns[i].Name == name {
			return &o.Columns[i], true
		}
	}
	return nil, false
}

// CodeRegistryType returns "app" for application code tables and "sys"
// otherwise.
func (o *ObjectDescriptor) CodeRegistryType() string {
	if o.CodeType == CodeTypeApp {
		return CodeTypeApp
	}
	return CodeTypeSys
}

// HasSeedRows reports whether any of the seed row sets is non-empty.
func (o *ObjectDescriptor) HasSeedRows() bool {
	return len(o.Init) > 0 || len(o.InitData) > 0 || len(o.SampleData) > 0
}

// Module is the compilation context shared by the descriptors of one module.
type Module struct {
	// Schema replaces the {schema} placeholder and is the default schema of
	// code tables.
	Schema string
	// FactorySchema holds the code table registries and their procedures.
	FactorySchema string
	// DataDir is the root of seed file attachment destinations.
	DataDir string
	// Map renames registry tables, keyed by "code_sys", "code_app",
	// "code2_sys" and "code2_app".
	Map map[string]string
}

// RegistryTable returns the registry table for a code kind and type.
func (m *Module) RegistryTable(kind ObjectKind, codeType string) string {
	key := string(kind) + "_" + codeType
	if m != nil && m.Map != nil {
		if t, ok := m.Map[key]; ok && t != "" {
			return t
		}
	}
	return key
}

// FactoryPrefix returns the factory schema followed by a dot, or "".
func (m *Module) FactoryPrefix() string {
	if m == nil || m.FactorySchema == "" {
		return ""
	}
	return m.FactorySchema + "."
}
