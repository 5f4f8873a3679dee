package models

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/dbtypes"
)

// Caption is an object caption given as a string or a list.
type Caption []string

func (c *Caption) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*c = Caption{n.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := n.Decode(&items); err != nil {
			return err
		}
		*c = items
		return nil
	}
	return fmt.Errorf("line %d: caption must be a string or a list", n.Line)
}

// Plural returns the plural caption.
func (c Caption) Plural() string {
	switch len(c) {
	case 0:
		return ""
	case 1:
		return c[0]
	case 2:
		return c[1]
	}
	return c[2]
}

// MultiLine is SQL text given as a string or as a list of lines.
type MultiLine string

func (m *MultiLine) UnmarshalYAML(n *yaml.Node) error {
	s, err := decodeLines(n, "\n")
	if err != nil {
		return err
	}
	*m = MultiLine(s)
	return nil
}

func (m MultiLine) String() string { return string(m) }

// ExecList is a list of trigger statements. Each entry is a string or a list
// of fragments joined with spaces.
type ExecList []string

func (e *ExecList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*e = ExecList{n.Value}
		return nil
	case yaml.SequenceNode:
		list := make(ExecList, 0, len(n.Content))
		for _, item := range n.Content {
			s, err := decodeLines(item, " ")
			if err != nil {
				return err
			}
			list = append(list, s)
		}
		*e = list
		return nil
	}
	return fmt.Errorf("line %d: exec must be a string or a list", n.Line)
}

func decodeLines(n *yaml.Node, sep string) (string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Value, nil
	case yaml.SequenceNode:
		var lines []string
		if err := n.Decode(&lines); err != nil {
			return "", err
		}
		if sep == " " {
			for i := range lines {
				lines[i] = strings.TrimSpace(lines[i])
			}
		}
		return strings.Join(lines, sep), nil
	}
	return "", fmt.Errorf("line %d: expected a string or a list of strings", n.Line)
}

type columnYAML struct {
	Name       string    `yaml:"name"`
	Type       string    `yaml:"type"`
	Length     *int      `yaml:"length"`
	Precision  yaml.Node `yaml:"precision"`
	Key        bool      `yaml:"key"`
	Identity   bool      `yaml:"identity"`
	Null       bool      `yaml:"null"`
	Unique     bool      `yaml:"unique"`
	Default    yaml.Node `yaml:"default"`
	ForeignKey yaml.Node `yaml:"foreignkey"`
	Actions    []string  `yaml:"actions"`
}

func (c *ColumnDescriptor) UnmarshalYAML(n *yaml.Node) error {
	var raw columnYAML
	if err := n.Decode(&raw); err != nil {
		return err
	}
	if raw.Name == "" {
		return fmt.Errorf("line %d: column missing name", n.Line)
	}

	typ, err := parseType(raw.Name, raw.Type, raw.Length, &raw.Precision)
	if err != nil {
		return err
	}

	*c = ColumnDescriptor{
		Name:     raw.Name,
		Type:     typ,
		Key:      raw.Key,
		Identity: raw.Identity,
		Null:     raw.Null,
		Unique:   raw.Unique,
		Actions:  raw.Actions,
	}

	if c.Default, err = decodeDefault(&raw.Default); err != nil {
		return fmt.Errorf("column %s: %w", raw.Name, err)
	}
	if c.ForeignKey, err = decodeForeignKey(raw.Name, &raw.ForeignKey); err != nil {
		return err
	}
	return nil
}

func parseType(column, name string, length *int, precision *yaml.Node) (dbtypes.LogicalType, error) {
	var prec []int
	switch precision.Kind {
	case 0:
	case yaml.ScalarNode:
		var p int
		if err := precision.Decode(&p); err != nil {
			return nil, fmt.Errorf("column %s: %w", column, err)
		}
		prec = []int{p}
	default:
		if err := precision.Decode(&prec); err != nil {
			return nil, fmt.Errorf("column %s: %w", column, err)
		}
	}

	typ, err := dbtypes.Parse(name, length, prec)
	if err != nil {
		return nil, apperrors.Configf("column "+column, apperrors.ErrUnsupportedType, "%s", err.Error())
	}
	return typ, nil
}

func decodeDefault(n *yaml.Node) (*DefaultValue, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.MappingNode:
		var m map[string]string
		if err := n.Decode(&m); err != nil {
			return nil, err
		}
		expr, ok := m["sql"]
		if !ok || expr == "" {
			return nil, fmt.Errorf("line %d: default mapping requires an sql expression", n.Line)
		}
		return &DefaultValue{SQL: expr}, nil
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return &DefaultValue{Value: v}, nil
}

// decodeForeignKey reads {table: column} or
// {table: {column: c, on_delete: cascade, on_update: null}}.
func decodeForeignKey(column string, n *yaml.Node) (*ForeignKeyRef, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: column %s: foreignkey must be a mapping", n.Line, column)
	}
	if len(n.Content) > 2 {
		return nil, apperrors.Configf("column "+column, apperrors.ErrDuplicateForeignKey, "column %s cannot have multiple foreign keys", column)
	}
	if len(n.Content) == 0 {
		return nil, nil
	}

	ref := &ForeignKeyRef{Table: n.Content[0].Value}
	target := n.Content[1]
	if target.Kind == yaml.ScalarNode {
		ref.Column = target.Value
		return ref, nil
	}
	var spec struct {
		Column   string `yaml:"column"`
		OnDelete string `yaml:"on_delete"`
		OnUpdate string `yaml:"on_update"`
	}
	if err := target.Decode(&spec); err != nil {
		return nil, err
	}
	ref.Column, ref.OnDelete, ref.OnUpdate = spec.Column, spec.OnDelete, spec.OnUpdate
	return ref, nil
}

// ViewSources is the ordered from clause of a view, given in YAML as a
// mapping of table name to source.
type ViewSources []ViewSource

func (v *ViewSources) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: tables must be a mapping", n.Line)
	}
	sources := make(ViewSources, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		src, err := decodeViewSource(n.Content[i].Value, n.Content[i+1])
		if err != nil {
			return err
		}
		sources = append(sources, src)
	}
	*v = sources
	return nil
}

func decodeViewSource(name string, n *yaml.Node) (ViewSource, error) {
	var raw struct {
		Columns     []ViewColumn `yaml:"columns"`
		JoinType    string       `yaml:"join_type"`
		JoinColumns yaml.Node    `yaml:"join_columns"`
	}
	if err := n.Decode(&raw); err != nil {
		return ViewSource{}, fmt.Errorf("view source %s: %w", name, err)
	}
	src := ViewSource{Name: name, Columns: raw.Columns, JoinType: raw.JoinType}
	if raw.JoinColumns.Kind == yaml.MappingNode {
		jc := raw.JoinColumns.Content
		for i := 0; i+1 < len(jc); i += 2 {
			src.JoinColumns = append(src.JoinColumns, JoinPair{Left: jc[i].Value, Right: jc[i+1].Value})
		}
	}
	return src, nil
}

func (c *ViewColumn) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*c = ViewColumn{Name: n.Value}
		return nil
	}
	var raw struct {
		Name      string    `yaml:"name"`
		SQLSelect MultiLine `yaml:"sqlselect"`
		Type      string    `yaml:"type"`
		Length    *int      `yaml:"length"`
		Precision yaml.Node `yaml:"precision"`
	}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	*c = ViewColumn{Name: raw.Name, SQLSelect: string(raw.SQLSelect)}
	if raw.Type != "" {
		typ, err := parseType(raw.Name, raw.Type, raw.Length, &raw.Precision)
		if err != nil {
			return err
		}
		c.Type = typ
	}
	return nil
}

func (s *SeedRows) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: seed rows must be a list", n.Line)
	}
	rows := make(SeedRows, 0, len(n.Content))
	for _, item := range n.Content {
		if item.Kind != yaml.MappingNode {
			return fmt.Errorf("line %d: seed row must be a mapping", item.Line)
		}
		row := NewRow()
		for i := 0; i+1 < len(item.Content); i += 2 {
			if item.Content[i].Value == FilesKey {
				files := orderedmap.New[string, string]()
				if err := item.Content[i+1].Decode(files); err != nil {
					return fmt.Errorf("line %d: %s must map source files to destinations: %w", item.Content[i+1].Line, FilesKey, err)
				}
				row.Set(FilesKey, files)
				continue
			}
			var v any
			if err := item.Content[i+1].Decode(&v); err != nil {
				return err
			}
			row.Set(item.Content[i].Value, v)
		}
		rows = append(rows, row)
	}
	*s = rows
	return nil
}
