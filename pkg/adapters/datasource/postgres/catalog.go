package postgres

import (
	"context"
	"fmt"

	"github.com/spf13/cast"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/dbtypes"
	pgsql "github.com/ekaya-inc/ekaya-pgsql/pkg/sql"
)

const defaultSchema = "public"

var catalogParamTypes = []dbtypes.LogicalType{dbtypes.VarChar{Length: dbtypes.MAX}, dbtypes.VarChar{Length: dbtypes.MAX}}

const tablesQuery = `select n.nspname schema_name, t.relname table_name, obj_description(t.oid, 'pg_class') description,
  (case when t.relkind = 'r' then 'table' else 'view' end) table_type
from pg_catalog.pg_class t
  inner join pg_catalog.pg_namespace n on n.oid = t.relnamespace
where t.relkind in ('r','v') and n.nspname not in ('pg_catalog', 'information_schema')
  and t.relname = coalesce(@table_name, t.relname) and n.nspname = coalesce(@schema_name, n.nspname)
order by n.nspname, t.relname;`

const columnsQuery = `select n.nspname schema_name, t.relname table_name, c.column_name column_name,
  c.data_type type_name, c.character_maximum_length max_length,
  (case when c.numeric_precision is not null then c.numeric_precision
        when c.datetime_precision is not null then c.datetime_precision end) "precision",
  c.numeric_scale "scale",
  (c.is_nullable = 'YES') nullable,
  (c.column_default is not null and c.column_default like 'nextval(%') readonly,
  c.column_default default_value,
  c.ordinal_position ordinal_position,
  pgd.description description,
  coalesce((select string_to_array(i.indkey::text, ' ')::int4[] from pg_catalog.pg_index i
            where i.indrelid = t.oid and i.indisprimary) && array[c.ordinal_position::int4], false) primary_key
from pg_catalog.pg_class t
  inner join pg_catalog.pg_namespace n on n.oid = t.relnamespace
  inner join information_schema.columns c on (c.table_schema = n.nspname and c.table_name = t.relname)
  left outer join pg_catalog.pg_description pgd on (pgd.objoid = t.oid and pgd.objsubid = c.ordinal_position)
where t.relkind in ('r','v') and n.nspname not in ('pg_catalog', 'information_schema')
  and t.relname = coalesce(@table_name, t.relname) and n.nspname = coalesce(@schema_name, n.nspname)
order by n.nspname, t.relname, c.ordinal_position;`

const foreignKeysQuery = `select con.conname id, con.nspname child_schema, con.relname child_table,
  att2.attname child_column, ns.nspname parent_schema, t.relname parent_table, att.attname parent_column
from (select unnest(con1.conkey) as child, unnest(con1.confkey) as parent,
        con1.confrelid, con1.conrelid, con1.conname, t.relname, ns.nspname
      from pg_class t
        inner join pg_namespace ns on t.relnamespace = ns.oid
        inner join pg_constraint con1 on con1.conrelid = t.oid
      where t.relname = coalesce(@table_name, t.relname)
        and ns.nspname = coalesce(@schema_name, ns.nspname)
        and con1.contype = 'f') con
  inner join pg_attribute att on att.attrelid = con.confrelid and att.attnum = con.parent
  inner join pg_class t on t.oid = con.confrelid
  inner join pg_namespace ns on ns.oid = t.relnamespace
  inner join pg_attribute att2 on att2.attrelid = con.conrelid and att2.attnum = con.child
order by child_schema, child_table, id, parent_column;`

// Catalog implements datasource.SchemaDiscoverer on top of the Driver, so
// discovery queries go through the same assembly and decoding as
// application statements.
type Catalog struct {
	driver *Driver
	config *Config
	// IgnoreSchemas are left out of unfiltered table listings.
	IgnoreSchemas []string
}

var _ datasource.SchemaDiscoverer = (*Catalog)(nil)

// NewCatalog returns a catalog reader for cfg.
func NewCatalog(driver *Driver, cfg *Config, ignoreSchemas ...string) *Catalog {
	return &Catalog{driver: driver, config: cfg, IgnoreSchemas: ignoreSchemas}
}

func (c *Catalog) query(ctx context.Context, sql string, ref *datasource.TableRef) ([]*datasource.Row, error) {
	var schema, table any
	if ref != nil {
		schema = ref.Schema
		if ref.Schema == "" {
			schema = defaultSchema
		}
		table = ref.Name
	}
	env, err := c.driver.Recordset(ctx, nil, c.config, pgsql.Statement{
		SQL:   sql,
		Types: catalogParamTypes,
		Params: pgsql.NewParams(
			pgsql.Param{Name: "schema_name", Value: schema},
			pgsql.Param{Name: "table_name", Value: table},
		),
	})
	if err != nil {
		return nil, err
	}
	return env.Recordset, nil
}

// DiscoverTables returns user tables and views.
func (c *Catalog) DiscoverTables(ctx context.Context, ref *datasource.TableRef) ([]datasource.TableMetadata, []string, error) {
	rows, err := c.query(ctx, tablesQuery, ref)
	if err != nil {
		return nil, nil, fmt.Errorf("query tables: %w", err)
	}

	ignored := make(map[string]bool, len(c.IgnoreSchemas))
	for _, s := range c.IgnoreSchemas {
		ignored[s] = true
	}

	var tables []datasource.TableMetadata
	for _, row := range rows {
		t := datasource.TableMetadata{
			SchemaName:  str(row, "schema_name"),
			TableName:   str(row, "table_name"),
			Description: str(row, "description"),
			TableType:   str(row, "table_type"),
		}
		if ref == nil && ignored[t.SchemaName] {
			continue
		}
		t.ModelName = t.TableName
		if t.SchemaName != defaultSchema {
			t.ModelName = t.SchemaName + "." + t.TableName
		}
		tables = append(tables, t)
	}
	return tables, nil, nil
}

// DiscoverColumns returns columns in ordinal order. Columns of types with no
// descriptor mapping are skipped with a warning message.
func (c *Catalog) DiscoverColumns(ctx context.Context, ref *datasource.TableRef) ([]datasource.ColumnMetadata, []string, error) {
	rows, err := c.query(ctx, columnsQuery, ref)
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}

	var columns []datasource.ColumnMetadata
	var messages []string
	for _, row := range rows {
		col := datasource.ColumnMetadata{
			SchemaName:      str(row, "schema_name"),
			TableName:       str(row, "table_name"),
			ColumnName:      str(row, "column_name"),
			Description:     str(row, "description"),
			Length:          intPtr(row, "max_length"),
			Precision:       intPtr(row, "precision"),
			Scale:           intPtr(row, "scale"),
			IsNullable:      boolean(row, "nullable"),
			IsReadOnly:      boolean(row, "readonly"),
			IsPrimaryKey:    boolean(row, "primary_key"),
			OrdinalPosition: cast.ToInt(value(row, "ordinal_position")),
		}
		if def, ok := row.Get("default_value"); ok && def != nil {
			s := cast.ToString(def)
			col.DefaultValue = &s
		}

		dataType, lt, ok := mapColumnType(str(row, "type_name"), col.Length, col.Precision, col.Scale)
		if !ok {
			messages = append(messages, fmt.Sprintf("WARNING - Skipping Column: %s.%s.%s: Data type %s not supported.",
				col.SchemaName, col.TableName, col.ColumnName, str(row, "type_name")))
			continue
		}
		col.DataType, col.Type = dataType, lt
		columns = append(columns, col)
	}
	return columns, messages, nil
}

// DiscoverForeignKeys returns one entry per referencing column.
func (c *Catalog) DiscoverForeignKeys(ctx context.Context, ref *datasource.TableRef) ([]datasource.ForeignKeyMetadata, []string, error) {
	rows, err := c.query(ctx, foreignKeysQuery, ref)
	if err != nil {
		return nil, nil, fmt.Errorf("query foreign keys: %w", err)
	}

	fks := make([]datasource.ForeignKeyMetadata, 0, len(rows))
	for _, row := range rows {
		fks = append(fks, datasource.ForeignKeyMetadata{
			ConstraintName: str(row, "id"),
			SourceSchema:   str(row, "child_schema"),
			SourceTable:    str(row, "child_table"),
			SourceColumn:   str(row, "child_column"),
			TargetSchema:   str(row, "parent_schema"),
			TargetTable:    str(row, "parent_table"),
			TargetColumn:   str(row, "parent_column"),
		})
	}
	return fks, nil, nil
}

// passthroughTypes are server types descriptors can name directly but which
// have no logical type.
var passthroughTypes = map[string]string{
	"interval":      "interval",
	"money":         "money",
	"bit":           "bit",
	"bit varying":   "bit varying",
	"point":         "point",
	"line":          "line",
	"lseg":          "lseg",
	"box":           "box",
	"path":          "path",
	"polygon":       "polygon",
	"circle":        "circle",
	"inet":          "inet",
	"cidr":          "cidr",
	"macaddr":       "macaddr",
	"tsvector":      "tsvector",
	"tsquery":       "tsquery",
	"uuid":          "uuid",
	"xml":           "xml",
	"json":          "json",
	"jsonb":         "jsonb",
	"pg_lsn":        "pg_lsn",
	"txid_snapshot": "txid_snapshot",
}

// mapColumnType maps an information_schema data_type to the descriptor type
// name and, where one exists, the logical type.
func mapColumnType(typeName string, length, precision, scale *int) (string, dbtypes.LogicalType, bool) {
	l := dbtypes.MAX
	if length != nil {
		l = *length
	}
	p := 0
	if precision != nil {
		p = *precision
	}

	switch typeName {
	case "character varying":
		return "varchar", dbtypes.VarChar{Length: l}, true
	case "character":
		return "char", dbtypes.Char{Length: l}, true
	case "text":
		return "varchar", dbtypes.VarChar{Length: dbtypes.MAX}, true
	case "bytea":
		return "bytea", dbtypes.VarBinary{Length: dbtypes.MAX}, true
	case "bigint":
		return "bigint", dbtypes.BigInt{}, true
	case "integer":
		return "int", dbtypes.Int{}, true
	case "smallint":
		return "smallint", dbtypes.SmallInt{}, true
	case "boolean":
		return "boolean", dbtypes.Boolean{}, true
	case "numeric":
		s := 0
		if scale != nil {
			s = *scale
		}
		return "decimal", dbtypes.Decimal{Precision: p, Scale: s}, true
	case "real":
		return "real", dbtypes.Float{Bits: 24}, true
	case "double precision":
		return "double precision", dbtypes.Float{Bits: 53}, true
	case "date":
		return "date", dbtypes.Date{}, true
	case "time without time zone":
		return "time", dbtypes.Time{Precision: p}, true
	case "time with time zone":
		return "timetz", dbtypes.Time{Precision: p}, true
	case "timestamp without time zone":
		return "timestamp", dbtypes.DateTime{Precision: p}, true
	case "timestamp with time zone":
		return "timestamptz", dbtypes.DateTime{Precision: p}, true
	}
	if name, ok := passthroughTypes[typeName]; ok {
		return name, nil, true
	}
	return "", nil, false
}

func value(row *datasource.Row, key string) any {
	v, _ := row.Get(key)
	return v
}

func str(row *datasource.Row, key string) string {
	return cast.ToString(value(row, key))
}

func boolean(row *datasource.Row, key string) bool {
	return cast.ToBool(value(row, key))
}

func intPtr(row *datasource.Row, key string) *int {
	v := value(row, key)
	if v == nil {
		return nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return nil
	}
	return &n
}
