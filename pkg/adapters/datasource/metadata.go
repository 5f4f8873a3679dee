package datasource

import "github.com/ekaya-inc/ekaya-pgsql/pkg/dbtypes"

// TableRef narrows catalog discovery to one table. Empty fields match any
// schema or table.
type TableRef struct {
	Schema string
	Name   string
}

// TableMetadata represents a discovered table or view.
type TableMetadata struct {
	SchemaName  string `json:"schema_name"`
	TableName   string `json:"table_name"`
	Description string `json:"description,omitempty"`
	// TableType is "table" or "view".
	TableType string `json:"table_type"`
	// ModelName is the name a descriptor for this table would carry:
	// schema-qualified unless the table is in the default schema.
	ModelName string `json:"model_name"`
}

// ColumnMetadata represents a discovered column.
type ColumnMetadata struct {
	SchemaName  string `json:"schema_name"`
	TableName   string `json:"table_name"`
	ColumnName  string `json:"column_name"`
	DataType    string `json:"data_type"`
	Description string `json:"description,omitempty"`
	// Type is nil for server types outside the logical type set; DataType
	// still names them.
	Type            dbtypes.LogicalType `json:"-"`
	Length          *int                `json:"length,omitempty"`
	Precision       *int                `json:"precision,omitempty"`
	Scale           *int                `json:"scale,omitempty"`
	IsNullable      bool                `json:"is_nullable"`
	IsPrimaryKey    bool                `json:"is_primary_key"`
	IsReadOnly      bool                `json:"is_read_only"`
	OrdinalPosition int                 `json:"ordinal_position"`
	DefaultValue    *string             `json:"default_value,omitempty"`
}

// ForeignKeyMetadata represents one column pair of a foreign key constraint.
type ForeignKeyMetadata struct {
	ConstraintName string `json:"constraint_name"`
	SourceSchema   string `json:"source_schema"`
	SourceTable    string `json:"source_table"`
	SourceColumn   string `json:"source_column"`
	TargetSchema   string `json:"target_schema"`
	TargetTable    string `json:"target_table"`
	TargetColumn   string `json:"target_column"`
}
