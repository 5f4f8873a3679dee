package datasource

import "context"

// SchemaDiscoverer reads table, column and foreign key metadata from the
// server catalog. Each method also returns the non-fatal messages produced
// while mapping the catalog, such as skipped columns of unsupported types.
type SchemaDiscoverer interface {
	// DiscoverTables returns user tables and views. A nil ref lists all of them.
	DiscoverTables(ctx context.Context, ref *TableRef) ([]TableMetadata, []string, error)

	// DiscoverColumns returns columns in ordinal order.
	DiscoverColumns(ctx context.Context, ref *TableRef) ([]ColumnMetadata, []string, error)

	// DiscoverForeignKeys returns foreign key column pairs.
	DiscoverForeignKeys(ctx context.Context, ref *TableRef) ([]ForeignKeyMetadata, []string, error)
}
