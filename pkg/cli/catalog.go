package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/database"
)

// catalogReport is everything the catalog command prints.
type catalogReport struct {
	Tables      []datasource.TableMetadata
	Columns     []datasource.ColumnMetadata
	ForeignKeys []datasource.ForeignKeyMetadata
	Messages    []string
}

func newCatalogCommand() *cobra.Command {
	var columns, foreignKeys bool

	cmd := &cobra.Command{
		Use:   "catalog [schema.]table",
		Short: "List tables, columns and foreign keys of the database",
		Long: `Read table, column and foreign key metadata from the configured database.
Without an argument every user table and view is listed; with one, only that
table is described. An unqualified table name is looked up in public.`,
		Example: `  # List tables
  pgharmony catalog

  # Describe one table
  pgharmony catalog --columns --fks app.cust`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp(cmd.Context())

			var ref *datasource.TableRef
			if len(args) == 1 {
				ref = parseTableRef(args[0])
			}

			driver, closeDriver := a.driver()
			defer closeDriver()
			catalog := postgres.NewCatalog(driver, a.dbConfig(), "information_schema", "pg_catalog", "pg_toast", database.RegistrySchema)

			report, err := discover(cmd, catalog, ref, columns, foreignKeys)
			if err != nil {
				return err
			}
			for _, msg := range report.Messages {
				a.logger.Warn(msg)
			}
			a.logger.Debug("Catalog read",
				zap.Int("tables", len(report.Tables)),
				zap.Int("columns", len(report.Columns)),
				zap.Int("foreign_keys", len(report.ForeignKeys)))
			return renderCatalog(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().BoolVar(&columns, "columns", false, "include columns")
	cmd.Flags().BoolVar(&foreignKeys, "fks", false, "include foreign keys")
	return cmd
}

// parseTableRef splits "schema.table"; a bare name has no schema.
func parseTableRef(s string) *datasource.TableRef {
	if schema, name, ok := strings.Cut(s, "."); ok {
		return &datasource.TableRef{Schema: schema, Name: name}
	}
	return &datasource.TableRef{Name: s}
}

// discover runs the requested catalog queries concurrently.
func discover(cmd *cobra.Command, catalog datasource.SchemaDiscoverer, ref *datasource.TableRef, columns, foreignKeys bool) (*catalogReport, error) {
	report := &catalogReport{}
	var colMessages, fkMessages []string

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		var err error
		report.Tables, _, err = catalog.DiscoverTables(ctx, ref)
		return err
	})
	if columns {
		g.Go(func() error {
			var err error
			report.Columns, colMessages, err = catalog.DiscoverColumns(ctx, ref)
			return err
		})
	}
	if foreignKeys {
		g.Go(func() error {
			var err error
			report.ForeignKeys, fkMessages, err = catalog.DiscoverForeignKeys(ctx, ref)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Messages = append(colMessages, fkMessages...)
	return report, nil
}

func renderCatalog(w io.Writer, report *catalogReport) error {
	if len(report.Tables) == 0 {
		_, err := fmt.Fprintln(w, "(0 tables)")
		return err
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Model", "Schema", "Table", "Type", "Description"})
	for _, tbl := range report.Tables {
		t.AppendRow(table.Row{tbl.ModelName, tbl.SchemaName, tbl.TableName, tbl.TableType, tbl.Description})
	}
	t.Render()

	if len(report.Columns) > 0 {
		t := newTable(w)
		t.AppendHeader(table.Row{"Table", "Column", "Type", "Null", "PK", "Read only", "Default"})
		for _, col := range report.Columns {
			t.AppendRow(table.Row{
				col.SchemaName + "." + col.TableName,
				col.ColumnName,
				col.DataType,
				yesNo(col.IsNullable),
				yesNo(col.IsPrimaryKey),
				yesNo(col.IsReadOnly),
				deref(col.DefaultValue),
			})
		}
		t.Render()
	}

	if len(report.ForeignKeys) > 0 {
		t := newTable(w)
		t.AppendHeader(table.Row{"Constraint", "Source", "Target"})
		for _, fk := range report.ForeignKeys {
			t.AppendRow(table.Row{
				fk.ConstraintName,
				fk.SourceSchema + "." + fk.SourceTable + "." + fk.SourceColumn,
				fk.TargetSchema + "." + fk.TargetTable + "." + fk.TargetColumn,
			})
		}
		t.Render()
	}
	return nil
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
