package cli

import (
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/database"
)

func newBootstrapCommand() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Install the code registry in the configured database",
		Long: `Create the ` + database.RegistrySchema + ` schema with its code registry tables and the
create_code functions that compiled code tables call. Running it again is a
no-op. --down removes everything it installed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := getApp(cmd.Context())
			db, err := database.Open(cmd.Context(), a.dbConfig().ConnectionString())
			if err != nil {
				return err
			}
			// The migration runner closes db.
			if down {
				return database.RollbackMigrations(db, a.logger)
			}
			return database.RunMigrations(db, a.logger)
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "remove the code registry")
	return cmd
}
