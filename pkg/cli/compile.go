package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/ddl"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/models"
)

// seedSets maps --set values to seed row sets.
var seedSets = map[string]ddl.SeedSet{
	ddl.SeedInit.String():     ddl.SeedInit,
	ddl.SeedInitData.String(): ddl.SeedInitData,
	ddl.SeedSample.String():   ddl.SeedSample,
}

func newCompileCommand() *cobra.Command {
	var apply, watch bool

	cmd := &cobra.Command{
		Use:   "compile <path>...",
		Short: "Compile object descriptors to DDL",
		Long: `Compile YAML object descriptors into table, view and code table DDL,
their init rows and their trigger functions.

Paths may be descriptor files or directories; directories are read in file
name order. The SQL is printed unless --apply is given.`,
		Example: `  # Print the DDL for every descriptor in ./objects
  pgharmony compile ./objects

  # Create the objects in the configured database
  pgharmony compile --apply ./objects

  # Recreate on every change
  pgharmony compile --apply --watch ./objects`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch && !apply {
				return fmt.Errorf("--watch requires --apply")
			}
			a := getApp(cmd.Context())
			run := func() error {
				return a.runScripts(cmd, args, apply, "", false, func(c *ddl.Compiler, obj *models.ObjectDescriptor) (string, error) {
					return c.Compile(obj)
				})
			}
			if err := run(); err != nil {
				return err
			}
			if watch {
				return watchDescriptors(cmd.Context(), a.logger, args, func() error {
					if err := a.runScripts(cmd, args, true, a.compiler().SearchPath(), true, dropScript); err != nil {
						return err
					}
					return run()
				})
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "run the SQL against the configured database")
	cmd.Flags().BoolVar(&watch, "watch", false, "drop and recreate the objects when a descriptor changes")
	return cmd
}

func newDropCommand() *cobra.Command {
	var apply bool

	cmd := &cobra.Command{
		Use:   "drop <path>...",
		Short: "Generate SQL removing compiled objects",
		Long: `Generate SQL removing the triggers, objects and code registry entries
created by compile. Objects are dropped in reverse order.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp(cmd.Context())
			return a.runScripts(cmd, args, apply, a.compiler().SearchPath(), true, dropScript)
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "run the SQL against the configured database")
	return cmd
}

func dropScript(c *ddl.Compiler, obj *models.ObjectDescriptor) (string, error) {
	return c.Drop(obj)
}

func newSeedCommand() *cobra.Command {
	var (
		apply bool
		set   string
	)

	cmd := &cobra.Command{
		Use:   "seed <path>...",
		Short: "Generate idempotent inserts for descriptor seed rows",
		Long: `Generate inserts for one row set of each descriptor. Every insert is
guarded by a key lookup, so seeding twice leaves a single copy of each row.`,
		Example: `  # Print the sample rows
  pgharmony seed --set sample_data ./objects

  # Load the reference rows
  pgharmony seed --apply ./objects`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seedSet, ok := seedSets[set]
			if !ok {
				return fmt.Errorf("unknown seed set %q (want init, init_data or sample_data)", set)
			}
			a := getApp(cmd.Context())
			return a.runScripts(cmd, args, apply, a.compiler().SearchPath(), false, func(c *ddl.Compiler, obj *models.ObjectDescriptor) (string, error) {
				return c.Seed(obj, seedSet)
			})
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "run the SQL against the configured database")
	cmd.Flags().StringVar(&set, "set", ddl.SeedInitData.String(), "row set to seed (init|init_data|sample_data)")
	_ = cmd.RegisterFlagCompletionFunc("set", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"init", "init_data", "sample_data"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create or drop the module schema",
	}

	for _, sub := range []struct {
		use, short string
		gen        func(c *ddl.Compiler) string
	}{
		{"init", "Create the module schema", (*ddl.Compiler).InitSchema},
		{"drop", "Drop the module schema", (*ddl.Compiler).DropSchema},
	} {
		var apply bool
		subCmd := &cobra.Command{
			Use:   sub.use,
			Short: sub.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a := getApp(cmd.Context())
				sql := sub.gen(a.compiler())
				if sql == "" {
					return fmt.Errorf("no module schema configured (set --schema or PGHARMONY_SCHEMA)")
				}
				scripts := []script{{Object: a.cfg.Module.Schema, SQL: sql}}
				if apply {
					return a.applyScripts(cmd.Context(), "", scripts)
				}
				return writeScripts(cmd.OutOrStdout(), scripts)
			},
		}
		subCmd.Flags().BoolVar(&apply, "apply", false, "run the SQL against the configured database")
		cmd.AddCommand(subCmd)
	}
	return cmd
}

// runScripts loads the descriptors under paths, generates SQL for each and
// prints or applies it.
func (a *app) runScripts(cmd *cobra.Command, paths []string, apply bool, prefix string, reverse bool, gen scriptFunc) error {
	objs, err := loadObjects(paths)
	if err != nil {
		return err
	}
	scripts, err := buildScripts(a.compiler(), objs, gen)
	if err != nil {
		return err
	}
	if reverse {
		scripts = reversed(scripts)
	}
	if apply {
		return a.applyScripts(cmd.Context(), prefix, scripts)
	}
	if prefix != "" && len(scripts) > 0 {
		if _, err := fmt.Fprint(cmd.OutOrStdout(), prefix); err != nil {
			return err
		}
	}
	return writeScripts(cmd.OutOrStdout(), scripts)
}
