// Package cli provides the pgharmony command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/config"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/ddl"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/logging"
)

// appKey is used to store the app in the command context.
type appKey struct{}

// app is the per-invocation state shared by subcommands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCmd creates the root command.
func NewRootCmd(version string) *cobra.Command {
	var (
		cfgFile  string
		logLevel string
		schema   string
	)

	rootCmd := &cobra.Command{
		Use:   "pgharmony",
		Short: "pgharmony - PostgreSQL schema compiler and runner",
		Long: `pgharmony compiles YAML object descriptors into PostgreSQL DDL, trigger
functions and idempotent seed data, and runs the result against a database.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}

			cfg, err := config.Load(cfgFile, version)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if cmd.Flags().Changed("schema") {
				cfg.Module.Schema = schema
			}

			logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return err
			}
			logger.Debug("Configuration loaded",
				zap.String("env", cfg.Env),
				zap.String("database", cfg.Database.Database),
				zap.String("schema", cfg.Module.Schema))

			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, &app{cfg: cfg, logger: logger}))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a := getApp(cmd.Context()); a != nil {
				_ = a.logger.Sync()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./"+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&schema, "schema", "", "module schema objects are compiled into")

	rootCmd.AddCommand(newVersionCommand(version))
	rootCmd.AddCommand(newCompileCommand())
	rootCmd.AddCommand(newDropCommand())
	rootCmd.AddCommand(newSeedCommand())
	rootCmd.AddCommand(newSchemaCommand())
	rootCmd.AddCommand(newBootstrapCommand())
	rootCmd.AddCommand(newCatalogCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", logging.SanitizeError(err))
		return err
	}
	return nil
}

func getApp(ctx context.Context) *app {
	if ctx == nil {
		return nil
	}
	a, _ := ctx.Value(appKey{}).(*app)
	return a
}

func (a *app) compiler() *ddl.Compiler {
	return ddl.NewCompiler(a.cfg.ModuleDescriptor(), a.logger)
}

// dbConfig converts the configured target into driver options.
func (a *app) dbConfig() *postgres.Config {
	db := a.cfg.Database
	opts := a.cfg.Options
	return &postgres.Config{
		Host:       config.ResolveHostForDocker(db.Host),
		Port:       db.Port,
		User:       db.User,
		Password:   db.Password,
		Database:   db.Database,
		SSLMode:    db.SSLMode,
		ConnString: db.ConnString,
		PreSQL:     db.PreSQL,
		Options: postgres.Options{
			Pooled:           opts.Pooled,
			CommitOnWarning:  opts.CommitOnWarning,
			WarningsAsErrors: opts.WarningsAsErrors,
			ShowSQLExcerpt:   opts.ShowSQLExcerpt,
			AuditInjection:   opts.AuditInjection,
		},
	}
}

// driver returns a driver and the func that shuts down its pools.
func (a *app) driver() (*postgres.Driver, func()) {
	ds := a.cfg.Datasource
	connMgr := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:   ds.ConnectionTTLMinutes,
		MaxPools:     ds.MaxPools,
		PoolMaxConns: ds.PoolMaxConns,
		PoolMinConns: ds.PoolMinConns,
	}, a.logger)
	return postgres.NewDriver(connMgr, nil, nil, a.logger), func() {
		stats := connMgr.GetStats()
		a.logger.Debug("Closing connection pools",
			zap.Int("pools", stats.TotalPools),
			zap.Int("acquired_conns", stats.AcquiredConns),
			zap.Int("idle_conns", stats.IdleConns))
		if err := connMgr.Close(); err != nil {
			a.logger.Warn("Failed to close connection pools", zap.Error(err))
		}
	}
}
