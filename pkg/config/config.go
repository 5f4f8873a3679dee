package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/models"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

// Config holds all configuration for pgharmony.
// Configuration can come from a YAML file or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	Log LogConfig `yaml:"log"`

	// Database is the target PostgreSQL server
	Database DatabaseConfig `yaml:"database"`

	// Datasource connection pool management
	Datasource DatasourceConfig `yaml:"datasource"`

	// Options control the execution envelope
	Options OptionsConfig `yaml:"options"`

	// Module is the context descriptors are compiled in
	Module ModuleConfig `yaml:"module"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level       string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Development bool   `yaml:"development" env:"LOG_DEVELOPMENT" env-default:"false"`
}

// DatabaseConfig holds PostgreSQL connection settings. ConnString, when set,
// takes precedence over the individual fields.
type DatabaseConfig struct {
	Host       string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port       int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User       string `yaml:"user" env:"PGUSER" env-default:"postgres"`
	Password   string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database   string `yaml:"database" env:"PGDATABASE" env-default:"postgres"`
	SSLMode    string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"require"`
	ConnString string `yaml:"-" env:"DATABASE_URL"` // May embed a password - not in YAML
	// PreSQL is prepended to every statement run outside a transaction and
	// to every transaction start.
	PreSQL string `yaml:"presql" env:"PGHARMONY_PRESQL"`
}

// DatasourceConfig holds connection pool management settings.
type DatasourceConfig struct {
	// ConnectionTTLMinutes is how long idle pools are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"5"`
	// MaxPools limits the number of distinct connection strings pooled at once.
	MaxPools int `yaml:"max_pools" env:"DATASOURCE_MAX_POOLS" env-default:"32"`
	// PoolMaxConns is the maximum number of connections per pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"10"`
	// PoolMinConns is the minimum number of connections per pool.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"DATASOURCE_POOL_MIN_CONNS" env-default:"1"`
}

// OptionsConfig mirrors the per-connection execution options.
type OptionsConfig struct {
	Pooled           bool `yaml:"pooled" env:"PGHARMONY_POOLED" env-default:"false"`
	CommitOnWarning  bool `yaml:"commit_on_warning" env:"PGHARMONY_COMMIT_ON_WARNING" env-default:"false"`
	WarningsAsErrors bool `yaml:"warnings_as_errors" env:"PGHARMONY_WARNINGS_AS_ERRORS" env-default:"false"`
	ShowSQLExcerpt   bool `yaml:"show_sql_excerpt" env:"PGHARMONY_SHOW_SQL_EXCERPT" env-default:"true"`
	AuditInjection   bool `yaml:"audit_injection" env:"PGHARMONY_AUDIT_INJECTION" env-default:"false"`
}

// ModuleConfig is the schema context of compiled objects.
type ModuleConfig struct {
	Schema        string `yaml:"schema" env:"PGHARMONY_SCHEMA" env-default:""`
	FactorySchema string `yaml:"factory_schema" env:"PGHARMONY_FACTORY_SCHEMA" env-default:"jsharmony"`
	// DataDir receives the file attachments of seed rows
	DataDir string `yaml:"data_dir" env:"PGHARMONY_DATA_DIR" env-default:"data"`
	// Map renames the code registry tables.
	Map map[string]string `yaml:"map"`
}

var registryKeys = map[string]bool{"code_sys": true, "code_app": true, "code2_sys": true, "code2_app": true}

var sslModes = map[string]bool{
	"disable": true, "allow": true, "prefer": true, "require": true, "verify-ca": true, "verify-full": true,
}

// Load reads configuration from path with environment variable overrides.
// When path is empty, DefaultPath is used if it exists; otherwise only the
// environment is read. An explicit path must exist.
func Load(path, version string) (*Config, error) {
	cfg := &Config{Version: version}

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	case explicit || !errors.Is(statErr, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read %s: %w", path, statErr)
	default:
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks values cleanenv cannot.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.ConnString == "" {
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Errorf("database port %d out of range", c.Database.Port))
		}
		if !sslModes[c.Database.SSLMode] {
			errs = append(errs, fmt.Errorf("unknown ssl_mode %q", c.Database.SSLMode))
		}
	}
	if c.Datasource.MaxPools < 1 {
		errs = append(errs, fmt.Errorf("datasource max_pools must be positive"))
	}
	if c.Datasource.PoolMinConns > c.Datasource.PoolMaxConns {
		errs = append(errs, fmt.Errorf("datasource pool_min_conns (%d) exceeds pool_max_conns (%d)",
			c.Datasource.PoolMinConns, c.Datasource.PoolMaxConns))
	}

	var unknown []string
	for k := range c.Module.Map {
		if !registryKeys[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		errs = append(errs, fmt.Errorf("unknown module map keys: %s", strings.Join(unknown, ", ")))
	}
	return errors.Join(errs...)
}

// ModuleDescriptor returns the compile context of the configured module.
func (c *Config) ModuleDescriptor() *models.Module {
	m := &models.Module{
		Schema:        c.Module.Schema,
		FactorySchema: c.Module.FactorySchema,
		DataDir:       c.Module.DataDir,
	}
	if len(c.Module.Map) > 0 {
		m.Map = make(map[string]string, len(c.Module.Map))
		for k, v := range c.Module.Map {
			m.Map[k] = v
		}
	}
	return m
}
