package postgres

import (
	"fmt"
	"net/url"

	"github.com/spf13/cast"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/config"
)

// Options tune how statements run against a database.
type Options struct {
	// Pooled borrows connections from a shared pool instead of opening one
	// per statement.
	Pooled bool `yaml:"pooled"`
	// CommitOnWarning commits a transaction whose tasks failed with a
	// warning-severity error instead of rolling it back.
	CommitOnWarning bool `yaml:"commit_on_warning"`
	// WarningsAsErrors fails a statement on its first server warning.
	WarningsAsErrors bool `yaml:"warnings_as_errors"`
	// ShowSQLExcerpt adds the statement text around the error position to
	// statement errors.
	ShowSQLExcerpt bool `yaml:"show_sql_excerpt"`
	// AuditInjection logs string parameters that look like SQL injection.
	AuditInjection bool `yaml:"audit_injection"`
}

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-ca", "verify-full"
	// ConnString, when set, is used as-is instead of the fields above.
	ConnString string
	// PreSQL runs before every statement that is not part of a transaction,
	// and before "start transaction" for transactions.
	PreSQL  string
	Options Options
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "require"
}

// FromMap creates a Config from a generic config map.
func FromMap(m map[string]any) (*Config, error) {
	cfg := &Config{
		Port:    DefaultPort(),
		SSLMode: DefaultSSLMode(),
	}

	if connStr, ok := m["connection_string"].(string); ok && connStr != "" {
		cfg.ConnString = connStr
	} else {
		if host, ok := m["host"].(string); ok {
			cfg.Host = host
		} else {
			return nil, fmt.Errorf("host is required")
		}

		if user, ok := m["user"].(string); ok {
			cfg.User = user
		} else {
			return nil, fmt.Errorf("user is required")
		}

		if database, ok := m["database"].(string); ok {
			cfg.Database = database
		} else if name, ok := m["name"].(string); ok {
			cfg.Database = name
		} else {
			return nil, fmt.Errorf("database is required")
		}
	}

	if port, ok := m["port"]; ok {
		p, err := cast.ToIntE(port)
		if err != nil {
			return nil, fmt.Errorf("invalid port %v: %w", port, err)
		}
		cfg.Port = p
	}
	if password, ok := m["password"].(string); ok {
		cfg.Password = password
	}
	if sslMode, ok := m["ssl_mode"].(string); ok {
		cfg.SSLMode = sslMode
	}
	if presql, ok := m["presql"].(string); ok {
		cfg.PreSQL = presql
	}

	if opts, ok := m["options"].(map[string]any); ok {
		cfg.Options = Options{
			Pooled:           cast.ToBool(opts["pooled"]),
			CommitOnWarning:  cast.ToBool(opts["commit_on_warning"]),
			WarningsAsErrors: cast.ToBool(opts["warnings_as_errors"]),
			ShowSQLExcerpt:   cast.ToBool(opts["show_sql_excerpt"]),
			AuditInjection:   cast.ToBool(opts["audit_injection"]),
		}
	}

	return cfg, nil
}

// ConnectionString returns the connection URL for cfg.
func (cfg *Config) ConnectionString() string {
	if cfg.ConnString != "" {
		return cfg.ConnString
	}
	return buildConnectionString(cfg)
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// All user-provided fields are URL-escaped so special characters in passwords
// (e.g., @, /, #, ?) do not break URL parsing. When running in Docker,
// localhost is resolved to host.docker.internal.
func buildConnectionString(cfg *Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort()
	}

	host := config.ResolveHostForDocker(cfg.Host)

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		host,
		port,
		url.QueryEscape(cfg.Database),
		sslMode,
	)
}
