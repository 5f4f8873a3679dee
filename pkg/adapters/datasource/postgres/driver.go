package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/audit"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/logging"
	pgsql "github.com/ekaya-inc/ekaya-pgsql/pkg/sql"
)

const closeTimeout = 5 * time.Second

// Driver runs assembled statements against PostgreSQL and shapes their
// results. It is safe for concurrent use; each call acquires its own
// connection unless it runs inside a Transaction.
type Driver struct {
	connMgr   *datasource.ConnectionManager
	ownsMgr   bool
	notices   *datasource.NoticeRouter
	decoders  *DecoderTable
	assembler *pgsql.Assembler
	auditor   *audit.SecurityAuditor
	logger    *zap.Logger
}

// NewDriver creates a driver. A nil connMgr gets a private manager that
// Close shuts down; nil decoders and assembler get the defaults.
func NewDriver(connMgr *datasource.ConnectionManager, decoders *DecoderTable, assembler *pgsql.Assembler, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{
		connMgr:   connMgr,
		decoders:  decoders,
		assembler: assembler,
		auditor:   audit.NewSecurityAuditor(logger),
		logger:    logger.Named("pgsql"),
	}
	if d.connMgr == nil {
		d.connMgr = datasource.NewConnectionManager(datasource.ConnectionManagerConfig{}, logger)
		d.ownsMgr = true
	}
	d.notices = d.connMgr.Notices()
	if d.decoders == nil {
		d.decoders = NewDecoderTable()
	}
	if d.assembler == nil {
		d.assembler = pgsql.NewAssembler(nil)
	}
	return d
}

// Close closes the driver's pools if it created its own connection manager.
func (d *Driver) Close() error {
	if d.ownsMgr {
		return d.connMgr.Close()
	}
	return nil
}

// session is an acquired connection and the func that gives it back.
type session struct {
	conn    *pgconn.PgConn
	release func()
}

func (d *Driver) connect(ctx context.Context, cfg *Config) (*session, error) {
	connStr := cfg.ConnectionString()

	if cfg.Options.Pooled {
		pool, err := d.connMgr.GetOrCreatePool(ctx, connStr, nil)
		if err != nil {
			return nil, &apperrors.ConnectionError{Err: err}
		}
		pc, err := pool.Acquire(ctx)
		if err != nil {
			d.logger.Error("Failed to acquire pooled connection", zap.String("error", logging.SanitizeError(err)))
			return nil, &apperrors.ConnectionError{Err: err}
		}
		return &session{conn: pc.Conn().PgConn(), release: pc.Release}, nil
	}

	pgCfg, err := pgconn.ParseConfig(connStr)
	if err != nil {
		return nil, &apperrors.ConnectionError{Err: fmt.Errorf("failed to parse connection string: %w", err)}
	}
	pgCfg.OnNotice = d.notices.Handle

	conn, err := pgconn.ConnectConfig(ctx, pgCfg)
	if err != nil {
		d.logger.Error("Failed to connect", zap.String("error", logging.SanitizeError(err)))
		return nil, &apperrors.ConnectionError{Err: err}
	}
	return &session{
		conn: conn,
		release: func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			_ = conn.Close(closeCtx)
		},
	}, nil
}

// Exec assembles stmt and runs it, on tx's connection when tx is set.
// cfg.PreSQL is prepended only outside transactions.
func (d *Driver) Exec(ctx context.Context, tx *Transaction, cfg *Config, mode datasource.ReturnMode, stmt pgsql.Statement) (*datasource.ResultEnvelope, error) {
	if cfg == nil {
		return nil, apperrors.Configf("", apperrors.ErrConfigRequired, "database config is required")
	}
	if !mode.Valid() {
		return nil, apperrors.Configf("", nil, "unknown return mode %q", mode)
	}
	if tx != nil && tx.config != cfg {
		return nil, apperrors.Configf("", apperrors.ErrCrossConnectionTx, "transaction cannot span multiple database connections")
	}

	if tx == nil {
		stmt.PreSQL = cfg.PreSQL + stmt.PreSQL
	}
	if cfg.Options.AuditInjection {
		d.auditParameters(stmt, tx)
	}
	text, err := d.assembler.Assemble(stmt)
	if err != nil {
		return nil, err
	}

	var conn *pgconn.PgConn
	if tx != nil {
		if conn, err = tx.activeConn(); err != nil {
			return nil, err
		}
	} else {
		sess, err := d.connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		defer sess.release()
		conn = sess.conn
	}

	return d.run(ctx, conn, cfg, mode, text)
}

// Row returns the first row of the first row-returning statement.
func (d *Driver) Row(ctx context.Context, tx *Transaction, cfg *Config, stmt pgsql.Statement) (*datasource.ResultEnvelope, error) {
	return d.Exec(ctx, tx, cfg, datasource.ReturnRow, stmt)
}

// Recordset returns the rows of the first row-returning statement.
func (d *Driver) Recordset(ctx context.Context, tx *Transaction, cfg *Config, stmt pgsql.Statement) (*datasource.ResultEnvelope, error) {
	return d.Exec(ctx, tx, cfg, datasource.ReturnRecordset, stmt)
}

// MultiRecordset returns one row list per row-returning statement.
func (d *Driver) MultiRecordset(ctx context.Context, tx *Transaction, cfg *Config, stmt pgsql.Statement) (*datasource.ResultEnvelope, error) {
	return d.Exec(ctx, tx, cfg, datasource.ReturnMultiRecordset, stmt)
}

// Scalar returns the first column of the first row.
func (d *Driver) Scalar(ctx context.Context, tx *Transaction, cfg *Config, stmt pgsql.Statement) (*datasource.ResultEnvelope, error) {
	return d.Exec(ctx, tx, cfg, datasource.ReturnScalar, stmt)
}

// Command runs stmt for its side effects.
func (d *Driver) Command(ctx context.Context, tx *Transaction, cfg *Config, stmt pgsql.Statement) (*datasource.ResultEnvelope, error) {
	return d.Exec(ctx, tx, cfg, datasource.ReturnCommand, stmt)
}

// run sends text with the simple query protocol so a batch returns one
// result per statement, collecting the notices raised meanwhile.
func (d *Driver) run(ctx context.Context, conn *pgconn.PgConn, cfg *Config, mode datasource.ReturnMode, text string) (*datasource.ResultEnvelope, error) {
	diag := &diagnostics{}
	detach := d.notices.Attach(conn, diag.add)
	results, err := conn.Exec(ctx, text).ReadAll()
	detach()

	if err != nil {
		return nil, d.statementError(cfg, text, err)
	}

	sets, err := d.decodeResults(results)
	if err != nil {
		return nil, err
	}

	env := datasource.Shape(mode, sets)
	env.Notices, env.Warnings = diag.snapshot()
	for _, r := range results {
		env.RowsAffected += r.CommandTag.RowsAffected()
	}

	for _, w := range env.Warnings {
		d.logger.Warn("Server warning",
			zap.String("code", w.Code),
			zap.String("message", w.Message),
		)
	}
	if cfg.Options.WarningsAsErrors && len(env.Warnings) > 0 {
		return env, env.Warnings[0]
	}
	return env, nil
}

// control runs transaction control statements. Their diagnostics are
// logged but never escalated.
func (d *Driver) control(ctx context.Context, conn *pgconn.PgConn, cfg *Config, text string) error {
	diag := &diagnostics{}
	detach := d.notices.Attach(conn, diag.add)
	_, err := conn.Exec(ctx, text).ReadAll()
	detach()

	if err != nil {
		return d.statementError(cfg, text, err)
	}
	if _, warnings := diag.snapshot(); len(warnings) > 0 {
		d.logger.Warn("Server warning", zap.String("statement", text), zap.String("message", warnings[0].Message))
	}
	return nil
}

func (d *Driver) statementError(cfg *Config, text string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		d.logger.Debug("Statement failed",
			zap.String("code", pgErr.Code),
			zap.String("severity", pgErr.Severity),
			zap.String("sql", logging.SanitizeQuery(text)),
		)
		return apperrors.NewStatementError(pgErr, text, cfg.Options.ShowSQLExcerpt)
	}
	d.logger.Error("Statement execution failed", zap.String("error", logging.SanitizeError(err)))
	return fmt.Errorf("failed to execute statement: %w", err)
}

// decodeResults keeps the results that describe rows; SET and other
// statements without a row description are skipped.
func (d *Driver) decodeResults(results []*pgconn.Result) ([]datasource.ResultSet, error) {
	var sets []datasource.ResultSet
	for _, r := range results {
		if len(r.FieldDescriptions) == 0 {
			continue
		}

		columns := make([]datasource.ColumnInfo, len(r.FieldDescriptions))
		for i, fd := range r.FieldDescriptions {
			columns[i] = datasource.ColumnInfo{Name: fd.Name, OID: fd.DataTypeOID}
		}

		rows := make([]*datasource.Row, 0, len(r.Rows))
		for _, raw := range r.Rows {
			row := datasource.NewRow()
			for i, fd := range r.FieldDescriptions {
				v, err := d.decoders.Decode(fd.DataTypeOID, raw[i])
				if err != nil {
					return nil, fmt.Errorf("failed to decode column %s: %w", fd.Name, err)
				}
				row.Set(fd.Name, v)
			}
			rows = append(rows, row)
		}
		sets = append(sets, datasource.ResultSet{Columns: columns, Rows: rows})
	}
	return sets, nil
}

// auditParameters reports string parameters libinjection flags. Values are
// always escaped, so this never blocks execution.
func (d *Driver) auditParameters(stmt pgsql.Statement, tx *Transaction) {
	var txID uuid.UUID
	if tx != nil {
		txID = tx.ID
	}
	for _, r := range pgsql.CheckAllParameters(stmt.Params) {
		d.auditor.LogInjectionAttempt(stmt.Context, txID, audit.SQLInjectionDetails{
			ParamName:   r.ParamName,
			ParamValue:  fmt.Sprint(r.ParamValue),
			Fingerprint: r.Fingerprint,
		})
	}
}
