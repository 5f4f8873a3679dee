package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/apperrors"
	pgsql "github.com/ekaya-inc/ekaya-pgsql/pkg/sql"
)

// ErrTransactionClosed is returned when a Transaction is used after its
// commit or rollback.
var ErrTransactionClosed = errors.New("transaction is closed")

// Transaction is a handle on one connection with an open transaction. It is
// only valid inside the TransTaskFunc it was passed to and must not be used
// from several goroutines at once.
type Transaction struct {
	ID     uuid.UUID
	driver *Driver
	config *Config
	conn   *pgconn.PgConn
	closed atomic.Bool
}

// Config returns the configuration the transaction was opened with.
func (t *Transaction) Config() *Config { return t.config }

// Exec runs stmt inside the transaction.
func (t *Transaction) Exec(ctx context.Context, mode datasource.ReturnMode, stmt pgsql.Statement) (*datasource.ResultEnvelope, error) {
	return t.driver.Exec(ctx, t, t.config, mode, stmt)
}

func (t *Transaction) activeConn() (*pgconn.PgConn, error) {
	if t.closed.Load() {
		return nil, ErrTransactionClosed
	}
	return t.conn, nil
}

// TransTaskFunc is the work run inside a transaction.
type TransTaskFunc func(ctx context.Context, tx *Transaction) (any, error)

// ExecTransTasks opens a transaction on a fresh connection, runs tasks and
// then commits or rolls back exactly once:
//   - tasks succeed: commit and return their result.
//   - tasks fail with a warning and cfg.Options.CommitOnWarning is set:
//     commit, then return the result with the warning.
//   - otherwise: roll back and return the task error. A failed rollback is
//     returned as a TransactionAbortError carrying both errors.
func (d *Driver) ExecTransTasks(ctx context.Context, cfg *Config, tasks TransTaskFunc) (any, error) {
	if cfg == nil {
		return nil, apperrors.Configf("", apperrors.ErrConfigRequired, "database config is required")
	}
	if tasks == nil {
		return nil, apperrors.Configf("", nil, "transaction tasks are required")
	}

	sess, err := d.connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer sess.release()

	tx := &Transaction{ID: uuid.New(), driver: d, config: cfg, conn: sess.conn}
	logger := d.logger.With(zap.String("tx", tx.ID.String()))

	if err := d.control(ctx, tx.conn, cfg, cfg.PreSQL+"start transaction"); err != nil {
		return nil, err
	}
	logger.Debug("Transaction started")

	result, taskErr := tasks(ctx, tx)
	tx.closed.Store(true)

	// Commit and rollback must run even if ctx was cancelled by the tasks.
	endCtx := context.WithoutCancel(ctx)

	if taskErr == nil {
		if err := d.control(endCtx, tx.conn, cfg, "commit transaction"); err != nil {
			return nil, err
		}
		logger.Debug("Transaction committed")
		return result, nil
	}

	if cfg.Options.CommitOnWarning && apperrors.IsWarning(taskErr) {
		if err := d.control(endCtx, tx.conn, cfg, "commit transaction"); err != nil {
			return nil, err
		}
		logger.Debug("Transaction committed with warning", zap.Error(taskErr))
		return result, taskErr
	}

	if err := d.control(endCtx, tx.conn, cfg, "rollback transaction"); err != nil {
		logger.Error("Rollback failed", zap.Error(err))
		d.auditor.LogTransactionAbort(tx.ID, taskErr, err)
		return nil, &apperrors.TransactionAbortError{Cause: taskErr, RollbackErr: err}
	}
	logger.Debug("Transaction rolled back", zap.Error(taskErr))
	return nil, taskErr
}

// NamedTask is one step of a Series.
type NamedTask struct {
	Name string
	Run  TransTaskFunc
}

// TaskResults maps task names to their results in execution order.
type TaskResults = orderedmap.OrderedMap[string, any]

// Series runs tasks one after another on the same transaction and returns a
// *TaskResults. It stops at the first error; the results gathered so far,
// including a value returned with the error, are still returned. Unnamed
// tasks are keyed by their index.
func Series(tasks ...NamedTask) TransTaskFunc {
	return func(ctx context.Context, tx *Transaction) (any, error) {
		results := orderedmap.New[string, any]()
		for i, task := range tasks {
			name := task.Name
			if name == "" {
				name = strconv.Itoa(i)
			}
			v, err := task.Run(ctx, tx)
			if v != nil {
				results.Set(name, v)
			}
			if err != nil {
				return results, fmt.Errorf("task %s: %w", name, err)
			}
		}
		return results, nil
	}
}

// StatementTask adapts a statement to a NamedTask.
func StatementTask(name string, mode datasource.ReturnMode, stmt pgsql.Statement) NamedTask {
	return NamedTask{
		Name: name,
		Run: func(ctx context.Context, tx *Transaction) (any, error) {
			env, err := tx.Exec(ctx, mode, stmt)
			if env == nil {
				return nil, err
			}
			return env, err
		},
	}
}
