package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/ddl"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/models"
	pgsql "github.com/ekaya-inc/ekaya-pgsql/pkg/sql"
)

// scriptContext is the acting user recorded by audit columns for rows the
// command line writes.
const scriptContext = "pgharmony"

// script is the SQL generated for one object.
type script struct {
	Object string
	SQL    string
}

// scriptFunc generates SQL for one object.
type scriptFunc func(c *ddl.Compiler, obj *models.ObjectDescriptor) (string, error)

// loadObjects reads descriptors from files and directories, in argument
// order.
func loadObjects(paths []string) ([]*models.ObjectDescriptor, error) {
	var all []*models.ObjectDescriptor
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		var objs []*models.ObjectDescriptor
		if info.IsDir() {
			objs, err = models.LoadDir(p)
		} else {
			objs, err = models.LoadFile(p)
		}
		if err != nil {
			return nil, err
		}
		all = append(all, objs...)
	}
	return all, nil
}

// buildScripts runs gen over objs. Objects that generate no SQL are left out.
func buildScripts(c *ddl.Compiler, objs []*models.ObjectDescriptor, gen scriptFunc) ([]script, error) {
	scripts := make([]script, 0, len(objs))
	for _, obj := range objs {
		sql, err := gen(c, obj)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", obj.Name, err)
		}
		if sql == "" {
			continue
		}
		scripts = append(scripts, script{Object: obj.Name, SQL: sql})
	}
	return scripts, nil
}

// reversed returns scripts in reverse order, so dependents are dropped
// before the objects they reference.
func reversed(scripts []script) []script {
	out := make([]script, len(scripts))
	for i, s := range scripts {
		out[len(scripts)-1-i] = s
	}
	return out
}

func writeScripts(w io.Writer, scripts []script) error {
	for _, s := range scripts {
		if _, err := fmt.Fprintf(w, "-- %s\n%s\n", s.Object, s.SQL); err != nil {
			return err
		}
	}
	return nil
}

// applyScripts runs scripts in one transaction. prefix is prepended to every
// script. Seed file attachments selected by the scripts are copied once the
// transaction commits.
func (a *app) applyScripts(ctx context.Context, prefix string, scripts []script) error {
	if len(scripts) == 0 {
		a.logger.Info("Nothing to apply")
		return nil
	}

	driver, closeDriver := a.driver()
	defer closeDriver()

	tasks := make([]postgres.NamedTask, 0, len(scripts))
	for _, s := range scripts {
		tasks = append(tasks, postgres.StatementTask(s.Object, datasource.ReturnMultiRecordset, pgsql.Statement{
			Context: scriptContext,
			SQL:     prefix + s.SQL,
		}))
	}

	result, err := driver.ExecTransTasks(ctx, a.dbConfig(), postgres.Series(tasks...))
	if err != nil {
		return err
	}

	var copies []fileCopy
	results, _ := result.(*postgres.TaskResults)
	if results != nil {
		for pair := results.Oldest(); pair != nil; pair = pair.Next() {
			env, ok := pair.Value.(*datasource.ResultEnvelope)
			if !ok {
				continue
			}
			a.logger.Debug("Applied",
				zap.String("object", pair.Key),
				zap.Int64("rows_affected", env.RowsAffected),
				zap.Int("notices", len(env.Notices)))
			copies = append(copies, collectFileCopies(env)...)
		}
	}
	a.logger.Info("Applied scripts", zap.Int("count", len(scripts)))

	for _, fc := range copies {
		if err := fc.run(); err != nil {
			return err
		}
		a.logger.Debug("Copied seed file", zap.String("src", fc.src), zap.String("dst", fc.dst))
	}
	return nil
}
