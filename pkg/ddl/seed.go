package ddl

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/models"
	pgsql "github.com/ekaya-inc/ekaya-pgsql/pkg/sql"
)

// SeedSet selects which rows of a descriptor Seed emits.
type SeedSet int

const (
	SeedInit SeedSet = iota
	SeedInitData
	SeedSample
)

func (s SeedSet) String() string {
	switch s {
	case SeedInit:
		return "init"
	case SeedInitData:
		return "init_data"
	case SeedSample:
		return "sample_data"
	}
	return fmt.Sprintf("SeedSet(%d)", int(s))
}

// CopyFileMarker opens the marker a seed script selects for each file
// attachment: %%%copy_file:<source>><destination>%%%. The caller running the
// script copies the files.
const CopyFileMarker = "%%%copy_file:"

// Seed returns idempotent inserts for one row set of obj.
func (c *Compiler) Seed(obj *models.ObjectDescriptor, set SeedSet) (string, error) {
	if obj == nil {
		return "", apperrors.Configf("", nil, "object descriptor is required")
	}
	var rows models.SeedRows
	switch set {
	case SeedInit:
		rows = obj.Init
	case SeedInitData:
		rows = obj.InitData
	case SeedSample:
		rows = obj.SampleData
	default:
		return "", apperrors.Configf(obj.Name, nil, "unknown seed set %s", set)
	}
	out, err := c.seedRows(obj, rows)
	if err != nil {
		return "", err
	}
	return c.resolve(out), nil
}

// checkSeedKeys rejects tables with seed rows that can match existing rows
// by neither primary key nor data_keys.
func checkSeedKeys(obj *models.ObjectDescriptor) error {
	if obj.Kind == models.KindTable && obj.HasSeedRows() && len(obj.PrimaryKeys()) == 0 && len(obj.DataKeys) == 0 {
		return apperrors.Configf(obj.Name, apperrors.ErrMissingPrimaryKey,
			"cannot seed rows: table has no primary key and no data_keys")
	}
	return nil
}

func (c *Compiler) seedRows(obj *models.ObjectDescriptor, rows models.SeedRows) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}
	if err := checkSeedKeys(obj); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, row := range rows {
		stmt, err := c.seedRow(obj, row)
		if err != nil {
			return "", err
		}
		sb.WriteString(stmt)
	}
	return sb.String(), nil
}

func (c *Compiler) seedRow(obj *models.ObjectDescriptor, row *models.Row) (string, error) {
	if row == nil || row.Len() == 0 {
		return "", nil
	}
	table := c.resolve(obj.Name)
	ctx := &ExpansionContext{TableName: table}

	var files *models.FileAttachments
	fields := row.Len()
	if v, ok := row.Get(models.FilesKey); ok {
		files, _ = v.(*models.FileAttachments)
		fields--
	}

	if raw, ok := row.Get("sql"); ok && fields == 1 {
		stmt := strings.TrimSpace(rawSQL(raw))
		out := ""
		if stmt != "" {
			if !strings.HasSuffix(stmt, ";") {
				stmt += ";"
			}
			expanded, err := ExpandMacros(stmt, ctx)
			if err != nil {
				return "", wrapObjectError(obj.Name, err)
			}
			out = expanded + "\n"
		}
		return out + c.fileMarkers(obj, files, ""), nil
	}

	var cols, vals []string
	values := make(map[string]any, row.Len())
	for pair := row.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == models.FilesKey {
			continue
		}
		cols = append(cols, pair.Key)
		vals = append(vals, sqlValue(pair.Value))
		values[pair.Key] = pair.Value
	}
	if len(cols) == 0 {
		return c.fileMarkers(obj, files, ""), nil
	}

	stmt := fmt.Sprintf("insert into %s(%s) select %s", table, strings.Join(cols, ","), strings.Join(vals, ","))
	var where string
	if keys := seedKeys(obj, cols, values); len(keys) > 0 {
		conds := make([]string, len(keys))
		for i, k := range keys {
			if v := values[k]; v == nil {
				conds[i] = k + " is null"
			} else {
				conds[i] = k + "=" + sqlValue(v)
			}
		}
		where = strings.Join(conds, " and ")
		stmt += fmt.Sprintf(" where not exists (select * from %s where %s)", table, where)
	}
	stmt += ";"

	out, err := ExpandMacros(stmt, ctx)
	if err != nil {
		return "", wrapObjectError(obj.Name, err)
	}
	return out + "\n" + c.fileMarkers(obj, files, where), nil
}

// fileMarkers selects one CopyFileMarker per attachment. With a row
// predicate the marker is selected from the inserted row, so {{expr}} in a
// destination can read its columns.
func (c *Compiler) fileMarkers(obj *models.ObjectDescriptor, files *models.FileAttachments, where string) string {
	if files == nil || files.Len() == 0 {
		return ""
	}
	dataDir := ""
	if c.module != nil {
		dataDir = c.module.DataDir
	}
	table := c.resolve(obj.Name)

	var sb strings.Builder
	for pair := files.Oldest(); pair != nil; pair = pair.Next() {
		src := filepath.Join(filepath.Dir(obj.Path), "data_files", pair.Key)
		dst := pgsql.Escape(filepath.Join(dataDir, pair.Value))
		dst = strings.ReplaceAll(dst, "{{", "'||")
		dst = strings.ReplaceAll(dst, "}}", "||'")

		marker := "'" + CopyFileMarker + pgsql.Escape(src) + ">" + dst + "%%%'"
		if where == "" {
			fmt.Fprintf(&sb, "select %s;\n", marker)
		} else {
			fmt.Fprintf(&sb, "select %s from %s where %s;\n", marker, table, where)
		}
	}
	c.logger.Debug("Seed file attachments",
		zap.String("object", obj.Name),
		zap.Int("files", files.Len()))
	return sb.String()
}

// seedKeys picks the columns identifying a seed row: explicit data_keys,
// else the primary key columns present in the row, else the whole row.
func seedKeys(obj *models.ObjectDescriptor, cols []string, values map[string]any) []string {
	present := func(names []string) []string {
		var keys []string
		for _, n := range names {
			if _, ok := values[n]; ok {
				keys = append(keys, n)
			}
		}
		return keys
	}

	if len(obj.DataKeys) > 0 {
		return present(obj.DataKeys)
	}
	var pk []string
	for _, k := range obj.PrimaryKeys() {
		pk = append(pk, k.Name)
	}
	if keys := present(pk); len(keys) > 0 {
		return keys
	}
	return cols
}

func rawSQL(v any) string {
	if lines, ok := v.([]any); ok {
		parts := make([]string, len(lines))
		for i, l := range lines {
			parts[i] = cast.ToString(l)
		}
		return strings.Join(parts, "\n")
	}
	return cast.ToString(v)
}
