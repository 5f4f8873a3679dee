package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/ddl"
)

const copyFileEnd = "%%%"

// fileCopy is a seed attachment selected by an applied script.
type fileCopy struct {
	src string
	dst string
}

// parseCopyMarker reads %%%copy_file:<src>><dst>%%%.
func parseCopyMarker(v any) (fileCopy, bool) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, ddl.CopyFileMarker) || !strings.HasSuffix(s, copyFileEnd) {
		return fileCopy{}, false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(s, ddl.CopyFileMarker), copyFileEnd)
	src, dst, ok := strings.Cut(body, ">")
	if !ok || src == "" || dst == "" {
		return fileCopy{}, false
	}
	return fileCopy{src: src, dst: dst}, true
}

// collectFileCopies finds the copy markers in every result set of env.
func collectFileCopies(env *datasource.ResultEnvelope) []fileCopy {
	var out []fileCopy
	for _, rows := range env.Recordsets {
		for _, row := range rows {
			for pair := row.Oldest(); pair != nil; pair = pair.Next() {
				if fc, ok := parseCopyMarker(pair.Value); ok {
					out = append(out, fc)
				}
			}
		}
	}
	return out
}

func (fc fileCopy) run() error {
	in, err := os.Open(fc.src)
	if err != nil {
		return fmt.Errorf("failed to copy seed file: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(fc.dst), 0o755); err != nil {
		return fmt.Errorf("failed to copy seed file: %w", err)
	}
	out, err := os.Create(fc.dst)
	if err != nil {
		return fmt.Errorf("failed to copy seed file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy seed file %s: %w", fc.src, err)
	}
	return out.Close()
}
