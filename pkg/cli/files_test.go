package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/models"
)

func TestParseCopyMarker(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  fileCopy
		ok    bool
	}{
		{"marker", "%%%copy_file:/mods/data_files/a.png>/data/cust/1.png%%%", fileCopy{src: "/mods/data_files/a.png", dst: "/data/cust/1.png"}, true},
		{"not a string", int64(1), fileCopy{}, false},
		{"plain text", "Acme", fileCopy{}, false},
		{"missing destination", "%%%copy_file:/a.png>%%%", fileCopy{}, false},
		{"unterminated", "%%%copy_file:/a.png>/b.png", fileCopy{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseCopyMarker(tt.value)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCollectFileCopies(t *testing.T) {
	env := &datasource.ResultEnvelope{
		Mode: datasource.ReturnMultiRecordset,
		Recordsets: [][]*datasource.Row{
			{models.NewRow("create_code_sys", "ok")},
			{models.NewRow("?column?", "%%%copy_file:/src/a.png>/dst/a.png%%%")},
		},
	}
	assert.Equal(t, []fileCopy{{src: "/src/a.png", dst: "/dst/a.png"}}, collectFileCopies(env))
}

func TestFileCopy_Run(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "data_files", "a.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	dst := filepath.Join(dir, "data", "cust", "1.txt")
	require.NoError(t, fileCopy{src: src, dst: dst}.run())

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	err = fileCopy{src: filepath.Join(dir, "missing"), dst: dst}.run()
	assert.ErrorContains(t, err, "failed to copy seed file")
}
