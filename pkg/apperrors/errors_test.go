package apperrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurationError(t *testing.T) {
	err := Configf("cust", ErrMissingPrimaryKey, "cannot seed rows: %s", "no key")
	assert.Equal(t, "cust: cannot seed rows: no key", err.Error())
	assert.ErrorIs(t, err, ErrMissingPrimaryKey)

	bare := &ConfigurationError{Err: ErrUnknownMacro}
	assert.Equal(t, "unknown macro", bare.Error())
}

func TestConnectionError(t *testing.T) {
	base := errors.New("dial tcp: connection refused")
	err := error(&ConnectionError{Err: base})
	assert.Equal(t, "DB Connect Error: dial tcp: connection refused", err.Error())
	assert.ErrorIs(t, err, base)
}

func TestStatementError(t *testing.T) {
	pgErr := &pgconn.PgError{Severity: "ERROR", Code: "42601", Message: `syntax error at or near "form"`, Position: 10}
	sql := "select * form cust"

	plain := NewStatementError(pgErr, sql, false)
	assert.Equal(t, `syntax error at or near "form"`, plain.Error())
	assert.Empty(t, plain.Excerpt)

	withExcerpt := NewStatementError(pgErr, sql, true)
	assert.Equal(t, "syntax error at or near \"form\"\nselect * form cust\n         ^", withExcerpt.Error())

	var target *pgconn.PgError
	require.True(t, errors.As(fmt.Errorf("wrapped: %w", withExcerpt), &target))
	assert.Equal(t, "42601", target.Code)
}

func TestSQLExcerpt(t *testing.T) {
	sql := strings.Repeat("a", 100) + "X" + strings.Repeat("b", 100)
	got := SQLExcerpt(sql, 101)

	lines := strings.Split(got, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "..."+strings.Repeat("a", 40)+"X"+strings.Repeat("b", 39)+"...", lines[0])
	assert.Equal(t, strings.Index(lines[0], "X"), strings.Index(lines[1], "^"))

	assert.Equal(t, "select\n      ^", SQLExcerpt("select", 99), "position past the end")
	assert.Equal(t, "a b\n^", SQLExcerpt("a\nb", 0), "newlines flattened")
}

func TestIsWarning(t *testing.T) {
	warning := &ServerDiagnostic{Severity: SeverityWarning, Message: "there is no transaction in progress"}
	notice := &ServerDiagnostic{Severity: SeverityNotice, Message: "relation already exists, skipping"}

	assert.True(t, IsWarning(warning))
	assert.True(t, IsWarning(fmt.Errorf("task 0: %w", warning)))
	assert.False(t, IsWarning(notice))
	assert.False(t, IsWarning(errors.New("boom")))
	assert.True(t, IsWarning(NewStatementError(&pgconn.PgError{Severity: SeverityWarning}, "", false)))
	assert.False(t, IsWarning(NewStatementError(&pgconn.PgError{Severity: "ERROR"}, "", false)))
}

func TestTransactionAbortError(t *testing.T) {
	cause := errors.New("duplicate key")
	rollback := errors.New("connection reset")
	err := error(&TransactionAbortError{Cause: cause, RollbackErr: rollback})

	assert.Equal(t, "rollback failed: connection reset (after: duplicate key)", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, rollback)
}
