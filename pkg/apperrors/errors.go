package apperrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrConfigRequired      = errors.New("database config is required")
	ErrCrossConnectionTx   = errors.New("transaction cannot span multiple database connections")
	ErrUnsupportedType     = errors.New("unsupported logical type")
	ErrMissingPrimaryKey   = errors.New("no primary key")
	ErrDuplicateForeignKey = errors.New("column cannot have multiple foreign keys")
	ErrUnsupportedAction   = errors.New("foreign key action not supported")
	ErrUnknownMacro        = errors.New("unknown macro")
)

// ConfigurationError reports a programming or configuration defect: a missing
// config, an unsupported logical type or a malformed descriptor. It is never
// caused by user data and is never retried.
type ConfigurationError struct {
	Object  string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	var sb strings.Builder
	if e.Object != "" {
		sb.WriteString(e.Object)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Err != nil && e.Message == "" {
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configf builds a ConfigurationError for the named object.
func Configf(object string, sentinel error, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Object: object, Message: fmt.Sprintf(format, args...), Err: sentinel}
}

// ConnectionError wraps a failure to acquire or open a connection.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "DB Connect Error: " + e.Err.Error() }

func (e *ConnectionError) Unwrap() error { return e.Err }

// excerptRadius is the number of characters kept on each side of the error
// position when building an SQL excerpt.
const excerptRadius = 40

// StatementError wraps a server error raised while executing a statement.
// Error returns the server message unchanged so callers can match on it;
// Excerpt holds the offending SQL around the reported position when enabled.
type StatementError struct {
	Err     *pgconn.PgError
	SQL     string
	Excerpt string
}

// NewStatementError wraps err. When withExcerpt is set and the server reported
// a position, Excerpt is filled with the surrounding SQL and a caret line.
func NewStatementError(err *pgconn.PgError, sql string, withExcerpt bool) *StatementError {
	se := &StatementError{Err: err, SQL: sql}
	if withExcerpt && err.Position > 0 {
		se.Excerpt = SQLExcerpt(sql, int(err.Position))
	}
	return se
}

func (e *StatementError) Error() string {
	if e.Excerpt == "" {
		return e.Err.Message
	}
	return e.Err.Message + "\n" + e.Excerpt
}

func (e *StatementError) Unwrap() error { return e.Err }

// Severity returns the server severity of the wrapped error.
func (e *StatementError) Severity() string { return e.Err.Severity }

// SQLExcerpt returns the text around the 1-based character position pos,
// followed by a line with a caret under that position.
func SQLExcerpt(sql string, pos int) string {
	runes := []rune(sql)
	idx := pos - 1
	if idx < 0 {
		idx = 0
	}
	if idx > len(runes) {
		idx = len(runes)
	}
	start := max(idx-excerptRadius, 0)
	end := min(idx+excerptRadius, len(runes))
	line := strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", " ").Replace(string(runes[start:end]))
	prefix := ""
	if start > 0 {
		prefix = "..."
	}
	suffix := ""
	if end < len(runes) {
		suffix = "..."
	}
	caret := strings.Repeat(" ", len(prefix)+idx-start) + "^"
	return prefix + line + suffix + "\n" + caret
}

// Severity values reported by PostgreSQL for non-error messages.
const (
	SeverityWarning = "WARNING"
	SeverityNotice  = "NOTICE"
)

// ServerDiagnostic is a notice or warning emitted by the server while a
// statement ran. It is only returned as an error when the caller escalates
// warnings.
type ServerDiagnostic struct {
	Severity string `json:"severity"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
	Detail   string `json:"detail,omitempty"`
	Hint     string `json:"hint,omitempty"`
	Where    string `json:"where,omitempty"`
}

func (d *ServerDiagnostic) Error() string { return d.Message }

// IsWarning reports whether the diagnostic has WARNING severity.
func (d *ServerDiagnostic) IsWarning() bool { return d.Severity == SeverityWarning }

// TransactionAbortError is returned when a transaction's rollback itself
// failed. The rollback failure is reported first; Cause keeps the task error
// that triggered the rollback.
type TransactionAbortError struct {
	Cause       error
	RollbackErr error
}

func (e *TransactionAbortError) Error() string {
	return fmt.Sprintf("rollback failed: %v (after: %v)", e.RollbackErr, e.Cause)
}

func (e *TransactionAbortError) Unwrap() []error { return []error{e.RollbackErr, e.Cause} }

// IsWarning reports whether err carries a server diagnostic with WARNING severity.
func IsWarning(err error) bool {
	var diag *ServerDiagnostic
	if errors.As(err, &diag) {
		return diag.IsWarning()
	}
	var stmt *StatementError
	if errors.As(err, &stmt) {
		return stmt.Severity() == SeverityWarning
	}
	return false
}
