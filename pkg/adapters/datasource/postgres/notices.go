package postgres

import (
	"sync"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/apperrors"
)

// diagnostics collects the notices of one statement batch, split by severity.
type diagnostics struct {
	mu       sync.Mutex
	notices  []*apperrors.ServerDiagnostic
	warnings []*apperrors.ServerDiagnostic
}

func (d *diagnostics) add(n *pgconn.Notice) {
	diag := toDiagnostic(n)
	d.mu.Lock()
	defer d.mu.Unlock()
	if diag.IsWarning() {
		d.warnings = append(d.warnings, diag)
	} else {
		d.notices = append(d.notices, diag)
	}
}

func (d *diagnostics) snapshot() (notices, warnings []*apperrors.ServerDiagnostic) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.notices, d.warnings
}

// toDiagnostic prefers the unlocalized severity so classification does not
// depend on lc_messages.
func toDiagnostic(n *pgconn.Notice) *apperrors.ServerDiagnostic {
	severity := n.SeverityUnlocalized
	if severity == "" {
		severity = n.Severity
	}
	return &apperrors.ServerDiagnostic{
		Severity: severity,
		Code:     n.Code,
		Message:  n.Message,
		Detail:   n.Detail,
		Hint:     n.Hint,
		Where:    n.Where,
	}
}
