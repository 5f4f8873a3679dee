// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/logging"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection detects SQL injection patterns.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventTransactionAbort is logged when a transaction could be neither
	// committed nor rolled back, leaving its outcome to the server.
	EventTransactionAbort SecurityEventType = "transaction_abort"
)

// maxParamValueLength bounds parameter values copied into audit events.
const maxParamValueLength = 100

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp     time.Time         `json:"timestamp"`
	EventType     SecurityEventType `json:"event_type"`
	TransactionID uuid.UUID         `json:"transaction_id,omitempty"`
	// Context is the acting user the statement ran for.
	Context  string `json:"context,omitempty"`
	Details  any    `json:"details"`
	Severity string `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails contains specifics of a detected SQL injection attempt.
type SQLInjectionDetails struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// SecurityAuditor logs security events for SIEM consumption.
// Events are logged in structured JSON format with appropriate severity levels.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a security auditor logging under the
// "security_audit" name.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a parameter value matching an SQL injection
// pattern. txID is uuid.Nil outside transactions. Parameters are always
// escaped, so the statement still runs; the event is logged at WARN level.
//
// Example usage:
//
//	auditor.LogInjectionAttempt("U42", uuid.Nil, audit.SQLInjectionDetails{
//	    ParamName:   "cust_name",
//	    ParamValue:  "'; DROP TABLE cust--",
//	    Fingerprint: "s&1c",
//	})
func (a *SecurityAuditor) LogInjectionAttempt(stmtContext string, txID uuid.UUID, details SQLInjectionDetails) {
	details.ParamValue = logging.TruncateString(details.ParamValue, maxParamValueLength)

	event := SecurityEvent{
		Timestamp:     time.Now().UTC(),
		EventType:     EventSQLInjectionAttempt,
		TransactionID: txID,
		Context:       stmtContext,
		Details:       details,
		Severity:      "warning",
	}

	// Ignoring error as marshaling known types should never fail
	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("SQL injection pattern in parameter",
		zap.String("event_json", string(eventJSON)),
		zap.String("context", stmtContext),
		zap.String("transaction_id", txIDString(txID)),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("severity", "warning"),
	)
}

// LogTransactionAbort records a transaction whose rollback failed after its
// tasks did. Logged at ERROR level with "critical" severity for alerting.
func (a *SecurityAuditor) LogTransactionAbort(txID uuid.UUID, cause, rollbackErr error) {
	details := map[string]string{
		"cause":          logging.SanitizeError(cause),
		"rollback_error": logging.SanitizeError(rollbackErr),
	}

	event := SecurityEvent{
		Timestamp:     time.Now().UTC(),
		EventType:     EventTransactionAbort,
		TransactionID: txID,
		Details:       details,
		Severity:      "critical",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Error("Transaction rollback failed",
		zap.String("event_json", string(eventJSON)),
		zap.String("transaction_id", txIDString(txID)),
		zap.String("cause", details["cause"]),
		zap.String("rollback_error", details["rollback_error"]),
		zap.String("severity", "critical"),
	)
}

func txIDString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
