package logging

import (
	"regexp"
	"strings"
)

const (
	// MaxQueryLogLength is the maximum length of a statement to log
	MaxQueryLogLength = 200
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
	// LiteralText replaces string literals in logged statements
	LiteralText = "'?'"
)

var (
	// password=xxx, pwd=xxx, pass=xxx, including quoted keyword/value forms
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=('(?:[^'\\]|\\.)*'|[^;&\s]+)`)

	// user:pass@host in URL connection strings
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeConnectionString removes credentials from a URL or keyword/value
// connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError sanitizes error messages that might contain credentials.
// Use this before logging any error from connection or pool operations.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeConnectionString(err.Error())
}

// SanitizeQuery masks string literals and truncates a statement for logging.
// Assembled statements carry parameter values inline as literals, so the
// values never reach the log.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	return TruncateString(MaskLiterals(query), MaxQueryLogLength)
}

// MaskLiterals replaces every single-quoted literal, including E'' escape
// strings, with '?'. Quoted identifiers and comments are left alone.
func MaskLiterals(query string) string {
	var sb strings.Builder
	sb.Grow(len(query))

	for i := 0; i < len(query); {
		c := query[i]
		switch {
		case c == '"':
			end := skipQuoted(query, i, '"', false)
			sb.WriteString(query[i:end])
			i = end
		case c == '\'':
			escapes := i > 0 && (query[i-1] == 'E' || query[i-1] == 'e') && (i == 1 || !isIdent(query[i-2]))
			i = skipQuoted(query, i, '\'', escapes)
			sb.WriteString(LiteralText)
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				end = len(query) - i
			}
			sb.WriteString(query[i : i+end])
			i += end
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}

// skipQuoted returns the index just past the quoted run starting at start.
// A doubled quote continues the run; with escapes, so does a backslash pair.
func skipQuoted(s string, start int, quote byte, escapes bool) int {
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if escapes {
				i++
			}
		case quote:
			if i+1 < len(s) && s[i+1] == quote {
				i++
				continue
			}
			return i + 1
		}
	}
	return len(s)
}

func isIdent(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
