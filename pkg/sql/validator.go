// Package sql formats PostgreSQL literals and assembles executable statements.
package sql

import (
	"strings"
)

// SkipQuoted returns the index just past the quoted section that starts at
// s[i]. Single-quoted literals and double-quoted identifiers are recognized;
// a doubled quote inside the section is an escaped quote. If s[i] does not
// open a quote, i is returned unchanged. An unterminated section runs to the
// end of s.
func SkipQuoted(s string, i int) int {
	if i >= len(s) || (s[i] != '\'' && s[i] != '"') {
		return i
	}
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		if s[j] != q {
			continue
		}
		if j+1 < len(s) && s[j+1] == q {
			j++
			continue
		}
		return j + 1
	}
	return len(s)
}

// HasSemicolonOutsideStrings returns true if the SQL contains any semicolon
// outside of string literals and quoted identifiers.
func HasSemicolonOutsideStrings(sqlQuery string) bool {
	for i := 0; i < len(sqlQuery); {
		switch sqlQuery[i] {
		case ';':
			return true
		case '\'', '"':
			i = SkipQuoted(sqlQuery, i)
		default:
			i++
		}
	}
	return false
}

// StripTrailingSemicolon removes trailing semicolons and the whitespace
// around them.
func StripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	for strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}

// JoinStatements trims each statement, drops empty ones and joins the rest
// into one batch, each terminated by a semicolon.
func JoinStatements(stmts ...string) string {
	parts := make([]string, 0, len(stmts))
	for _, s := range stmts {
		s = StripTrailingSemicolon(strings.TrimSpace(s))
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ";\n") + ";"
}
