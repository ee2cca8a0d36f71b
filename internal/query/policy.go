package query

import (
	"strings"
	"unicode"
)

var readOnlyVerbs = map[string]struct{}{
	"SELECT": {},
	"WITH":   {},
}

// writeKeywords may not appear anywhere outside literals and comments, which
// catches data-modifying CTEs and SELECT ... INTO.
var writeKeywords = map[string]struct{}{
	"INSERT":  {},
	"UPDATE":  {},
	"DELETE":  {},
	"MERGE":   {},
	"INTO":    {},
	"CREATE":  {},
	"DROP":    {},
	"ALTER":   {},
	"COPY":    {},
	"ATTACH":  {},
	"DETACH":  {},
	"PRAGMA":  {},
	"INSTALL": {},
	"LOAD":    {},
	"SET":     {},
	"RESET":   {},
	"VACUUM":  {},
	"EXPORT":  {},
	"IMPORT":  {},
}

// CheckReadOnly rejects anything other than a single SELECT or WITH statement.
// It runs before any driver sees the text.
func CheckReadOnly(sqlText string) error {
	if strings.TrimSpace(sqlText) == "" {
		return Errorf(KindPolicy, sqlText, "query is required")
	}

	verb := leadingKeyword(sqlText)
	if _, ok := readOnlyVerbs[verb]; !ok {
		if verb == "" {
			return Errorf(KindPolicy, sqlText, "only SELECT or WITH statements are allowed")
		}
		return Errorf(KindPolicy, sqlText, "only SELECT or WITH statements are allowed, got %s", verb)
	}
	if hasMultipleStatements(sqlText) {
		return Errorf(KindPolicy, sqlText, "only a single statement is allowed")
	}
	if keyword := firstWriteKeyword(sqlText); keyword != "" {
		return Errorf(KindPolicy, sqlText, "write keyword %s is not allowed", keyword)
	}
	return nil
}

func leadingKeyword(sqlText string) string {
	i := 0
	for i < len(sqlText) {
		switch {
		case unicode.IsSpace(rune(sqlText[i])) || sqlText[i] == '(':
			i++
		case strings.HasPrefix(sqlText[i:], "--"):
			i = skipLineComment(sqlText, i)
		case strings.HasPrefix(sqlText[i:], "/*"):
			i = skipBlockComment(sqlText, i)
		default:
			start := i
			for i < len(sqlText) && isWordByte(sqlText[i]) {
				i++
			}
			return strings.ToUpper(sqlText[start:i])
		}
	}
	return ""
}

// hasMultipleStatements reports whether a ';' outside literals and comments
// is followed by anything other than whitespace, comments or more semicolons.
func hasMultipleStatements(sqlText string) bool {
	terminated := false
	i := 0
	for i < len(sqlText) {
		c := sqlText[i]
		switch {
		case strings.HasPrefix(sqlText[i:], "--"):
			i = skipLineComment(sqlText, i)
			continue
		case strings.HasPrefix(sqlText[i:], "/*"):
			i = skipBlockComment(sqlText, i)
			continue
		case c == ';':
			terminated = true
			i++
			continue
		case unicode.IsSpace(rune(c)):
			i++
			continue
		}
		if terminated {
			return true
		}
		if c == '\'' || c == '"' {
			i = skipQuoted(sqlText, i, c)
			continue
		}
		i++
	}
	return false
}

// firstWriteKeyword returns the first bare word outside literals, quoted
// identifiers and comments that names a write operation.
func firstWriteKeyword(sqlText string) string {
	i := 0
	for i < len(sqlText) {
		c := sqlText[i]
		switch {
		case strings.HasPrefix(sqlText[i:], "--"):
			i = skipLineComment(sqlText, i)
		case strings.HasPrefix(sqlText[i:], "/*"):
			i = skipBlockComment(sqlText, i)
		case c == '\'' || c == '"':
			i = skipQuoted(sqlText, i, c)
		case isWordByte(c):
			start := i
			for i < len(sqlText) && isWordByte(sqlText[i]) {
				i++
			}
			word := strings.ToUpper(sqlText[start:i])
			if _, ok := writeKeywords[word]; ok {
				return word
			}
		default:
			i++
		}
	}
	return ""
}

func skipLineComment(s string, i int) int {
	end := strings.IndexByte(s[i:], '\n')
	if end < 0 {
		return len(s)
	}
	return i + end + 1
}

func skipBlockComment(s string, i int) int {
	end := strings.Index(s[i+2:], "*/")
	if end < 0 {
		return len(s)
	}
	return i + 2 + end + 2
}

// skipQuoted returns the index just past a quoted run; doubled quotes escape.
func skipQuoted(s string, i int, quote byte) int {
	i++
	for i < len(s) {
		if s[i] == quote {
			if i+1 < len(s) && s[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(s)
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
