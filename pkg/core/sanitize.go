package core

import "strings"

// SanitizeQuery rewrites a raw user query so the inverted index treats every
// token as plain text. FTS5 assigns syntax to bare punctuation: a hyphen can
// read as column negation and brackets as column-filter grouping, so any
// token containing an interior hyphen (not at position 0) or any bracket
// character is wrapped in double quotes and matched as a literal phrase.
// Tokens without such characters pass through unchanged.
//
// The function is pure and has no storage dependency.
func SanitizeQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}

	out := make([]string, len(fields))
	for i, token := range fields {
		if needsQuoting(token) {
			out[i] = quoteToken(token)
		} else {
			out[i] = token
		}
	}
	return strings.Join(out, " ")
}

func needsQuoting(token string) bool {
	if strings.ContainsAny(token, "()[]{}") {
		return true
	}
	// A leading hyphen carries no FTS5 meaning inside a token; interior
	// hyphens split the token into operator-adjacent terms.
	return len(token) > 1 && strings.ContainsRune(token[1:], '-')
}

func quoteToken(token string) string {
	// FTS5 escapes a quote inside a string by doubling it.
	return `"` + strings.ReplaceAll(token, `"`, `""`) + `"`
}
