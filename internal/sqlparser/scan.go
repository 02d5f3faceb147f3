package sqlparser

import (
	"strconv"
	"strings"

	"relsql/internal/dbtypes"
)

func toUpper(s string) string { return strings.ToUpper(s) }

func trim(s string) string { return strings.TrimSpace(s) }

// stripIdentQuotes removes a single matching pair of backticks, double
// quotes, or single quotes around an identifier-or-literal token.
func stripIdentQuotes(s string) string {
	s = trim(s)
	if len(s) >= 2 {
		f, b := s[0], s[len(s)-1]
		if (f == '`' && b == '`') || (f == '"' && b == '"') || (f == '\'' && b == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// splitTopLevel splits s on delim, ignoring any delim found inside
// parentheses.
func splitTopLevel(s string, delim byte) []string {
	var out []string
	var cur strings.Builder
	depth := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch ch {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		}
		if ch == delim && depth == 0 {
			out = append(out, cur.String())
			cur.Reset()
		} else {
			cur.WriteByte(ch)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// findKeywordTopLevel finds the first occurrence of keyword in upperSQL
// at parenthesis depth 0 and outside any quoted literal, starting the
// search at startPos. Returns -1 if not found.
func findKeywordTopLevel(upperSQL, keyword string, startPos int) int {
	depth := 0
	inSingle, inDouble, inBacktick := false, false, false
	for i := startPos; i+len(keyword) <= len(upperSQL); i++ {
		c := upperSQL[i]
		switch {
		case c == '\'' && !inDouble && !inBacktick:
			inSingle = !inSingle
		case c == '"' && !inSingle && !inBacktick:
			inDouble = !inDouble
		case c == '`' && !inSingle && !inDouble:
			inBacktick = !inBacktick
		}
		if !inSingle && !inDouble && !inBacktick {
			if c == '(' {
				depth++
			} else if c == ')' && depth > 0 {
				depth--
			}
			if depth == 0 && strings.HasPrefix(upperSQL[i:], keyword) {
				return i
			}
		}
	}
	return -1
}

// findMatchingClosingParen returns the index of the ')' matching the '('
// at openPos, or -1 if unbalanced.
func findMatchingClosingParen(s string, openPos int) int {
	depth := 0
	for i := openPos; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

type joinMatch struct {
	pos        int
	keywordLen int
	jtype      dbtypes.JoinType
	natural    bool
}

var joinKeywords = []struct {
	text    string
	jtype   dbtypes.JoinType
	natural bool
}{
	{" NATURAL LEFT JOIN ", dbtypes.JoinLeft, true},
	{" NATURAL RIGHT JOIN ", dbtypes.JoinRight, true},
	{" NATURAL INNER JOIN ", dbtypes.JoinInner, true},
	{" NATURAL JOIN ", dbtypes.JoinInner, true},
	{" LEFT JOIN ", dbtypes.JoinLeft, false},
	{" RIGHT JOIN ", dbtypes.JoinRight, false},
	{" INNER JOIN ", dbtypes.JoinInner, false},
	{" JOIN ", dbtypes.JoinInner, false},
}

// findLastJoinTopLevel scans [startPos, endPos) of upperSQL for JOIN
// keywords at depth 0, returning the last one found and the total count
// seen (the engine supports only a single join level; more than one is a
// syntax error the caller reports).
func findLastJoinTopLevel(upperSQL string, startPos, endPos int) (joinMatch, int) {
	depth := 0
	inSingle, inDouble, inBacktick := false, false, false
	var out joinMatch
	out.pos = -1
	count := 0

	for i := startPos; i < endPos; i++ {
		c := upperSQL[i]
		switch {
		case c == '\'' && !inDouble && !inBacktick:
			inSingle = !inSingle
		case c == '"' && !inSingle && !inBacktick:
			inDouble = !inDouble
		case c == '`' && !inSingle && !inDouble:
			inBacktick = !inBacktick
		}
		if inSingle || inDouble || inBacktick {
			continue
		}
		if c == '(' {
			depth++
			continue
		}
		if c == ')' {
			if depth > 0 {
				depth--
			}
			continue
		}
		if depth != 0 {
			continue
		}
		for _, kw := range joinKeywords {
			if i+len(kw.text) <= endPos && strings.HasPrefix(upperSQL[i:], kw.text) {
				out = joinMatch{pos: i, keywordLen: len(kw.text), jtype: kw.jtype, natural: kw.natural}
				count++
				i += len(kw.text) - 1
				break
			}
		}
	}
	return out, count
}

func parseReferentialActionToken(token string) (dbtypes.ReferentialAction, bool) {
	switch toUpper(trim(token)) {
	case "RESTRICT":
		return dbtypes.Restrict, true
	case "CASCADE":
		return dbtypes.Cascade, true
	case "SET NULL":
		return dbtypes.SetNull, true
	}
	return dbtypes.Restrict, false
}

// isNumeric reports whether s parses fully as a number.
func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// splitIdentifierList splits a parenthesized, comma-separated column
// list like "(a, b, c)" into its trimmed, unquoted identifiers.
func splitIdentifierList(s string) []string {
	s = trim(s)
	if len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		s = s[1 : len(s)-1]
	}
	var out []string
	for _, part := range splitTopLevel(s, ',') {
		id := stripIdentQuotes(trim(part))
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
