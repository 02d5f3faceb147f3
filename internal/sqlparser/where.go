package sqlparser

import (
	"strings"

	"relsql/internal/dbtypes"
	"relsql/internal/errs"
)

// findOp finds op in upPart at parenthesis depth 0, starting at startPos.
func findOp(upPart, op string, startPos int) int {
	depth := 0
	for i := startPos; i < len(upPart); i++ {
		switch upPart[i] {
		case '(':
			depth++
			continue
		case ')':
			if depth > 0 {
				depth--
			}
			continue
		}
		if depth == 0 && i+len(op) <= len(upPart) && upPart[i:i+len(op)] == op {
			return i
		}
	}
	return -1
}

// splitTopLevelAnd splits a WHERE/HAVING body on top-level " AND ",
// treating the AND inside a BETWEEN ... AND ... range as part of the
// BETWEEN clause rather than a separator.
func splitTopLevelAnd(text string) []string {
	upper := toUpper(text)
	var parts []string
	depth := 0
	inBetween := false
	lastPos := 0

	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && i+8 <= len(text) && upper[i:i+8] == " BETWEEN" {
			inBetween = true
		}
		if depth == 0 && i+5 <= len(text) && upper[i:i+5] == " AND " {
			if inBetween {
				inBetween = false
			} else {
				parts = append(parts, text[lastPos:i])
				i += 4
				lastPos = i + 1
			}
		}
	}
	parts = append(parts, text[lastPos:])
	return parts
}

// parseWhereClause parses a WHERE or HAVING body into its top-level AND
// conditions.
func parseWhereClause(whereClause string) ([]dbtypes.Condition, error) {
	whereClause = trim(whereClause)
	if whereClause == "" {
		return nil, nil
	}

	var conditions []dbtypes.Condition
	for _, rawPart := range splitTopLevelAnd(whereClause) {
		part := trim(rawPart)
		if part == "" {
			continue
		}
		upPart := toUpper(part)

		if betweenPos := findOp(upPart, " BETWEEN ", 0); betweenPos >= 0 {
			rangeStr := trim(part[betweenPos+9:])
			upRange := toUpper(rangeStr)
			andPos := strings.Index(upRange, " AND ")
			c := dbtypes.Condition{Field: trim(part[:betweenPos]), Op: dbtypes.OpBetween}
			if andPos >= 0 {
				c.Low = unquoteLiteral(trim(rangeStr[:andPos]))
				c.High = unquoteLiteral(trim(rangeStr[andPos+5:]))
			}
			conditions = append(conditions, c)
			continue
		}

		if notLikePos := findOp(upPart, " NOT LIKE ", 0); notLikePos >= 0 {
			pattern := unquoteLiteral(trim(part[notLikePos+10:]))
			conditions = append(conditions, dbtypes.Condition{
				Field: trim(part[:notLikePos]), Op: dbtypes.OpNotLike, Value: pattern,
			})
			continue
		}

		if strings.HasPrefix(upPart, "NOT EXISTS ") {
			subPart := trim(part[11:])
			if sq, ok := tryParseSubquery(subPart); ok {
				conditions = append(conditions, dbtypes.Condition{Op: dbtypes.OpNotExists, Subquery: sq})
				continue
			}
		}

		if strings.HasPrefix(upPart, "EXISTS ") {
			subPart := trim(part[7:])
			if sq, ok := tryParseSubquery(subPart); ok {
				conditions = append(conditions, dbtypes.Condition{Op: dbtypes.OpExists, Subquery: sq})
				continue
			}
		}

		if likePos := findOp(upPart, " LIKE ", 0); likePos >= 0 {
			pattern := unquoteLiteral(trim(part[likePos+6:]))
			conditions = append(conditions, dbtypes.Condition{
				Field: trim(part[:likePos]), Op: dbtypes.OpLike, Value: pattern,
			})
			continue
		}

		inPos := findOp(upPart, " IN ", 0)
		if inPos < 0 {
			inPos = findOp(upPart, " IN(", 0)
		}
		if inPos >= 0 {
			field := trim(part[:inPos])
			parenL := strings.IndexByte(part[inPos:], '(')
			if parenL < 0 {
				return nil, errs.New(errs.SyntaxError, "IN missing ( in %q", part)
			}
			parenL += inPos
			parenR := findMatchingClosingParen(part, parenL)
			if parenR < 0 {
				return nil, errs.New(errs.SyntaxError, "IN missing closing ) in %q", part)
			}
			valContent := part[parenL : parenR+1]
			if sq, ok := tryParseSubquery(valContent); ok {
				conditions = append(conditions, dbtypes.Condition{Field: field, Op: dbtypes.OpIn, Subquery: sq})
				continue
			}
			valList := valContent[1 : len(valContent)-1]
			var vals []string
			for _, v := range splitTopLevel(valList, ',') {
				vals = append(vals, unquoteLiteral(trim(v)))
			}
			conditions = append(conditions, dbtypes.Condition{Field: field, Op: dbtypes.OpIn, Values: vals})
			continue
		}

		op, opPos := findComparisonOp(upPart)
		if opPos < 0 {
			return nil, errs.New(errs.SyntaxError, "unrecognized condition %q", part)
		}
		field := trim(part[:opPos])
		rhs := trim(part[opPos+len(op):])
		c := dbtypes.Condition{Field: field, Op: compareOperator(op)}
		if len(rhs) >= 2 && rhs[0] == '(' && rhs[len(rhs)-1] == ')' {
			if sq, ok := tryParseSubquery(rhs); ok {
				c.Subquery = sq
				conditions = append(conditions, c)
				continue
			}
		}
		c.Value = unquoteLiteral(rhs)
		conditions = append(conditions, c)
	}
	return conditions, nil
}

var comparisonOps = []string{"<=", ">=", "!=", "=", "<", ">", " CONTAINS "}

func findComparisonOp(upPart string) (string, int) {
	for _, op := range comparisonOps {
		if p := findOp(upPart, op, 0); p >= 0 {
			return op, p
		}
	}
	return "", -1
}

func compareOperator(op string) dbtypes.Operator {
	switch trim(op) {
	case "<=":
		return dbtypes.OpLte
	case ">=":
		return dbtypes.OpGte
	case "!=":
		return dbtypes.OpNeq
	case "=":
		return dbtypes.OpEq
	case "<":
		return dbtypes.OpLt
	case ">":
		return dbtypes.OpGt
	case "CONTAINS":
		return dbtypes.OpContains
	default:
		return dbtypes.OpEq
	}
}

func unquoteLiteral(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}
	return s
}

// tryParseSubquery parses "(SELECT ...)" into a QueryPlan, reporting
// false if content isn't a parenthesized SELECT.
func tryParseSubquery(content string) (*dbtypes.QueryPlan, bool) {
	content = trim(content)
	if len(content) < 2 || content[0] != '(' || content[len(content)-1] != ')' {
		return nil, false
	}
	inner := trim(content[1 : len(content)-1])
	up := toUpper(inner)
	if !strings.HasPrefix(up, "SELECT") {
		return nil, false
	}
	cmd, err := Parse(inner)
	if err != nil || cmd.Kind != KindSelect {
		return nil, false
	}
	return cmd.Query, true
}
