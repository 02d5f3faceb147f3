package sqlparser

import (
	"strconv"
	"strings"

	"relsql/internal/dbtypes"
	"relsql/internal/errs"
)

func isAggregateFunc(s string) (dbtypes.AggFunc, bool) {
	switch toUpper(trim(s)) {
	case "COUNT":
		return dbtypes.AggCount, true
	case "SUM":
		return dbtypes.AggSum, true
	case "AVG":
		return dbtypes.AggAvg, true
	case "MIN":
		return dbtypes.AggMin, true
	case "MAX":
		return dbtypes.AggMax, true
	}
	return dbtypes.AggNone, false
}

// parseSelect parses a full SELECT statement into a QueryPlan, ported
// from Parser::Parse's SELECT branch.
func parseSelect(sql string) (*ParsedCommand, error) {
	upperSQL := toUpper(sql)
	fromPos := findKeywordTopLevel(upperSQL, " FROM ", 0)
	if fromPos < 0 {
		return nil, errs.New(errs.SyntaxError, "SELECT missing FROM")
	}

	plan := &dbtypes.QueryPlan{}

	projStr := sql[6:fromPos]
	for _, p := range splitTopLevel(projStr, ',') {
		expr, alias := splitExprAlias(trim(p))
		sel := dbtypes.SelectExpr{Field: expr, Alias: alias}

		lp := strings.IndexByte(expr, '(')
		rp := strings.LastIndexByte(expr, ')')
		if lp >= 0 && rp > lp {
			if agg, ok := isAggregateFunc(expr[:lp]); ok {
				field := trim(expr[lp+1 : rp])
				if field == "" {
					field = "*"
				}
				sel.IsAggregate = true
				sel.Agg = agg
				sel.Field = field
				plan.SelectExprs = append(plan.SelectExprs, sel)
				continue
			}
		}
		if len(expr) >= 2 && expr[0] == '(' && expr[len(expr)-1] == ')' {
			if sq, ok := tryParseSubquery(expr); ok {
				sel.IsSubquery = true
				sel.Subquery = sq
				plan.SelectExprs = append(plan.SelectExprs, sel)
				continue
			}
		}
		plan.SelectExprs = append(plan.SelectExprs, sel)
	}

	startRest := fromPos + 6
	wherePos := findKeywordTopLevel(upperSQL, " WHERE ", startRest)
	groupPos := findKeywordTopLevel(upperSQL, " GROUP BY ", startRest)
	havingPos := findKeywordTopLevel(upperSQL, " HAVING ", startRest)
	orderPos := findKeywordTopLevel(upperSQL, " ORDER BY ", startRest)
	limitPos := findKeywordTopLevel(upperSQL, " LIMIT ", startRest)

	endFrom := len(sql)
	for _, p := range []int{wherePos, groupPos, havingPos, orderPos, limitPos} {
		if p >= 0 && p < endFrom {
			endFrom = p
		}
	}

	joinMatch, joinCount := findLastJoinTopLevel(upperSQL, startRest, endFrom)
	if joinCount > 1 {
		return nil, errs.New(errs.SyntaxError, "only a single JOIN is supported")
	}

	fromClause := sql[startRest:endFrom]
	if joinMatch.pos >= 0 {
		localJoinPos := joinMatch.pos - startRest
		t1Clause := trim(fromClause[:localJoinPos])
		rest := fromClause[localJoinPos+joinMatch.keywordLen:]

		if err := parseFromClause(plan, t1Clause); err != nil {
			return nil, err
		}

		join := &dbtypes.JoinSpec{Type: joinMatch.jtype, Natural: joinMatch.natural}
		if joinMatch.natural {
			table, _ := splitTableAlias(trim(rest))
			join.RightFrom = table
		} else {
			upRest := toUpper(rest)
			onPos := strings.Index(upRest, " ON ")
			if onPos < 0 {
				return nil, errs.New(errs.SyntaxError, "JOIN missing ON clause")
			}
			t2Clause := trim(rest[:onPos])
			onCond := trim(rest[onPos+4:])
			table, _ := splitTableAlias(t2Clause)
			join.RightFrom = table
			eq := strings.IndexByte(onCond, '=')
			if eq < 0 {
				return nil, errs.New(errs.SyntaxError, "JOIN ON clause missing '='")
			}
			join.LeftOn = trim(onCond[:eq])
			join.RightOn = trim(onCond[eq+1:])
		}
		plan.Join = join
	} else {
		if err := parseFromClause(plan, trim(fromClause)); err != nil {
			return nil, err
		}
	}

	if wherePos >= 0 {
		end := len(sql)
		for _, p := range []int{groupPos, havingPos, orderPos, limitPos} {
			if p >= 0 && p < end {
				end = p
			}
		}
		cond, err := parseWhereClause(trim(sql[wherePos+7 : end]))
		if err != nil {
			return nil, err
		}
		plan.Where = cond
	}

	if groupPos >= 0 {
		end := len(sql)
		for _, p := range []int{havingPos, orderPos, limitPos} {
			if p >= 0 && p < end {
				end = p
			}
		}
		for _, part := range strings.Split(trim(sql[groupPos+10:end]), ",") {
			if t := trim(part); t != "" {
				plan.GroupBy = append(plan.GroupBy, t)
			}
		}
	}

	if havingPos >= 0 {
		end := len(sql)
		for _, p := range []int{orderPos, limitPos} {
			if p >= 0 && p < end {
				end = p
			}
		}
		cond, err := parseWhereClause(trim(sql[havingPos+8 : end]))
		if err != nil {
			return nil, err
		}
		plan.Having = cond
	}

	if orderPos >= 0 {
		end := len(sql)
		if limitPos >= 0 && limitPos < end {
			end = limitPos
		}
		for _, raw := range strings.Split(trim(sql[orderPos+10:end]), ",") {
			part := trim(raw)
			if part == "" {
				continue
			}
			up := toUpper(part)
			asc := true
			if strings.HasSuffix(up, " DESC") {
				asc = false
				part = trim(part[:len(part)-5])
			} else if strings.HasSuffix(up, " ASC") {
				part = trim(part[:len(part)-4])
			}
			if part != "" {
				plan.OrderBy = append(plan.OrderBy, dbtypes.OrderKey{Field: part, Ascending: asc})
			}
		}
	}

	if limitPos >= 0 {
		n, err := strconv.Atoi(trim(sql[limitPos+7:]))
		if err != nil {
			return nil, errs.New(errs.SyntaxError, "invalid LIMIT value")
		}
		plan.Limit = n
		plan.HasLimit = true
	}

	return &ParsedCommand{Kind: KindSelect, TableName: plan.FromTable, Query: plan}, nil
}

// splitExprAlias splits a projection entry into its expression and
// optional alias, handling both "expr AS alias" and "expr alias".
func splitExprAlias(cur string) (string, string) {
	upperCur := toUpper(cur)
	if asPos := strings.Index(upperCur, " AS "); asPos >= 0 {
		return trim(cur[:asPos]), trim(cur[asPos+4:])
	}
	if spacePos := strings.LastIndexByte(cur, ' '); spacePos >= 0 {
		return trim(cur[:spacePos]), trim(cur[spacePos+1:])
	}
	return cur, ""
}

// splitTableAlias splits a FROM/JOIN table clause like "orders o" or
// "orders AS o" into its table name and optional alias.
func splitTableAlias(clause string) (string, string) {
	upper := toUpper(clause)
	if asPos := strings.Index(upper, " AS "); asPos >= 0 {
		return stripIdentQuotes(trim(clause[:asPos])), stripIdentQuotes(trim(clause[asPos+4:]))
	}
	if sp := strings.IndexByte(clause, ' '); sp >= 0 {
		return stripIdentQuotes(trim(clause[:sp])), stripIdentQuotes(trim(clause[sp+1:]))
	}
	return stripIdentQuotes(clause), ""
}

func parseFromClause(plan *dbtypes.QueryPlan, clause string) error {
	clause = trim(clause)
	if len(clause) >= 2 && clause[0] == '(' {
		closeParen := findMatchingClosingParen(clause, 0)
		if closeParen < 0 {
			return errs.New(errs.SyntaxError, "unterminated subquery in FROM")
		}
		inner := clause[1:closeParen]
		cmd, err := Parse(inner)
		if err != nil || cmd.Kind != KindSelect {
			return errs.New(errs.SyntaxError, "invalid subquery in FROM")
		}
		plan.FromSubquery = cmd.Query
		remainder := trim(clause[closeParen+1:])
		if strings.HasPrefix(toUpper(remainder), "AS ") {
			plan.FromAlias = trim(remainder[3:])
		} else {
			plan.FromAlias = remainder
		}
		return nil
	}
	table, alias := splitTableAlias(clause)
	plan.FromTable = table
	plan.FromAlias = alias
	return nil
}
