package sqlparser

import (
	"strings"

	"relsql/internal/dbtypes"
	"relsql/internal/errs"
)

// parseInsert ports the INSERT INTO branch: one table name, an optional
// ignored column list, and one or more VALUES(...) tuples, with an
// optional trailing "IN dbname".
func parseInsert(sql string) (*ParsedCommand, error) {
	upper := toUpper(sql)
	valuesPos := strings.Index(upper, "VALUES")
	if valuesPos < 0 {
		return nil, errs.New(errs.SyntaxError, "INSERT missing VALUES")
	}

	tablePart := trim(sql[len("INSERT INTO"):valuesPos])
	var columns []string
	if parenOpen := strings.IndexByte(tablePart, '('); parenOpen >= 0 {
		columns = splitIdentifierList(tablePart[parenOpen:])
		tablePart = trim(tablePart[:parenOpen])
	}
	tableName := stripIdentQuotes(tablePart)

	cmd := &ParsedCommand{Kind: KindInsert, TableName: tableName, DBName: ""}

	currentPos := valuesPos
	for currentPos < len(sql) {
		parenL := strings.IndexByte(sql[currentPos:], '(')
		if parenL < 0 {
			break
		}
		parenL += currentPos
		parenR := findMatchingClosingParen(sql, parenL)
		if parenR < 0 {
			return nil, errs.New(errs.SyntaxError, "INSERT missing closing parenthesis")
		}
		valueList := sql[parenL+1 : parenR]
		var values []string
		for _, v := range splitTopLevel(valueList, ',') {
			values = append(values, unquoteLiteral(trim(v)))
		}
		cmd.Records = append(cmd.Records, dbtypes.Record{Valid: true, Values: values})
		currentPos = parenR + 1

		nextComma := strings.IndexByte(sql[currentPos:], ',')
		if nextComma < 0 {
			break
		}
		currentPos += nextComma + 1
	}

	if suffix := sql[currentPos:]; true {
		if inPos := strings.Index(toUpper(suffix), " IN "); inPos >= 0 {
			cmd.DBName = trim(suffix[inPos+4:])
		}
	}

	if len(cmd.Records) == 0 {
		return nil, errs.New(errs.SyntaxError, "INSERT: no values found")
	}
	_ = columns // column lists are accepted but values must already be in schema order
	return cmd, nil
}

// parseDelete ports "DELETE FROM table [ON DELETE action] [WHERE ...]".
func parseDelete(sql string) (*ParsedCommand, error) {
	rest := trim(sql[len("DELETE FROM"):])
	action, specified := parseTrailingAction(rest)
	if specified {
		rest = action.rest
	}

	wherePos := strings.Index(toUpper(rest), "WHERE")
	cmd := &ParsedCommand{Kind: KindDelete}
	if specified {
		cmd.Action = action.action
		cmd.ActionSpecified = true
	}
	if wherePos < 0 {
		cmd.TableName = stripIdentQuotes(trim(rest))
		return cmd, nil
	}
	cmd.TableName = stripIdentQuotes(trim(rest[:wherePos]))
	cond, err := parseWhereClause(rest[wherePos+len("WHERE"):])
	if err != nil {
		return nil, err
	}
	cmd.Where = cond
	return cmd, nil
}

// parseUpdate ports "UPDATE table SET a=v, b=v [WHERE ...]".
func parseUpdate(sql string) (*ParsedCommand, error) {
	upper := toUpper(sql)
	setPos := strings.Index(upper, "SET")
	if setPos < 0 {
		return nil, errs.New(errs.SyntaxError, "UPDATE missing SET")
	}
	cmd := &ParsedCommand{Kind: KindUpdate, TableName: stripIdentQuotes(trim(sql[len("UPDATE"):setPos]))}

	afterSet := sql[setPos+len("SET"):]
	wherePos := strings.Index(toUpper(afterSet), "WHERE")
	assignPart := afterSet
	if wherePos >= 0 {
		assignPart = afterSet[:wherePos]
	}
	for _, p := range splitTopLevel(assignPart, ',') {
		eq := strings.IndexByte(p, '=')
		if eq < 0 {
			continue
		}
		cmd.Assignments = append(cmd.Assignments, Assignment{
			Column: trim(p[:eq]),
			Value:  unquoteLiteral(trim(p[eq+1:])),
		})
	}

	if wherePos >= 0 {
		cond, err := parseWhereClause(afterSet[wherePos+len("WHERE"):])
		if err != nil {
			return nil, err
		}
		cmd.Where = cond
	}
	return cmd, nil
}

type trailingAction struct {
	action dbtypes.ReferentialAction
	rest   string
}

// parseTrailingAction strips a trailing "ON DELETE CASCADE"-style suffix
// token (CASCADE / RESTRICT / SET NULL) some dialect extensions allow on
// an ad hoc DELETE statement.
func parseTrailingAction(s string) (trailingAction, bool) {
	t := trim(s)
	up := toUpper(t)
	switch {
	case strings.HasSuffix(up, "SET NULL"):
		return trailingAction{action: dbtypes.SetNull, rest: trim(t[:len(t)-len("SET NULL")])}, true
	case strings.HasSuffix(up, "RESTRICT"):
		return trailingAction{action: dbtypes.Restrict, rest: trim(t[:len(t)-len("RESTRICT")])}, true
	case strings.HasSuffix(up, "CASCADE"):
		return trailingAction{action: dbtypes.Cascade, rest: trim(t[:len(t)-len("CASCADE")])}, true
	}
	return trailingAction{}, false
}
