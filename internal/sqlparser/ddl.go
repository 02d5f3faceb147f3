package sqlparser

import (
	"strconv"
	"strings"

	"relsql/internal/dbtypes"
	"relsql/internal/errs"
)

// parseCreateTable ports Parser::Parse's CREATE TABLE branch: a field
// list of "name type [PRIMARY KEY] [NOT NULL]" entries plus inline
// FOREIGN KEY / CONSTRAINT clauses, with an optional trailing
// "INTO dbname".
func parseCreateTable(sql string) (*ParsedCommand, error) {
	upper := toUpper(sql)
	body := sql[len("CREATE TABLE"):]
	dbName := "default"
	if intoPos := strings.Index(toUpper(body), "INTO"); intoPos >= 0 {
		dbName = trim(body[intoPos+4:])
		body = body[:intoPos]
	}
	_ = upper

	parenL := strings.IndexByte(body, '(')
	parenR := strings.LastIndexByte(body, ')')
	if parenL < 0 || parenR < 0 || parenR <= parenL {
		return nil, errs.New(errs.SyntaxError, "CREATE TABLE: invalid field list")
	}

	tableName := stripIdentQuotes(trim(body[:parenL]))
	fieldList := body[parenL+1 : parenR]

	schema := dbtypes.TableSchema{Name: tableName}
	for _, raw := range splitTopLevel(fieldList, ',') {
		fstr := trim(raw)
		if fstr == "" {
			continue
		}
		if fk, ok := parseForeignKeyClause(fstr); ok {
			schema.ForeignKeys = append(schema.ForeignKeys, fk)
			continue
		}
		parts := strings.Fields(fstr)
		if len(parts) < 2 {
			continue
		}
		typeName, size := parseTypeToken(parts[1])
		field := dbtypes.Field{Name: parts[0], Type: typeName, Size: size, Nullable: true, Valid: true}
		for i := 2; i < len(parts); i++ {
			p := toUpper(parts[i])
			switch {
			case p == "PRIMARY" && i+1 < len(parts) && toUpper(parts[i+1]) == "KEY":
				field.IsKey = true
				field.Nullable = false
				i++
			case p == "NOT" && i+1 < len(parts) && toUpper(parts[i+1]) == "NULL":
				field.Nullable = false
				i++
			case p == "UNIQUE":
				schema.Indexes = append(schema.Indexes, dbtypes.IndexDef{
					Name: field.Name + "_unique", Column: field.Name, IsUnique: true,
				})
			}
		}
		schema.Fields = append(schema.Fields, field)
	}

	return &ParsedCommand{Kind: KindCreateTable, TableName: tableName, DBName: dbName, Schema: schema}, nil
}

// parseTypeToken splits a type token like CHAR(32) or INT into its base
// name and declared size (0 if none given).
func parseTypeToken(tok string) (string, int) {
	lp := strings.IndexAny(tok, "([")
	if lp < 0 {
		return toUpper(tok), 0
	}
	rp := strings.IndexAny(tok[lp:], ")]")
	if rp < 0 {
		return toUpper(tok[:lp]), 0
	}
	sizeStr := trim(tok[lp+1 : lp+rp])
	size, _ := strconv.Atoi(sizeStr)
	return toUpper(tok[:lp]), size
}

// parseForeignKeyClause recognizes an inline "[CONSTRAINT name] FOREIGN
// KEY (cols) REFERENCES table (cols) [ON DELETE act] [ON UPDATE act]"
// clause within a CREATE TABLE field list.
func parseForeignKeyClause(input string) (dbtypes.ForeignKeyDef, bool) {
	work := trim(input)
	up := toUpper(work)
	var fk dbtypes.ForeignKeyDef

	if strings.HasPrefix(up, "CONSTRAINT ") {
		rest := trim(work[len("CONSTRAINT"):])
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			return fk, false
		}
		fk.Name = stripIdentQuotes(trim(rest[:sp]))
		work = trim(rest[sp+1:])
		up = toUpper(work)
	}

	fkPos := strings.Index(up, "FOREIGN KEY")
	if fkPos < 0 {
		return fk, false
	}
	colsL := strings.IndexByte(work[fkPos:], '(')
	if colsL < 0 {
		return fk, false
	}
	colsL += fkPos
	colsR := findMatchingClosingParen(work, colsL)
	if colsR < 0 {
		return fk, false
	}
	fk.Columns = splitIdentifierList(work[colsL : colsR+1])

	afterCols := trim(work[colsR+1:])
	upAfter := toUpper(afterCols)
	refPos := strings.Index(upAfter, "REFERENCES")
	if refPos < 0 {
		return fk, false
	}
	refBody := trim(afterCols[refPos+len("REFERENCES"):])
	if refBody == "" {
		return fk, false
	}

	refColsL := strings.IndexByte(refBody, '(')
	var rest string
	if refColsL < 0 {
		fk.RefTable = stripIdentQuotes(refBody)
	} else {
		fk.RefTable = stripIdentQuotes(trim(refBody[:refColsL]))
		refColsR := findMatchingClosingParen(refBody, refColsL)
		if refColsR < 0 {
			return fk, false
		}
		fk.RefColumns = splitIdentifierList(refBody[refColsL : refColsR+1])
		rest = trim(refBody[refColsR+1:])
	}

	parseAction := func(key string) (dbtypes.ReferentialAction, bool, bool) {
		upRest := toUpper(rest)
		pos := strings.Index(upRest, key)
		if pos < 0 {
			return dbtypes.Restrict, false, true
		}
		tail := trim(rest[pos+len(key):])
		nextOn := strings.Index(toUpper(tail), " ON ")
		token := tail
		if nextOn >= 0 {
			token = trim(tail[:nextOn])
		}
		action, ok := parseReferentialActionToken(token)
		return action, true, ok
	}

	if action, present, ok := parseAction("ON DELETE"); present {
		if !ok {
			return fk, false
		}
		fk.OnDelete = action
	}
	if action, present, ok := parseAction("ON UPDATE"); present {
		if !ok {
			return fk, false
		}
		fk.OnUpdate = action
	}

	return fk, true
}

func parseCreateDatabase(sql string) (*ParsedCommand, error) {
	name := trim(sql[len("CREATE DATABASE"):])
	if name == "" {
		return nil, errs.New(errs.SyntaxError, "CREATE DATABASE missing name")
	}
	return &ParsedCommand{Kind: KindCreateDatabase, DBName: stripIdentQuotes(name)}, nil
}

func parseDropDatabase(sql string) (*ParsedCommand, error) {
	name := trim(sql[len("DROP DATABASE"):])
	if name == "" {
		return nil, errs.New(errs.SyntaxError, "DROP DATABASE missing name")
	}
	return &ParsedCommand{Kind: KindDropDatabase, DBName: stripIdentQuotes(name)}, nil
}

func parseUseDatabase(sql string) (*ParsedCommand, error) {
	name := trim(sql[len("USE"):])
	if name == "" {
		return nil, errs.New(errs.SyntaxError, "USE missing database name")
	}
	return &ParsedCommand{Kind: KindUseDatabase, DBName: stripIdentQuotes(name)}, nil
}

func parseDropTable(sql string) (*ParsedCommand, error) {
	rest := trim(sql[len("DROP TABLE"):])
	ifExists := false
	if strings.HasPrefix(toUpper(rest), "IF EXISTS") {
		ifExists = true
		rest = trim(rest[len("IF EXISTS"):])
	}
	action, specified := parseTrailingAction(rest)
	if specified {
		rest = action.rest
	}
	if rest == "" {
		return nil, errs.New(errs.SyntaxError, "DROP TABLE missing name")
	}
	cmd := &ParsedCommand{Kind: KindDropTable, TableName: stripIdentQuotes(rest), IfExists: ifExists}
	if specified {
		cmd.Action = action.action
		cmd.ActionSpecified = true
	}
	return cmd, nil
}

func parseRenameTable(sql string) (*ParsedCommand, error) {
	rest := trim(sql[len("RENAME TABLE"):])
	upRest := toUpper(rest)
	toPos := strings.Index(upRest, " TO ")
	if toPos < 0 {
		return nil, errs.New(errs.SyntaxError, "RENAME TABLE missing TO")
	}
	return &ParsedCommand{
		Kind:      KindRenameTable,
		TableName: stripIdentQuotes(trim(rest[:toPos])),
		NewName:   stripIdentQuotes(trim(rest[toPos+4:])),
	}, nil
}

func parseCreateIndex(sql string) (*ParsedCommand, error) {
	unique := strings.HasPrefix(toUpper(sql), "CREATE UNIQUE INDEX")
	prefix := "CREATE INDEX"
	if unique {
		prefix = "CREATE UNIQUE INDEX"
	}
	rest := sql[len(prefix):]
	onPos := strings.Index(toUpper(rest), " ON ")
	if onPos < 0 {
		return nil, errs.New(errs.SyntaxError, "CREATE INDEX expected ON")
	}
	indexName := stripIdentQuotes(trim(rest[:onPos]))
	afterOn := rest[onPos+4:]
	parenL := strings.IndexByte(afterOn, '(')
	parenR := strings.LastIndexByte(afterOn, ')')
	if parenL < 0 || parenR < 0 || parenR < parenL {
		return nil, errs.New(errs.SyntaxError, "CREATE INDEX expected (column)")
	}
	return &ParsedCommand{
		Kind:      KindCreateIndex,
		IndexName: indexName,
		TableName: stripIdentQuotes(trim(afterOn[:parenL])),
		FieldName: stripIdentQuotes(trim(afterOn[parenL+1 : parenR])),
		IsUnique:  unique,
	}, nil
}

func parseDropIndex(sql string) (*ParsedCommand, error) {
	rest := trim(sql[len("DROP INDEX"):])
	upRest := toUpper(rest)
	onPos := strings.Index(upRest, " ON ")
	if onPos < 0 {
		return nil, errs.New(errs.SyntaxError, "DROP INDEX expected ON")
	}
	return &ParsedCommand{
		Kind:      KindDropIndex,
		IndexName: stripIdentQuotes(trim(rest[:onPos])),
		TableName: stripIdentQuotes(trim(rest[onPos+4:])),
	}, nil
}

func parseShowTables(sql string) (*ParsedCommand, error) {
	return &ParsedCommand{Kind: KindShowTables}, nil
}

func parseShowIndexes(sql string) (*ParsedCommand, error) {
	rest := trim(sql[len("SHOW INDEX"):])
	upRest := toUpper(rest)
	if strings.HasPrefix(upRest, "FROM ") {
		rest = trim(rest[5:])
	} else if strings.HasPrefix(upRest, "ON ") {
		rest = trim(rest[3:])
	}
	return &ParsedCommand{Kind: KindShowIndexes, TableName: stripIdentQuotes(rest)}, nil
}

// parseAlterTable ports the ALTER TABLE branch's ADD/DROP/MODIFY/RENAME
// column and constraint handling.
func parseAlterTable(sql string) (*ParsedCommand, error) {
	rest := trim(sql[len("ALTER TABLE"):])
	firstSpace := strings.IndexByte(rest, ' ')
	if firstSpace < 0 {
		return nil, errs.New(errs.SyntaxError, "incomplete ALTER TABLE")
	}
	tableName := stripIdentQuotes(trim(rest[:firstSpace]))
	action := trim(rest[firstSpace+1:])
	upAction := toUpper(action)
	cmd := &ParsedCommand{Kind: KindAlterTable, TableName: tableName}

	switch {
	case strings.HasPrefix(upAction, "ADD COLUMN"):
		cmd.AlterOp = AlterAddColumn
		return parseAddColumn(cmd, trim(action[len("ADD COLUMN"):]))
	case strings.HasPrefix(upAction, "ADD INDEX"):
		cmd.AlterOp = AlterAddIndex
		body := trim(action[len("ADD INDEX"):])
		openParen := strings.IndexByte(body, '(')
		if openParen < 0 {
			return nil, errs.New(errs.SyntaxError, "ALTER TABLE ADD INDEX missing (")
		}
		if openParen > 0 {
			cmd.IndexName = stripIdentQuotes(trim(body[:openParen]))
		}
		closeParen := findMatchingClosingParen(body, openParen)
		if closeParen < 0 {
			return nil, errs.New(errs.SyntaxError, "ALTER TABLE ADD INDEX unterminated")
		}
		cmd.FieldName = stripIdentQuotes(trim(body[openParen+1 : closeParen]))
		if cmd.IndexName == "" {
			cmd.IndexName = tableName + "_" + cmd.FieldName + "_idx"
		}
		return cmd, nil
	case strings.HasPrefix(upAction, "ADD CONSTRAINT"), strings.HasPrefix(upAction, "ADD FOREIGN KEY"):
		cmd.AlterOp = AlterAddConstraint
		fk, ok := parseForeignKeyClause(action[len("ADD"):])
		if !ok {
			return nil, errs.New(errs.SyntaxError, "invalid ADD CONSTRAINT clause")
		}
		cmd.FKDef = fk
		return cmd, nil
	case strings.HasPrefix(upAction, "DROP COLUMN"):
		cmd.AlterOp = AlterDropColumn
		cmd.FieldName = stripIdentQuotes(trim(action[len("DROP COLUMN"):]))
		return cmd, nil
	case strings.HasPrefix(upAction, "DROP INDEX"):
		cmd.AlterOp = AlterDropIndex
		cmd.IndexName = stripIdentQuotes(trim(action[len("DROP INDEX"):]))
		return cmd, nil
	case strings.HasPrefix(upAction, "DROP CONSTRAINT"), strings.HasPrefix(upAction, "DROP FOREIGN KEY"):
		cmd.AlterOp = AlterDropConstraint
		plen := len("DROP CONSTRAINT")
		if strings.HasPrefix(upAction, "DROP FOREIGN KEY") {
			plen = len("DROP FOREIGN KEY")
		}
		cmd.FKDef.Name = stripIdentQuotes(trim(action[plen:]))
		return cmd, nil
	case strings.HasPrefix(upAction, "MODIFY COLUMN"), strings.HasPrefix(upAction, "ALTER COLUMN"):
		cmd.AlterOp = AlterModifyColumn
		plen := len("MODIFY COLUMN")
		if strings.HasPrefix(upAction, "ALTER COLUMN") {
			plen = len("ALTER COLUMN")
		}
		return parseModifyColumn(cmd, trim(action[plen:]))
	case strings.HasPrefix(upAction, "RENAME COLUMN"):
		cmd.AlterOp = AlterRenameColumn
		body := trim(action[len("RENAME COLUMN"):])
		upBody := toUpper(body)
		toPos := strings.Index(upBody, " TO ")
		if toPos < 0 {
			return nil, errs.New(errs.SyntaxError, "RENAME COLUMN missing TO")
		}
		cmd.FieldName = stripIdentQuotes(trim(body[:toPos]))
		cmd.NewName = stripIdentQuotes(trim(body[toPos+4:]))
		return cmd, nil
	case strings.HasPrefix(upAction, "RENAME TO"):
		cmd.AlterOp = AlterRenameTable
		cmd.NewName = stripIdentQuotes(trim(action[len("RENAME TO"):]))
		return cmd, nil
	}
	return nil, errs.New(errs.SyntaxError, "unsupported ALTER TABLE action %q", action)
}

func parseAddColumn(cmd *ParsedCommand, body string) (*ParsedCommand, error) {
	parts := strings.Fields(body)
	if len(parts) < 2 {
		return nil, errs.New(errs.SyntaxError, "ADD COLUMN missing type")
	}
	typeName, size := parseTypeToken(parts[1])
	field := dbtypes.Field{Name: parts[0], Type: typeName, Size: size, Nullable: true, Valid: true}
	for i := 2; i < len(parts); i++ {
		p := toUpper(parts[i])
		if p == "NOT" && i+1 < len(parts) && toUpper(parts[i+1]) == "NULL" {
			field.Nullable = false
			i++
		}
	}
	cmd.ColumnDef = field
	return cmd, nil
}

func parseModifyColumn(cmd *ParsedCommand, body string) (*ParsedCommand, error) {
	parts := strings.Fields(body)
	if len(parts) < 2 {
		return nil, errs.New(errs.SyntaxError, "MODIFY COLUMN missing type")
	}
	typeName, size := parseTypeToken(parts[1])
	field := dbtypes.Field{Name: parts[0], Type: typeName, Size: size, Nullable: true, Valid: true}
	for i := 2; i < len(parts); i++ {
		p := toUpper(parts[i])
		if p == "NOT" && i+1 < len(parts) && toUpper(parts[i+1]) == "NULL" {
			field.Nullable = false
			i++
		}
	}
	cmd.FieldName = field.Name
	cmd.ColumnDef = field
	return cmd, nil
}

// parseCreateView ports "CREATE [OR REPLACE] VIEW name [(cols)] AS select".
func parseCreateView(sql string) (*ParsedCommand, error) {
	upper := toUpper(sql)
	orReplace := false
	rest := sql
	if strings.HasPrefix(upper, "CREATE OR REPLACE VIEW") {
		orReplace = true
		rest = sql[len("CREATE OR REPLACE VIEW"):]
	} else {
		rest = sql[len("CREATE VIEW"):]
	}
	rest = trim(rest)
	upRest := toUpper(rest)
	asPos := findKeywordTopLevel(upRest, " AS ", 0)
	if asPos < 0 {
		return nil, errs.New(errs.SyntaxError, "CREATE VIEW missing AS")
	}
	head := trim(rest[:asPos])
	selectSQL := trim(rest[asPos+4:])

	viewName := head
	var cols []string
	if lp := strings.IndexByte(head, '('); lp >= 0 {
		viewName = trim(head[:lp])
		rp := strings.LastIndexByte(head, ')')
		if rp > lp {
			cols = splitIdentifierList(head[lp : rp+1])
		}
	}

	selCmd, err := Parse(selectSQL)
	if err != nil || selCmd.Kind != KindSelect {
		return nil, errs.New(errs.SyntaxError, "CREATE VIEW: invalid SELECT body")
	}

	return &ParsedCommand{
		Kind:          KindCreateView,
		ViewName:      stripIdentQuotes(viewName),
		ViewColumns:   cols,
		ViewQuery:     selCmd.Query,
		ViewSQL:       selectSQL,
		ViewOrReplace: orReplace,
	}, nil
}

func parseDropView(sql string) (*ParsedCommand, error) {
	rest := trim(sql[len("DROP VIEW"):])
	ifExists := false
	if strings.HasPrefix(toUpper(rest), "IF EXISTS") {
		ifExists = true
		rest = trim(rest[len("IF EXISTS"):])
	}
	return &ParsedCommand{Kind: KindDropView, ViewName: stripIdentQuotes(rest), IfExists: ifExists}, nil
}
