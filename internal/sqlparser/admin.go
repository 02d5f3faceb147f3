package sqlparser

import (
	"strings"

	"relsql/internal/errs"
)

func parseBackup(sql string) (*ParsedCommand, error) {
	rest := trim(sql[len("BACKUP DATABASE"):])
	toPos := strings.Index(toUpper(rest), " TO ")
	if toPos < 0 {
		return nil, errs.New(errs.SyntaxError, "BACKUP DATABASE expected TO")
	}
	dbName := trim(rest[:toPos])
	path := stripIdentQuotes(trim(rest[toPos+4:]))
	if dbName == "" || path == "" {
		return nil, errs.New(errs.SyntaxError, "BACKUP DATABASE: name and path required")
	}
	return &ParsedCommand{Kind: KindBackup, DBName: dbName, BackupPath: path}, nil
}

func parseRestore(sql string) (*ParsedCommand, error) {
	rest := trim(sql[len("RESTORE DATABASE"):])
	fromPos := strings.Index(toUpper(rest), " FROM ")
	if fromPos < 0 {
		return nil, errs.New(errs.SyntaxError, "RESTORE DATABASE expected FROM")
	}
	dbName := trim(rest[:fromPos])
	path := stripIdentQuotes(trim(rest[fromPos+6:]))
	if dbName == "" || path == "" {
		return nil, errs.New(errs.SyntaxError, "RESTORE DATABASE: name and backup path required")
	}
	return &ParsedCommand{Kind: KindRestore, DBName: dbName, BackupPath: path}, nil
}

func parseCheckpoint(sql string) (*ParsedCommand, error) {
	return &ParsedCommand{Kind: KindCheckpoint}, nil
}

func parseCreateUser(sql string) (*ParsedCommand, error) {
	upper := toUpper(sql)
	byPos := strings.Index(upper, " IDENTIFIED BY ")
	if byPos < 0 {
		return nil, errs.New(errs.SyntaxError, "CREATE USER expected IDENTIFIED BY")
	}
	userPart := stripIdentQuotes(trim(sql[len("CREATE USER"):byPos]))
	passPart := stripIdentQuotes(trim(sql[byPos+len(" IDENTIFIED BY "):]))
	return &ParsedCommand{Kind: KindCreateUser, Username: userPart, Password: passPart}, nil
}

func parseDropUser(sql string) (*ParsedCommand, error) {
	return &ParsedCommand{Kind: KindDropUser, Username: stripIdentQuotes(trim(sql[len("DROP USER"):]))}, nil
}

func parseGrant(sql string) (*ParsedCommand, error) {
	upper := toUpper(sql)
	onPos := strings.Index(upper, " ON ")
	toPos := strings.Index(upper, " TO ")
	if onPos < 0 || toPos < 0 {
		return nil, errs.New(errs.SyntaxError, "usage: GRANT <privs> ON <table> TO <user>")
	}
	privStr := trim(sql[len("GRANT"):onPos])
	tableStr := trim(sql[onPos+4 : toPos])
	userStr := stripIdentQuotes(trim(sql[toPos+4:]))
	return &ParsedCommand{
		Kind:       KindGrant,
		Privileges: expandPrivileges(privStr),
		TableName:  tableStr,
		Username:   userStr,
	}, nil
}

func parseRevoke(sql string) (*ParsedCommand, error) {
	upper := toUpper(sql)
	onPos := strings.Index(upper, " ON ")
	fromPos := strings.Index(upper, " FROM ")
	if onPos < 0 || fromPos < 0 {
		return nil, errs.New(errs.SyntaxError, "usage: REVOKE <privs> ON <table> FROM <user>")
	}
	privStr := trim(sql[len("REVOKE"):onPos])
	tableStr := trim(sql[onPos+4 : fromPos])
	userStr := stripIdentQuotes(trim(sql[fromPos+6:]))
	return &ParsedCommand{
		Kind:       KindRevoke,
		Privileges: expandPrivileges(privStr),
		TableName:  tableStr,
		Username:   userStr,
	}, nil
}

func expandPrivileges(privStr string) []string {
	var out []string
	for _, s := range strings.Split(privStr, ",") {
		s = trim(s)
		if toUpper(s) == "ALL" {
			return []string{"SELECT", "INSERT", "UPDATE", "DELETE", "CREATE", "DROP"}
		}
		out = append(out, s)
	}
	return out
}
