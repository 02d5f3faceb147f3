package dispatcher

import (
	"time"

	"relsql/internal/backup"
	"relsql/internal/dbtypes"
	"relsql/internal/errs"
	"relsql/internal/sqlparser"
	"relsql/internal/storage"
	"relsql/internal/txnmgr"
	"relsql/internal/wal"
)

// Session is one client's connection state: which database USE last
// selected, and the handle to an open transaction if one is in progress.
// Callers keep a Session per connection and pass it into every
// Execute/Run call. Statements without an explicit BEGIN run
// autocommit, one transaction each; statements between BEGIN and
// COMMIT/ROLLBACK share the same Session.Txn.
type Session struct {
	CurrentDB string
	Txn       *txnmgr.Txn
	txnDB     *database
}

// Result is the outcome of one executed statement: a row set with its
// schema for SELECT/SHOW, an affected-row count for INSERT/UPDATE/DELETE,
// or just a status Message for everything else.
type Result struct {
	Kind     sqlparser.Kind
	Rows     []dbtypes.Record
	Schema   dbtypes.TableSchema
	Affected int
	Message  string
}

// Run splits script on top-level semicolons and executes each statement
// against sess in order, stopping at the first error: within one
// request, SQL statements execute sequentially.
func (e *Engine) Run(sess *Session, script string) ([]Result, error) {
	var out []Result
	for _, stmt := range sqlparser.SplitStatements(script) {
		res, err := e.Execute(sess, stmt)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Execute parses and runs a single SQL statement against sess. A
// LockTimeout error rolls back whatever transaction was in progress
// (explicit or autocommit-implicit) before it is returned to the
// caller: a timed-out waiter rolls back its own transaction.
func (e *Engine) Execute(sess *Session, sql string) (res Result, err error) {
	cmd, err := sqlparser.Parse(sql)
	if err != nil {
		return Result{}, err
	}

	if sess.Txn != nil && isDDLKind(cmd.Kind) {
		return Result{}, errs.New(errs.Conflict, "DDL statements are not allowed inside an active transaction")
	}

	defer func() {
		if err != nil && errs.Is(err, errs.LockTimeout) && sess.Txn != nil {
			txn, db := sess.Txn, sess.txnDB
			sess.Txn, sess.txnDB = nil, nil
			_ = db.txns.Rollback(txn)
		}
	}()

	switch cmd.Kind {
	case sqlparser.KindCreateDatabase:
		return e.execCreateDatabase(cmd)
	case sqlparser.KindDropDatabase:
		return e.execDropDatabase(cmd)
	case sqlparser.KindUseDatabase:
		return e.execUseDatabase(sess, cmd)
	case sqlparser.KindBackup:
		return e.execBackup(cmd)
	case sqlparser.KindRestore:
		return e.execRestore(sess, cmd)
	case sqlparser.KindCheckpoint:
		return e.execCheckpoint(sess)

	case sqlparser.KindCreateUser, sqlparser.KindDropUser, sqlparser.KindGrant, sqlparser.KindRevoke:
		// Authentication/authorization is an external collaborator the
		// core engine never enforces; the dialect still parses so a
		// caller layering auth on top has something to hook.
		return Result{Kind: cmd.Kind, Message: "acknowledged (not enforced by the core engine)"}, nil

	case sqlparser.KindBegin:
		return e.execBegin(sess)
	case sqlparser.KindCommit:
		return e.execCommit(sess)
	case sqlparser.KindRollback:
		return e.execRollback(sess)
	case sqlparser.KindSavepoint:
		return e.execSavepoint(sess, cmd)
	case sqlparser.KindRollbackTo:
		return e.execRollbackTo(sess, cmd)
	case sqlparser.KindRelease:
		return e.execRelease(sess, cmd)

	case sqlparser.KindCreateTable, sqlparser.KindDropTable, sqlparser.KindRenameTable,
		sqlparser.KindCreateIndex, sqlparser.KindDropIndex, sqlparser.KindAlterTable,
		sqlparser.KindCreateView, sqlparser.KindDropView,
		sqlparser.KindShowTables, sqlparser.KindShowIndexes:
		return e.execDDL(sess, cmd)

	case sqlparser.KindInsert, sqlparser.KindUpdate, sqlparser.KindDelete:
		return e.execDML(sess, cmd)

	case sqlparser.KindSelect:
		return e.execSelect(sess, cmd)
	}
	return Result{}, errs.New(errs.NotSupported, "unhandled statement kind")
}

func isDDLKind(k sqlparser.Kind) bool {
	switch k {
	case sqlparser.KindCreateTable, sqlparser.KindDropTable, sqlparser.KindRenameTable,
		sqlparser.KindCreateIndex, sqlparser.KindDropIndex, sqlparser.KindAlterTable,
		sqlparser.KindCreateView, sqlparser.KindDropView:
		return true
	}
	return false
}

// resolveDB applies the dialect's "default" sentinel: CREATE TABLE's
// "INTO db" and INSERT's "IN db" default to the session's current
// database when omitted. Picks which database a statement targets.
func resolveDB(sess *Session, dbName string) string {
	if dbName == "" || dbName == "default" {
		return sess.CurrentDB
	}
	return dbName
}

func (e *Engine) dbFor(sess *Session, dbName string) (*database, error) {
	name := resolveDB(sess, dbName)
	if name == "" {
		return nil, errs.New(errs.SyntaxError, "no database selected: issue USE <database> first")
	}
	return e.getOrOpen(name)
}

func (e *Engine) execCreateDatabase(cmd *sqlparser.ParsedCommand) (Result, error) {
	if err := storage.CreateDatabase(cmd.DBName); err != nil {
		return Result{}, err
	}
	d, err := e.open(cmd.DBName, wal.New(cmd.DBName))
	if err != nil {
		return Result{}, err
	}
	e.mu.Lock()
	e.db[cmd.DBName] = d
	e.mu.Unlock()
	return Result{Kind: cmd.Kind, Message: "database created"}, nil
}

func (e *Engine) execDropDatabase(cmd *sqlparser.ParsedCommand) (Result, error) {
	if err := storage.DropDatabase(cmd.DBName); err != nil {
		return Result{}, err
	}
	e.forget(cmd.DBName)
	return Result{Kind: cmd.Kind, Message: "database dropped"}, nil
}

func (e *Engine) execUseDatabase(sess *Session, cmd *sqlparser.ParsedCommand) (Result, error) {
	if _, err := e.getOrOpen(cmd.DBName); err != nil {
		return Result{}, err
	}
	sess.CurrentDB = cmd.DBName
	return Result{Kind: cmd.Kind, Message: "database selected"}, nil
}

func (e *Engine) execBackup(cmd *sqlparser.ParsedCommand) (Result, error) {
	path, err := backup.Create(cmd.DBName, cmd.BackupPath)
	if err != nil {
		return Result{}, err
	}
	return Result{Kind: cmd.Kind, Message: path}, nil
}

func (e *Engine) execRestore(sess *Session, cmd *sqlparser.ParsedCommand) (Result, error) {
	if sess.Txn != nil && sess.txnDB != nil && sess.txnDB.name == cmd.DBName {
		return Result{}, errs.New(errs.Conflict, "cannot restore %q while its own session has an open transaction", cmd.DBName)
	}
	if err := backup.Restore(cmd.DBName, cmd.BackupPath); err != nil {
		return Result{}, err
	}
	// The restored directory may hold an unclean WAL tail; recover it
	// the same way startup does before the database is reopened.
	e.forget(cmd.DBName)
	if _, err := e.getOrOpen(cmd.DBName); err != nil {
		return Result{}, err
	}
	return Result{Kind: cmd.Kind, Message: "database restored"}, nil
}

func (e *Engine) execCheckpoint(sess *Session) (Result, error) {
	d, err := e.dbFor(sess, "")
	if err != nil {
		return Result{}, err
	}
	if _, err := d.wal.Checkpoint(time.Now().Unix()); err != nil {
		return Result{}, err
	}
	return Result{Kind: sqlparser.KindCheckpoint, Message: "checkpoint written"}, nil
}
