package dispatcher

import (
	"relsql/internal/errs"
	"relsql/internal/sqlparser"
)

// withTxn returns sess's open transaction and the database it belongs
// to, opening a fresh autocommit transaction against db when sess has
// none open: a statement issued outside BEGIN/COMMIT runs in its own
// single-statement transaction. autocommit reports whether the
// transaction returned was just opened for this one statement, so the
// caller knows to commit (or roll back) it immediately afterward.
func (e *Engine) withTxn(sess *Session, dbName string) (d *database, autocommit bool, err error) {
	if sess.Txn != nil {
		if sess.txnDB != nil && dbName != "" && dbName != sess.txnDB.name {
			return nil, false, errs.New(errs.Conflict, "active transaction is against database %q, not %q", sess.txnDB.name, dbName)
		}
		return sess.txnDB, false, nil
	}
	d, err = e.dbFor(sess, dbName)
	if err != nil {
		return nil, false, err
	}
	txn, err := d.txns.Begin(d.name)
	if err != nil {
		return nil, false, err
	}
	sess.Txn, sess.txnDB = txn, d
	return d, true, nil
}

// endAutocommit commits (or, on a non-nil statement error, rolls back)
// an autocommit transaction opened by withTxn, then rebuilds every
// table it touched.
func (e *Engine) endAutocommit(sess *Session, d *database, stmtErr error) error {
	txn := sess.Txn
	sess.Txn, sess.txnDB = nil, nil
	if stmtErr != nil {
		_ = d.txns.Rollback(txn)
		return stmtErr
	}
	if err := d.txns.Commit(txn); err != nil {
		return err
	}
	return rebuildTouched(d, txn)
}

func (e *Engine) execBegin(sess *Session) (Result, error) {
	if sess.Txn != nil {
		return Result{}, errs.New(errs.TxnState, "a transaction is already open")
	}
	d, err := e.dbFor(sess, "")
	if err != nil {
		return Result{}, err
	}
	txn, err := d.txns.Begin(d.name)
	if err != nil {
		return Result{}, err
	}
	sess.Txn, sess.txnDB = txn, d
	return Result{Kind: sqlparser.KindBegin, Message: "transaction started"}, nil
}

func (e *Engine) execCommit(sess *Session) (Result, error) {
	if sess.Txn == nil {
		return Result{}, errs.New(errs.TxnState, "no transaction is open")
	}
	txn, d := sess.Txn, sess.txnDB
	sess.Txn, sess.txnDB = nil, nil
	if err := d.txns.Commit(txn); err != nil {
		return Result{}, err
	}
	if err := rebuildTouched(d, txn); err != nil {
		return Result{}, err
	}
	return Result{Kind: sqlparser.KindCommit, Message: "transaction committed"}, nil
}

func (e *Engine) execRollback(sess *Session) (Result, error) {
	if sess.Txn == nil {
		return Result{}, errs.New(errs.TxnState, "no transaction is open")
	}
	txn, d := sess.Txn, sess.txnDB
	sess.Txn, sess.txnDB = nil, nil
	if err := d.txns.Rollback(txn); err != nil {
		return Result{}, err
	}
	return Result{Kind: sqlparser.KindRollback, Message: "transaction rolled back"}, nil
}

func (e *Engine) execSavepoint(sess *Session, cmd *sqlparser.ParsedCommand) (Result, error) {
	if sess.Txn == nil {
		return Result{}, errs.New(errs.TxnState, "no transaction is open")
	}
	sess.Txn.Savepoint(cmd.SavepointName)
	return Result{Kind: sqlparser.KindSavepoint, Message: "savepoint set"}, nil
}

func (e *Engine) execRollbackTo(sess *Session, cmd *sqlparser.ParsedCommand) (Result, error) {
	if sess.Txn == nil || sess.txnDB == nil {
		return Result{}, errs.New(errs.TxnState, "no transaction is open")
	}
	if err := sess.txnDB.txns.RollbackTo(sess.Txn, cmd.SavepointName); err != nil {
		return Result{}, err
	}
	return Result{Kind: sqlparser.KindRollbackTo, Message: "rolled back to savepoint"}, nil
}

func (e *Engine) execRelease(sess *Session, cmd *sqlparser.ParsedCommand) (Result, error) {
	if sess.Txn == nil || sess.txnDB == nil {
		return Result{}, errs.New(errs.TxnState, "no transaction is open")
	}
	if err := sess.txnDB.txns.ReleaseSavepoint(sess.Txn, cmd.SavepointName); err != nil {
		return Result{}, err
	}
	return Result{Kind: sqlparser.KindRelease, Message: "savepoint released"}, nil
}
