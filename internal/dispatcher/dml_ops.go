package dispatcher

import (
	"relsql/internal/dbtypes"
	"relsql/internal/dml"
	"relsql/internal/errs"
	"relsql/internal/sqlparser"
)

// execDML runs INSERT/UPDATE/DELETE, wrapping the statement in its own
// autocommit transaction when sess has no BEGIN already open.
func (e *Engine) execDML(sess *Session, cmd *sqlparser.ParsedCommand) (res Result, err error) {
	dbName := ""
	if cmd.Kind == sqlparser.KindInsert {
		dbName = cmd.DBName
	}
	d, autocommit, err := e.withTxn(sess, dbName)
	if err != nil {
		return Result{}, err
	}
	if autocommit {
		defer func() { err = e.endAutocommit(sess, d, err) }()
	}

	schema, err := d.cat.Get(cmd.TableName)
	if err != nil {
		return Result{}, err
	}
	if schema.IsView {
		err = errs.New(errs.NotSupported, "cannot write to a view: %s", schema.Name)
		return Result{}, err
	}

	switch cmd.Kind {
	case sqlparser.KindInsert:
		if err = dml.Insert(d.wal, d.locks, d.cat, sess.Txn, schema, cmd.Records); err != nil {
			return Result{}, err
		}
		return Result{Kind: cmd.Kind, Affected: len(cmd.Records), Message: "rows inserted"}, nil

	case sqlparser.KindUpdate:
		n, uerr := dml.Update(d.wal, d.locks, d.cat, sess.Txn, schema, cmd.Where, cmd.Assignments)
		if uerr != nil {
			err = uerr
			return Result{}, err
		}
		return Result{Kind: cmd.Kind, Affected: n, Message: "rows updated"}, nil

	case sqlparser.KindDelete:
		var override *dbtypes.ReferentialAction
		if cmd.ActionSpecified {
			override = &cmd.Action
		}
		n, derr := dml.Delete(d.wal, d.locks, d.cat, sess.Txn, schema, cmd.Where, override)
		if derr != nil {
			err = derr
			return Result{}, err
		}
		return Result{Kind: cmd.Kind, Affected: n, Message: "rows deleted"}, nil
	}
	return Result{}, errs.New(errs.NotSupported, "unhandled DML statement")
}
