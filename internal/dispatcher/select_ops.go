package dispatcher

import (
	"relsql/internal/sqlparser"
)

// execSelect runs a SELECT, autocommitting its own read-only
// transaction when sess has no BEGIN already open. A SELECT still needs
// a transaction because the executor takes shared row locks through it.
func (e *Engine) execSelect(sess *Session, cmd *sqlparser.ParsedCommand) (res Result, err error) {
	d, autocommit, err := e.withTxn(sess, "")
	if err != nil {
		return Result{}, err
	}
	if autocommit {
		defer func() { err = e.endAutocommit(sess, d, err) }()
	}

	rows, schema, serr := d.query.Select(sess.Txn, cmd.Query)
	if serr != nil {
		err = serr
		return Result{}, err
	}
	return Result{Kind: cmd.Kind, Rows: rows, Schema: schema}, nil
}
