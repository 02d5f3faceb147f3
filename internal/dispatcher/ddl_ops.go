package dispatcher

import (
	"relsql/internal/dbtypes"
	"relsql/internal/ddl"
	"relsql/internal/errs"
	"relsql/internal/sqlparser"
)

// execDDL dispatches every schema-changing and introspection statement.
// These run outside any transaction (Execute already rejects DDL while
// sess.Txn is open) straight against the catalog, with no WAL/undo
// path of their own.
func (e *Engine) execDDL(sess *Session, cmd *sqlparser.ParsedCommand) (Result, error) {
	switch cmd.Kind {
	case sqlparser.KindCreateTable:
		d, err := e.dbFor(sess, cmd.DBName)
		if err != nil {
			return Result{}, err
		}
		if err := ddl.CreateTable(d.cat, cmd.Schema); err != nil {
			return Result{}, err
		}
		return Result{Kind: cmd.Kind, Message: "table created"}, nil

	case sqlparser.KindDropTable:
		d, err := e.dbFor(sess, "")
		if err != nil {
			return Result{}, err
		}
		action := dbtypes.Restrict
		if cmd.ActionSpecified {
			action = cmd.Action
		}
		if err := ddl.DropTable(d.cat, cmd.TableName, action); err != nil {
			if cmd.IfExists && errs.Is(err, errs.NotFound) {
				return Result{Kind: cmd.Kind, Message: "table did not exist"}, nil
			}
			return Result{}, err
		}
		return Result{Kind: cmd.Kind, Message: "table dropped"}, nil

	case sqlparser.KindRenameTable:
		d, err := e.dbFor(sess, "")
		if err != nil {
			return Result{}, err
		}
		if err := ddl.RenameTable(d.cat, cmd.TableName, cmd.NewName); err != nil {
			return Result{}, err
		}
		return Result{Kind: cmd.Kind, Message: "table renamed"}, nil

	case sqlparser.KindCreateIndex:
		d, err := e.dbFor(sess, "")
		if err != nil {
			return Result{}, err
		}
		if err := ddl.CreateIndex(d.cat, cmd.TableName, cmd.FieldName, cmd.IndexName, cmd.IsUnique); err != nil {
			return Result{}, err
		}
		return Result{Kind: cmd.Kind, Message: "index created"}, nil

	case sqlparser.KindDropIndex:
		d, err := e.dbFor(sess, "")
		if err != nil {
			return Result{}, err
		}
		if err := ddl.DropIndex(d.cat, cmd.TableName, cmd.IndexName); err != nil {
			return Result{}, err
		}
		return Result{Kind: cmd.Kind, Message: "index dropped"}, nil

	case sqlparser.KindAlterTable:
		return e.execAlterTable(sess, cmd)

	case sqlparser.KindCreateView:
		d, err := e.dbFor(sess, "")
		if err != nil {
			return Result{}, err
		}
		if err := ddl.CreateView(d.cat, cmd.ViewName, cmd.ViewQuery, cmd.ViewSQL, cmd.ViewColumns, cmd.ViewOrReplace); err != nil {
			return Result{}, err
		}
		return Result{Kind: cmd.Kind, Message: "view created"}, nil

	case sqlparser.KindDropView:
		d, err := e.dbFor(sess, "")
		if err != nil {
			return Result{}, err
		}
		if err := ddl.DropView(d.cat, cmd.ViewName, cmd.IfExists); err != nil {
			return Result{}, err
		}
		return Result{Kind: cmd.Kind, Message: "view dropped"}, nil

	case sqlparser.KindShowTables:
		d, err := e.dbFor(sess, "")
		if err != nil {
			return Result{}, err
		}
		schemas, err := d.cat.All()
		if err != nil {
			return Result{}, err
		}
		var rows []dbtypes.Record
		for _, s := range schemas {
			rows = append(rows, dbtypes.Record{Valid: true, Values: []string{s.Name}})
		}
		return Result{Kind: cmd.Kind, Rows: rows, Schema: dbtypes.TableSchema{Fields: []dbtypes.Field{{Name: "table_name"}}}}, nil

	case sqlparser.KindShowIndexes:
		d, err := e.dbFor(sess, "")
		if err != nil {
			return Result{}, err
		}
		idxs, err := ddl.ListIndexes(d.cat, cmd.TableName)
		if err != nil {
			return Result{}, err
		}
		var rows []dbtypes.Record
		for _, ix := range idxs {
			unique := "NO"
			if ix.IsUnique {
				unique = "YES"
			}
			rows = append(rows, dbtypes.Record{Valid: true, Values: []string{ix.Name, ix.Column, unique}})
		}
		return Result{Kind: cmd.Kind, Rows: rows, Schema: dbtypes.TableSchema{Fields: []dbtypes.Field{{Name: "index_name"}, {Name: "column"}, {Name: "unique"}}}}, nil
	}
	return Result{}, errs.New(errs.NotSupported, "unhandled DDL statement")
}

func (e *Engine) execAlterTable(sess *Session, cmd *sqlparser.ParsedCommand) (Result, error) {
	d, err := e.dbFor(sess, "")
	if err != nil {
		return Result{}, err
	}
	switch cmd.AlterOp {
	case sqlparser.AlterAddColumn:
		if err := ddl.AddColumn(d.cat, cmd.TableName, cmd.ColumnDef, cmd.ExtraInfo); err != nil {
			return Result{}, err
		}
	case sqlparser.AlterDropColumn:
		if err := ddl.DropColumn(d.cat, cmd.TableName, cmd.FieldName); err != nil {
			return Result{}, err
		}
	case sqlparser.AlterModifyColumn:
		if err := ddl.ModifyColumn(d.cat, cmd.TableName, cmd.ColumnDef); err != nil {
			return Result{}, err
		}
	case sqlparser.AlterRenameColumn:
		if err := ddl.RenameColumn(d.cat, cmd.TableName, cmd.FieldName, cmd.NewName); err != nil {
			return Result{}, err
		}
	case sqlparser.AlterRenameTable:
		if err := ddl.RenameTable(d.cat, cmd.TableName, cmd.NewName); err != nil {
			return Result{}, err
		}
	case sqlparser.AlterAddIndex:
		if err := ddl.CreateIndex(d.cat, cmd.TableName, cmd.FieldName, cmd.IndexName, false); err != nil {
			return Result{}, err
		}
	case sqlparser.AlterDropIndex:
		if err := ddl.DropIndex(d.cat, cmd.TableName, cmd.IndexName); err != nil {
			return Result{}, err
		}
	case sqlparser.AlterAddConstraint:
		if err := ddl.AddForeignKey(d.cat, cmd.TableName, cmd.FKDef); err != nil {
			return Result{}, err
		}
	case sqlparser.AlterDropConstraint:
		if err := ddl.DropForeignKey(d.cat, cmd.TableName, cmd.FKDef.Name); err != nil {
			return Result{}, err
		}
	default:
		return Result{}, errs.New(errs.NotSupported, "unhandled ALTER TABLE operation")
	}
	return Result{Kind: cmd.Kind, Message: "table altered"}, nil
}
