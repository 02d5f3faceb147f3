// Package dml implements INSERT, UPDATE, and DELETE. Every statement
// here runs inside a transaction: it logs a WAL record for each row it
// touches, takes an exclusive row lock, and marks the table as touched
// so the dispatcher can rebuild its indexes once the transaction ends,
// deferring index maintenance rather than updating index files on
// every write.
package dml

import (
	"strings"

	"relsql/internal/catalog"
	"relsql/internal/dbtypes"
	"relsql/internal/errs"
	"relsql/internal/lockmgr"
	"relsql/internal/predicate"
	"relsql/internal/sqlparser"
	"relsql/internal/storage"
	"relsql/internal/txnmgr"
	"relsql/internal/wal"
)

// unitSeparator joins the column values of a composite key into one
// comparable string, the same ASCII unit-separator join the reference
// engine's DMLService::Insert uses for its duplicate-PK check.
const unitSeparator = "\x1f"

// compositeKey builds the joined-key string for cols out of rec, or
// reports false if rec doesn't carry every named column.
func compositeKey(schema dbtypes.TableSchema, cols []string, rec dbtypes.Record) (string, bool) {
	parts := make([]string, len(cols))
	for i, c := range cols {
		idx := schema.FieldIndex(c)
		if idx < 0 || idx >= len(rec.Values) {
			return "", false
		}
		parts[i] = predicate.Normalize(rec.Values[idx])
	}
	return strings.Join(parts, unitSeparator), true
}

// isNullValue reports whether a column's stored text represents SQL
// NULL, either empty or the literal word NULL (how the parser encodes an
// omitted/explicit NULL value into a Record's string slot).
func isNullValue(v string) bool {
	n := predicate.Normalize(v)
	return n == "" || strings.EqualFold(n, "NULL")
}

// checkPKUnique rejects rec if its primary-key tuple collides with any
// live row already in existing.
func checkPKUnique(schema dbtypes.TableSchema, existing []dbtypes.Record, rec dbtypes.Record) error {
	keyFields := schema.KeyFieldNames()
	if len(keyFields) == 0 {
		return nil
	}
	newKey, ok := compositeKey(schema, keyFields, rec)
	if !ok {
		return nil
	}
	for _, e := range existing {
		if !e.Valid {
			continue
		}
		k, ok := compositeKey(schema, keyFields, e)
		if ok && k == newKey {
			return errs.New(errs.Conflict, "duplicate primary key value in table %q", schema.Name)
		}
	}
	return nil
}

// checkForeignKeys validates every foreign key schema declares against
// rec: a non-null FK tuple must match some live row in the referenced
// table's referenced columns. A tuple with every column null is exempt.
func checkForeignKeys(cat *catalog.Catalog, db string, schema dbtypes.TableSchema, rec dbtypes.Record) error {
	for _, fk := range schema.ForeignKeys {
		if err := checkOneForeignKey(cat, db, schema, rec, fk); err != nil {
			return err
		}
	}
	return nil
}

func checkOneForeignKey(cat *catalog.Catalog, db string, schema dbtypes.TableSchema, rec dbtypes.Record, fk dbtypes.ForeignKeyDef) error {
	vals := make([]string, len(fk.Columns))
	allNull := true
	for i, col := range fk.Columns {
		idx := schema.FieldIndex(col)
		if idx < 0 || idx >= len(rec.Values) {
			return nil
		}
		vals[i] = rec.Values[idx]
		if !isNullValue(vals[i]) {
			allNull = false
		}
	}
	if allNull {
		return nil
	}

	refSchema, err := cat.Get(fk.RefTable)
	if err != nil {
		return err
	}
	refCols := fk.RefColumns
	if len(refCols) == 0 {
		refCols = refSchema.KeyFieldNames()
	}
	matched, err := fkTupleMatches(db, refSchema, refCols, vals)
	if err != nil {
		return err
	}
	if !matched {
		return errs.New(errs.Conflict, "foreign key %s violation: no matching row in %q", fk.Name, fk.RefTable)
	}
	return nil
}

// fkTupleMatches reports whether some live row of refSchema carries vals
// in refCols, index-probing when refCols is a single indexed column and
// otherwise falling back to a full scan.
func fkTupleMatches(db string, refSchema dbtypes.TableSchema, refCols []string, vals []string) (bool, error) {
	if len(refCols) == 1 {
		for _, idxDef := range refSchema.Indexes {
			if !dbtypes.EqualFold(idxDef.Column, refCols[0]) {
				continue
			}
			index, err := storage.LoadIndex(db, refSchema.Name, idxDef.Name)
			if err != nil {
				return false, err
			}
			normalized := predicate.Normalize(vals[0])
			for _, c := range []string{normalized, vals[0], "'" + normalized + "'", "\"" + normalized + "\""} {
				off, ok := index[c]
				if !ok {
					continue
				}
				rec, err := storage.ReadRecordAt(db, refSchema, off)
				if err == nil && rec.Valid {
					return true, nil
				}
			}
			return false, nil
		}
	}

	rows, err := storage.ReadRecords(db, refSchema)
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		if !r.Valid {
			continue
		}
		match := true
		for i, col := range refCols {
			idx := refSchema.FieldIndex(col)
			if idx < 0 || idx >= len(r.Values) {
				match = false
				break
			}
			if !predicate.Compare(dbtypes.Condition{Op: dbtypes.OpEq, Value: vals[i]}, r.Values[idx]) {
				match = false
				break
			}
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// touchesForeignKeyColumn reports whether any assignment targets a
// column participating in one of schema's foreign keys, the trigger for
// Update's "re-check as if inserting" rule.
func touchesForeignKeyColumn(schema dbtypes.TableSchema, assignments []sqlparser.Assignment) bool {
	for _, a := range assignments {
		for _, fk := range schema.ForeignKeys {
			for _, col := range fk.Columns {
				if dbtypes.EqualFold(col, a.Column) {
					return true
				}
			}
		}
	}
	return false
}

// Match reports whether rec satisfies every condition, resolving each
// condition's field against schema by exact (case-insensitive) name.
// Ported from DMLService::Match.
func Match(schema dbtypes.TableSchema, rec dbtypes.Record, conditions []dbtypes.Condition) bool {
	for _, cond := range conditions {
		if cond.Field == "" {
			continue
		}
		idx := schema.FieldIndex(cond.Field)
		if idx < 0 || idx >= len(rec.Values) {
			return false
		}
		if !predicate.Compare(cond, rec.Values[idx]) {
			return false
		}
	}
	return true
}

// Insert appends every record in rows to table, one WAL INSERT record and
// one exclusive lock per row. Each row is checked against the table's
// primary key and its foreign keys before anything is written; a later
// row in the same call sees the rows inserted earlier in it, so a batch
// VALUES list can't smuggle in its
// own internal duplicate.
func Insert(w *wal.Manager, locks *lockmgr.Manager, cat *catalog.Catalog, txn *txnmgr.Txn, schema dbtypes.TableSchema, rows []dbtypes.Record) error {
	if schema.IsView {
		return errs.New(errs.NotSupported, "cannot write to a view: %s", schema.Name)
	}
	existing, err := storage.ReadRecords(txn.DB, schema)
	if err != nil {
		return err
	}

	for _, r := range rows {
		if err := checkPKUnique(schema, existing, r); err != nil {
			return err
		}
		if err := checkForeignKeys(cat, txn.DB, schema, r); err != nil {
			return err
		}

		offset, err := storage.ComputeAppendRecordOffset(txn.DB, schema.Name)
		if err != nil {
			return err
		}
		rid := dbtypes.RID{Table: schema.Name, Offset: offset}
		if err := locks.LockExclusive(txn.ID, rid); err != nil {
			return err
		}

		after, err := storage.SerializeRecord(schema, r)
		if err != nil {
			return err
		}
		lsn, err := w.Append(dbtypes.LogRecord{TxnID: txn.ID, Type: dbtypes.LogInsert, RID: rid, After: after})
		if err != nil {
			return err
		}
		txn.RecordUndo(lsn)

		realOffset, err := storage.AppendRecord(txn.DB, schema, r)
		if err != nil {
			return err
		}
		if realOffset.Offset != offset {
			return errs.New(errs.Corruption, "append offset mismatch for WAL")
		}
		existing = append(existing, r)
	}
	txn.TouchTable(schema.Name)
	return nil
}

// Delete tombstones every row matching conditions, logging its before
// image so rollback can restore it. Returns the number of rows affected;
// zero is not itself an error. Before tombstoning a row, every other
// table's foreign key pointing at schema is consulted via cat.FK() and
// its OnDelete action applied: RESTRICT refuses the delete, CASCADE
// recursively deletes the referencing rows, SET NULL blanks their FK
// columns. This closes the foreign-key check for row-level deletes the
// way DDL's DropTable closes it for whole-table drops.
// overrideAction, when non-nil, replaces every referrer's declared
// OnDelete action for this call: "DELETE FROM t [WHERE ...]
// [RESTRICT|CASCADE|SET NULL]" lets one statement pick its own
// FK-violation behavior instead of whatever the constraint says.
func Delete(w *wal.Manager, locks *lockmgr.Manager, cat *catalog.Catalog, txn *txnmgr.Txn, schema dbtypes.TableSchema, conditions []dbtypes.Condition, overrideAction *dbtypes.ReferentialAction) (int, error) {
	if schema.IsView {
		return 0, errs.New(errs.NotSupported, "cannot write to a view: %s", schema.Name)
	}
	rows, err := storage.ReadRecordsWithOffsets(txn.DB, schema)
	if err != nil {
		return 0, err
	}

	affected := 0
	for _, p := range rows {
		if !Match(schema, p.Record, conditions) {
			continue
		}
		if err := enforceFKOnDelete(w, locks, cat, txn, schema, p.Record, overrideAction); err != nil {
			return affected, err
		}
		affected++
		rid := dbtypes.RID{Table: schema.Name, Offset: p.RID.Offset}
		if err := locks.LockExclusive(txn.ID, rid); err != nil {
			return affected, err
		}

		before, err := storage.SerializeRecord(schema, p.Record)
		if err != nil {
			return affected, err
		}
		after := append([]byte{}, before...)
		if len(after) > 0 {
			after[0] = 0
		}
		lsn, err := w.Append(dbtypes.LogRecord{TxnID: txn.ID, Type: dbtypes.LogDelete, RID: rid, Before: before, After: after})
		if err != nil {
			return affected, err
		}
		txn.RecordUndo(lsn)

		if err := storage.WriteRecordBytesAt(txn.DB, p.RID.Offset, after); err != nil {
			return affected, err
		}
	}
	if affected > 0 {
		txn.TouchTable(schema.Name)
	}
	return affected, nil
}

// Update applies assignments to every row matching conditions. When the
// updated row's serialized length matches the original's, it is rewritten
// in place with a single WAL UPDATE record; otherwise it is logged and
// applied as a DELETE of the old row plus an INSERT of the new one at a
// freshly computed offset.
func Update(w *wal.Manager, locks *lockmgr.Manager, cat *catalog.Catalog, txn *txnmgr.Txn, schema dbtypes.TableSchema, conditions []dbtypes.Condition, assignments []sqlparser.Assignment) (int, error) {
	if schema.IsView {
		return 0, errs.New(errs.NotSupported, "cannot write to a view: %s", schema.Name)
	}
	rows, err := storage.ReadRecordsWithOffsets(txn.DB, schema)
	if err != nil {
		return 0, err
	}
	checkFK := touchesForeignKeyColumn(schema, assignments)

	affected := 0
	for _, p := range rows {
		if !Match(schema, p.Record, conditions) {
			continue
		}
		affected++
		rid := dbtypes.RID{Table: schema.Name, Offset: p.RID.Offset}
		if err := locks.LockExclusive(txn.ID, rid); err != nil {
			return affected, err
		}

		updated := p.Record.Clone()
		for _, a := range assignments {
			idx := schema.FieldIndex(a.Column)
			if idx < 0 || idx >= len(updated.Values) {
				continue
			}
			updated.Values[idx] = a.Value
		}

		if checkFK {
			if err := checkForeignKeys(cat, txn.DB, schema, updated); err != nil {
				return affected, err
			}
		}

		before, err := storage.SerializeRecord(schema, p.Record)
		if err != nil {
			return affected, err
		}
		after, err := storage.SerializeRecord(schema, updated)
		if err != nil {
			return affected, err
		}

		if len(before) != len(after) {
			tomb := append([]byte{}, before...)
			if len(tomb) > 0 {
				tomb[0] = 0
			}
			delLsn, err := w.Append(dbtypes.LogRecord{TxnID: txn.ID, Type: dbtypes.LogDelete, RID: rid, Before: before, After: tomb})
			if err != nil {
				return affected, err
			}
			txn.RecordUndo(delLsn)

			newOffset, err := storage.ComputeAppendRecordOffset(txn.DB, schema.Name)
			if err != nil {
				return affected, err
			}
			newRid := dbtypes.RID{Table: schema.Name, Offset: newOffset}
			if err := locks.LockExclusive(txn.ID, newRid); err != nil {
				return affected, err
			}

			insLsn, err := w.Append(dbtypes.LogRecord{TxnID: txn.ID, Type: dbtypes.LogInsert, RID: newRid, After: after})
			if err != nil {
				return affected, err
			}
			txn.RecordUndo(insLsn)

			if err := storage.WriteRecordBytesAt(txn.DB, p.RID.Offset, tomb); err != nil {
				return affected, err
			}

			realOffset, err := storage.AppendRecord(txn.DB, schema, updated)
			if err != nil {
				return affected, err
			}
			if realOffset.Offset != newOffset {
				return affected, errs.New(errs.Corruption, "append offset mismatch for WAL")
			}
		} else {
			lsn, err := w.Append(dbtypes.LogRecord{TxnID: txn.ID, Type: dbtypes.LogUpdate, RID: rid, Before: before, After: after})
			if err != nil {
				return affected, err
			}
			txn.RecordUndo(lsn)

			if err := storage.WriteRecordBytesAt(txn.DB, p.RID.Offset, after); err != nil {
				return affected, err
			}
		}
	}
	if affected > 0 {
		txn.TouchTable(schema.Name)
	}
	return affected, nil
}

// enforceFKOnDelete applies every referrer's OnDelete action before
// parent is tombstoned. refCols defaults to parent's primary key when a
// constraint doesn't name explicit referenced columns, matching
// ddl.resolveRefColumns.
func enforceFKOnDelete(w *wal.Manager, locks *lockmgr.Manager, cat *catalog.Catalog, txn *txnmgr.Txn, parent dbtypes.TableSchema, row dbtypes.Record, overrideAction *dbtypes.ReferentialAction) error {
	for _, ref := range cat.FK().Referrers(parent.Name) {
		child, err := cat.Get(ref.Table)
		if err != nil {
			return err
		}
		var fk dbtypes.ForeignKeyDef
		found := false
		for _, cfk := range child.ForeignKeys {
			if dbtypes.EqualFold(cfk.Name, ref.Constraint) {
				fk, found = cfk, true
				break
			}
		}
		if !found {
			continue
		}

		refCols := fk.RefColumns
		if len(refCols) == 0 {
			refCols = parent.KeyFieldNames()
		}
		if len(refCols) != len(fk.Columns) {
			continue
		}

		var matchConds []dbtypes.Condition
		for i, col := range fk.Columns {
			idx := parent.FieldIndex(refCols[i])
			if idx < 0 || idx >= len(row.Values) {
				continue
			}
			matchConds = append(matchConds, dbtypes.Condition{Field: col, Op: dbtypes.OpEq, Value: row.Values[idx]})
		}
		if len(matchConds) == 0 {
			continue
		}

		childRows, err := storage.ReadRecords(txn.DB, child)
		if err != nil {
			return err
		}
		anyMatch := false
		for _, cr := range childRows {
			if cr.Valid && Match(child, cr, matchConds) {
				anyMatch = true
				break
			}
		}
		if !anyMatch {
			continue
		}

		action := ref.OnDelete
		if overrideAction != nil {
			action = *overrideAction
		}
		switch action {
		case dbtypes.Restrict:
			return errs.New(errs.Conflict, "delete restricted by foreign key %s on %s", ref.Constraint, ref.Table)
		case dbtypes.Cascade:
			if _, err := Delete(w, locks, cat, txn, child, matchConds, overrideAction); err != nil {
				return err
			}
		case dbtypes.SetNull:
			var assignments []sqlparser.Assignment
			for _, col := range fk.Columns {
				if !isNullableColumn(child, col) {
					return errs.New(errs.Conflict, "SET NULL not allowed for non-nullable column: %s", col)
				}
				assignments = append(assignments, sqlparser.Assignment{Column: col, Value: "NULL"})
			}
			if _, err := Update(w, locks, cat, txn, child, matchConds, assignments); err != nil {
				return err
			}
		}
	}
	return nil
}

func isNullableColumn(schema dbtypes.TableSchema, name string) bool {
	idx := schema.FieldIndex(name)
	return idx >= 0 && schema.Fields[idx].Nullable
}
