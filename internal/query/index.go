package query

import (
	"relsql/internal/dbtypes"
	"relsql/internal/predicate"
	"relsql/internal/storage"
	"relsql/internal/txnmgr"
)

// tryIndexProbe looks for a top-level "=" condition against an indexed
// column of schema and, if found, resolves it directly through the index
// file instead of a full scan. Ported from QueryService::Select's
// index-optimization path, which tries several quoted forms of the
// condition's value against the index map (the index is built from
// whatever literal form the value had at INSERT time).
func (e *Executor) tryIndexProbe(txn *txnmgr.Txn, schema dbtypes.TableSchema, conditions []dbtypes.Condition) ([]row, bool, error) {
	for _, cond := range conditions {
		if cond.Op != dbtypes.OpEq {
			continue
		}
		field := unqualify(cond.Field)
		var idxDef *dbtypes.IndexDef
		for i := range schema.Indexes {
			if dbtypes.EqualFold(schema.Indexes[i].Column, field) {
				idxDef = &schema.Indexes[i]
				break
			}
		}
		if idxDef == nil {
			continue
		}

		idx, err := storage.LoadIndex(txn.DB, schema.Name, idxDef.Name)
		if err != nil {
			return nil, false, err
		}

		normalized := predicate.Normalize(cond.Value)
		candidates := []string{normalized, cond.Value, "'" + normalized + "'", "\"" + normalized + "\""}
		var offset int64
		found := false
		for _, c := range candidates {
			if off, ok := idx[c]; ok {
				offset, found = off, true
				break
			}
		}
		if !found {
			return nil, true, nil
		}

		rec, err := storage.ReadRecordAt(txn.DB, schema, offset)
		if err != nil {
			return nil, false, err
		}
		if !rec.Valid {
			return nil, true, nil
		}
		rid := dbtypes.RID{Table: schema.Name, Offset: offset}
		return []row{{rid: &rid, rec: rec}}, true, nil
	}
	return nil, false, nil
}

func unqualify(field string) string {
	for i := len(field) - 1; i >= 0; i-- {
		if field[i] == '.' {
			return field[i+1:]
		}
	}
	return field
}

// matchConditions evaluates conditions against rec, resolving each
// field through the qualified-or-bare lookup getFieldValue uses
// (as opposed to dml.Match's exact-name-only resolution), and evaluating
// any Subquery-bearing condition (IN/EXISTS/NOT EXISTS) against a fresh
// Select of its own.
func (e *Executor) matchConditions(txn *txnmgr.Txn, depth int, schema dbtypes.TableSchema, rec dbtypes.Record, conditions []dbtypes.Condition) bool {
	for _, cond := range conditions {
		if cond.Subquery != nil {
			if !e.matchSubqueryCondition(txn, depth, schema, rec, cond) {
				return false
			}
			continue
		}
		value, ok := getFieldValue(schema, rec, cond.Field)
		if !ok {
			return false
		}
		if !predicate.Compare(cond, value) {
			return false
		}
	}
	return true
}
