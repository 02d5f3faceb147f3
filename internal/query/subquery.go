package query

import (
	"relsql/internal/dbtypes"
	"relsql/internal/predicate"
	"relsql/internal/txnmgr"
)

// matchSubqueryCondition evaluates a WHERE/HAVING condition whose
// predicate depends on running a nested SELECT: IN (subquery) checks the
// outer value against the subquery's first projected column; EXISTS/NOT
// EXISTS only cares whether the subquery returned any rows.
func (e *Executor) matchSubqueryCondition(txn *txnmgr.Txn, depth int, schema dbtypes.TableSchema, rec dbtypes.Record, cond dbtypes.Condition) bool {
	rows, _, err := e.selectDepth(txn, cond.Subquery, depth+1)
	if err != nil {
		return false
	}

	switch cond.Op {
	case dbtypes.OpExists:
		return len(rows) > 0
	case dbtypes.OpNotExists:
		return len(rows) == 0
	case dbtypes.OpIn:
		outer, ok := getFieldValue(schema, rec, cond.Field)
		if !ok {
			return false
		}
		for _, r := range rows {
			if len(r.Values) == 0 {
				continue
			}
			if predicate.Compare(dbtypes.Condition{Op: dbtypes.OpEq, Value: r.Values[0]}, outer) {
				return true
			}
		}
		return false
	}
	return false
}

// scalarSubquery evaluates a SELECT-list subquery expression, returning
// its first result row's first column, or "NULL" when it produced none.
func (e *Executor) scalarSubquery(txn *txnmgr.Txn, depth int, plan *dbtypes.QueryPlan) string {
	rows, _, err := e.selectDepth(txn, plan, depth+1)
	if err != nil || len(rows) == 0 || len(rows[0].Values) == 0 {
		return "NULL"
	}
	return rows[0].Values[0]
}

