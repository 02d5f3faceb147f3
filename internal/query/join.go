package query

import (
	"strings"

	"relsql/internal/dbtypes"
	"relsql/internal/txnmgr"
)

// runJoin pairs leftRows and rightRows into combined rows under a
// nested-loop, matching INNER/LEFT/RIGHT semantics against an explicit
// ON predicate or, for NATURAL, the conjunction of equality across every
// unqualified column name the two sides share. Ported from
// QueryService::Select's join branch (createCombined/matchesVar).
func (e *Executor) runJoin(txn *txnmgr.Txn, depth int, combined, leftSchema, rightSchema dbtypes.TableSchema, leftRows, rightRows []row, plan *dbtypes.QueryPlan) ([]row, error) {
	spec := plan.Join
	naturalCols := sharedColumns(leftSchema, rightSchema)

	matches := func(l, r dbtypes.Record) bool {
		if spec.Natural {
			for _, col := range naturalCols {
				lv, lok := getFieldValue(leftSchema, l, col)
				rv, rok := getFieldValue(rightSchema, r, col)
				if !lok || !rok || lv != rv {
					return false
				}
			}
			return true
		}
		if spec.LeftOn == "" && spec.RightOn == "" {
			return true
		}
		lv, lok := resolveJoinKey(leftSchema, rightSchema, l, r, spec.LeftOn)
		rv, rok := resolveJoinKey(leftSchema, rightSchema, l, r, spec.RightOn)
		return lok && rok && lv == rv
	}

	var out []row
	switch spec.Type {
	case dbtypes.JoinRight:
		for _, rr := range rightRows {
			any := false
			for _, lr := range leftRows {
				if matches(lr.rec, rr.rec) {
					any = true
					out = append(out, combineRows(lr, rr))
				}
			}
			if !any {
				out = append(out, combineRows(row{rec: nullRecord(leftSchema)}, rr))
			}
		}
	default:
		for _, lr := range leftRows {
			any := false
			for _, rr := range rightRows {
				if matches(lr.rec, rr.rec) {
					any = true
					out = append(out, combineRows(lr, rr))
				}
			}
			if !any && spec.Type == dbtypes.JoinLeft {
				out = append(out, combineRows(lr, row{rec: nullRecord(rightSchema)}))
			}
		}
	}

	var matched []row
	for _, r := range out {
		if !e.matchConditions(txn, depth, combined, r.rec, plan.Where) {
			continue
		}
		matched = append(matched, r)
	}
	return matched, nil
}

// resolveJoinKey resolves name (which may be qualified "table.col" or
// bare) against whichever side of the join actually has it.
func resolveJoinKey(leftSchema, rightSchema dbtypes.TableSchema, l, r dbtypes.Record, name string) (string, bool) {
	if v, ok := getFieldValue(leftSchema, l, name); ok {
		return v, true
	}
	if v, ok := getFieldValue(rightSchema, r, name); ok {
		return v, true
	}
	return "", false
}

// sharedColumns returns the unqualified column names left and right have
// in common, used to infer a NATURAL join's predicate.
func sharedColumns(left, right dbtypes.TableSchema) []string {
	leftNames := map[string]bool{}
	for _, f := range left.Fields {
		leftNames[strings.ToLower(unqualify(f.Name))] = true
	}
	var shared []string
	seen := map[string]bool{}
	for _, f := range right.Fields {
		low := strings.ToLower(unqualify(f.Name))
		if leftNames[low] && !seen[low] {
			seen[low] = true
			shared = append(shared, unqualify(f.Name))
		}
	}
	return shared
}

func combineRows(l, r row) row {
	rec := dbtypes.Record{Valid: true}
	rec.Values = append(rec.Values, l.rec.Values...)
	rec.Values = append(rec.Values, r.rec.Values...)
	var rid *dbtypes.RID
	if l.rid != nil {
		rid = l.rid
	} else if r.rid != nil {
		rid = r.rid
	}
	return row{rid: rid, rec: rec}
}

func nullRecord(schema dbtypes.TableSchema) dbtypes.Record {
	vals := make([]string, len(schema.Fields))
	for i := range vals {
		vals[i] = "NULL"
	}
	return dbtypes.Record{Valid: true, Values: vals}
}
