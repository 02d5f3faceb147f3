package query

import (
	"strconv"
	"strings"

	"relsql/internal/dbtypes"
	"relsql/internal/txnmgr"
)

// project builds one output record from rec according to selectExprs:
// "*" expands every column (deduping a NATURAL join's shared columns to
// one copy each, the way its combined schema is advertised), a plain
// field is looked up by qualified-or-bare name, an aggregate reads its
// already-computed label column, and a subquery expression is evaluated
// fresh per row.
func (e *Executor) project(txn *txnmgr.Txn, depth int, schema dbtypes.TableSchema, rec dbtypes.Record, plan *dbtypes.QueryPlan) dbtypes.Record {
	var out []string
	natural := plan.Join != nil && plan.Join.Natural

	for _, sel := range plan.SelectExprs {
		switch {
		case sel.IsSubquery:
			out = append(out, e.scalarSubquery(txn, depth, sel.Subquery))
		case sel.IsAggregate:
			label := sel.Alias
			if label == "" {
				label = aggLabel(sel)
			}
			if v, ok := getFieldValue(schema, rec, label); ok {
				out = append(out, v)
			} else {
				out = append(out, "NULL")
			}
		case sel.Field == "*":
			seen := map[string]bool{}
			for i, f := range schema.Fields {
				name := strings.ToLower(unqualify(f.Name))
				if natural && seen[name] {
					continue
				}
				seen[name] = true
				if i < len(rec.Values) {
					out = append(out, rec.Values[i])
				} else {
					out = append(out, "NULL")
				}
			}
		default:
			if v, ok := getFieldValue(schema, rec, sel.Field); ok {
				out = append(out, v)
			} else {
				out = append(out, "NULL")
			}
		}
	}
	return dbtypes.Record{Valid: true, Values: out}
}

// projectionSchema describes the output columns project produces,
// mirroring its expansion rules so callers (a FROM subquery, a view, or
// the dispatcher's result formatting) know each column's name.
func projectionSchema(plan *dbtypes.QueryPlan, schema dbtypes.TableSchema) dbtypes.TableSchema {
	natural := plan.Join != nil && plan.Join.Natural
	selectExprs := plan.SelectExprs
	var out []dbtypes.Field
	for i, sel := range selectExprs {
		switch {
		case sel.IsSubquery:
			name := sel.Alias
			if name == "" {
				name = "subquery_" + strconv.Itoa(i)
			}
			out = append(out, dbtypes.Field{Name: name, Type: "string"})
		case sel.IsAggregate:
			name := sel.Alias
			if name == "" {
				name = aggLabel(sel)
			}
			out = append(out, dbtypes.Field{Name: name, Type: "string"})
		case sel.Field == "*":
			seen := map[string]bool{}
			for _, f := range schema.Fields {
				name := strings.ToLower(unqualify(f.Name))
				if natural && seen[name] {
					continue
				}
				seen[name] = true
				nf := f
				nf.Name = unqualify(f.Name)
				out = append(out, nf)
			}
		default:
			name := sel.Alias
			if name == "" {
				name = unqualify(sel.Field)
			}
			out = append(out, dbtypes.Field{Name: name, Type: "string"})
		}
	}
	return dbtypes.TableSchema{Fields: out}
}
