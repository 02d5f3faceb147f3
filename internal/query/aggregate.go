package query

import (
	"strconv"
	"strings"

	"relsql/internal/dbtypes"
	"relsql/internal/errs"
	"relsql/internal/predicate"
	"relsql/internal/txnmgr"
)

const groupKeySep = "\x1f"

// aggregate buckets recs by plan.GroupBy (or treats them as one implicit
// group when any select expression is an aggregate but GROUP BY is
// absent) and computes each bucket's aggregate values. When neither
// condition holds, recs pass through unchanged. Ported from the
// GROUP BY/aggregate section duplicated in both of QueryService::Select's
// join and non-join branches.
func (e *Executor) aggregate(txn *txnmgr.Txn, depth int, schema dbtypes.TableSchema, recs []dbtypes.Record, plan *dbtypes.QueryPlan) ([]dbtypes.Record, dbtypes.TableSchema, error) {
	hasAgg := false
	for _, s := range plan.SelectExprs {
		if s.IsAggregate {
			hasAgg = true
			break
		}
	}
	if !hasAgg && len(plan.GroupBy) == 0 {
		return recs, schema, nil
	}

	groups := map[string][]dbtypes.Record{}
	var order []string
	if len(plan.GroupBy) == 0 {
		groups[""] = recs
		order = []string{""}
	} else {
		for _, r := range recs {
			var keyParts []string
			for _, col := range plan.GroupBy {
				v, _ := getFieldValue(schema, r, col)
				keyParts = append(keyParts, v)
			}
			key := strings.Join(keyParts, groupKeySep)
			if _, ok := groups[key]; !ok {
				order = append(order, key)
			}
			groups[key] = append(groups[key], r)
		}
	}

	var outFields []dbtypes.Field
	for _, col := range plan.GroupBy {
		outFields = append(outFields, dbtypes.Field{Name: unqualify(col), Type: "string"})
	}
	labels := make([]string, len(plan.SelectExprs))
	for i, s := range plan.SelectExprs {
		if !s.IsAggregate {
			continue
		}
		label := s.Alias
		if label == "" {
			label = aggLabel(s)
		}
		labels[i] = label
		outFields = append(outFields, dbtypes.Field{Name: label, Type: "string"})
	}
	outSchema := dbtypes.TableSchema{Name: schema.Name, Fields: outFields}

	var out []dbtypes.Record
	for _, key := range order {
		bucket := groups[key]
		var values []string
		var groupVals []string
		if len(plan.GroupBy) > 0 {
			groupVals = strings.Split(key, groupKeySep)
		}
		values = append(values, groupVals...)
		for _, s := range plan.SelectExprs {
			if !s.IsAggregate {
				if !containsFold(plan.GroupBy, s.Field) {
					return nil, dbtypes.TableSchema{}, errs.New(errs.SyntaxError, "column %q must appear in GROUP BY or be used in an aggregate function", s.Field)
				}
				continue
			}
			values = append(values, computeAgg(schema, bucket, s))
		}
		out = append(out, dbtypes.Record{Valid: true, Values: values})
	}
	return out, outSchema, nil
}

func containsFold(list []string, name string) bool {
	for _, l := range list {
		if dbtypes.EqualFold(unqualify(l), unqualify(name)) {
			return true
		}
	}
	return false
}

func aggLabel(s dbtypes.SelectExpr) string {
	name := "COUNT"
	switch s.Agg {
	case dbtypes.AggSum:
		name = "SUM"
	case dbtypes.AggAvg:
		name = "AVG"
	case dbtypes.AggMin:
		name = "MIN"
	case dbtypes.AggMax:
		name = "MAX"
	}
	return name + "(" + s.Field + ")"
}

// computeAgg evaluates one aggregate select expression over bucket,
// using a numeric-first MIN/MAX comparison (via predicate.Less) and
// treating a non-numeric value as 0 for SUM/AVG.
func computeAgg(schema dbtypes.TableSchema, bucket []dbtypes.Record, sel dbtypes.SelectExpr) string {
	switch sel.Agg {
	case dbtypes.AggCount:
		if sel.Field == "" || sel.Field == "*" {
			return strconv.Itoa(len(bucket))
		}
		n := 0
		for _, r := range bucket {
			if v, ok := getFieldValue(schema, r, sel.Field); ok && v != "NULL" && v != "" {
				n++
			}
		}
		return strconv.Itoa(n)

	case dbtypes.AggSum, dbtypes.AggAvg:
		sum := 0.0
		for _, r := range bucket {
			if v, ok := getFieldValue(schema, r, sel.Field); ok {
				if f, err := strconv.ParseFloat(predicate.Normalize(v), 64); err == nil {
					sum += f
				}
			}
		}
		if sel.Agg == dbtypes.AggAvg {
			if len(bucket) == 0 {
				return "0"
			}
			return strconv.FormatFloat(sum/float64(len(bucket)), 'g', -1, 64)
		}
		return strconv.FormatFloat(sum, 'g', -1, 64)

	case dbtypes.AggMin, dbtypes.AggMax:
		var best string
		have := false
		for _, r := range bucket {
			v, ok := getFieldValue(schema, r, sel.Field)
			if !ok {
				continue
			}
			if !have {
				best, have = v, true
				continue
			}
			if sel.Agg == dbtypes.AggMin && predicate.Less(v, best) {
				best = v
			} else if sel.Agg == dbtypes.AggMax && predicate.Less(best, v) {
				best = v
			}
		}
		if !have {
			return "NULL"
		}
		return best
	}
	return "NULL"
}

// applyHaving filters grouped rows through HAVING conditions, evaluated
// against schema the same way a WHERE clause would be.
func (e *Executor) applyHaving(txn *txnmgr.Txn, depth int, schema dbtypes.TableSchema, recs []dbtypes.Record, having []dbtypes.Condition) ([]dbtypes.Record, error) {
	if len(having) == 0 {
		return recs, nil
	}
	var out []dbtypes.Record
	for _, r := range recs {
		if e.matchConditions(txn, depth, schema, r, having) {
			out = append(out, r)
		}
	}
	return out, nil
}
