package query

import (
	"sort"
	"strings"

	"relsql/internal/dbtypes"
	"relsql/internal/predicate"
)

// applyOrderBy sorts recs in place per plan.OrderBy, resolving each key
// through a SELECT-list alias first (so "ORDER BY total" can name a
// computed column) and falling back to a plain field lookup, numeric
// comparison taking priority the same way predicate.Less does everywhere
// else in this engine.
func (e *Executor) applyOrderBy(schema dbtypes.TableSchema, recs []dbtypes.Record, plan *dbtypes.QueryPlan) error {
	if len(plan.OrderBy) == 0 {
		return nil
	}
	aliasMap := map[string]string{}
	for _, s := range plan.SelectExprs {
		if s.Alias != "" {
			name := s.Field
			if s.IsAggregate {
				name = s.Alias
			}
			aliasMap[strings.ToLower(s.Alias)] = name
		}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		for _, key := range plan.OrderBy {
			vi, _ := getFieldValueForOrder(schema, recs[i], key.Field, aliasMap)
			vj, _ := getFieldValueForOrder(schema, recs[j], key.Field, aliasMap)
			if vi == vj {
				continue
			}
			if key.Ascending {
				return predicate.Less(vi, vj)
			}
			return predicate.Less(vj, vi)
		}
		return false
	})
	return nil
}
