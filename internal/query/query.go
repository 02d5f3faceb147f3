// Package query implements SELECT: single-table and joined scans, index
// probing, aggregation, HAVING, ORDER BY, LIMIT, subqueries, and view
// expansion.
package query

import (
	"strings"

	"relsql/internal/catalog"
	"relsql/internal/dbtypes"
	"relsql/internal/errs"
	"relsql/internal/lockmgr"
	"relsql/internal/sqlparser"
	"relsql/internal/storage"
	"relsql/internal/txnmgr"
)

// maxViewDepth bounds recursive view expansion to 8 levels, guarding
// against a view that slipped past CreateView's recursion check some
// other way (e.g. direct catalog corruption).
const maxViewDepth = 8

// Executor runs SELECT plans against a single database's catalog and
// lock table.
type Executor struct {
	cat   *catalog.Catalog
	locks *lockmgr.Manager
}

// New builds an Executor over cat's database.
func New(cat *catalog.Catalog, locks *lockmgr.Manager) *Executor {
	return &Executor{cat: cat, locks: locks}
}

// row is one candidate record flowing through a scan: rid is nil when the
// record did not come from a physical table block (a view or subquery
// result has nothing to lock).
type row struct {
	rid *dbtypes.RID
	rec dbtypes.Record
}

// Select executes plan and returns its result rows together with the
// output schema describing their columns (used by callers that feed the
// result back in, such as a FROM subquery or a view).
func (e *Executor) Select(txn *txnmgr.Txn, plan *dbtypes.QueryPlan) ([]dbtypes.Record, dbtypes.TableSchema, error) {
	return e.selectDepth(txn, plan, 0)
}

func (e *Executor) selectDepth(txn *txnmgr.Txn, plan *dbtypes.QueryPlan, depth int) ([]dbtypes.Record, dbtypes.TableSchema, error) {
	if depth > maxViewDepth {
		return nil, dbtypes.TableSchema{}, errs.New(errs.Conflict, "view/subquery nesting too deep")
	}

	leftSchema, leftRows, err := e.resolveSource(txn, plan.FromTable, plan.FromAlias, plan.FromSubquery, plan.Where, depth)
	if err != nil {
		return nil, dbtypes.TableSchema{}, err
	}

	var matched []row
	var combinedSchema dbtypes.TableSchema

	if plan.Join == nil {
		combinedSchema = leftSchema
		for _, r := range leftRows {
			if !r.rec.Valid {
				continue
			}
			if !e.matchConditions(txn, depth, combinedSchema, r.rec, plan.Where) {
				continue
			}
			matched = append(matched, r)
		}
	} else {
		rightSchema, rightRows, err := e.resolveJoinSide(txn, plan.Join.RightFrom, depth)
		if err != nil {
			return nil, dbtypes.TableSchema{}, err
		}
		combinedSchema = concatSchema(leftSchema, rightSchema)
		matched, err = e.runJoin(txn, depth, combinedSchema, leftSchema, rightSchema, leftRows, rightRows, plan)
		if err != nil {
			return nil, dbtypes.TableSchema{}, err
		}
	}

	for _, m := range matched {
		if m.rid != nil && e.locks != nil && txn != nil {
			if err := e.locks.LockShared(txn.ID, *m.rid); err != nil {
				return nil, dbtypes.TableSchema{}, err
			}
		}
	}

	recs := make([]dbtypes.Record, len(matched))
	for i, m := range matched {
		recs[i] = m.rec
	}

	recs, outSchema, err := e.aggregate(txn, depth, combinedSchema, recs, plan)
	if err != nil {
		return nil, dbtypes.TableSchema{}, err
	}

	recs, err = e.applyHaving(txn, depth, outSchema, recs, plan.Having)
	if err != nil {
		return nil, dbtypes.TableSchema{}, err
	}

	if err := e.applyOrderBy(outSchema, recs, plan); err != nil {
		return nil, dbtypes.TableSchema{}, err
	}

	if plan.HasLimit && plan.Limit >= 0 && len(recs) > plan.Limit {
		recs = recs[:plan.Limit]
	}

	out := make([]dbtypes.Record, len(recs))
	for i, r := range recs {
		out[i] = e.project(txn, depth, outSchema, r, plan)
	}

	projSchema := projectionSchema(plan, outSchema)
	return out, projSchema, nil
}

// resolveSource loads the left-hand (or sole, for a non-join plan) source
// of a SELECT: a subquery result, a view's expansion, or a real table
// (with index-probe optimization against an eligible "=" WHERE clause).
func (e *Executor) resolveSource(txn *txnmgr.Txn, fromTable, fromAlias string, fromSubquery *dbtypes.QueryPlan, where []dbtypes.Condition, depth int) (dbtypes.TableSchema, []row, error) {
	if fromSubquery != nil {
		recs, schema, err := e.selectDepth(txn, fromSubquery, depth+1)
		if err != nil {
			return dbtypes.TableSchema{}, nil, err
		}
		alias := fromAlias
		if alias == "" {
			alias = "Derived"
		}
		return prefixSchema(schema, alias), wrapRows(recs), nil
	}
	if fromTable == "" {
		return dbtypes.TableSchema{}, nil, errs.New(errs.SyntaxError, "SELECT missing source")
	}

	schema, err := e.cat.Get(fromTable)
	if err != nil {
		return dbtypes.TableSchema{}, nil, err
	}
	if schema.IsView {
		recs, _, err := e.expandView(txn, schema, depth)
		if err != nil {
			return dbtypes.TableSchema{}, nil, err
		}
		alias := fromAlias
		if alias == "" {
			alias = schema.Name
		}
		return prefixSchema(schema, alias), wrapRows(recs), nil
	}

	rows, used, err := e.tryIndexProbe(txn, schema, where)
	if err != nil {
		return dbtypes.TableSchema{}, nil, err
	}
	if !used {
		all, err := storage.ReadRecordsWithOffsets(txn.DB, schema)
		if err != nil {
			return dbtypes.TableSchema{}, nil, err
		}
		rows = make([]row, 0, len(all))
		for _, p := range all {
			if !p.Record.Valid {
				continue
			}
			rid := p.RID
			rows = append(rows, row{rid: &rid, rec: p.Record})
		}
	}

	alias := fromAlias
	if alias == "" {
		alias = schema.Name
	}
	return prefixSchema(schema, alias), rows, nil
}

// resolveJoinSide loads the right-hand side of a join: only a real table
// or a view, never a nested subquery. The parser never produces a join
// against a FROM-subquery on the right; join support is single-level.
func (e *Executor) resolveJoinSide(txn *txnmgr.Txn, table string, depth int) (dbtypes.TableSchema, []row, error) {
	schema, err := e.cat.Get(table)
	if err != nil {
		return dbtypes.TableSchema{}, nil, err
	}
	if schema.IsView {
		recs, _, err := e.expandView(txn, schema, depth)
		if err != nil {
			return dbtypes.TableSchema{}, nil, err
		}
		return prefixSchema(schema, schema.Name), wrapRows(recs), nil
	}
	all, err := storage.ReadRecordsWithOffsets(txn.DB, schema)
	if err != nil {
		return dbtypes.TableSchema{}, nil, err
	}
	rows := make([]row, 0, len(all))
	for _, p := range all {
		if !p.Record.Valid {
			continue
		}
		rid := p.RID
		rows = append(rows, row{rid: &rid, rec: p.Record})
	}
	return prefixSchema(schema, schema.Name), rows, nil
}

// expandView re-parses a view's stored SELECT text and executes it so a
// view can be queried like a table.
func (e *Executor) expandView(txn *txnmgr.Txn, view dbtypes.TableSchema, depth int) ([]dbtypes.Record, dbtypes.TableSchema, error) {
	cmd, err := sqlparser.Parse(view.ViewSQL)
	if err != nil || cmd.Kind != sqlparser.KindSelect {
		return nil, dbtypes.TableSchema{}, errs.New(errs.Corruption, "invalid stored view definition for %s", view.Name)
	}
	return e.selectDepth(txn, cmd.Query, depth+1)
}

func wrapRows(recs []dbtypes.Record) []row {
	out := make([]row, len(recs))
	for i, r := range recs {
		out[i] = row{rid: nil, rec: r}
	}
	return out
}

// prefixSchema qualifies every field name with alias (or the schema's own
// name when alias is empty), the way WHERE/SELECT/ORDER BY qualify
// columns as "table.column".
func prefixSchema(schema dbtypes.TableSchema, alias string) dbtypes.TableSchema {
	prefix := alias
	if prefix == "" {
		prefix = schema.Name
	}
	out := schema
	out.Fields = make([]dbtypes.Field, len(schema.Fields))
	for i, f := range schema.Fields {
		nf := f
		if prefix != "" {
			nf.Name = prefix + "." + f.Name
		}
		out.Fields[i] = nf
	}
	return out
}

func concatSchema(left, right dbtypes.TableSchema) dbtypes.TableSchema {
	var out dbtypes.TableSchema
	out.Fields = append(out.Fields, left.Fields...)
	out.Fields = append(out.Fields, right.Fields...)
	return out
}

// getFieldValue resolves fieldName against schema, trying an exact match
// first and, for an unqualified name, falling back to any field whose
// suffix after its last '.' equals it (so "id" resolves to "t1.id").
func getFieldValue(schema dbtypes.TableSchema, rec dbtypes.Record, fieldName string) (string, bool) {
	if fieldName == "" {
		return "", false
	}
	low := strings.ToLower(fieldName)
	for i, f := range schema.Fields {
		if strings.ToLower(f.Name) == low {
			if i < len(rec.Values) {
				return rec.Values[i], true
			}
			return "", false
		}
	}
	if !strings.Contains(fieldName, ".") {
		for i, f := range schema.Fields {
			fName := strings.ToLower(f.Name)
			if dot := strings.LastIndexByte(fName, '.'); dot >= 0 && fName[dot+1:] == low {
				if i < len(rec.Values) {
					return rec.Values[i], true
				}
				return "", false
			}
		}
	}
	return "", false
}

func fieldExists(schema dbtypes.TableSchema, fieldName string) bool {
	if fieldName == "" {
		return false
	}
	low := strings.ToLower(fieldName)
	for _, f := range schema.Fields {
		if strings.ToLower(f.Name) == low {
			return true
		}
	}
	if !strings.Contains(fieldName, ".") {
		for _, f := range schema.Fields {
			fName := strings.ToLower(f.Name)
			if dot := strings.LastIndexByte(fName, '.'); dot >= 0 && fName[dot+1:] == low {
				return true
			}
		}
	}
	return false
}

// getFieldValueForOrder resolves fieldName through aliasMap first (so
// ORDER BY can name a SELECT-list alias), then falls back to
// getFieldValue.
func getFieldValueForOrder(schema dbtypes.TableSchema, rec dbtypes.Record, fieldName string, aliasMap map[string]string) (string, bool) {
	name := fieldName
	if mapped, ok := aliasMap[strings.ToLower(fieldName)]; ok {
		name = mapped
	}
	return getFieldValue(schema, rec, name)
}
