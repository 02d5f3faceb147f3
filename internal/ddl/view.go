package ddl

import (
	"strconv"
	"strings"

	"relsql/internal/catalog"
	"relsql/internal/dbtypes"
	"relsql/internal/errs"
	"relsql/internal/sqlparser"
	"relsql/internal/storage"
)

// CreateView stores a named, read-only query as a pseudo-table (IsView
// true, Fields derived from the SELECT list, ViewSQL kept so later
// queries and nested view validation can re-parse it).
func CreateView(cat *catalog.Catalog, viewName string, plan *dbtypes.QueryPlan, viewSQL string, columnNames []string, orReplace bool) error {
	if viewName == "" {
		return errs.New(errs.SyntaxError, "view name is required")
	}
	schemas, err := cat.All()
	if err != nil {
		return err
	}

	var out []dbtypes.TableSchema
	for _, s := range schemas {
		if dbtypes.EqualFold(s.Name, viewName) {
			if !s.IsView {
				return errs.New(errs.AlreadyExists, "a table with the same name already exists")
			}
			if !orReplace {
				return errs.New(errs.AlreadyExists, "view already exists")
			}
			continue
		}
		out = append(out, s)
	}

	visiting := map[string]bool{strings.ToLower(viewName): true}
	if err := validateViewPlan(plan, out, visiting); err != nil {
		return err
	}

	fields, err := deriveViewFields(plan, out)
	if err != nil {
		return err
	}
	if len(columnNames) > 0 {
		if len(columnNames) != len(fields) {
			return errs.New(errs.SyntaxError, "column list size does not match SELECT list")
		}
		for i := range fields {
			fields[i].Name = columnNames[i]
		}
	}

	view := dbtypes.TableSchema{Name: viewName, Fields: fields, IsView: true, ViewSQL: viewSQL}
	out = append(out, view)
	if err := storage.SaveSchemas(cat.DB(), out); err != nil {
		return err
	}
	return cat.Rebuild()
}

// DropView removes a stored view; ifExists turns "not found" into a
// silent success.
func DropView(cat *catalog.Catalog, viewName string, ifExists bool) error {
	schemas, err := cat.All()
	if err != nil {
		return err
	}
	var out []dbtypes.TableSchema
	found := false
	for _, s := range schemas {
		if dbtypes.EqualFold(s.Name, viewName) && s.IsView {
			found = true
			continue
		}
		out = append(out, s)
	}
	if !found {
		if ifExists {
			return nil
		}
		return errs.New(errs.NotFound, "view not found")
	}
	if err := storage.SaveSchemas(cat.DB(), out); err != nil {
		return err
	}
	return cat.Rebuild()
}

// validateViewPlan walks plan's source(s), rejecting a missing
// table/view, a recursive view definition, or a nested view whose
// stored SQL no longer parses as a SELECT.
func validateViewPlan(plan *dbtypes.QueryPlan, schemas []dbtypes.TableSchema, visiting map[string]bool) error {
	if plan == nil {
		return errs.New(errs.SyntaxError, "invalid view source")
	}
	switch {
	case plan.FromTable != "":
		base, ok := schemaByName(schemas, plan.FromTable)
		if !ok {
			return errs.New(errs.NotFound, "referenced table/view not found: %s", plan.FromTable)
		}
		if base.IsView {
			if err := validateStoredView(base, schemas, visiting); err != nil {
				return err
			}
		}
	case plan.FromSubquery != nil:
		if err := validateViewPlan(plan.FromSubquery, schemas, visiting); err != nil {
			return err
		}
	default:
		return errs.New(errs.SyntaxError, "invalid view source")
	}

	if plan.Join != nil && plan.Join.RightFrom != "" {
		right, ok := schemaByName(schemas, plan.Join.RightFrom)
		if !ok {
			return errs.New(errs.NotFound, "join table/view not found: %s", plan.Join.RightFrom)
		}
		if right.IsView {
			if err := validateStoredView(right, schemas, visiting); err != nil {
				return err
			}
		}
	}

	return validateSubqueries(plan, schemas, visiting)
}

func validateStoredView(view dbtypes.TableSchema, schemas []dbtypes.TableSchema, visiting map[string]bool) error {
	low := strings.ToLower(view.Name)
	if visiting[low] {
		return errs.New(errs.Conflict, "recursive view detected: %s", view.Name)
	}
	visiting[low] = true
	defer delete(visiting, low)

	cmd, err := sqlparser.Parse(view.ViewSQL)
	if err != nil || cmd.Kind != sqlparser.KindSelect {
		return errs.New(errs.Corruption, "invalid stored view definition for %s", view.Name)
	}
	return validateViewPlan(cmd.Query, schemas, visiting)
}

func validateSubqueries(plan *dbtypes.QueryPlan, schemas []dbtypes.TableSchema, visiting map[string]bool) error {
	for _, c := range plan.Where {
		if c.Subquery != nil {
			if err := validateViewPlan(c.Subquery, schemas, visiting); err != nil {
				return err
			}
		}
	}
	for _, c := range plan.Having {
		if c.Subquery != nil {
			if err := validateViewPlan(c.Subquery, schemas, visiting); err != nil {
				return err
			}
		}
	}
	for _, sel := range plan.SelectExprs {
		if sel.IsSubquery && sel.Subquery != nil {
			if err := validateViewPlan(sel.Subquery, schemas, visiting); err != nil {
				return err
			}
		}
	}
	return nil
}

// deriveViewFields computes the column list a view's plan produces,
// expanding "*" against the combined (joined) source schema and naming
// aggregate/subquery columns from their alias or a generated name.
func deriveViewFields(plan *dbtypes.QueryPlan, schemas []dbtypes.TableSchema) ([]dbtypes.Field, error) {
	var left dbtypes.TableSchema
	switch {
	case plan.FromTable != "":
		var ok bool
		left, ok = schemaByName(schemas, plan.FromTable)
		if !ok {
			return nil, errs.New(errs.NotFound, "table/view not found: %s", plan.FromTable)
		}
	case plan.FromSubquery != nil:
		inner, err := deriveViewFields(plan.FromSubquery, schemas)
		if err != nil {
			return nil, err
		}
		name := plan.FromAlias
		if name == "" {
			name = "Derived"
		}
		left = dbtypes.TableSchema{Name: name, Fields: inner}
	default:
		return nil, errs.New(errs.SyntaxError, "invalid view definition (missing source)")
	}

	var rightPtr *dbtypes.TableSchema
	if plan.Join != nil && plan.Join.RightFrom != "" {
		right, ok := schemaByName(schemas, plan.Join.RightFrom)
		if !ok {
			return nil, errs.New(errs.NotFound, "join target not found: %s", plan.Join.RightFrom)
		}
		rightPtr = &right
	}

	natural := plan.Join != nil && plan.Join.Natural
	var rightAlias string
	combined := buildCombinedSchema(left, plan.FromAlias, rightPtr, rightAlias, natural)

	var fields []dbtypes.Field
	for i, sel := range plan.SelectExprs {
		switch {
		case sel.IsAggregate:
			name := sel.Alias
			if name == "" {
				name = aggFuncName(sel.Agg) + "(" + sel.Field + ")"
			}
			fields = append(fields, dbtypes.Field{Name: name, Type: "string"})
		case sel.IsSubquery:
			name := sel.Alias
			if name == "" {
				name = "subquery_" + strconv.Itoa(i)
			}
			fields = append(fields, dbtypes.Field{Name: name, Type: "string"})
		case sel.Field == "*":
			for _, f := range combined.Fields {
				nf := f
				nf.IsKey = false
				nf.Nullable = true
				if dot := lastDot(nf.Name); dot >= 0 {
					nf.Name = nf.Name[dot+1:]
				}
				fields = append(fields, nf)
			}
		default:
			if !fieldExistsInSchema(combined, sel.Field) {
				return nil, errs.New(errs.NotFound, "column not found in view definition: %s", sel.Field)
			}
			name := sel.Alias
			if name == "" {
				name = sel.Field
				if dot := lastDot(name); dot >= 0 {
					name = name[dot+1:]
				}
			}
			fields = append(fields, dbtypes.Field{Name: name, Type: "string"})
		}
	}
	return fields, nil
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

func aggFuncName(a dbtypes.AggFunc) string {
	switch a {
	case dbtypes.AggCount:
		return "COUNT"
	case dbtypes.AggSum:
		return "SUM"
	case dbtypes.AggAvg:
		return "AVG"
	case dbtypes.AggMin:
		return "MIN"
	case dbtypes.AggMax:
		return "MAX"
	default:
		return ""
	}
}
