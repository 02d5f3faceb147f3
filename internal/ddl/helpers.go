// Package ddl implements schema-mutating operations (CREATE/ALTER/DROP
// TABLE, indexes, foreign keys, views) on top of internal/storage and
// internal/catalog.
package ddl

import (
	"fmt"
	"strings"

	"relsql/internal/dbtypes"
	"relsql/internal/errs"
	"relsql/internal/storage"
)

// normalizeValue strips a surrounding quote pair some legacy literal
// values carry; values already flow through the parser unquoted, so this
// is mostly a no-op kept for parity with the original's NormalizeValue.
func normalizeValue(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func isNullableColumn(schema dbtypes.TableSchema, name string) bool {
	idx := schema.FieldIndex(name)
	if idx < 0 {
		return false
	}
	return schema.Fields[idx].Nullable
}

func schemaByName(schemas []dbtypes.TableSchema, name string) (dbtypes.TableSchema, bool) {
	for _, s := range schemas {
		if dbtypes.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return dbtypes.TableSchema{}, false
}

func fieldExistsInSchema(schema dbtypes.TableSchema, name string) bool {
	low := strings.ToLower(name)
	for _, f := range schema.Fields {
		if strings.ToLower(f.Name) == low {
			return true
		}
		if dot := strings.LastIndexByte(f.Name, '.'); dot >= 0 && strings.ToLower(f.Name[dot+1:]) == low {
			return true
		}
	}
	return false
}

// buildCombinedSchema produces the field list a join (or bare FROM) plan
// exposes, columns prefixed by alias-or-table-name the way WHERE/SELECT
// qualify them, deduplicated by unqualified name for NATURAL JOIN.
func buildCombinedSchema(left dbtypes.TableSchema, leftAlias string, right *dbtypes.TableSchema, rightAlias string, natural bool) dbtypes.TableSchema {
	add := func(combined *dbtypes.TableSchema, s dbtypes.TableSchema, alias string) {
		prefix := alias
		if prefix == "" {
			prefix = s.Name
		}
		for _, f := range s.Fields {
			nf := f
			if prefix != "" {
				nf.Name = prefix + "." + f.Name
			}
			combined.Fields = append(combined.Fields, nf)
		}
	}
	var combined dbtypes.TableSchema
	add(&combined, left, leftAlias)
	if right != nil {
		add(&combined, *right, rightAlias)
	}
	if natural {
		seen := map[string]bool{}
		dedup := combined.Fields[:0]
		for _, f := range combined.Fields {
			base := strings.ToLower(f.Name)
			if dot := strings.LastIndexByte(base, '.'); dot >= 0 {
				base = base[dot+1:]
			}
			if !seen[base] {
				seen[base] = true
				dedup = append(dedup, f)
			}
		}
		combined.Fields = dedup
	}
	return combined
}

// resolveRefColumns fills in RefColumns from refSchema's primary key when
// the foreign key clause didn't name them explicitly.
func resolveRefColumns(refSchema dbtypes.TableSchema, fk dbtypes.ForeignKeyDef) []string {
	if len(fk.RefColumns) > 0 {
		return fk.RefColumns
	}
	pk := refSchema.KeyFieldNames()
	if len(pk) > 0 && len(pk) == len(fk.Columns) {
		return pk
	}
	return fk.Columns
}

func normalizeForeignKey(fk *dbtypes.ForeignKeyDef) {
	fk.Name = strings.TrimSpace(fk.Name)
	fk.RefTable = strings.TrimSpace(fk.RefTable)
	if lp := strings.IndexByte(fk.RefTable, '('); lp >= 0 {
		fk.RefTable = strings.TrimSpace(fk.RefTable[:lp])
	}
}

func areForeignKeysEquivalent(left, right dbtypes.ForeignKeyDef) bool {
	if !dbtypes.EqualFold(left.RefTable, right.RefTable) {
		return false
	}
	if left.OnDelete != right.OnDelete || left.OnUpdate != right.OnUpdate {
		return false
	}
	if len(left.Columns) != len(right.Columns) || len(left.RefColumns) != len(right.RefColumns) {
		return false
	}
	for i := range left.Columns {
		if !dbtypes.EqualFold(left.Columns[i], right.Columns[i]) {
			return false
		}
	}
	for i := range left.RefColumns {
		if !dbtypes.EqualFold(left.RefColumns[i], right.RefColumns[i]) {
			return false
		}
	}
	return true
}

// hasUniqueRef reports whether refCols names a key the referencing side
// can safely point at: the table's primary key (whole or matching
// composite), or a single unique index.
func hasUniqueRef(refSchema dbtypes.TableSchema, refCols []string) bool {
	if len(refCols) == 1 {
		col := refCols[0]
		if idx := refSchema.FieldIndex(col); idx >= 0 && refSchema.Fields[idx].IsKey {
			return true
		}
		for _, idx := range refSchema.Indexes {
			if dbtypes.EqualFold(idx.Column, col) && idx.IsUnique {
				return true
			}
		}
		return false
	}
	keyCount := 0
	for _, f := range refSchema.Fields {
		if f.IsKey {
			keyCount++
		}
	}
	if keyCount != len(refCols) {
		return false
	}
	for _, col := range refCols {
		idx := refSchema.FieldIndex(col)
		if idx < 0 || !refSchema.Fields[idx].IsKey {
			return false
		}
	}
	return true
}

// validateForeignKeyDef checks fk against tableSchema and the referenced
// table, filling in RefColumns from the parent's primary key when absent.
func validateForeignKeyDef(schemas []dbtypes.TableSchema, tableSchema dbtypes.TableSchema, fk *dbtypes.ForeignKeyDef) error {
	normalizeForeignKey(fk)
	refSchema, ok := schemaByName(schemas, fk.RefTable)
	if !ok {
		return errs.New(errs.NotFound, "referenced table not found: %s", fk.RefTable)
	}
	if len(fk.Columns) == 0 {
		return errs.New(errs.SyntaxError, "foreign key missing columns")
	}
	fk.RefColumns = resolveRefColumns(refSchema, *fk)
	if len(fk.Columns) != len(fk.RefColumns) {
		return errs.New(errs.SyntaxError, "foreign key column count mismatch")
	}
	for _, col := range fk.Columns {
		if tableSchema.FieldIndex(col) < 0 {
			return errs.New(errs.NotFound, "foreign key column not found: %s", col)
		}
	}
	for _, col := range fk.RefColumns {
		if refSchema.FieldIndex(col) < 0 {
			return errs.New(errs.NotFound, "referenced column not found: %s", col)
		}
	}
	for i := range fk.Columns {
		childIdx := tableSchema.FieldIndex(fk.Columns[i])
		refIdx := refSchema.FieldIndex(fk.RefColumns[i])
		if !strings.EqualFold(tableSchema.Fields[childIdx].Type, refSchema.Fields[refIdx].Type) {
			return errs.New(errs.Conflict, "foreign key type mismatch on column: %s", fk.Columns[i])
		}
	}
	if !hasUniqueRef(refSchema, fk.RefColumns) {
		return errs.New(errs.Conflict, "referenced columns must be unique or primary key")
	}
	return nil
}

// existingDataSatisfiesFk checks that every non-null child value already
// has a matching parent row, used before accepting a new FK on a
// populated table.
func existingDataSatisfiesFk(db string, tableSchema, refSchema dbtypes.TableSchema, fk dbtypes.ForeignKeyDef) error {
	records, err := storage.ReadRecords(db, tableSchema)
	if err != nil {
		return err
	}
	refRecords, err := storage.ReadRecords(db, refSchema)
	if err != nil {
		return err
	}

	childIdxs := make([]int, len(fk.Columns))
	for i, col := range fk.Columns {
		idx := tableSchema.FieldIndex(col)
		if idx < 0 {
			return errs.New(errs.NotFound, "foreign key column not found: %s", col)
		}
		childIdxs[i] = idx
	}
	refCols := resolveRefColumns(refSchema, fk)
	refIdxs := make([]int, len(refCols))
	for i, col := range refCols {
		idx := refSchema.FieldIndex(col)
		if idx < 0 {
			return errs.New(errs.NotFound, "referenced column not found: %s", col)
		}
		refIdxs[i] = idx
	}

	for _, r := range records {
		if !r.Valid {
			continue
		}
		values := make([]string, 0, len(childIdxs))
		hasNull := false
		for _, idx := range childIdxs {
			v := ""
			if idx < len(r.Values) {
				v = normalizeValue(r.Values[idx])
			}
			if v == "" || strings.EqualFold(v, "null") {
				hasNull = true
				break
			}
			values = append(values, v)
		}
		if hasNull {
			continue
		}
		found := false
		for _, rr := range refRecords {
			if !rr.Valid {
				continue
			}
			match := true
			for i, idx := range refIdxs {
				v := ""
				if idx < len(rr.Values) {
					v = normalizeValue(rr.Values[idx])
				}
				if v != values[i] {
					match = false
					break
				}
			}
			if match {
				found = true
				break
			}
		}
		if !found {
			return errs.New(errs.Conflict, "existing data violates foreign key constraint")
		}
	}
	return nil
}

// rewriteTableBlocks replaces every on-disk block belonging to table with
// one block per record in records (the engine's one-row-per-block
// layout), leaving every other table's blocks untouched, then rewrites
// the whole heap file. Any record whose serialized length differs from
// before shifts byte offsets, so callers must rebuild every table's
// indexes afterward, not just table's own (see DESIGN.md).
func rewriteTableBlocks(db, table string, fieldCount int, records []dbtypes.Record) error {
	blocks, err := storage.ReadAllBlocks(db)
	if err != nil {
		return err
	}
	out := make([]storage.RawBlock, 0, len(blocks)+len(records))
	for _, b := range blocks {
		if !dbtypes.EqualFold(b.Table, table) {
			out = append(out, b)
		}
	}
	for _, r := range records {
		out = append(out, storage.RawBlock{Table: table, FieldCount: fieldCount, Records: []dbtypes.Record{r}})
	}
	return storage.WriteAllBlocks(db, out)
}

// renameTableBlocks relabels every block belonging to oldName to newName
// in place, without touching record bytes or field counts. Unlike the
// original DDLService::RenameTable (which re-reads and re-saves data
// under a schema it documents as "relies on StorageEngine not strictly
// validating table name" and calls "currently destructive"), this port's
// block-level storage model can rename losslessly.
func renameTableBlocks(db, oldName, newName string) error {
	blocks, err := storage.ReadAllBlocks(db)
	if err != nil {
		return err
	}
	for i := range blocks {
		if dbtypes.EqualFold(blocks[i].Table, oldName) {
			blocks[i].Table = newName
		}
	}
	return storage.WriteAllBlocks(db, blocks)
}

func fkName(table, refTable string, n int) string {
	return fmt.Sprintf("fk_%s_%s_%d", table, refTable, n)
}
