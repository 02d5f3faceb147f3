package ddl

import (
	"strings"

	"relsql/internal/catalog"
	"relsql/internal/dbtypes"
	"relsql/internal/errs"
	"relsql/internal/storage"
)

// CreateTable registers a new table: primary-key fields that aren't
// already indexed get an automatic unique "PRIMARY" index, declared
// foreign keys are validated and auto-named (fk_<table>_<refTable>_<n>)
// when unnamed, and an empty index file is created for every index.
func CreateTable(cat *catalog.Catalog, schema dbtypes.TableSchema) error {
	schemas, err := cat.All()
	if err != nil {
		return err
	}
	if _, exists := schemaByName(schemas, schema.Name); exists {
		return errs.New(errs.AlreadyExists, "table already exists: %s", schema.Name)
	}

	final := schema
	for _, f := range final.Fields {
		if !f.IsKey {
			continue
		}
		already := false
		for _, idx := range final.Indexes {
			if dbtypes.EqualFold(idx.Column, f.Name) {
				already = true
				break
			}
		}
		if !already {
			final.Indexes = append(final.Indexes, dbtypes.IndexDef{Name: "PRIMARY", Column: f.Name, IsUnique: true})
		}
	}

	for i := range final.ForeignKeys {
		fk := &final.ForeignKeys[i]
		if fk.Name == "" {
			fk.Name = fkName(final.Name, fk.RefTable, i+1)
		}
		if err := validateForeignKeyDef(schemas, final, fk); err != nil {
			return err
		}
		for j := 0; j < i; j++ {
			if dbtypes.EqualFold(final.ForeignKeys[j].Name, fk.Name) {
				return errs.New(errs.AlreadyExists, "duplicate foreign key name: %s", fk.Name)
			}
		}
	}

	if err := storage.AppendSchema(cat.DB(), final); err != nil {
		return err
	}
	if err := cat.Rebuild(); err != nil {
		return err
	}

	for _, idx := range final.Indexes {
		if err := storage.SaveIndex(cat.DB(), final.Name, idx.Name, map[string]int64{}); err != nil {
			return err
		}
	}
	return nil
}

// RenameTable renames a table in place: its own schema entry, every
// other schema's foreign keys that reference it, its index files, and
// its data blocks.
func RenameTable(cat *catalog.Catalog, oldName, newName string) error {
	schemas, err := cat.All()
	if err != nil {
		return err
	}
	var target *dbtypes.TableSchema
	for i := range schemas {
		if dbtypes.EqualFold(schemas[i].Name, oldName) {
			schemas[i].Name = newName
			target = &schemas[i]
		}
	}
	if target == nil {
		return errs.New(errs.NotFound, "table not found: %s", oldName)
	}
	for i := range schemas {
		for j := range schemas[i].ForeignKeys {
			if dbtypes.EqualFold(schemas[i].ForeignKeys[j].RefTable, oldName) {
				schemas[i].ForeignKeys[j].RefTable = newName
			}
		}
	}

	indexNames := make([]string, len(target.Indexes))
	for i, idx := range target.Indexes {
		indexNames[i] = idx.Name
	}
	if err := storage.RenameIndexFiles(cat.DB(), oldName, newName, indexNames); err != nil {
		return err
	}
	if err := storage.SaveSchemas(cat.DB(), schemas); err != nil {
		return err
	}
	if err := renameTableBlocks(cat.DB(), oldName, newName); err != nil {
		return err
	}
	return cat.Rebuild()
}

// DropTable removes table, enforcing the referential action of every
// other table's foreign key that points at it: RESTRICT refuses the
// drop outright, CASCADE deletes referring rows, SET NULL blanks the
// referencing column (refusing if that column isn't nullable).
func DropTable(cat *catalog.Catalog, table string, action dbtypes.ReferentialAction) error {
	schemas, err := cat.All()
	if err != nil {
		return err
	}
	target, ok := schemaByName(schemas, table)
	if !ok {
		return errs.New(errs.NotFound, "table not found: %s", table)
	}
	if target.IsView {
		return errs.New(errs.NotSupported, "use DROP VIEW to remove a view")
	}

	for i := range schemas {
		s := &schemas[i]
		kept := s.ForeignKeys[:0]
		for _, fk := range s.ForeignKeys {
			if !dbtypes.EqualFold(fk.RefTable, table) {
				kept = append(kept, fk)
				continue
			}
			if action == dbtypes.Restrict {
				return errs.New(errs.Conflict, "drop restricted by foreign key: %s", s.Name)
			}
			if action == dbtypes.SetNull {
				for _, col := range fk.Columns {
					if !isNullableColumn(*s, col) {
						return errs.New(errs.Conflict, "SET NULL not allowed for non-nullable column: %s", col)
					}
				}
			}
			if err := applyDropAction(cat, *s, fk, action); err != nil {
				return err
			}
			// fk dropped: not appended to kept
		}
		s.ForeignKeys = kept
	}

	var out []dbtypes.TableSchema
	for _, s := range schemas {
		if !dbtypes.EqualFold(s.Name, table) {
			out = append(out, s)
		}
	}
	if err := storage.DeleteIndexFiles(cat.DB(), table, indexNamesOf(target)); err != nil {
		return err
	}
	if err := storage.SaveSchemas(cat.DB(), out); err != nil {
		return err
	}
	if err := rewriteTableBlocks(cat.DB(), table, len(target.Fields), nil); err != nil {
		return err
	}
	return cat.Rebuild()
}

func indexNamesOf(s dbtypes.TableSchema) []string {
	names := make([]string, len(s.Indexes))
	for i, idx := range s.Indexes {
		names[i] = idx.Name
	}
	return names
}

// applyDropAction cascades a parent table drop into one referring
// table's rows: CASCADE tombstones referring rows, SET NULL blanks the
// referencing columns. Rewrites the referring table's blocks and every
// table's indexes since offsets may shift.
func applyDropAction(cat *catalog.Catalog, referring dbtypes.TableSchema, fk dbtypes.ForeignKeyDef, action dbtypes.ReferentialAction) error {
	records, err := storage.ReadRecords(cat.DB(), referring)
	if err != nil {
		return err
	}
	changed := false
	for i := range records {
		r := &records[i]
		if !r.Valid {
			continue
		}
		hasRef := false
		for _, col := range fk.Columns {
			idx := referring.FieldIndex(col)
			if idx < 0 || idx >= len(r.Values) {
				continue
			}
			v := normalizeValue(r.Values[idx])
			if v != "" && !strings.EqualFold(v, "null") {
				hasRef = true
				break
			}
		}
		if !hasRef {
			continue
		}
		switch action {
		case dbtypes.Cascade:
			r.Valid = false
			changed = true
		case dbtypes.SetNull:
			for _, col := range fk.Columns {
				if idx := referring.FieldIndex(col); idx >= 0 && idx < len(r.Values) {
					r.Values[idx] = "NULL"
				}
			}
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := rewriteTableBlocks(cat.DB(), referring.Name, len(referring.Fields), records); err != nil {
		return err
	}
	return RebuildAllIndexes(cat)
}
