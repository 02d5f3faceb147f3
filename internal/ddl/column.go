package ddl

import (
	"relsql/internal/catalog"
	"relsql/internal/dbtypes"
	"relsql/internal/errs"
	"relsql/internal/storage"
)

// AddColumn inserts newField into table's schema at insertPos (computed
// from afterCol: "FIRST", an existing column name, or "" for append),
// backfilling every existing row with "NULL" (or "" when the new column
// isn't nullable) at the new position.
func AddColumn(cat *catalog.Catalog, table string, newField dbtypes.Field, afterCol string) error {
	schema, err := cat.Get(table)
	if err != nil {
		return err
	}
	if schema.FieldIndex(newField.Name) >= 0 {
		return errs.New(errs.AlreadyExists, "column exists: %s", newField.Name)
	}

	insertPos := len(schema.Fields)
	switch {
	case afterCol == "FIRST":
		insertPos = 0
	case afterCol != "":
		idx := schema.FieldIndex(afterCol)
		if idx < 0 {
			return errs.New(errs.NotFound, "AFTER column not found: %s", afterCol)
		}
		insertPos = idx + 1
	}

	records, err := storage.ReadRecords(cat.DB(), schema)
	if err != nil {
		return err
	}

	newSchema := schema
	newSchema.Fields = append([]dbtypes.Field{}, schema.Fields[:insertPos]...)
	newSchema.Fields = append(newSchema.Fields, newField)
	newSchema.Fields = append(newSchema.Fields, schema.Fields[insertPos:]...)

	fillValue := "NULL"
	if !newField.Nullable {
		fillValue = ""
	}
	for i := range records {
		if insertPos > len(records[i].Values) {
			continue
		}
		vals := append([]string{}, records[i].Values[:insertPos]...)
		vals = append(vals, fillValue)
		vals = append(vals, records[i].Values[insertPos:]...)
		records[i].Values = vals
	}

	if err := cat.Put(newSchema); err != nil {
		return err
	}
	if err := rewriteTableBlocks(cat.DB(), table, len(newSchema.Fields), records); err != nil {
		return err
	}
	return RebuildAllIndexes(cat)
}

// DropColumn removes a column, any index defined on it, and the
// corresponding value from every row.
func DropColumn(cat *catalog.Catalog, table, colName string) error {
	schema, err := cat.Get(table)
	if err != nil {
		return err
	}
	colIdx := schema.FieldIndex(colName)
	if colIdx < 0 {
		return errs.New(errs.NotFound, "column not found: %s", colName)
	}

	records, err := storage.ReadRecords(cat.DB(), schema)
	if err != nil {
		return err
	}

	newSchema := schema
	var droppedIdx []string
	var kept []dbtypes.IndexDef
	for _, idx := range schema.Indexes {
		if dbtypes.EqualFold(idx.Column, colName) {
			droppedIdx = append(droppedIdx, idx.Name)
		} else {
			kept = append(kept, idx)
		}
	}
	newSchema.Indexes = kept
	newSchema.Fields = append(append([]dbtypes.Field{}, schema.Fields[:colIdx]...), schema.Fields[colIdx+1:]...)

	for i := range records {
		if colIdx < len(records[i].Values) {
			records[i].Values = append(records[i].Values[:colIdx], records[i].Values[colIdx+1:]...)
		}
	}

	if err := storage.DeleteIndexFiles(cat.DB(), table, droppedIdx); err != nil {
		return err
	}
	if err := cat.Put(newSchema); err != nil {
		return err
	}
	if err := rewriteTableBlocks(cat.DB(), table, len(newSchema.Fields), records); err != nil {
		return err
	}
	return RebuildAllIndexes(cat)
}

// ModifyColumn changes an existing column's declared type, key, and
// nullable flags in place. Data is not reformatted to the new type.
func ModifyColumn(cat *catalog.Catalog, table string, newField dbtypes.Field) error {
	schema, err := cat.Get(table)
	if err != nil {
		return err
	}
	idx := schema.FieldIndex(newField.Name)
	if idx < 0 {
		return errs.New(errs.NotFound, "column not found: %s", newField.Name)
	}
	schema.Fields[idx].Type = newField.Type
	schema.Fields[idx].IsKey = newField.IsKey
	schema.Fields[idx].Nullable = newField.Nullable
	return cat.Put(schema)
}

// RenameColumn renames a field and patches every index that references
// it by field name; index files themselves are left in place.
func RenameColumn(cat *catalog.Catalog, table, oldName, newName string) error {
	schema, err := cat.Get(table)
	if err != nil {
		return err
	}
	idx := schema.FieldIndex(oldName)
	if idx < 0 {
		return errs.New(errs.NotFound, "column not found: %s", oldName)
	}
	schema.Fields[idx].Name = newName
	for i, ix := range schema.Indexes {
		if dbtypes.EqualFold(ix.Column, oldName) {
			schema.Indexes[i].Column = newName
		}
	}
	return cat.Put(schema)
}
