package ddl

import (
	"relsql/internal/catalog"
	"relsql/internal/dbtypes"
	"relsql/internal/errs"
	"relsql/internal/storage"
)

// CreateIndex adds a named (or auto-named "idx_<field>") index on table,
// validating uniqueness against existing data first when isUnique is set.
func CreateIndex(cat *catalog.Catalog, table, fieldName, indexName string, isUnique bool) error {
	schema, err := cat.Get(table)
	if err != nil {
		return err
	}
	valIdx := schema.FieldIndex(fieldName)
	if valIdx < 0 {
		return errs.New(errs.NotFound, "field not found: %s", fieldName)
	}
	for _, idx := range schema.Indexes {
		if dbtypes.EqualFold(idx.Column, fieldName) {
			if isUnique && idx.IsUnique {
				return nil
			}
			return errs.New(errs.AlreadyExists, "index already exists on this field")
		}
	}

	rows, err := storage.ReadRecordsWithOffsets(cat.DB(), schema)
	if err != nil {
		return err
	}

	if isUnique {
		seen := map[string]bool{}
		for _, row := range rows {
			if !row.Record.Valid || valIdx >= len(row.Record.Values) {
				continue
			}
			v := normalizeValue(row.Record.Values[valIdx])
			if seen[v] {
				return errs.New(errs.Conflict, "duplicate values found, cannot create unique index: %s", v)
			}
			seen[v] = true
		}
	}

	if indexName == "" {
		indexName = "idx_" + fieldName
	}
	schema.Indexes = append(schema.Indexes, dbtypes.IndexDef{Name: indexName, Column: fieldName, IsUnique: isUnique})
	if err := cat.Put(schema); err != nil {
		return err
	}

	idxMap := map[string]int64{}
	for _, row := range rows {
		if row.Record.Valid && valIdx < len(row.Record.Values) {
			idxMap[normalizeValue(row.Record.Values[valIdx])] = row.RID.Offset
		}
	}
	return storage.SaveIndex(cat.DB(), table, indexName, idxMap)
}

// DropIndex removes a named index from table's schema and deletes its file.
func DropIndex(cat *catalog.Catalog, table, indexName string) error {
	schema, err := cat.Get(table)
	if err != nil {
		return err
	}
	found := -1
	for i, idx := range schema.Indexes {
		if dbtypes.EqualFold(idx.Name, indexName) {
			found = i
			break
		}
	}
	if found < 0 {
		return errs.New(errs.NotFound, "index not found")
	}
	actualName := schema.Indexes[found].Name
	schema.Indexes = append(schema.Indexes[:found], schema.Indexes[found+1:]...)
	if err := cat.Put(schema); err != nil {
		return err
	}
	return storage.DeleteIndexFiles(cat.DB(), table, []string{actualName})
}

// ListIndexes returns table's declared indexes.
func ListIndexes(cat *catalog.Catalog, table string) ([]dbtypes.IndexDef, error) {
	schema, err := cat.Get(table)
	if err != nil {
		return nil, err
	}
	return schema.Indexes, nil
}

// RebuildIndexes recomputes every index file of table from its current
// on-disk records, used after any write that may have shifted RIDs.
func RebuildIndexes(cat *catalog.Catalog, table string) error {
	schema, err := cat.Get(table)
	if err != nil {
		return err
	}
	if len(schema.Indexes) == 0 {
		return nil
	}
	rows, err := storage.ReadRecordsWithOffsets(cat.DB(), schema)
	if err != nil {
		return err
	}
	for _, idxDef := range schema.Indexes {
		valIdx := schema.FieldIndex(idxDef.Column)
		if valIdx < 0 {
			continue
		}
		idxMap := map[string]int64{}
		for _, row := range rows {
			if row.Record.Valid && valIdx < len(row.Record.Values) {
				idxMap[normalizeValue(row.Record.Values[valIdx])] = row.RID.Offset
			}
		}
		if err := storage.SaveIndex(cat.DB(), table, idxDef.Name, idxMap); err != nil {
			return err
		}
	}
	return nil
}

// RebuildAllIndexes rebuilds every table's indexes in the database. A
// full heap-file rewrite (storage.WriteAllBlocks) can shift the byte
// offset of every block that follows the one that changed size, so any
// structural DDL that rewrites the whole file must call this instead of
// RebuildIndexes for just the table it touched.
func RebuildAllIndexes(cat *catalog.Catalog) error {
	schemas, err := cat.All()
	if err != nil {
		return err
	}
	for _, s := range schemas {
		if s.IsView {
			continue
		}
		if err := RebuildIndexes(cat, s.Name); err != nil {
			return err
		}
	}
	return nil
}
