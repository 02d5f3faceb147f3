package ddl

import (
	"relsql/internal/catalog"
	"relsql/internal/dbtypes"
	"relsql/internal/errs"
)

// AddForeignKey validates and appends fk to table's schema, requiring
// existing data to already satisfy the constraint. An unnamed fk is
// auto-named fk_<table>_<refTable>_<n>; adding one that's equivalent to
// an already-declared constraint of the same name is a silent no-op.
func AddForeignKey(cat *catalog.Catalog, table string, fk dbtypes.ForeignKeyDef) error {
	schemas, err := cat.All()
	if err != nil {
		return err
	}
	schema, ok := schemaByName(schemas, table)
	if !ok {
		return errs.New(errs.NotFound, "table not found: %s", table)
	}

	normalizeForeignKey(&fk)
	if fk.Name == "" {
		fk.Name = fkName(schema.Name, fk.RefTable, len(schema.ForeignKeys)+1)
	}
	if err := validateForeignKeyDef(schemas, schema, &fk); err != nil {
		return err
	}
	for _, existing := range schema.ForeignKeys {
		normalized := existing
		normalizeForeignKey(&normalized)
		if dbtypes.EqualFold(normalized.Name, fk.Name) {
			if areForeignKeysEquivalent(normalized, fk) {
				return nil
			}
			return errs.New(errs.AlreadyExists, "foreign key already exists")
		}
	}

	refSchema, ok := schemaByName(schemas, fk.RefTable)
	if !ok {
		return errs.New(errs.NotFound, "referenced table not found: %s", fk.RefTable)
	}
	if err := existingDataSatisfiesFk(cat.DB(), schema, refSchema, fk); err != nil {
		return err
	}

	schema.ForeignKeys = append(schema.ForeignKeys, fk)
	return cat.Put(schema)
}

// DropForeignKey removes a named constraint from table's schema.
func DropForeignKey(cat *catalog.Catalog, table, fkName string) error {
	schema, err := cat.Get(table)
	if err != nil {
		return err
	}
	found := -1
	for i, fk := range schema.ForeignKeys {
		if dbtypes.EqualFold(fk.Name, fkName) {
			found = i
			break
		}
	}
	if found < 0 {
		return errs.New(errs.NotFound, "foreign key not found")
	}
	schema.ForeignKeys = append(schema.ForeignKeys[:found], schema.ForeignKeys[found+1:]...)
	return cat.Put(schema)
}
