package storage

import (
	"bufio"
	"io"
	"os"

	"relsql/internal/dbtypes"
	"relsql/internal/errs"
)

// LoadSchemas reads every table block from db's .dbf file. A missing .dbf
// is treated as "no tables", not an error.
func LoadSchemas(db string) ([]dbtypes.TableSchema, error) {
	f, err := os.Open(DbfPath(db))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.IoError, err, "open schema catalog for %q", db)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var schemas []dbtypes.TableSchema
	for !atEOF(r) {
		schema, err := readTableBlock(r)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, schema)
	}
	return schemas, nil
}

// LoadSchema returns the schema for one table.
func LoadSchema(db, table string) (dbtypes.TableSchema, error) {
	schemas, err := LoadSchemas(db)
	if err != nil {
		return dbtypes.TableSchema{}, err
	}
	for _, s := range schemas {
		if s.Name == table {
			return s, nil
		}
	}
	return dbtypes.TableSchema{}, errs.New(errs.NotFound, "table %q not found", table)
}

// SaveSchemas overwrites db's .dbf file with schemas, in order.
func SaveSchemas(db string, schemas []dbtypes.TableSchema) error {
	if err := EnsureDbDir(db); err != nil {
		return err
	}
	f, err := os.Create(DbfPath(db))
	if err != nil {
		return errs.Wrap(errs.IoError, err, "write schema catalog for %q", db)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, s := range schemas {
		if err := writeTableBlock(w, s); err != nil {
			return errs.Wrap(errs.IoError, err, "write schema block for %q", s.Name)
		}
	}
	if err := w.Flush(); err != nil {
		return errs.Wrap(errs.IoError, err, "flush schema catalog for %q", db)
	}
	return f.Sync()
}

// AppendSchema adds schema to db's catalog, rewriting the whole .dbf to
// avoid duplicates: load all, push, save all.
func AppendSchema(db string, schema dbtypes.TableSchema) error {
	schemas, err := LoadSchemas(db)
	if err != nil {
		return err
	}
	for _, s := range schemas {
		if s.Name == schema.Name {
			return errs.New(errs.AlreadyExists, "table %q already exists", schema.Name)
		}
	}
	schemas = append(schemas, schema)
	return SaveSchemas(db, schemas)
}

func readTableBlock(r *bufio.Reader) (dbtypes.TableSchema, error) {
	var schema dbtypes.TableSchema

	sep, err := r.ReadByte()
	if err != nil {
		return schema, errs.Wrap(errs.IoError, err, "read table separator")
	}
	if sep != tableSep {
		return schema, corruptionf("invalid table separator 0x%x in .dbf", sep)
	}

	name, err := readString(r)
	if err != nil {
		return schema, corruptionf("read table name: %v", err)
	}
	schema.Name = name

	fieldCount, err := readU32(r)
	if err != nil {
		return schema, corruptionf("read field count for %q: %v", name, err)
	}
	for i := uint32(0); i < fieldCount; i++ {
		f, err := readField(r)
		if err != nil {
			return schema, corruptionf("read field %d of %q: %v", i, name, err)
		}
		schema.Fields = append(schema.Fields, f)
	}

	idxCount, err := readU32(r)
	if err != nil {
		return schema, corruptionf("read index count for %q: %v", name, err)
	}
	for i := uint32(0); i < idxCount; i++ {
		idx, err := readIndexDef(r)
		if err != nil {
			return schema, corruptionf("read index %d of %q: %v", i, name, err)
		}
		schema.Indexes = append(schema.Indexes, idx)
	}

	fkCount, err := readU32(r)
	if err != nil {
		return schema, corruptionf("read foreign key count for %q: %v", name, err)
	}
	for i := uint32(0); i < fkCount; i++ {
		fk, err := readForeignKey(r)
		if err != nil {
			return schema, corruptionf("read foreign key %d of %q: %v", i, name, err)
		}
		schema.ForeignKeys = append(schema.ForeignKeys, fk)
	}

	isView, err := r.ReadByte()
	if err != nil {
		return schema, corruptionf("read view flag for %q: %v", name, err)
	}
	schema.IsView = isView != 0
	if schema.IsView {
		sql, err := readString(r)
		if err != nil {
			return schema, corruptionf("read view sql for %q: %v", name, err)
		}
		schema.ViewSQL = sql
	}

	return schema, nil
}

func writeTableBlock(w *bufio.Writer, s dbtypes.TableSchema) error {
	if err := w.WriteByte(tableSep); err != nil {
		return err
	}
	if err := writeString(w, s.Name); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(s.Fields))); err != nil {
		return err
	}
	for _, f := range s.Fields {
		if err := writeField(w, f); err != nil {
			return err
		}
	}
	if err := writeU32(w, uint32(len(s.Indexes))); err != nil {
		return err
	}
	for _, idx := range s.Indexes {
		if err := writeIndexDef(w, idx); err != nil {
			return err
		}
	}
	if err := writeU32(w, uint32(len(s.ForeignKeys))); err != nil {
		return err
	}
	for _, fk := range s.ForeignKeys {
		if err := writeForeignKey(w, fk); err != nil {
			return err
		}
	}
	viewFlag := byte(0)
	if s.IsView {
		viewFlag = 1
	}
	if err := w.WriteByte(viewFlag); err != nil {
		return err
	}
	if s.IsView {
		if err := writeString(w, s.ViewSQL); err != nil {
			return err
		}
	}
	return nil
}

func readField(r *bufio.Reader) (dbtypes.Field, error) {
	var f dbtypes.Field
	name, err := readString(r)
	if err != nil {
		return f, err
	}
	typ, err := readString(r)
	if err != nil {
		return f, err
	}
	size, err := readU32(r)
	if err != nil {
		return f, err
	}
	flags := make([]byte, 3)
	if _, err := io.ReadFull(r, flags); err != nil {
		return f, err
	}
	f.Name = name
	f.Type = typ
	f.Size = int(size)
	f.IsKey = flags[0] != 0
	f.Nullable = flags[1] != 0
	f.Valid = flags[2] != 0
	return f, nil
}

func writeField(w *bufio.Writer, f dbtypes.Field) error {
	if err := writeString(w, f.Name); err != nil {
		return err
	}
	if err := writeString(w, f.Type); err != nil {
		return err
	}
	if err := writeU32(w, uint32(f.Size)); err != nil {
		return err
	}
	flags := []byte{boolByte(f.IsKey), boolByte(f.Nullable), boolByte(f.Valid)}
	_, err := w.Write(flags)
	return err
}

func readIndexDef(r *bufio.Reader) (dbtypes.IndexDef, error) {
	var idx dbtypes.IndexDef
	name, err := readString(r)
	if err != nil {
		return idx, err
	}
	col, err := readString(r)
	if err != nil {
		return idx, err
	}
	u, err := r.ReadByte()
	if err != nil {
		return idx, err
	}
	idx.Name = name
	idx.Column = col
	idx.IsUnique = u != 0
	return idx, nil
}

func writeIndexDef(w *bufio.Writer, idx dbtypes.IndexDef) error {
	if err := writeString(w, idx.Name); err != nil {
		return err
	}
	if err := writeString(w, idx.Column); err != nil {
		return err
	}
	return w.WriteByte(boolByte(idx.IsUnique))
}

func readForeignKey(r *bufio.Reader) (dbtypes.ForeignKeyDef, error) {
	var fk dbtypes.ForeignKeyDef
	name, err := readString(r)
	if err != nil {
		return fk, err
	}
	fk.Name = name

	colCount, err := readU32(r)
	if err != nil {
		return fk, err
	}
	for i := uint32(0); i < colCount; i++ {
		c, err := readString(r)
		if err != nil {
			return fk, err
		}
		fk.Columns = append(fk.Columns, c)
	}

	refTable, err := readString(r)
	if err != nil {
		return fk, err
	}
	fk.RefTable = refTable

	refColCount, err := readU32(r)
	if err != nil {
		return fk, err
	}
	for i := uint32(0); i < refColCount; i++ {
		c, err := readString(r)
		if err != nil {
			return fk, err
		}
		fk.RefColumns = append(fk.RefColumns, c)
	}

	actions := make([]byte, 2)
	if _, err := io.ReadFull(r, actions); err != nil {
		return fk, err
	}
	fk.OnDelete = dbtypes.ReferentialAction(actions[0])
	fk.OnUpdate = dbtypes.ReferentialAction(actions[1])
	return fk, nil
}

func writeForeignKey(w *bufio.Writer, fk dbtypes.ForeignKeyDef) error {
	if err := writeString(w, fk.Name); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(fk.Columns))); err != nil {
		return err
	}
	for _, c := range fk.Columns {
		if err := writeString(w, c); err != nil {
			return err
		}
	}
	if err := writeString(w, fk.RefTable); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(fk.RefColumns))); err != nil {
		return err
	}
	for _, c := range fk.RefColumns {
		if err := writeString(w, c); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte{byte(fk.OnDelete), byte(fk.OnUpdate)})
	return err
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
