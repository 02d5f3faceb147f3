package storage

import (
	"bufio"
	"os"

	"relsql/internal/dbtypes"
	"relsql/internal/errs"
)

// RawBlock is one insert block of the heap file, table-agnostic: the
// field count comes from the block header itself, so a block can be read
// and rewritten without knowing that table's current schema.
type RawBlock struct {
	Table      string
	FieldCount int
	Records    []dbtypes.Record
}

// ReadAllBlocks reads every block in db's heap file, across every table,
// in file order. Used by structural rewrites (DROP/RENAME TABLE, ALTER
// TABLE column changes) that must preserve the blocks of untouched
// tables.
func ReadAllBlocks(db string) ([]RawBlock, error) {
	f, err := os.Open(DatPath(db))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.IoError, err, "open heap file for %q", db)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var blocks []RawBlock
	for !atEOF(r) {
		sep, err := r.ReadByte()
		if err != nil {
			return nil, corruptionf("read block separator: %v", err)
		}
		if sep != tableSep {
			return nil, corruptionf("invalid block separator 0x%x", sep)
		}
		table, err := readString(r)
		if err != nil {
			return nil, corruptionf("read block table name: %v", err)
		}
		recordCount, err := readU32(r)
		if err != nil {
			return nil, corruptionf("read block record count: %v", err)
		}
		fieldCount, err := readU32(r)
		if err != nil {
			return nil, corruptionf("read block field count: %v", err)
		}

		block := RawBlock{Table: table, FieldCount: int(fieldCount)}
		for i := uint32(0); i < recordCount; i++ {
			valid, err := r.ReadByte()
			if err != nil {
				return nil, corruptionf("read record valid flag: %v", err)
			}
			values := make([]string, 0, fieldCount)
			for j := uint32(0); j < fieldCount; j++ {
				s, err := readString(r)
				if err != nil {
					return nil, corruptionf("read field %d: %v", j, err)
				}
				values = append(values, s)
			}
			block.Records = append(block.Records, dbtypes.Record{Valid: valid != 0, Values: values})
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// WriteAllBlocks truncates db's heap file and rewrites it as the given
// blocks, in order. Any block whose byte size differs from its original
// shifts the offsets of every following block, so callers must rebuild
// indexes for every table in the database afterwards, not just the one
// they changed (see DESIGN.md).
func WriteAllBlocks(db string, blocks []RawBlock) error {
	if err := EnsureDbDir(db); err != nil {
		return err
	}
	f, err := os.Create(DatPath(db))
	if err != nil {
		return errs.Wrap(errs.IoError, err, "rewrite heap file for %q", db)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, b := range blocks {
		if len(b.Records) == 0 {
			continue
		}
		if err := w.WriteByte(tableSep); err != nil {
			return err
		}
		if err := writeString(w, b.Table); err != nil {
			return err
		}
		if err := writeU32(w, uint32(len(b.Records))); err != nil {
			return err
		}
		if err := writeU32(w, uint32(b.FieldCount)); err != nil {
			return err
		}
		for _, rec := range b.Records {
			if err := w.WriteByte(boolByte(rec.Valid)); err != nil {
				return err
			}
			for _, v := range rec.Values {
				if err := writeString(w, v); err != nil {
					return err
				}
			}
		}
	}
	if err := w.Flush(); err != nil {
		return errs.Wrap(errs.IoError, err, "flush rewritten heap file for %q", db)
	}
	return f.Sync()
}
