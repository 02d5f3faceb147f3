package storage

import (
	"bufio"
	"io"
	"os"

	"relsql/internal/dbtypes"
	"relsql/internal/errs"
)

// SerializeRecord produces the deterministic byte image of a record: the
// valid flag followed by each field's length-prefixed bytes, in schema
// field order (the .dat record format, minus the block header).
func SerializeRecord(schema dbtypes.TableSchema, rec dbtypes.Record) ([]byte, error) {
	if len(rec.Values) != len(schema.Fields) {
		return nil, errs.New(errs.IoError, "record has %d values, schema %q has %d fields", len(rec.Values), schema.Name, len(schema.Fields))
	}
	var buf []byte
	buf = append(buf, boolByte(rec.Valid))
	for _, v := range rec.Values {
		buf = appendString(buf, v)
	}
	return buf, nil
}

func appendString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	n := uint32(len(s))
	lenBuf[0] = byte(n)
	lenBuf[1] = byte(n >> 8)
	lenBuf[2] = byte(n >> 16)
	lenBuf[3] = byte(n >> 24)
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}

// DeserializeRecord parses the bytes written by SerializeRecord.
func DeserializeRecord(schema dbtypes.TableSchema, raw []byte) (dbtypes.Record, error) {
	r := newByteReader(raw)
	valid, err := r.readByte()
	if err != nil {
		return dbtypes.Record{}, corruptionf("read record valid flag: %v", err)
	}
	rec := dbtypes.Record{Valid: valid != 0, Values: make([]string, 0, len(schema.Fields))}
	for _, f := range schema.Fields {
		v, err := r.readString()
		if err != nil {
			return dbtypes.Record{}, corruptionf("read field %q of %q: %v", f.Name, schema.Name, err)
		}
		rec.Values = append(rec.Values, v)
	}
	return rec, nil
}

// AppendRecord writes a single-record insert block to db's heap file and
// returns the RID (the byte offset of the record's valid byte).
func AppendRecord(db string, schema dbtypes.TableSchema, rec dbtypes.Record) (dbtypes.RID, error) {
	recBytes, err := SerializeRecord(schema, rec)
	if err != nil {
		return dbtypes.RID{}, err
	}
	offset, err := appendInsertBlock(db, schema.Name, len(schema.Fields), recBytes)
	if err != nil {
		return dbtypes.RID{}, err
	}
	return dbtypes.RID{Table: schema.Name, Offset: offset}, nil
}

// ComputeAppendRecordOffset predicts the RID the next single-record append
// for table will take, without writing anything: the current heap file
// size plus the fixed single-record block header.
func ComputeAppendRecordOffset(db, table string) (int64, error) {
	size, err := fileSize(DatPath(db))
	if err != nil {
		return 0, err
	}
	return size + headerSizeForTable(table), nil
}

// HeapFileSize returns the current size of db's heap file, 0 if absent.
// Recovery uses this to tell whether a logged INSERT's block already
// exists on disk (overwrite-in-place) or still needs to be appended.
func HeapFileSize(db string) (int64, error) {
	return fileSize(DatPath(db))
}

func fileSize(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errs.Wrap(errs.IoError, err, "stat %q", path)
	}
	return st.Size(), nil
}

// headerSizeForTable is the fixed-size prefix of a single-record insert
// block: separator + length-prefixed table name + record-count u32 +
// field-count u32.
func headerSizeForTable(table string) int64 {
	return 1 + 4 + int64(len(table)) + 4 + 4
}

// appendInsertBlock appends a single-record block ('~', table name, record
// count=1, field count, record bytes) to db's heap file and returns the
// offset of the record's valid byte.
func appendInsertBlock(db, table string, fieldCount int, recBytes []byte) (int64, error) {
	if err := EnsureDbDir(db); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(DatPath(db), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, errs.Wrap(errs.IoError, err, "open heap file for %q", db)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, errs.Wrap(errs.IoError, err, "stat heap file for %q", db)
	}
	recordOffset := st.Size() + headerSizeForTable(table)

	w := bufio.NewWriter(f)
	if err := w.WriteByte(tableSep); err != nil {
		return 0, err
	}
	if err := writeString(w, table); err != nil {
		return 0, err
	}
	if err := writeU32(w, 1); err != nil {
		return 0, err
	}
	if err := writeU32(w, uint32(fieldCount)); err != nil {
		return 0, err
	}
	if _, err := w.Write(recBytes); err != nil {
		return 0, err
	}
	if err := w.Flush(); err != nil {
		return 0, errs.Wrap(errs.IoError, err, "append to heap file for %q", db)
	}
	if err := f.Sync(); err != nil {
		return 0, errs.Wrap(errs.IoError, err, "sync heap file for %q", db)
	}
	return recordOffset, nil
}

// WriteInsertBlockAt appends a single-record block and verifies the
// record landed exactly at wantOffset, failing with WalOffsetMismatch
// otherwise. Used by DML inserts (after WAL registration of the
// predicted offset) and by redo recovery.
func WriteInsertBlockAt(db string, schema dbtypes.TableSchema, wantOffset int64, recBytes []byte) error {
	got, err := appendInsertBlock(db, schema.Name, len(schema.Fields), recBytes)
	if err != nil {
		return err
	}
	if got != wantOffset {
		return errs.New(errs.IoError, "WAL offset mismatch for %q: wanted %d, got %d", schema.Name, wantOffset, got)
	}
	return nil
}

// ReadRecordBytesAt reads the raw valid-byte-plus-fields bytes of a record
// at offset, using schema to know how many fields to read.
func ReadRecordBytesAt(db string, schema dbtypes.TableSchema, offset int64) ([]byte, error) {
	f, err := os.Open(DatPath(db))
	if err != nil {
		return nil, errs.Wrap(errs.IoError, err, "open heap file for %q", db)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, errs.Wrap(errs.IoError, err, "seek heap file for %q", db)
	}
	r := bufio.NewReader(f)

	var raw []byte
	valid, err := r.ReadByte()
	if err != nil {
		return nil, corruptionf("read record at offset %d: %v", offset, err)
	}
	raw = append(raw, valid)
	for _, fld := range schema.Fields {
		s, err := readString(r)
		if err != nil {
			return nil, corruptionf("read field %q at offset %d: %v", fld.Name, offset, err)
		}
		raw = appendString(raw, s)
	}
	return raw, nil
}

// ReadRecordAt reads and parses a single record at offset.
func ReadRecordAt(db string, schema dbtypes.TableSchema, offset int64) (dbtypes.Record, error) {
	raw, err := ReadRecordBytesAt(db, schema, offset)
	if err != nil {
		return dbtypes.Record{}, err
	}
	return DeserializeRecord(schema, raw)
}

// WriteRecordBytesAt overwrites a record's bytes in place, preserving
// length: every record at a given RID has a fixed serialized length
// across its lifetime, except via the delete+insert
// fallback).
func WriteRecordBytesAt(db string, offset int64, bytes []byte) error {
	f, err := os.OpenFile(DatPath(db), os.O_WRONLY, 0o644)
	if err != nil {
		return errs.Wrap(errs.IoError, err, "open heap file for write at %q", db)
	}
	defer f.Close()
	if _, err := f.WriteAt(bytes, offset); err != nil {
		return errs.Wrap(errs.IoError, err, "write record at offset %d", offset)
	}
	return f.Sync()
}

// ReadRecords scans db's heap file and returns every record of table,
// live or tombstoned (check Record.Valid), skipping blocks belonging to
// other tables using their recorded field count.
func ReadRecords(db string, schema dbtypes.TableSchema) ([]dbtypes.Record, error) {
	rows, err := ReadRecordsWithOffsets(db, schema)
	if err != nil {
		return nil, err
	}
	out := make([]dbtypes.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Record)
	}
	return out, nil
}

// ReadRecordsWithOffsets scans db's heap file for every block belonging to
// table and returns each record (live or tombstoned) along with its RID.
func ReadRecordsWithOffsets(db string, schema dbtypes.TableSchema) ([]dbtypes.RowWithRID, error) {
	f, err := os.Open(DatPath(db))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.IoError, err, "open heap file for %q", db)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var offset int64
	var out []dbtypes.RowWithRID

	for !atEOF(r) {
		sep, err := r.ReadByte()
		if err != nil {
			return nil, corruptionf("read block separator at offset %d: %v", offset, err)
		}
		offset++
		if sep != tableSep {
			return nil, corruptionf("invalid block separator 0x%x at offset %d", sep, offset-1)
		}

		blockTable, err := readString(r)
		if err != nil {
			return nil, corruptionf("read block table name: %v", err)
		}
		offset += 4 + int64(len(blockTable))

		recordCount, err := readU32(r)
		if err != nil {
			return nil, corruptionf("read block record count: %v", err)
		}
		offset += 4
		fieldCount, err := readU32(r)
		if err != nil {
			return nil, corruptionf("read block field count: %v", err)
		}
		offset += 4

		matches := blockTable == schema.Name
		var blockSchema dbtypes.TableSchema
		if matches {
			blockSchema = schema
		}

		for i := uint32(0); i < recordCount; i++ {
			recOffset := offset
			valid, err := r.ReadByte()
			if err != nil {
				return nil, corruptionf("read record valid flag at offset %d: %v", recOffset, err)
			}
			offset++

			values := make([]string, 0, fieldCount)
			for j := uint32(0); j < fieldCount; j++ {
				s, err := readString(r)
				if err != nil {
					return nil, corruptionf("read field %d of block %q at offset %d: %v", j, blockTable, recOffset, err)
				}
				offset += 4 + int64(len(s))
				values = append(values, s)
			}

			if matches {
				out = append(out, dbtypes.RowWithRID{
					RID:    dbtypes.RID{Table: blockSchema.Name, Offset: recOffset},
					Record: dbtypes.Record{Valid: valid != 0, Values: values},
				})
			}
		}
	}
	return out, nil
}

// byteReader is a tiny cursor over an in-memory byte slice, used to
// deserialize a single record already read into memory.
type byteReader struct {
	buf []byte
	pos int
}

func newByteReader(b []byte) *byteReader { return &byteReader{buf: b} }

func (r *byteReader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readString() (string, error) {
	if r.pos+4 > len(r.buf) {
		return "", io.ErrUnexpectedEOF
	}
	n := int(r.buf[r.pos]) | int(r.buf[r.pos+1])<<8 | int(r.buf[r.pos+2])<<16 | int(r.buf[r.pos+3])<<24
	r.pos += 4
	if r.pos+n > len(r.buf) {
		return "", io.ErrUnexpectedEOF
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s, nil
}
