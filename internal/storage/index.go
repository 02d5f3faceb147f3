package storage

import (
	"bufio"
	"os"

	"relsql/internal/errs"
)

// LoadIndex reads a table.index.idx file into a key -> RID offset map. A
// missing file means "no index yet" rather than an error.
func LoadIndex(db, table, indexName string) (map[string]int64, error) {
	f, err := os.Open(IndexPath(db, table, indexName))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int64{}, nil
		}
		return nil, errs.Wrap(errs.IoError, err, "open index %q.%q", table, indexName)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	out := map[string]int64{}
	for !atEOF(r) {
		key, err := readString(r)
		if err != nil {
			return nil, corruptionf("read index key for %q.%q: %v", table, indexName, err)
		}
		off, err := readU32(r)
		if err != nil {
			return nil, corruptionf("read index offset for %q.%q: %v", table, indexName, err)
		}
		out[key] = int64(off)
	}
	return out, nil
}

// SaveIndex overwrites a table.index.idx file as a plain sequence of
// (length-prefixed key, u32 offset) pairs.
func SaveIndex(db, table, indexName string, index map[string]int64) error {
	if err := EnsureDbDir(db); err != nil {
		return err
	}
	f, err := os.Create(IndexPath(db, table, indexName))
	if err != nil {
		return errs.Wrap(errs.IoError, err, "write index %q.%q", table, indexName)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for key, off := range index {
		if err := writeString(w, key); err != nil {
			return err
		}
		if err := writeU32(w, uint32(off)); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return errs.Wrap(errs.IoError, err, "flush index %q.%q", table, indexName)
	}
	return f.Sync()
}

// DeleteIndexFiles removes every index file for table.
func DeleteIndexFiles(db, table string, indexes []string) error {
	for _, name := range indexes {
		path := IndexPath(db, table, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errs.Wrap(errs.IoError, err, "delete index file %q", path)
		}
	}
	return nil
}

// RenameIndexFiles renames every index file of oldTable to use newTable in
// its filename, preserving each index's contents.
func RenameIndexFiles(db, oldTable, newTable string, indexes []string) error {
	for _, name := range indexes {
		oldPath := IndexPath(db, oldTable, name)
		newPath := IndexPath(db, newTable, name)
		if _, err := os.Stat(oldPath); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errs.Wrap(errs.IoError, err, "stat index file %q", oldPath)
		}
		if err := os.Rename(oldPath, newPath); err != nil {
			return errs.Wrap(errs.IoError, err, "rename index file %q to %q", oldPath, newPath)
		}
	}
	return nil
}
