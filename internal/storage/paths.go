// Package storage implements an on-disk binary layout: a per-database
// schema catalog (.dbf), record heap (.dat), and single-column index
// files, all read/written at explicit byte
// offsets. Every database lives under its own directory so that a WAL
// file and an index/ subdirectory sit alongside the catalog and heap.
package storage

import (
	"os"
	"path/filepath"

	"relsql/internal/errs"
)

// DataDirEnv is the environment variable overriding the data root.
const DataDirEnv = "DBMS_DATA_DIR"

// DataRoot returns the root directory under which every database's files
// live: $DBMS_DATA_DIR, or ./data when unset.
func DataRoot() string {
	if v := os.Getenv(DataDirEnv); v != "" {
		return v
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "data"
	}
	return filepath.Join(cwd, "data")
}

func DbDir(db string) string        { return filepath.Join(DataRoot(), db) }
func IndexDir(db string) string     { return filepath.Join(DbDir(db), "index") }
func DbfPath(db string) string      { return filepath.Join(DbDir(db), db+".dbf") }
func DatPath(db string) string      { return filepath.Join(DbDir(db), db+".dat") }
func WalPath(db string) string      { return filepath.Join(DbDir(db), db+".wal") }
func WalBackupPath(db string) string { return WalPath(db) + ".bak" }

// IndexPath keeps the table name in the filename: a PRIMARY index
// would collide across tables if the table name were dropped.
func IndexPath(db, table, indexName string) string {
	return filepath.Join(IndexDir(db), table+"."+indexName+".idx")
}

func BackupRoot() string                 { return filepath.Join(DataRoot(), "backups") }
func BackupDbDir(db string) string        { return filepath.Join(BackupRoot(), db) }
func BackupPath(db, name string) string   { return filepath.Join(BackupDbDir(db), name) }

// EnsureDbDir creates db's directory and its index/ subdirectory.
func EnsureDbDir(db string) error {
	if err := os.MkdirAll(DbDir(db), 0o755); err != nil {
		return errs.Wrap(errs.IoError, err, "create database directory for %q", db)
	}
	if err := os.MkdirAll(IndexDir(db), 0o755); err != nil {
		return errs.Wrap(errs.IoError, err, "create index directory for %q", db)
	}
	return nil
}

// ListDatabases returns the names of every database directory under the
// data root, used by recovery to walk every database at startup.
func ListDatabases() ([]string, error) {
	entries, err := os.ReadDir(DataRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.IoError, err, "list data root")
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != "backups" {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
