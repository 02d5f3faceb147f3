package storage

import (
	"os"

	"relsql/internal/errs"
)

// CreateDatabase creates an empty database directory with empty .dbf and
// .dat files, failing if the database already exists.
func CreateDatabase(db string) error {
	if _, err := os.Stat(DbDir(db)); err == nil {
		return errs.New(errs.AlreadyExists, "database %q already exists", db)
	}
	if err := EnsureDbDir(db); err != nil {
		return err
	}
	for _, path := range []string{DbfPath(db), DatPath(db)} {
		f, err := os.Create(path)
		if err != nil {
			return errs.Wrap(errs.IoError, err, "create %q", path)
		}
		f.Close()
	}
	return nil
}

// DropDatabase removes a database's entire directory, including its
// catalog, heap, WAL, and indexes.
func DropDatabase(db string) error {
	if _, err := os.Stat(DbDir(db)); err != nil {
		if os.IsNotExist(err) {
			return errs.New(errs.NotFound, "database %q not found", db)
		}
		return errs.Wrap(errs.IoError, err, "stat database %q", db)
	}
	if err := os.RemoveAll(DbDir(db)); err != nil {
		return errs.Wrap(errs.IoError, err, "drop database %q", db)
	}
	return nil
}

// DatabaseExists reports whether db has an on-disk directory.
func DatabaseExists(db string) bool {
	_, err := os.Stat(DbDir(db))
	return err == nil
}
