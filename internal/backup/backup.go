// Package backup implements BACKUP DATABASE / RESTORE DATABASE: a
// whole-database directory copy under data/backups/<db>/<name>,
// restorable back over a live database directory. No third-party
// archive/snapshot library fits this cleanly, so it is plain
// os/filepath/io, the same file plumbing internal/storage uses for
// every other on-disk layout concern.
package backup

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"relsql/internal/errs"
	"relsql/internal/storage"
)

// Create copies db's entire directory (catalog, heap, WAL, and index
// files) into a new backup named name (a UTC timestamp when name is
// empty), rejecting a name that already exists so a backup is never
// silently overwritten.
func Create(db, name string) (string, error) {
	if !storage.DatabaseExists(db) {
		return "", errs.New(errs.NotFound, "database %q not found", db)
	}
	if name == "" {
		name = time.Now().UTC().Format("20060102T150405")
	}
	dst := storage.BackupPath(db, name)
	if _, err := os.Stat(dst); err == nil {
		return "", errs.New(errs.AlreadyExists, "backup %q already exists for database %q", name, db)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errs.Wrap(errs.IoError, err, "create backup directory")
	}
	if err := copyDir(storage.DbDir(db), dst); err != nil {
		return "", err
	}
	return dst, nil
}

// Restore replaces db's live directory with the contents of a previously
// created backup. The caller must ensure no transaction is active against
// db (the dispatcher refuses RESTORE only while the calling session has a
// transaction open against db; other sessions are not checked).
func Restore(db, name string) error {
	src := storage.BackupPath(db, name)
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return errs.New(errs.NotFound, "backup %q not found for database %q", name, db)
	}

	live := storage.DbDir(db)
	staged := live + ".restoring"
	_ = os.RemoveAll(staged)
	if err := copyDir(src, staged); err != nil {
		os.RemoveAll(staged)
		return err
	}
	if err := os.RemoveAll(live); err != nil {
		os.RemoveAll(staged)
		return errs.Wrap(errs.IoError, err, "remove existing database directory")
	}
	if err := os.Rename(staged, live); err != nil {
		return errs.Wrap(errs.IoError, err, "activate restored database directory")
	}
	return nil
}

// List returns the names of every backup stored for db.
func List(db string) ([]string, error) {
	entries, err := os.ReadDir(storage.BackupDbDir(db))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.IoError, err, "list backups for %q", db)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return errs.Wrap(errs.IoError, err, "open %q for backup", src)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errs.Wrap(errs.IoError, err, "create directory for %q", dst)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return errs.Wrap(errs.IoError, err, "create %q for backup", dst)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errs.Wrap(errs.IoError, err, "copy %q to %q", src, dst)
	}
	return nil
}
