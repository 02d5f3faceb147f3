// Package wal implements a per-database write-ahead log: an append-only
// file of fixed-shape records, each assigned a strictly increasing LSN,
// with explicit flush-to-durable-storage and checkpoint/truncate
// support.
package wal

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"relsql/internal/dbtypes"
	"relsql/internal/errs"
	"relsql/internal/storage"
)

// Manager is a single database's WAL. mu guarantees LSNs are assigned
// and written in a single total order even when multiple transactions
// commit concurrently.
type Manager struct {
	db string

	mu         sync.Mutex
	nextLSN    uint64
	cache      map[uint64]dbtypes.LogRecord
	flushedLSN uint64
}

// New opens (or prepares to create) the WAL for db, starting LSN
// assignment at 1. Call SetNextLSN after recovery to avoid reusing LSNs
// from a prior run.
func New(db string) *Manager {
	return &Manager{db: db, nextLSN: 1, cache: make(map[uint64]dbtypes.LogRecord)}
}

// SetNextLSN seeds the monotonic counter, used by recovery to ensure
// post-recovery LSNs never collide with replayed ones.
func (m *Manager) SetNextLSN(next uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if next > m.nextLSN {
		m.nextLSN = next
	}
}

// GetFlushedLSN returns the highest LSN known to be durable.
func (m *Manager) GetFlushedLSN() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushedLSN
}

// Append assigns rec the next LSN, appends it to the WAL file, and caches
// it in memory for undo lookups. Not durable until Flush(lsn) succeeds.
func (m *Manager) Append(rec dbtypes.LogRecord) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := storage.EnsureDbDir(m.db); err != nil {
		return 0, err
	}

	lsn := m.nextLSN
	m.nextLSN++
	rec.LSN = lsn

	f, err := os.OpenFile(storage.WalPath(m.db), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, errs.Wrap(errs.IoError, err, "open WAL for %q", m.db)
	}
	defer f.Close()

	if err := writeLogRecord(f, rec); err != nil {
		return 0, errs.Wrap(errs.IoError, err, "append WAL record for %q", m.db)
	}

	m.cache[lsn] = rec
	return lsn, nil
}

// Flush forces the WAL file to durable storage. lsn is accepted for
// symmetry with the original API; every Flush call syncs the whole file,
// so any LSN already appended becomes durable.
func (m *Manager) Flush(lsn uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.OpenFile(storage.WalPath(m.db), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errs.Wrap(errs.IoError, err, "open WAL for flush on %q", m.db)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return errs.Wrap(errs.IoError, err, "fsync WAL for %q", m.db)
	}
	if lsn > m.flushedLSN {
		m.flushedLSN = lsn
	}
	return nil
}

// Commit appends a COMMIT record for txnID and flushes it, enforcing
// WAL-before-data on commit from the caller's side: Commit must return
// successfully before the caller tells anyone the transaction succeeded.
func (m *Manager) Commit(txnID uint64) (uint64, error) {
	lsn, err := m.Append(dbtypes.LogRecord{TxnID: txnID, Type: dbtypes.LogCommit})
	if err != nil {
		return 0, err
	}
	if err := m.Flush(lsn); err != nil {
		return 0, err
	}
	return lsn, nil
}

// GetRecord returns a previously appended record by LSN from the
// in-memory cache (populated for the lifetime of this Manager; recovery
// repopulates it for a fresh process via ReadAll).
func (m *Manager) GetRecord(lsn uint64) (dbtypes.LogRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.cache[lsn]
	return rec, ok
}

// ReadAll reads every record from the WAL file in append order, used by
// recovery. A missing WAL file is treated as empty.
func (m *Manager) ReadAll() ([]dbtypes.LogRecord, error) {
	f, err := os.Open(storage.WalPath(m.db))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.IoError, err, "open WAL for %q", m.db)
	}
	defer f.Close()

	var out []dbtypes.LogRecord
	r := bufio.NewReader(f)
	for {
		rec, err := readLogRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, errs.Wrap(errs.Corruption, err, "read WAL record for %q", m.db)
		}
		out = append(out, rec)
		m.cache[rec.LSN] = rec
	}
	return out, nil
}

// TruncateWithBackup copies the current WAL to <db>.wal.bak and starts a
// fresh, empty WAL. Called on CHECKPOINT.
func (m *Manager) TruncateWithBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	walPath := storage.WalPath(m.db)
	if _, err := os.Stat(walPath); err == nil {
		if err := copyFile(walPath, storage.WalBackupPath(m.db)); err != nil {
			return errs.Wrap(errs.IoError, err, "back up WAL for %q", m.db)
		}
	} else if !os.IsNotExist(err) {
		return errs.Wrap(errs.IoError, err, "stat WAL for %q", m.db)
	}

	f, err := os.Create(walPath)
	if err != nil {
		return errs.Wrap(errs.IoError, err, "truncate WAL for %q", m.db)
	}
	f.Close()

	m.cache = make(map[uint64]dbtypes.LogRecord)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func writeLogRecord(w io.Writer, rec dbtypes.LogRecord) error {
	if err := writeU64(w, rec.LSN); err != nil {
		return err
	}
	if err := writeU64(w, rec.TxnID); err != nil {
		return err
	}
	if err := writeU32(w, uint32(rec.Type)); err != nil {
		return err
	}
	if err := writeString(w, rec.RID.Table); err != nil {
		return err
	}
	if err := writeU64(w, uint64(rec.RID.Offset)); err != nil {
		return err
	}
	if err := writeBytes(w, rec.Before); err != nil {
		return err
	}
	return writeBytes(w, rec.After)
}

func readLogRecord(r *bufio.Reader) (dbtypes.LogRecord, error) {
	var rec dbtypes.LogRecord
	if _, err := r.Peek(1); err != nil {
		return rec, io.EOF
	}

	lsn, err := readU64(r)
	if err != nil {
		return rec, err
	}
	txnID, err := readU64(r)
	if err != nil {
		return rec, err
	}
	typ, err := readU32(r)
	if err != nil {
		return rec, err
	}
	table, err := readString(r)
	if err != nil {
		return rec, err
	}
	offset, err := readU64(r)
	if err != nil {
		return rec, err
	}
	before, err := readBytes(r)
	if err != nil {
		return rec, err
	}
	after, err := readBytes(r)
	if err != nil {
		return rec, err
	}

	rec.LSN = lsn
	rec.TxnID = txnID
	rec.Type = dbtypes.LogType(typ)
	rec.RID = dbtypes.RID{Table: table, Offset: int64(offset)}
	rec.Before = before
	rec.After = after
	return rec, nil
}

func writeU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeU64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func writeString(w io.Writer, s string) error {
	if err := writeU32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeU32(w, uint32(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
