// Package txnmgr implements transaction lifecycle management: BEGIN,
// COMMIT, ROLLBACK, SAVEPOINT, ROLLBACK TO, and RELEASE SAVEPOINT. A
// transaction tracks the LSNs of every change it has made; rollback
// walks that chain backwards, applying each record's before-image (or
// tombstoning an insert) to undo it.
package txnmgr

import (
	"sync"

	"relsql/internal/dbtypes"
	"relsql/internal/errs"
	"relsql/internal/lockmgr"
	"relsql/internal/storage"
	"relsql/internal/wal"
)

// Txn is a single transaction's in-memory state. The WAL is the durable
// record; this struct is the working set the dispatcher and DML layer
// consult while the transaction is open.
type Txn struct {
	ID            uint64
	DB            string
	State         dbtypes.TxnState
	UndoChain     []uint64
	Savepoints    []dbtypes.Savepoint
	TouchedTables []string
}

// Manager coordinates transactions against a single database's WAL and
// lock table.
type Manager struct {
	mu        sync.Mutex
	nextTxnID uint64
	wal       *wal.Manager
	locks     *lockmgr.Manager
	active    map[uint64]*Txn
}

// New builds a Manager over an already-open WAL and lock table.
// SeedTxnID should be called afterward if recovery found a higher txn id
// in the log.
func New(walMgr *wal.Manager, locks *lockmgr.Manager) *Manager {
	return &Manager{nextTxnID: 1, wal: walMgr, locks: locks, active: make(map[uint64]*Txn)}
}

// SeedTxnID ensures future-allocated IDs never collide with one recovery
// has already seen in the WAL.
func (m *Manager) SeedTxnID(seen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seen >= m.nextTxnID {
		m.nextTxnID = seen + 1
	}
}

// Begin starts a new transaction against db, logging a BEGIN record.
func (m *Manager) Begin(db string) (*Txn, error) {
	m.mu.Lock()
	id := m.nextTxnID
	m.nextTxnID++
	m.mu.Unlock()

	if _, err := m.wal.Append(dbtypes.LogRecord{TxnID: id, Type: dbtypes.LogBegin}); err != nil {
		return nil, err
	}

	txn := &Txn{ID: id, DB: db, State: dbtypes.TxnActive}
	m.mu.Lock()
	m.active[id] = txn
	m.mu.Unlock()
	return txn, nil
}

// RecordUndo appends lsn to txn's undo chain. Called by the DML layer
// immediately after it logs a write, so rollback can reach it.
func (txn *Txn) RecordUndo(lsn uint64) {
	txn.UndoChain = append(txn.UndoChain, lsn)
}

// TouchTable records that txn has written to table, so the dispatcher
// knows which tables' indexes need rebuilding once the transaction
// commits (index maintenance happens once after commit, not per write;
// a rollback is not followed by a rebuild).
func (txn *Txn) TouchTable(table string) {
	for _, t := range txn.TouchedTables {
		if t == table {
			return
		}
	}
	txn.TouchedTables = append(txn.TouchedTables, table)
}

// Commit flushes a COMMIT record before the caller may report success,
// releases every lock the transaction held, and retires it.
func (m *Manager) Commit(txn *Txn) error {
	if txn.State != dbtypes.TxnActive {
		return errs.New(errs.TxnState, "txn %d is not active", txn.ID)
	}
	if _, err := m.wal.Commit(txn.ID); err != nil {
		return err
	}
	txn.State = dbtypes.TxnCommitted
	m.finish(txn)
	return nil
}

// Rollback undoes every change the transaction made, in reverse LSN
// order, logs an ABORT record, releases its locks, and retires it.
func (m *Manager) Rollback(txn *Txn) error {
	if txn.State != dbtypes.TxnActive {
		return errs.New(errs.TxnState, "txn %d is not active", txn.ID)
	}
	if err := m.undoFrom(txn, 0); err != nil {
		return err
	}
	lsn, err := m.wal.Append(dbtypes.LogRecord{TxnID: txn.ID, Type: dbtypes.LogAbort})
	if err != nil {
		return err
	}
	if err := m.wal.Flush(lsn); err != nil {
		return err
	}
	txn.State = dbtypes.TxnAborted
	m.finish(txn)
	return nil
}

func (m *Manager) finish(txn *Txn) {
	m.locks.ReleaseAll(txn.ID)
	m.mu.Lock()
	delete(m.active, txn.ID)
	m.mu.Unlock()
}

// Savepoint marks the current position in txn's undo chain under name,
// replacing any earlier savepoint of the same name.
func (txn *Txn) Savepoint(name string) {
	for i, sp := range txn.Savepoints {
		if sp.Name == name {
			txn.Savepoints[i].UndoChainSize = len(txn.UndoChain)
			return
		}
	}
	txn.Savepoints = append(txn.Savepoints, dbtypes.Savepoint{Name: name, UndoChainSize: len(txn.UndoChain)})
}

// RollbackTo undoes every change made since name was established, then
// discards every savepoint established after it (name itself is kept),
// leaving the transaction active: ROLLBACK TO does not end the transaction.
func (m *Manager) RollbackTo(txn *Txn, name string) error {
	idx, sp := txn.findSavepoint(name)
	if idx < 0 {
		return errs.New(errs.NotFound, "savepoint %q not found", name)
	}
	if err := m.undoFrom(txn, sp.UndoChainSize); err != nil {
		return err
	}
	txn.UndoChain = txn.UndoChain[:sp.UndoChainSize]
	txn.Savepoints = txn.Savepoints[:idx+1]
	return nil
}

// ReleaseSavepoint discards name and every savepoint established after
// it, without undoing any work.
func (m *Manager) ReleaseSavepoint(txn *Txn, name string) error {
	idx, _ := txn.findSavepoint(name)
	if idx < 0 {
		return errs.New(errs.NotFound, "savepoint %q not found", name)
	}
	txn.Savepoints = txn.Savepoints[:idx]
	return nil
}

func (txn *Txn) findSavepoint(name string) (int, dbtypes.Savepoint) {
	for i := len(txn.Savepoints) - 1; i >= 0; i-- {
		if txn.Savepoints[i].Name == name {
			return i, txn.Savepoints[i]
		}
	}
	return -1, dbtypes.Savepoint{}
}

// undoFrom applies the before-image (or tombstone) of every undo-chain
// entry at index >= keepSize, walking backwards so later writes to the
// same row are undone before earlier ones.
func (m *Manager) undoFrom(txn *Txn, keepSize int) error {
	for i := len(txn.UndoChain) - 1; i >= keepSize; i-- {
		lsn := txn.UndoChain[i]
		rec, ok := m.wal.GetRecord(lsn)
		if !ok {
			return errs.New(errs.Corruption, "undo chain references missing WAL record %d", lsn)
		}
		if err := m.undoRecord(txn.DB, rec); err != nil {
			return err
		}
	}
	return nil
}

// undoRecord reverses a single logged write: an INSERT is undone by
// tombstoning the row it created, an UPDATE or DELETE by restoring the
// before-image it overwrote.
func (m *Manager) undoRecord(db string, rec dbtypes.LogRecord) error {
	switch rec.Type {
	case dbtypes.LogInsert:
		return storage.WriteRecordBytesAt(db, rec.RID.Offset, []byte{0})
	case dbtypes.LogUpdate, dbtypes.LogDelete:
		return storage.WriteRecordBytesAt(db, rec.RID.Offset, rec.Before)
	default:
		return nil
	}
}
