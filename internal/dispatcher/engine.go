// Package dispatcher ties every other package together into the single
// entry point a caller (the CLI, or an HTTP handler outside this core)
// actually calls: parse SQL, route it to DDL/DML/query, and manage
// transaction lifecycle around it, switching on command kind once per
// request.
package dispatcher

import (
	"log"
	"sync"

	"relsql/internal/catalog"
	"relsql/internal/ddl"
	"relsql/internal/errs"
	"relsql/internal/lockmgr"
	"relsql/internal/query"
	"relsql/internal/recovery"
	"relsql/internal/storage"
	"relsql/internal/txnmgr"
	"relsql/internal/wal"
)

// database bundles one open database's working state: its schema cache,
// WAL, lock table, transaction manager, and query executor.
type database struct {
	name  string
	cat   *catalog.Catalog
	wal   *wal.Manager
	locks *lockmgr.Manager
	txns  *txnmgr.Manager
	query *query.Executor
}

// Engine holds every open database, opened lazily on first USE/CREATE
// DATABASE and recovered once at startup from whatever the WAL has on
// disk: recovery walks the WAL and brings the heap to a consistent
// state before anything else runs.
type Engine struct {
	mu sync.Mutex
	db map[string]*database
}

// NewEngine runs crash recovery over every database under the data root
// and returns an Engine with each one ready to serve statements.
func NewEngine() (*Engine, error) {
	mgrs, results, err := recovery.RecoverAll()
	if err != nil {
		return nil, err
	}
	e := &Engine{db: make(map[string]*database)}
	for _, r := range results {
		w := mgrs[r.DB]
		d, err := e.open(r.DB, w)
		if err != nil {
			return nil, err
		}
		d.txns.SeedTxnID(r.MaxTxnID)
		e.db[r.DB] = d
		log.Printf("recovery: db=%s redo=%d undo=%d committed=%d rolledback=%d maxLSN=%d",
			r.DB, r.RedoCount, r.UndoCount, r.CommittedCount, r.RolledBackCount, r.MaxLSN)
	}
	return e, nil
}

func (e *Engine) open(name string, w *wal.Manager) (*database, error) {
	cat, err := catalog.New(name)
	if err != nil {
		return nil, err
	}
	locks := lockmgr.New()
	txns := txnmgr.New(w, locks)
	d := &database{
		name:  name,
		cat:   cat,
		wal:   w,
		locks: locks,
		txns:  txns,
		query: query.New(cat, locks),
	}
	return d, nil
}

// getOrOpen returns an already-open database. Every database that
// existed on disk at startup is already open (NewEngine recovers all of
// them up front); this path only fires for one created or restored
// since, so it runs its own recovery pass first in case the directory's
// WAL has an unclean tail (a crash-time backup, for instance).
func (e *Engine) getOrOpen(name string) (*database, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.db[name]; ok {
		return d, nil
	}
	if !storage.DatabaseExists(name) {
		return nil, dbNotFound(name)
	}
	w := wal.New(name)
	res, err := recovery.Recover(name, w)
	if err != nil {
		return nil, err
	}
	d, err := e.open(name, w)
	if err != nil {
		return nil, err
	}
	d.txns.SeedTxnID(res.MaxTxnID)
	e.db[name] = d
	return d, nil
}

func (e *Engine) forget(name string) {
	e.mu.Lock()
	delete(e.db, name)
	e.mu.Unlock()
}

// rebuildTouched runs DDL's index maintenance over every table a
// transaction wrote to, once it has committed. This is the dispatcher's
// post-commit responsibility: using TouchedTables, call RebuildIndexes
// for each. A rolled-back transaction is not followed by a rebuild.
func rebuildTouched(d *database, txn *txnmgr.Txn) error {
	for _, table := range txn.TouchedTables {
		if err := ddl.RebuildIndexes(d.cat, table); err != nil {
			return err
		}
	}
	return nil
}

func dbNotFound(name string) error {
	return errs.New(errs.NotFound, "database %q not found", name)
}
