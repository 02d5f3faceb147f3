// Package recovery implements ARIES-style restart recovery over the
// WAL, run once per database when the engine starts: redo every
// committed transaction's writes in LSN order, then undo every
// transaction that was still active (no COMMIT or ABORT record) at the
// time of the crash, in reverse LSN order.
package recovery

import (
	"relsql/internal/dbtypes"
	"relsql/internal/errs"
	"relsql/internal/storage"
	"relsql/internal/wal"
)

// Result summarizes one database's recovery pass.
type Result struct {
	DB              string
	MaxLSN          uint64
	MaxTxnID        uint64
	RedoCount       int
	UndoCount       int
	CommittedCount  int
	RolledBackCount int
}

// RecoverAll walks every database under the data root and replays its
// WAL, returning the opened (and now recovered) wal.Manager for each so
// the caller can hand them to txnmgr/lockmgr without reopening.
func RecoverAll() (map[string]*wal.Manager, []Result, error) {
	dbs, err := storage.ListDatabases()
	if err != nil {
		return nil, nil, err
	}
	mgrs := make(map[string]*wal.Manager, len(dbs))
	var results []Result
	for _, db := range dbs {
		m := wal.New(db)
		res, err := Recover(db, m)
		if err != nil {
			return nil, nil, err
		}
		mgrs[db] = m
		results = append(results, res)
	}
	return mgrs, results, nil
}

// Recover replays db's WAL against m, which must already be empty (as
// returned by wal.New). On return, m's LSN counter and record cache are
// seeded from the replayed log.
func Recover(db string, m *wal.Manager) (Result, error) {
	records, err := m.ReadAll()
	if err != nil {
		return Result{}, err
	}
	res := Result{DB: db}
	if len(records) == 0 {
		return res, nil
	}

	minLSN, maxLSN, maxTxnID := uint64(0), uint64(0), uint64(0)
	for _, rec := range records {
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
		if rec.TxnID > maxTxnID {
			maxTxnID = rec.TxnID
		}
		if rec.Type == dbtypes.LogCheckpoint {
			meta, err := wal.DecodeCheckpoint(rec.After)
			if err == nil && meta.CheckpointLSN > minLSN {
				minLSN = meta.CheckpointLSN
			}
		}
	}
	res.MaxLSN = maxLSN
	res.MaxTxnID = maxTxnID
	m.SetNextLSN(maxLSN + 1)

	committed := map[uint64]bool{}
	aborted := map[uint64]bool{}
	for _, rec := range records {
		switch rec.Type {
		case dbtypes.LogCommit:
			committed[rec.TxnID] = true
		case dbtypes.LogAbort:
			aborted[rec.TxnID] = true
		}
	}
	res.CommittedCount = len(committed)

	schemaCache := map[string]dbtypes.TableSchema{}
	lookupSchema := func(table string) (dbtypes.TableSchema, error) {
		if s, ok := schemaCache[table]; ok {
			return s, nil
		}
		s, err := storage.LoadSchema(db, table)
		if err != nil {
			return dbtypes.TableSchema{}, err
		}
		schemaCache[table] = s
		return s, nil
	}

	// REDO: replay every write of a committed transaction, in LSN order,
	// skipping anything already covered by the last checkpoint.
	for _, rec := range records {
		if rec.LSN <= minLSN {
			continue
		}
		if !committed[rec.TxnID] {
			continue
		}
		switch rec.Type {
		case dbtypes.LogInsert, dbtypes.LogUpdate, dbtypes.LogDelete:
			if err := redoRecord(db, lookupSchema, rec); err != nil {
				return res, err
			}
			res.RedoCount++
		}
	}

	// UNDO: any transaction with neither a COMMIT nor an ABORT record is a
	// loser of the crash and must be rolled back; an ABORT record means a
	// prior run already rolled it back (rollback logs ABORT only after
	// undoing, so its writes need no further treatment here).
	loserWrites := map[uint64][]dbtypes.LogRecord{}
	for _, rec := range records {
		switch rec.Type {
		case dbtypes.LogInsert, dbtypes.LogUpdate, dbtypes.LogDelete:
			if !committed[rec.TxnID] && !aborted[rec.TxnID] {
				loserWrites[rec.TxnID] = append(loserWrites[rec.TxnID], rec)
			}
		}
	}
	for txnID, writes := range loserWrites {
		for i := len(writes) - 1; i >= 0; i-- {
			if err := undoRecord(db, writes[i]); err != nil {
				return res, err
			}
			res.UndoCount++
		}
		res.RolledBackCount++
		_ = txnID
	}

	return res, nil
}

func redoRecord(db string, lookupSchema func(string) (dbtypes.TableSchema, error), rec dbtypes.LogRecord) error {
	switch rec.Type {
	case dbtypes.LogInsert:
		size, err := storage.HeapFileSize(db)
		if err != nil {
			return err
		}
		if size > rec.RID.Offset {
			// Block already on disk; redo is a no-op write of the same bytes.
			return storage.WriteRecordBytesAt(db, rec.RID.Offset, rec.After)
		}
		schema, err := lookupSchema(rec.RID.Table)
		if err != nil {
			return err
		}
		return storage.WriteInsertBlockAt(db, schema, rec.RID.Offset, rec.After)
	case dbtypes.LogUpdate, dbtypes.LogDelete:
		return storage.WriteRecordBytesAt(db, rec.RID.Offset, rec.After)
	default:
		return nil
	}
}

// undoRecord mirrors txnmgr's undo logic; duplicated rather than shared
// because recovery has no live Txn to attach to and runs before any
// Manager exists.
func undoRecord(db string, rec dbtypes.LogRecord) error {
	switch rec.Type {
	case dbtypes.LogInsert:
		return storage.WriteRecordBytesAt(db, rec.RID.Offset, []byte{0})
	case dbtypes.LogUpdate, dbtypes.LogDelete:
		return storage.WriteRecordBytesAt(db, rec.RID.Offset, rec.Before)
	default:
		return errs.New(errs.Corruption, "cannot undo record of type %s", rec.Type)
	}
}
