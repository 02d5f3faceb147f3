package txnmgr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relsql/internal/dbtypes"
	"relsql/internal/lockmgr"
	"relsql/internal/storage"
	"relsql/internal/txnmgr"
	"relsql/internal/wal"
)

func setupDataDir(t *testing.T) {
	t.Helper()
	t.Setenv(storage.DataDirEnv, t.TempDir())
}

func sampleSchema() dbtypes.TableSchema {
	return dbtypes.TableSchema{
		Name: "accounts",
		Fields: []dbtypes.Field{
			{Name: "id", Type: "INT", IsKey: true, Valid: true},
			{Name: "balance", Type: "INT", Valid: true},
		},
	}
}

func newManager(t *testing.T) (*txnmgr.Manager, *wal.Manager) {
	setupDataDir(t)
	require.NoError(t, storage.CreateDatabase("bank"))
	w := wal.New("bank")
	locks := lockmgr.New()
	return txnmgr.New(w, locks), w
}

func TestBeginCommitLifecycle(t *testing.T) {
	mgr, _ := newManager(t)

	txn, err := mgr.Begin("bank")
	require.NoError(t, err)
	assert.Equal(t, dbtypes.TxnActive, txn.State)

	require.NoError(t, mgr.Commit(txn))
	assert.Equal(t, dbtypes.TxnCommitted, txn.State)
}

func TestCommitRequiresActiveState(t *testing.T) {
	mgr, _ := newManager(t)

	txn, err := mgr.Begin("bank")
	require.NoError(t, err)
	require.NoError(t, mgr.Commit(txn))

	err = mgr.Commit(txn)
	require.Error(t, err)
}

func TestRollbackUndoesInsert(t *testing.T) {
	mgr, w := newManager(t)
	schema := sampleSchema()
	require.NoError(t, storage.AppendSchema("bank", schema))

	txn, err := mgr.Begin("bank")
	require.NoError(t, err)

	rid, err := storage.AppendRecord("bank", schema, dbtypes.Record{Valid: true, Values: []string{"1", "100"}})
	require.NoError(t, err)
	lsn, err := w.Append(dbtypes.LogRecord{TxnID: txn.ID, Type: dbtypes.LogInsert, RID: rid})
	require.NoError(t, err)
	txn.RecordUndo(lsn)

	require.NoError(t, mgr.Rollback(txn))
	assert.Equal(t, dbtypes.TxnAborted, txn.State)

	got, err := storage.ReadRecordAt("bank", schema, rid.Offset)
	require.NoError(t, err)
	assert.False(t, got.Valid)
}

func TestRollbackRestoresUpdatedValue(t *testing.T) {
	mgr, w := newManager(t)
	schema := sampleSchema()
	require.NoError(t, storage.AppendSchema("bank", schema))

	rid, err := storage.AppendRecord("bank", schema, dbtypes.Record{Valid: true, Values: []string{"1", "100"}})
	require.NoError(t, err)

	txn, err := mgr.Begin("bank")
	require.NoError(t, err)

	before, err := storage.ReadRecordBytesAt("bank", schema, rid.Offset)
	require.NoError(t, err)

	updated := dbtypes.Record{Valid: true, Values: []string{"1", "200"}}
	after, err := storage.SerializeRecord(schema, updated)
	require.NoError(t, err)
	require.NoError(t, storage.WriteRecordBytesAt("bank", rid.Offset, after))
	lsn, err := w.Append(dbtypes.LogRecord{TxnID: txn.ID, Type: dbtypes.LogUpdate, RID: rid, Before: before, After: after})
	require.NoError(t, err)
	txn.RecordUndo(lsn)

	require.NoError(t, mgr.Rollback(txn))

	got, err := storage.ReadRecordAt("bank", schema, rid.Offset)
	require.NoError(t, err)
	assert.Equal(t, "100", got.Values[1])
}

func TestSavepointRollbackTo(t *testing.T) {
	mgr, w := newManager(t)
	schema := sampleSchema()
	require.NoError(t, storage.AppendSchema("bank", schema))

	txn, err := mgr.Begin("bank")
	require.NoError(t, err)

	rid1, err := storage.AppendRecord("bank", schema, dbtypes.Record{Valid: true, Values: []string{"1", "100"}})
	require.NoError(t, err)
	lsn1, err := w.Append(dbtypes.LogRecord{TxnID: txn.ID, Type: dbtypes.LogInsert, RID: rid1})
	require.NoError(t, err)
	txn.RecordUndo(lsn1)

	txn.Savepoint("sp1")

	rid2, err := storage.AppendRecord("bank", schema, dbtypes.Record{Valid: true, Values: []string{"2", "200"}})
	require.NoError(t, err)
	lsn2, err := w.Append(dbtypes.LogRecord{TxnID: txn.ID, Type: dbtypes.LogInsert, RID: rid2})
	require.NoError(t, err)
	txn.RecordUndo(lsn2)

	require.NoError(t, mgr.RollbackTo(txn, "sp1"))

	rec1, err := storage.ReadRecordAt("bank", schema, rid1.Offset)
	require.NoError(t, err)
	assert.True(t, rec1.Valid)

	rec2, err := storage.ReadRecordAt("bank", schema, rid2.Offset)
	require.NoError(t, err)
	assert.False(t, rec2.Valid)

	require.NoError(t, mgr.Commit(txn))
}

func TestSeedTxnIDAffectsBegin(t *testing.T) {
	mgr, _ := newManager(t)
	mgr.SeedTxnID(500)

	txn, err := mgr.Begin("bank")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, txn.ID, uint64(500))
}
