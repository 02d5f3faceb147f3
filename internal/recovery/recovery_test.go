package recovery_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relsql/internal/dbtypes"
	"relsql/internal/recovery"
	"relsql/internal/storage"
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

// TestRecoverReplaysCommittedAndDiscardsActive exercises the two crash
// scenarios a restart must resolve: a committed transaction's writes come
// back even if the heap file itself was never flushed before the crash,
// and a transaction that never logged COMMIT or ABORT is rolled back.
func TestRecoverReplaysCommittedAndDiscardsActive(t *testing.T) {
	setupDataDir(t)
	require.NoError(t, storage.CreateDatabase("bank"))
	schema := sampleSchema()
	require.NoError(t, storage.AppendSchema("bank", schema))

	m := wal.New("bank")

	_, err := m.Append(dbtypes.LogRecord{TxnID: 1, Type: dbtypes.LogBegin})
	require.NoError(t, err)
	predicted, err := storage.ComputeAppendRecordOffset("bank", "accounts")
	require.NoError(t, err)
	committedRID := dbtypes.RID{Table: "accounts", Offset: predicted}
	committedRec := dbtypes.Record{Valid: true, Values: []string{"1", "100"}}
	committedBytes, err := storage.SerializeRecord(schema, committedRec)
	require.NoError(t, err)
	_, err = m.Append(dbtypes.LogRecord{TxnID: 1, Type: dbtypes.LogInsert, RID: committedRID, After: committedBytes})
	require.NoError(t, err)
	_, err = m.Commit(1)
	require.NoError(t, err)

	_, err = m.Append(dbtypes.LogRecord{TxnID: 2, Type: dbtypes.LogBegin})
	require.NoError(t, err)
	looserRID := dbtypes.RID{Table: "accounts", Offset: committedRID.Offset + 1000}
	looserRec := dbtypes.Record{Valid: true, Values: []string{"2", "50"}}
	looserBytes, err := storage.SerializeRecord(schema, looserRec)
	require.NoError(t, err)
	_, err = m.Append(dbtypes.LogRecord{TxnID: 2, Type: dbtypes.LogInsert, RID: looserRID, After: looserBytes, Before: []byte{0}})
	require.NoError(t, err)

	fresh := wal.New("bank")
	res, err := recovery.Recover("bank", fresh)
	require.NoError(t, err)

	assert.Equal(t, 1, res.CommittedCount)
	assert.Equal(t, 1, res.RolledBackCount)
	assert.GreaterOrEqual(t, res.RedoCount, 1)
}

// TestRecoverReappliesTombstoneOnCommittedDelete exercises a crash between
// a committed DELETE's WAL append and the tombstone write reaching the
// live heap file: the live row is still on disk when recovery runs, so
// redo must rewrite it to the tombstoned bytes rather than treat a nil
// After as a no-op.
func TestRecoverReappliesTombstoneOnCommittedDelete(t *testing.T) {
	setupDataDir(t)
	require.NoError(t, storage.CreateDatabase("bank"))
	schema := sampleSchema()
	require.NoError(t, storage.AppendSchema("bank", schema))

	rec := dbtypes.Record{Valid: true, Values: []string{"1", "100"}}
	rid, err := storage.AppendRecord("bank", schema, rec)
	require.NoError(t, err)

	before, err := storage.SerializeRecord(schema, rec)
	require.NoError(t, err)
	after := append([]byte{}, before...)
	after[0] = 0

	m := wal.New("bank")
	_, err = m.Append(dbtypes.LogRecord{TxnID: 1, Type: dbtypes.LogBegin})
	require.NoError(t, err)
	_, err = m.Append(dbtypes.LogRecord{TxnID: 1, Type: dbtypes.LogDelete, RID: rid, Before: before, After: after})
	require.NoError(t, err)
	_, err = m.Commit(1)
	require.NoError(t, err)

	fresh := wal.New("bank")
	res, err := recovery.Recover("bank", fresh)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CommittedCount)

	rows, err := storage.ReadRecords("bank", schema)
	require.NoError(t, err)
	for _, r := range rows {
		assert.False(t, r.Valid, "row should have been tombstoned by redo")
	}
}

func TestRecoverSkipsEmptyLog(t *testing.T) {
	setupDataDir(t)
	require.NoError(t, storage.CreateDatabase("bank"))

	m := wal.New("bank")
	res, err := recovery.Recover("bank", m)
	require.NoError(t, err)
	assert.Equal(t, recovery.Result{DB: "bank"}, res)
}
