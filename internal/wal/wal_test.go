package wal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relsql/internal/dbtypes"
	"relsql/internal/storage"
	"relsql/internal/wal"
)

func setupDataDir(t *testing.T) {
	t.Helper()
	t.Setenv(storage.DataDirEnv, t.TempDir())
}

func TestAppendAssignsMonotonicLSN(t *testing.T) {
	setupDataDir(t)
	m := wal.New("bank")

	lsn1, err := m.Append(dbtypes.LogRecord{TxnID: 1, Type: dbtypes.LogBegin})
	require.NoError(t, err)
	lsn2, err := m.Append(dbtypes.LogRecord{TxnID: 1, Type: dbtypes.LogInsert})
	require.NoError(t, err)

	assert.Less(t, lsn1, lsn2)
}

func TestFlushTracksFlushedLSN(t *testing.T) {
	setupDataDir(t)
	m := wal.New("bank")

	lsn, err := m.Append(dbtypes.LogRecord{TxnID: 1, Type: dbtypes.LogBegin})
	require.NoError(t, err)
	assert.Less(t, m.GetFlushedLSN(), lsn)

	require.NoError(t, m.Flush(lsn))
	assert.GreaterOrEqual(t, m.GetFlushedLSN(), lsn)
}

func TestCommitAppendsAndFlushes(t *testing.T) {
	setupDataDir(t)
	m := wal.New("bank")

	_, err := m.Append(dbtypes.LogRecord{TxnID: 7, Type: dbtypes.LogBegin})
	require.NoError(t, err)
	lsn, err := m.Commit(7)
	require.NoError(t, err)

	rec, ok := m.GetRecord(lsn)
	require.True(t, ok)
	assert.Equal(t, dbtypes.LogCommit, rec.Type)
	assert.GreaterOrEqual(t, m.GetFlushedLSN(), lsn)
}

func TestReadAllRoundTrip(t *testing.T) {
	setupDataDir(t)
	m := wal.New("bank")

	rid := dbtypes.RID{Table: "accounts", Offset: 42}
	_, err := m.Append(dbtypes.LogRecord{TxnID: 1, Type: dbtypes.LogBegin})
	require.NoError(t, err)
	_, err = m.Append(dbtypes.LogRecord{TxnID: 1, Type: dbtypes.LogInsert, RID: rid, After: []byte("payload")})
	require.NoError(t, err)
	_, err = m.Commit(1)
	require.NoError(t, err)

	m2 := wal.New("bank")
	records, err := m2.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, dbtypes.LogBegin, records[0].Type)
	assert.Equal(t, dbtypes.LogInsert, records[1].Type)
	assert.Equal(t, rid, records[1].RID)
	assert.Equal(t, []byte("payload"), records[1].After)
	assert.Equal(t, dbtypes.LogCommit, records[2].Type)
}

func TestReadAllMissingFileReturnsEmpty(t *testing.T) {
	setupDataDir(t)
	m := wal.New("ghost")
	records, err := m.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSetNextLSNSeedsCounter(t *testing.T) {
	setupDataDir(t)
	m := wal.New("bank")
	m.SetNextLSN(100)

	lsn, err := m.Append(dbtypes.LogRecord{TxnID: 1, Type: dbtypes.LogBegin})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), lsn)
}

func TestTruncateWithBackupClearsLog(t *testing.T) {
	setupDataDir(t)
	m := wal.New("bank")
	_, err := m.Append(dbtypes.LogRecord{TxnID: 1, Type: dbtypes.LogBegin})
	require.NoError(t, err)

	require.NoError(t, m.TruncateWithBackup())

	records, err := m.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, records)
}
