package backup_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relsql/internal/backup"
	"relsql/internal/dbtypes"
	"relsql/internal/storage"
)

func setup(t *testing.T) {
	t.Helper()
	t.Setenv(storage.DataDirEnv, t.TempDir())
	require.NoError(t, storage.CreateDatabase("bank"))
}

func accountsSchema() dbtypes.TableSchema {
	return dbtypes.TableSchema{
		Name: "accounts",
		Fields: []dbtypes.Field{
			{Name: "id", Type: "INT", IsKey: true, Valid: true},
			{Name: "name", Type: "VARCHAR", Valid: true},
		},
	}
}

func TestCreateRejectsMissingDatabase(t *testing.T) {
	setup(t)
	_, err := backup.Create("nope", "snap1")
	require.Error(t, err)
}

func TestCreateAndListRoundTrip(t *testing.T) {
	setup(t)
	schema := accountsSchema()
	require.NoError(t, storage.AppendSchema("bank", schema))
	_, err := storage.AppendRecord("bank", schema, dbtypes.Record{Valid: true, Values: []string{"1", "Alice"}})
	require.NoError(t, err)

	dst, err := backup.Create("bank", "snap1")
	require.NoError(t, err)
	_, err = os.Stat(dst)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dst, "bank.dbf"))
	require.NoError(t, err)

	names, err := backup.List("bank")
	require.NoError(t, err)
	assert.Contains(t, names, "snap1")
}

func TestCreateRejectsDuplicateBackupName(t *testing.T) {
	setup(t)
	require.NoError(t, storage.AppendSchema("bank", accountsSchema()))

	_, err := backup.Create("bank", "snap1")
	require.NoError(t, err)

	_, err = backup.Create("bank", "snap1")
	require.Error(t, err)
}

func TestRestoreReplacesLiveDatabase(t *testing.T) {
	setup(t)
	schema := accountsSchema()
	require.NoError(t, storage.AppendSchema("bank", schema))
	_, err := storage.AppendRecord("bank", schema, dbtypes.Record{Valid: true, Values: []string{"1", "Alice"}})
	require.NoError(t, err)

	_, err = backup.Create("bank", "snap1")
	require.NoError(t, err)

	_, err = storage.AppendRecord("bank", schema, dbtypes.Record{Valid: true, Values: []string{"2", "Bob"}})
	require.NoError(t, err)

	rows, err := storage.ReadRecords("bank", schema)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, backup.Restore("bank", "snap1"))

	rows, err = storage.ReadRecords("bank", schema)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alice", rows[0].Values[1])
}

func TestRestoreMissingBackupReturnsError(t *testing.T) {
	setup(t)
	err := backup.Restore("bank", "missing")
	require.Error(t, err)
}

func TestListEmptyWhenNoBackupsExist(t *testing.T) {
	setup(t)
	names, err := backup.List("bank")
	require.NoError(t, err)
	assert.Empty(t, names)
}
