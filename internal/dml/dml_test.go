package dml_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relsql/internal/catalog"
	"relsql/internal/dbtypes"
	"relsql/internal/dml"
	"relsql/internal/errs"
	"relsql/internal/lockmgr"
	"relsql/internal/sqlparser"
	"relsql/internal/storage"
	"relsql/internal/txnmgr"
	"relsql/internal/wal"
)

type fixture struct {
	w     *wal.Manager
	locks *lockmgr.Manager
	cat   *catalog.Catalog
	txns  *txnmgr.Manager
}

func setup(t *testing.T) *fixture {
	t.Helper()
	t.Setenv(storage.DataDirEnv, t.TempDir())
	require.NoError(t, storage.CreateDatabase("bank"))

	w := wal.New("bank")
	locks := lockmgr.New()
	cat, err := catalog.New("bank")
	require.NoError(t, err)
	return &fixture{w: w, locks: locks, cat: cat, txns: txnmgr.New(w, locks)}
}

func accountsSchema() dbtypes.TableSchema {
	return dbtypes.TableSchema{
		Name: "accounts",
		Fields: []dbtypes.Field{
			{Name: "id", Type: "INT", IsKey: true, Valid: true},
			{Name: "name", Type: "VARCHAR", Valid: true},
			{Name: "balance", Type: "INT", Valid: true},
		},
	}
}

func beginTxn(t *testing.T, f *fixture) *txnmgr.Txn {
	t.Helper()
	txn, err := f.txns.Begin("bank")
	require.NoError(t, err)
	return txn
}

func TestInsertEnforcesPrimaryKeyUniqueness(t *testing.T) {
	f := setup(t)
	schema := accountsSchema()
	require.NoError(t, storage.AppendSchema("bank", schema))
	require.NoError(t, f.cat.Rebuild())

	txn := beginTxn(t, f)
	require.NoError(t, dml.Insert(f.w, f.locks, f.cat, txn, schema, []dbtypes.Record{
		{Valid: true, Values: []string{"1", "Alice", "100"}},
	}))
	require.NoError(t, f.txns.Commit(txn))

	txn2 := beginTxn(t, f)
	err := dml.Insert(f.w, f.locks, f.cat, txn2, schema, []dbtypes.Record{
		{Valid: true, Values: []string{"1", "Bob", "50"}},
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Conflict))
	require.NoError(t, f.txns.Rollback(txn2))
}

func TestUpdateRewritesMatchingRows(t *testing.T) {
	f := setup(t)
	schema := accountsSchema()
	require.NoError(t, storage.AppendSchema("bank", schema))
	require.NoError(t, f.cat.Rebuild())

	txn := beginTxn(t, f)
	require.NoError(t, dml.Insert(f.w, f.locks, f.cat, txn, schema, []dbtypes.Record{
		{Valid: true, Values: []string{"1", "Alice", "100"}},
	}))
	require.NoError(t, f.txns.Commit(txn))

	txn2 := beginTxn(t, f)
	where := []dbtypes.Condition{{Field: "id", Op: dbtypes.OpEq, Value: "1"}}
	n, err := dml.Update(f.w, f.locks, f.cat, txn2, schema, where, []sqlparser.Assignment{{Column: "balance", Value: "500"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, f.txns.Commit(txn2))

	rows, err := storage.ReadRecords("bank", schema)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "500", rows[0].Values[2])
}

func TestDeleteTombstonesMatchingRows(t *testing.T) {
	f := setup(t)
	schema := accountsSchema()
	require.NoError(t, storage.AppendSchema("bank", schema))
	require.NoError(t, f.cat.Rebuild())

	txn := beginTxn(t, f)
	require.NoError(t, dml.Insert(f.w, f.locks, f.cat, txn, schema, []dbtypes.Record{
		{Valid: true, Values: []string{"1", "Alice", "100"}},
		{Valid: true, Values: []string{"2", "Bob", "50"}},
	}))
	require.NoError(t, f.txns.Commit(txn))

	txn2 := beginTxn(t, f)
	where := []dbtypes.Condition{{Field: "id", Op: dbtypes.OpEq, Value: "1"}}
	n, err := dml.Delete(f.w, f.locks, f.cat, txn2, schema, where, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, f.txns.Commit(txn2))

	rows, err := storage.ReadRecords("bank", schema)
	require.NoError(t, err)
	live := 0
	for _, r := range rows {
		if r.Valid {
			live++
		}
	}
	assert.Equal(t, 1, live)
}

func TestDeleteRestrictedByForeignKey(t *testing.T) {
	f := setup(t)
	parent := accountsSchema()
	child := dbtypes.TableSchema{
		Name: "transfers",
		Fields: []dbtypes.Field{
			{Name: "id", Type: "INT", IsKey: true, Valid: true},
			{Name: "account_id", Type: "INT", Valid: true},
		},
		ForeignKeys: []dbtypes.ForeignKeyDef{
			{Name: "fk_account", Columns: []string{"account_id"}, RefTable: "accounts", RefColumns: []string{"id"}, OnDelete: dbtypes.Restrict},
		},
	}
	require.NoError(t, storage.AppendSchema("bank", parent))
	require.NoError(t, storage.AppendSchema("bank", child))
	require.NoError(t, f.cat.Rebuild())

	txn := beginTxn(t, f)
	require.NoError(t, dml.Insert(f.w, f.locks, f.cat, txn, parent, []dbtypes.Record{
		{Valid: true, Values: []string{"1", "Alice", "100"}},
	}))
	require.NoError(t, dml.Insert(f.w, f.locks, f.cat, txn, child, []dbtypes.Record{
		{Valid: true, Values: []string{"10", "1"}},
	}))
	require.NoError(t, f.txns.Commit(txn))

	txn2 := beginTxn(t, f)
	where := []dbtypes.Condition{{Field: "id", Op: dbtypes.OpEq, Value: "1"}}
	_, err := dml.Delete(f.w, f.locks, f.cat, txn2, parent, where, nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Conflict))
	require.NoError(t, f.txns.Rollback(txn2))
}

func viewSchema() dbtypes.TableSchema {
	return dbtypes.TableSchema{
		Name:    "active_accounts",
		IsView:  true,
		ViewSQL: "SELECT * FROM accounts",
		Fields: []dbtypes.Field{
			{Name: "id", Type: "INT", Valid: true},
			{Name: "name", Type: "VARCHAR", Valid: true},
			{Name: "balance", Type: "INT", Valid: true},
		},
	}
}

func TestInsertUpdateDeleteRejectViews(t *testing.T) {
	f := setup(t)
	view := viewSchema()
	require.NoError(t, storage.AppendSchema("bank", view))
	require.NoError(t, f.cat.Rebuild())

	txn := beginTxn(t, f)
	err := dml.Insert(f.w, f.locks, f.cat, txn, view, []dbtypes.Record{
		{Valid: true, Values: []string{"1", "Alice", "100"}},
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotSupported))

	where := []dbtypes.Condition{{Field: "id", Op: dbtypes.OpEq, Value: "1"}}
	_, err = dml.Update(f.w, f.locks, f.cat, txn, view, where, []sqlparser.Assignment{{Column: "balance", Value: "500"}})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotSupported))

	_, err = dml.Delete(f.w, f.locks, f.cat, txn, view, where, nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotSupported))
	require.NoError(t, f.txns.Rollback(txn))

	rows, err := storage.ReadRecords("bank", view)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestInsertRejectsUnknownForeignKeyReference(t *testing.T) {
	f := setup(t)
	parent := accountsSchema()
	child := dbtypes.TableSchema{
		Name: "transfers",
		Fields: []dbtypes.Field{
			{Name: "id", Type: "INT", IsKey: true, Valid: true},
			{Name: "account_id", Type: "INT", Valid: true},
		},
		ForeignKeys: []dbtypes.ForeignKeyDef{
			{Name: "fk_account", Columns: []string{"account_id"}, RefTable: "accounts", RefColumns: []string{"id"}, OnDelete: dbtypes.Restrict},
		},
	}
	require.NoError(t, storage.AppendSchema("bank", parent))
	require.NoError(t, storage.AppendSchema("bank", child))
	require.NoError(t, f.cat.Rebuild())

	txn := beginTxn(t, f)
	err := dml.Insert(f.w, f.locks, f.cat, txn, child, []dbtypes.Record{
		{Valid: true, Values: []string{"10", "999"}},
	})
	require.Error(t, err)
	require.NoError(t, f.txns.Rollback(txn))
}
