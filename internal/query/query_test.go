package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relsql/internal/catalog"
	"relsql/internal/dbtypes"
	"relsql/internal/lockmgr"
	"relsql/internal/query"
	"relsql/internal/storage"
	"relsql/internal/txnmgr"
	"relsql/internal/wal"
)

func setup(t *testing.T) (*catalog.Catalog, *query.Executor, *txnmgr.Txn) {
	t.Helper()
	t.Setenv(storage.DataDirEnv, t.TempDir())
	require.NoError(t, storage.CreateDatabase("bank"))
	cat, err := catalog.New("bank")
	require.NoError(t, err)
	locks := lockmgr.New()
	w := wal.New("bank")
	txns := txnmgr.New(w, locks)
	txn, err := txns.Begin("bank")
	require.NoError(t, err)
	return cat, query.New(cat, locks), txn
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

func seedAccounts(t *testing.T, schema dbtypes.TableSchema) {
	t.Helper()
	require.NoError(t, storage.AppendSchema("bank", schema))
	rows := [][]string{
		{"1", "Alice", "100"},
		{"2", "Bob", "50"},
		{"3", "Carol", "200"},
	}
	for _, v := range rows {
		_, err := storage.AppendRecord("bank", schema, dbtypes.Record{Valid: true, Values: v})
		require.NoError(t, err)
	}
}

func TestSelectFiltersByWhere(t *testing.T) {
	cat, exec, txn := setup(t)
	schema := accountsSchema()
	seedAccounts(t, schema)
	require.NoError(t, cat.Rebuild())

	plan := &dbtypes.QueryPlan{
		FromTable:   "accounts",
		SelectExprs: []dbtypes.SelectExpr{{Field: "*"}},
		Where:       []dbtypes.Condition{{Field: "balance", Op: dbtypes.OpGt, Value: "75"}},
	}
	rows, _, err := exec.Select(txn, plan)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestSelectProjectsNamedColumns(t *testing.T) {
	cat, exec, txn := setup(t)
	schema := accountsSchema()
	seedAccounts(t, schema)
	require.NoError(t, cat.Rebuild())

	plan := &dbtypes.QueryPlan{
		FromTable:   "accounts",
		SelectExprs: []dbtypes.SelectExpr{{Field: "name"}},
		Where:       []dbtypes.Condition{{Field: "id", Op: dbtypes.OpEq, Value: "2"}},
	}
	rows, outSchema, err := exec.Select(txn, plan)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Len(t, outSchema.Fields, 1)
	assert.Equal(t, "name", outSchema.Fields[0].Name)
	assert.Equal(t, "Bob", rows[0].Values[0])
}

func TestSelectOrderByAndLimit(t *testing.T) {
	cat, exec, txn := setup(t)
	schema := accountsSchema()
	seedAccounts(t, schema)
	require.NoError(t, cat.Rebuild())

	plan := &dbtypes.QueryPlan{
		FromTable:   "accounts",
		SelectExprs: []dbtypes.SelectExpr{{Field: "name"}},
		OrderBy:     []dbtypes.OrderKey{{Field: "balance", Ascending: false}},
		Limit:       1,
		HasLimit:    true,
	}
	rows, _, err := exec.Select(txn, plan)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Carol", rows[0].Values[0])
}

func TestSelectInnerJoin(t *testing.T) {
	cat, exec, txn := setup(t)
	accounts := accountsSchema()
	seedAccounts(t, accounts)

	transfers := dbtypes.TableSchema{
		Name: "transfers",
		Fields: []dbtypes.Field{
			{Name: "id", Type: "INT", IsKey: true, Valid: true},
			{Name: "account_id", Type: "INT", Valid: true},
		},
	}
	require.NoError(t, storage.AppendSchema("bank", transfers))
	_, err := storage.AppendRecord("bank", transfers, dbtypes.Record{Valid: true, Values: []string{"100", "1"}})
	require.NoError(t, err)
	require.NoError(t, cat.Rebuild())

	plan := &dbtypes.QueryPlan{
		FromTable:   "accounts",
		SelectExprs: []dbtypes.SelectExpr{{Field: "accounts.name"}, {Field: "transfers.id"}},
		Join: &dbtypes.JoinSpec{
			Type:      dbtypes.JoinInner,
			RightFrom: "transfers",
			LeftOn:    "accounts.id",
			RightOn:   "transfers.account_id",
		},
	}
	rows, _, err := exec.Select(txn, plan)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alice", rows[0].Values[0])
	assert.Equal(t, "100", rows[0].Values[1])
}

func TestSelectAggregateCount(t *testing.T) {
	cat, exec, txn := setup(t)
	schema := accountsSchema()
	seedAccounts(t, schema)
	require.NoError(t, cat.Rebuild())

	plan := &dbtypes.QueryPlan{
		FromTable: "accounts",
		SelectExprs: []dbtypes.SelectExpr{
			{IsAggregate: true, Agg: dbtypes.AggCount, Field: "*", Alias: "cnt"},
		},
	}
	rows, _, err := exec.Select(txn, plan)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "3", rows[0].Values[0])
}

func TestSelectSkipsTombstonedRows(t *testing.T) {
	cat, exec, txn := setup(t)
	schema := accountsSchema()
	seedAccounts(t, schema)
	require.NoError(t, cat.Rebuild())

	rows, err := storage.ReadRecordsWithOffsets("bank", schema)
	require.NoError(t, err)
	require.NoError(t, storage.WriteRecordBytesAt("bank", rows[0].RID.Offset, []byte{0}))

	plan := &dbtypes.QueryPlan{
		FromTable:   "accounts",
		SelectExprs: []dbtypes.SelectExpr{{Field: "*"}},
	}
	out, _, err := exec.Select(txn, plan)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}
