package ddl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relsql/internal/catalog"
	"relsql/internal/ddl"
	"relsql/internal/dbtypes"
	"relsql/internal/errs"
	"relsql/internal/storage"
)

func setup(t *testing.T) *catalog.Catalog {
	t.Helper()
	t.Setenv(storage.DataDirEnv, t.TempDir())
	require.NoError(t, storage.CreateDatabase("bank"))
	cat, err := catalog.New("bank")
	require.NoError(t, err)
	return cat
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

func TestCreateTableAddsPrimaryIndex(t *testing.T) {
	cat := setup(t)
	require.NoError(t, ddl.CreateTable(cat, accountsSchema()))

	schema, err := cat.Get("accounts")
	require.NoError(t, err)
	require.Len(t, schema.Indexes, 1)
	assert.Equal(t, "PRIMARY", schema.Indexes[0].Name)
	assert.True(t, schema.Indexes[0].IsUnique)
}

func TestCreateTableRejectsDuplicateName(t *testing.T) {
	cat := setup(t)
	require.NoError(t, ddl.CreateTable(cat, accountsSchema()))

	err := ddl.CreateTable(cat, accountsSchema())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AlreadyExists))
}

func TestCreateIndexRejectsDuplicateValues(t *testing.T) {
	cat := setup(t)
	schema := accountsSchema()
	require.NoError(t, ddl.CreateTable(cat, schema))

	_, err := storage.AppendRecord("bank", schema, dbtypes.Record{Valid: true, Values: []string{"1", "Alice"}})
	require.NoError(t, err)
	_, err = storage.AppendRecord("bank", schema, dbtypes.Record{Valid: true, Values: []string{"2", "Alice"}})
	require.NoError(t, err)

	err = ddl.CreateIndex(cat, "accounts", "name", "idx_name", true)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Conflict))
}

func TestCreateIndexAndRebuild(t *testing.T) {
	cat := setup(t)
	schema := accountsSchema()
	require.NoError(t, ddl.CreateTable(cat, schema))

	_, err := storage.AppendRecord("bank", schema, dbtypes.Record{Valid: true, Values: []string{"1", "Alice"}})
	require.NoError(t, err)

	require.NoError(t, ddl.CreateIndex(cat, "accounts", "name", "idx_name", false))
	idx, err := storage.LoadIndex("bank", "accounts", "idx_name")
	require.NoError(t, err)
	assert.Len(t, idx, 1)

	require.NoError(t, ddl.DropIndex(cat, "accounts", "idx_name"))
	_, err = storage.LoadIndex("bank", "accounts", "idx_name")
	require.NoError(t, err)
}

func TestRenameTablePreservesData(t *testing.T) {
	cat := setup(t)
	schema := accountsSchema()
	require.NoError(t, ddl.CreateTable(cat, schema))
	_, err := storage.AppendRecord("bank", schema, dbtypes.Record{Valid: true, Values: []string{"1", "Alice"}})
	require.NoError(t, err)

	require.NoError(t, ddl.RenameTable(cat, "accounts", "customers"))

	_, err = cat.Get("accounts")
	require.Error(t, err)

	renamed, err := cat.Get("customers")
	require.NoError(t, err)

	rows, err := storage.ReadRecords("bank", renamed)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alice", rows[0].Values[1])
}

func TestDropTableRestrictedByForeignKey(t *testing.T) {
	cat := setup(t)
	require.NoError(t, ddl.CreateTable(cat, accountsSchema()))

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
	require.NoError(t, ddl.CreateTable(cat, child))

	err := ddl.DropTable(cat, "accounts", dbtypes.Restrict)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Conflict))
}

func TestDropTableCascadesToReferencingRows(t *testing.T) {
	cat := setup(t)
	require.NoError(t, ddl.CreateTable(cat, accountsSchema()))

	child := dbtypes.TableSchema{
		Name: "transfers",
		Fields: []dbtypes.Field{
			{Name: "id", Type: "INT", IsKey: true, Valid: true},
			{Name: "account_id", Type: "INT", Valid: true},
		},
		ForeignKeys: []dbtypes.ForeignKeyDef{
			{Name: "fk_account", Columns: []string{"account_id"}, RefTable: "accounts", RefColumns: []string{"id"}, OnDelete: dbtypes.Cascade},
		},
	}
	require.NoError(t, ddl.CreateTable(cat, child))

	_, err := storage.AppendRecord("bank", child, dbtypes.Record{Valid: true, Values: []string{"10", "1"}})
	require.NoError(t, err)

	require.NoError(t, ddl.DropTable(cat, "accounts", dbtypes.Cascade))

	childSchema, err := cat.Get("transfers")
	require.NoError(t, err)
	rows, err := storage.ReadRecords("bank", childSchema)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Valid)
}
