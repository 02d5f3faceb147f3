package sqlparser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relsql/internal/dbtypes"
	"relsql/internal/sqlparser"
)

func TestParseCreateTable(t *testing.T) {
	cmd, err := sqlparser.Parse("CREATE TABLE accounts (id INT PRIMARY KEY, name VARCHAR(32), balance INT)")
	require.NoError(t, err)
	assert.Equal(t, sqlparser.KindCreateTable, cmd.Kind)
	require.Len(t, cmd.Schema.Fields, 3)
	assert.Equal(t, "id", cmd.Schema.Fields[0].Name)
	assert.True(t, cmd.Schema.Fields[0].IsKey)
	assert.Equal(t, "name", cmd.Schema.Fields[1].Name)
}

func TestParseInsert(t *testing.T) {
	cmd, err := sqlparser.Parse("INSERT INTO accounts VALUES (1, 'Alice', 100)")
	require.NoError(t, err)
	assert.Equal(t, sqlparser.KindInsert, cmd.Kind)
	assert.Equal(t, "accounts", cmd.TableName)
	require.Len(t, cmd.Records, 1)
	assert.Equal(t, []string{"1", "Alice", "100"}, cmd.Records[0].Values)
}

func TestParseSelectWhereAndOrderBy(t *testing.T) {
	cmd, err := sqlparser.Parse("SELECT name FROM accounts WHERE balance > 75 ORDER BY balance DESC LIMIT 1")
	require.NoError(t, err)
	assert.Equal(t, sqlparser.KindSelect, cmd.Kind)
	require.NotNil(t, cmd.Query)
	assert.Equal(t, "accounts", cmd.Query.FromTable)
	require.Len(t, cmd.Query.Where, 1)
	assert.Equal(t, dbtypes.OpGt, cmd.Query.Where[0].Op)
	require.Len(t, cmd.Query.OrderBy, 1)
	assert.False(t, cmd.Query.OrderBy[0].Ascending)
	assert.True(t, cmd.Query.HasLimit)
	assert.Equal(t, 1, cmd.Query.Limit)
}

func TestParseSelectJoin(t *testing.T) {
	cmd, err := sqlparser.Parse("SELECT accounts.name, transfers.id FROM accounts JOIN transfers ON accounts.id = transfers.account_id")
	require.NoError(t, err)
	require.NotNil(t, cmd.Query.Join)
	assert.Equal(t, dbtypes.JoinInner, cmd.Query.Join.Type)
	assert.Equal(t, "transfers", cmd.Query.Join.RightFrom)
}

func TestParseUpdateAndDelete(t *testing.T) {
	upd, err := sqlparser.Parse("UPDATE accounts SET balance = 500 WHERE id = 1")
	require.NoError(t, err)
	assert.Equal(t, sqlparser.KindUpdate, upd.Kind)
	require.Len(t, upd.Assignments, 1)
	assert.Equal(t, "balance", upd.Assignments[0].Column)

	del, err := sqlparser.Parse("DELETE FROM accounts WHERE id = 1")
	require.NoError(t, err)
	assert.Equal(t, sqlparser.KindDelete, del.Kind)
	require.Len(t, del.Where, 1)
}

func TestParseDeleteWithTrailingAction(t *testing.T) {
	cmd, err := sqlparser.Parse("DELETE FROM accounts WHERE id = 1 CASCADE")
	require.NoError(t, err)
	assert.True(t, cmd.ActionSpecified)
	assert.Equal(t, dbtypes.Cascade, cmd.Action)
}

func TestParseBetweenAndIn(t *testing.T) {
	cmd, err := sqlparser.Parse("SELECT * FROM accounts WHERE balance BETWEEN 10 AND 20")
	require.NoError(t, err)
	require.Len(t, cmd.Query.Where, 1)
	assert.Equal(t, dbtypes.OpBetween, cmd.Query.Where[0].Op)
	assert.Equal(t, "10", cmd.Query.Where[0].Low)
	assert.Equal(t, "20", cmd.Query.Where[0].High)

	cmd2, err := sqlparser.Parse("SELECT * FROM accounts WHERE id IN (1, 2, 3)")
	require.NoError(t, err)
	require.Len(t, cmd2.Query.Where, 1)
	assert.Equal(t, dbtypes.OpIn, cmd2.Query.Where[0].Op)
	assert.Equal(t, []string{"1", "2", "3"}, cmd2.Query.Where[0].Values)
}

func TestParseRejectsUnknownStatement(t *testing.T) {
	_, err := sqlparser.Parse("FROBNICATE accounts")
	require.Error(t, err)
}

func TestParseRejectsEmptyStatement(t *testing.T) {
	_, err := sqlparser.Parse("   ")
	require.Error(t, err)
}

func TestSplitStatementsRespectsQuotedSemicolons(t *testing.T) {
	stmts := sqlparser.SplitStatements(`INSERT INTO accounts VALUES (1, 'a;b'); SELECT * FROM accounts;`)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "a;b")
}

func TestParseCreateIndex(t *testing.T) {
	cmd, err := sqlparser.Parse("CREATE UNIQUE INDEX idx_name ON accounts (name)")
	require.NoError(t, err)
	assert.Equal(t, sqlparser.KindCreateIndex, cmd.Kind)
	assert.True(t, cmd.IsUnique)
	assert.Equal(t, "accounts", cmd.TableName)
	assert.Equal(t, "name", cmd.FieldName)
}

func TestParseAlterTableAddColumn(t *testing.T) {
	cmd, err := sqlparser.Parse("ALTER TABLE accounts ADD COLUMN nickname VARCHAR(16)")
	require.NoError(t, err)
	assert.Equal(t, sqlparser.KindAlterTable, cmd.Kind)
	assert.Equal(t, sqlparser.AlterAddColumn, cmd.AlterOp)
	assert.Equal(t, "nickname", cmd.ColumnDef.Name)
}
