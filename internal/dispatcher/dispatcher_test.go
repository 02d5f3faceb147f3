package dispatcher_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relsql/internal/dispatcher"
	"relsql/internal/errs"
	"relsql/internal/sqlparser"
	"relsql/internal/storage"
)

func setup(t *testing.T) *dispatcher.Engine {
	t.Helper()
	t.Setenv(storage.DataDirEnv, t.TempDir())
	e, err := dispatcher.NewEngine()
	require.NoError(t, err)
	return e
}

func newSession(t *testing.T, e *dispatcher.Engine, db string) *dispatcher.Session {
	t.Helper()
	sess := &dispatcher.Session{}
	_, err := e.Execute(sess, "CREATE DATABASE "+db)
	require.NoError(t, err)
	_, err = e.Execute(sess, "USE "+db)
	require.NoError(t, err)
	return sess
}

func TestCreateDatabaseAndTableThenInsertAndSelect(t *testing.T) {
	e := setup(t)
	sess := newSession(t, e, "bank")

	_, err := e.Execute(sess, "CREATE TABLE accounts (id INT PRIMARY KEY, name VARCHAR(32), balance INT)")
	require.NoError(t, err)

	res, err := e.Execute(sess, "INSERT INTO accounts VALUES (1, 'Alice', 100)")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)

	res, err = e.Execute(sess, "SELECT * FROM accounts WHERE id = 1")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "Alice", res.Rows[0].Values[1])
}

func TestInsertRejectsDuplicatePrimaryKey(t *testing.T) {
	e := setup(t)
	sess := newSession(t, e, "bank")

	_, err := e.Execute(sess, "CREATE TABLE accounts (id INT PRIMARY KEY, name VARCHAR(32))")
	require.NoError(t, err)
	_, err = e.Execute(sess, "INSERT INTO accounts VALUES (1, 'Alice')")
	require.NoError(t, err)

	_, err = e.Execute(sess, "INSERT INTO accounts VALUES (1, 'Bob')")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Conflict))

	res, err := e.Execute(sess, "SELECT * FROM accounts")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
}

func TestExplicitTransactionCommits(t *testing.T) {
	e := setup(t)
	sess := newSession(t, e, "bank")
	_, err := e.Execute(sess, "CREATE TABLE accounts (id INT PRIMARY KEY, balance INT)")
	require.NoError(t, err)

	_, err = e.Execute(sess, "BEGIN")
	require.NoError(t, err)
	_, err = e.Execute(sess, "INSERT INTO accounts VALUES (1, 100)")
	require.NoError(t, err)
	_, err = e.Execute(sess, "UPDATE accounts SET balance = 200 WHERE id = 1")
	require.NoError(t, err)
	_, err = e.Execute(sess, "COMMIT")
	require.NoError(t, err)

	res, err := e.Execute(sess, "SELECT * FROM accounts WHERE id = 1")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "200", res.Rows[0].Values[1])
}

func TestExplicitTransactionRollbackReversesWrites(t *testing.T) {
	e := setup(t)
	sess := newSession(t, e, "bank")
	_, err := e.Execute(sess, "CREATE TABLE accounts (id INT PRIMARY KEY, balance INT)")
	require.NoError(t, err)
	_, err = e.Execute(sess, "INSERT INTO accounts VALUES (1, 100)")
	require.NoError(t, err)

	_, err = e.Execute(sess, "BEGIN")
	require.NoError(t, err)
	_, err = e.Execute(sess, "UPDATE accounts SET balance = 999 WHERE id = 1")
	require.NoError(t, err)
	_, err = e.Execute(sess, "INSERT INTO accounts VALUES (2, 50)")
	require.NoError(t, err)
	_, err = e.Execute(sess, "ROLLBACK")
	require.NoError(t, err)

	res, err := e.Execute(sess, "SELECT * FROM accounts")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "100", res.Rows[0].Values[1])
}

func TestDDLRejectedInsideOpenTransaction(t *testing.T) {
	e := setup(t)
	sess := newSession(t, e, "bank")
	_, err := e.Execute(sess, "CREATE TABLE accounts (id INT PRIMARY KEY)")
	require.NoError(t, err)

	_, err = e.Execute(sess, "BEGIN")
	require.NoError(t, err)
	_, err = e.Execute(sess, "CREATE TABLE other (id INT PRIMARY KEY)")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Conflict))

	_, err = e.Execute(sess, "ROLLBACK")
	require.NoError(t, err)
}

func TestDeleteRestrictedByForeignKeyRollsBackAutocommit(t *testing.T) {
	e := setup(t)
	sess := newSession(t, e, "bank")
	_, err := e.Execute(sess, "CREATE TABLE accounts (id INT PRIMARY KEY, name VARCHAR(32))")
	require.NoError(t, err)
	_, err = e.Execute(sess, "CREATE TABLE transfers (id INT PRIMARY KEY, account_id INT, FOREIGN KEY (account_id) REFERENCES accounts (id) ON DELETE RESTRICT)")
	require.NoError(t, err)
	_, err = e.Execute(sess, "INSERT INTO accounts VALUES (1, 'Alice')")
	require.NoError(t, err)
	_, err = e.Execute(sess, "INSERT INTO transfers VALUES (10, 1)")
	require.NoError(t, err)

	_, err = e.Execute(sess, "DELETE FROM accounts WHERE id = 1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Conflict))

	res, err := e.Execute(sess, "SELECT * FROM accounts")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
}

func TestRunExecutesScriptSequentially(t *testing.T) {
	e := setup(t)
	sess := newSession(t, e, "bank")
	_, err := e.Execute(sess, "CREATE TABLE accounts (id INT PRIMARY KEY, balance INT)")
	require.NoError(t, err)

	results, err := e.Run(sess, "INSERT INTO accounts VALUES (1, 10); INSERT INTO accounts VALUES (2, 20); SELECT * FROM accounts;")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, sqlparser.KindSelect, results[2].Kind)
	assert.Len(t, results[2].Rows, 2)
}

func TestSavepointRollbackToKeepsTransactionOpen(t *testing.T) {
	e := setup(t)
	sess := newSession(t, e, "bank")
	_, err := e.Execute(sess, "CREATE TABLE accounts (id INT PRIMARY KEY, balance INT)")
	require.NoError(t, err)

	_, err = e.Execute(sess, "BEGIN")
	require.NoError(t, err)
	_, err = e.Execute(sess, "INSERT INTO accounts VALUES (1, 100)")
	require.NoError(t, err)
	_, err = e.Execute(sess, "SAVEPOINT sp1")
	require.NoError(t, err)
	_, err = e.Execute(sess, "INSERT INTO accounts VALUES (2, 200)")
	require.NoError(t, err)
	_, err = e.Execute(sess, "ROLLBACK TO sp1")
	require.NoError(t, err)
	_, err = e.Execute(sess, "COMMIT")
	require.NoError(t, err)

	res, err := e.Execute(sess, "SELECT * FROM accounts")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
}

func TestWritesAgainstViewAreRejected(t *testing.T) {
	e := setup(t)
	sess := newSession(t, e, "bank")
	_, err := e.Execute(sess, "CREATE TABLE accounts (id INT PRIMARY KEY, name VARCHAR(32), balance INT)")
	require.NoError(t, err)
	_, err = e.Execute(sess, "INSERT INTO accounts VALUES (1, 'Alice', 100)")
	require.NoError(t, err)
	_, err = e.Execute(sess, "CREATE VIEW active_accounts AS SELECT * FROM accounts")
	require.NoError(t, err)

	_, err = e.Execute(sess, "INSERT INTO active_accounts VALUES (2, 'Bob', 50)")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotSupported))

	_, err = e.Execute(sess, "UPDATE active_accounts SET balance = 999 WHERE id = 1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotSupported))

	_, err = e.Execute(sess, "DELETE FROM active_accounts WHERE id = 1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotSupported))

	res, err := e.Execute(sess, "SELECT * FROM active_accounts")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
}

func TestUseUnknownDatabaseReturnsNotFound(t *testing.T) {
	e := setup(t)
	sess := &dispatcher.Session{}
	_, err := e.Execute(sess, "USE ghost")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}
