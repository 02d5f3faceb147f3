package predicate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"relsql/internal/dbtypes"
	"relsql/internal/predicate"
)

func TestCompareNumeric(t *testing.T) {
	assert.True(t, predicate.Compare(dbtypes.Condition{Op: dbtypes.OpGt, Value: "5"}, "10"))
	assert.False(t, predicate.Compare(dbtypes.Condition{Op: dbtypes.OpGt, Value: "10"}, "5"))
	assert.True(t, predicate.Compare(dbtypes.Condition{Op: dbtypes.OpEq, Value: "3.0"}, "3"))
	assert.True(t, predicate.Compare(dbtypes.Condition{Op: dbtypes.OpLte, Value: "7"}, "7"))
}

func TestCompareLexicographic(t *testing.T) {
	assert.True(t, predicate.Compare(dbtypes.Condition{Op: dbtypes.OpGt, Value: "apple"}, "banana"))
	assert.True(t, predicate.Compare(dbtypes.Condition{Op: dbtypes.OpEq, Value: "'Alice'"}, "Alice"))
}

func TestCompareBetween(t *testing.T) {
	cond := dbtypes.Condition{Op: dbtypes.OpBetween, Low: "10", High: "20"}
	assert.True(t, predicate.Compare(cond, "15"))
	assert.False(t, predicate.Compare(cond, "25"))
	assert.True(t, predicate.Compare(cond, "10"))
	assert.True(t, predicate.Compare(cond, "20"))
}

func TestCompareIn(t *testing.T) {
	cond := dbtypes.Condition{Op: dbtypes.OpIn, Values: []string{"a", "b", "c"}}
	assert.True(t, predicate.Compare(cond, "b"))
	assert.False(t, predicate.Compare(cond, "z"))
}

func TestCompareLike(t *testing.T) {
	assert.True(t, predicate.Compare(dbtypes.Condition{Op: dbtypes.OpLike, Value: "'A%'"}, "Alice"))
	assert.False(t, predicate.Compare(dbtypes.Condition{Op: dbtypes.OpLike, Value: "'A%'"}, "Bob"))
	assert.True(t, predicate.Compare(dbtypes.Condition{Op: dbtypes.OpNotLike, Value: "'A%'"}, "Bob"))
	assert.True(t, predicate.Compare(dbtypes.Condition{Op: dbtypes.OpLike, Value: "'_at'"}, "cat"))
}

func TestLess(t *testing.T) {
	assert.True(t, predicate.Less("2", "10"))
	assert.False(t, predicate.Less("10", "2"))
	assert.True(t, predicate.Less("apple", "banana"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "Alice", predicate.Normalize("'Alice'"))
	assert.Equal(t, "Alice", predicate.Normalize(`"Alice"`))
	assert.Equal(t, "42", predicate.Normalize("42"))
}
