package errs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relsql/internal/errs"
)

func TestNewAndIs(t *testing.T) {
	err := errs.New(errs.NotFound, "table %q missing", "accounts")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
	assert.False(t, errs.Is(err, errs.Conflict))
	assert.Equal(t, `table "accounts" missing`, err.Message)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := errs.Wrap(errs.IoError, cause, "writing heap file")
	require.Error(t, err)
	assert.Same(t, cause, errors.Unwrap(err))
	assert.True(t, errs.Is(err, errs.IoError))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, errs.Unknown, errs.KindOf(nil))
	assert.Equal(t, errs.Corruption, errs.KindOf(errs.New(errs.Corruption, "bad block")))
	assert.Equal(t, errs.IoError, errs.KindOf(errors.New("plain stdlib error")))
}

func TestErrorUnwrapChain(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := errs.Wrap(errs.Conflict, cause, "duplicate key")

	var target *errs.Error
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, errs.Conflict, target.Kind)
	assert.ErrorIs(t, wrapped, cause)
}
