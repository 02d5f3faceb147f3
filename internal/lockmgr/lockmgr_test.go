package lockmgr_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relsql/internal/dbtypes"
	"relsql/internal/errs"
	"relsql/internal/lockmgr"
)

func rid(offset int64) dbtypes.RID {
	return dbtypes.RID{Table: "accounts", Offset: offset}
}

func TestSharedLocksDoNotConflict(t *testing.T) {
	m := lockmgr.New()
	require.NoError(t, m.LockShared(1, rid(10)))
	require.NoError(t, m.LockShared(2, rid(10)))
}

func TestExclusiveBlocksShared(t *testing.T) {
	m := lockmgr.New()
	require.NoError(t, m.LockExclusive(1, rid(10)))

	done := make(chan error, 1)
	go func() { done <- m.LockShared(2, rid(10)) }()

	select {
	case <-done:
		t.Fatal("expected second txn to block while first holds exclusive lock")
	case <-time.After(100 * time.Millisecond):
	}

	m.ReleaseAll(1)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked shared lock never woke after release")
	}
}

func TestLockTimeout(t *testing.T) {
	m := lockmgr.New()
	require.NoError(t, m.LockExclusive(1, rid(10)))

	start := time.Now()
	err := m.LockExclusive(2, rid(10))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.LockTimeout))
	assert.GreaterOrEqual(t, elapsed, lockmgr.Timeout)
	assert.Less(t, elapsed, lockmgr.Timeout+time.Second)
}

func TestSharedUpgradeToExclusive(t *testing.T) {
	m := lockmgr.New()
	require.NoError(t, m.LockShared(1, rid(10)))
	require.NoError(t, m.LockExclusive(1, rid(10)))
}

func TestReleaseAllUnblocksWaiters(t *testing.T) {
	m := lockmgr.New()
	require.NoError(t, m.LockExclusive(1, rid(10)))

	var wg sync.WaitGroup
	results := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.LockShared(uint64(i+2), rid(10))
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	m.ReleaseAll(1)
	wg.Wait()

	for _, err := range results {
		assert.NoError(t, err)
	}
}
