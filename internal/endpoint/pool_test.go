package endpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, n int) *Pool {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "trigger.sock")
	pool, err := NewPool(socketPath, "0666", n)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestNewPoolRejectsNonPositiveCount(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "trigger.sock")
	_, err := NewPool(socketPath, "0666", 0)
	require.Error(t, err)
}

func TestNewPoolBindsListenerAndEndpoints(t *testing.T) {
	pool := newTestPool(t, 4)

	require.Equal(t, 4, pool.NumEndpoints())
	require.NotNil(t, pool.Listener())
	for i := 0; i < 4; i++ {
		ep := pool.EndpointAt(i)
		require.Equal(t, i, ep.Index)
		require.Equal(t, StateWaitingForClient, ep.State)
	}
}

func TestNextIdentLockedIsMonotonicAndSkipsZero(t *testing.T) {
	pool := newTestPool(t, 1)

	pool.Lock()
	first := pool.NextIdentLocked()
	second := pool.NextIdentLocked()
	pool.Unlock()

	require.Equal(t, uint64(1), first)
	require.Equal(t, uint64(2), second)
}

func TestIdentAtReflectsEndpointState(t *testing.T) {
	pool := newTestPool(t, 2)

	pool.EndpointAt(1).Ident = "7"
	require.Equal(t, "", pool.IdentAt(0))
	require.Equal(t, "7", pool.IdentAt(1))
}
