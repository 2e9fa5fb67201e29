package endpoint

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qubesproject/qrexec-trigger-server/internal/wire"
)

func TestStateStringCoversAllValues(t *testing.T) {
	states := []State{
		StateWaitingForClient,
		StateReceivingParameters,
		StateWaitingForDaemonDecision,
		StateSendingIOHandles,
		StateReceivingProcessHandle,
	}
	for _, s := range states {
		require.NotEqual(t, "unknown", s.String())
	}
	require.Equal(t, "unknown", State(99).String())
}

func TestBeginAcceptReportsOnSharedChannel(t *testing.T) {
	pool := newTestPool(t, 1)
	ep := pool.EndpointAt(0)
	ctx := context.Background()

	ep.BeginAccept(ctx, pool.Listener())
	require.True(t, ep.PendingIO)

	client, err := net.Dial("unix", pool.Listener().Addr().String())
	require.NoError(t, err)
	defer client.Close()

	select {
	case ev := <-pool.Completion():
		require.Equal(t, 0, ev.Index)
		require.Equal(t, CompletionAccept, ev.Kind)
		require.NoError(t, ev.Err)
		require.NotNil(t, ev.Conn)
		ev.Conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept completion")
	}
}

func TestBeginReadReportsShortCount(t *testing.T) {
	pool := newTestPool(t, 1)
	ep := pool.EndpointAt(0)
	ctx := context.Background()

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	ep.Conn = serverConn

	ep.BeginRead(ctx, wire.TriggerConnectParamsSize)
	go func() {
		clientConn.Write([]byte("short"))
		clientConn.Close()
	}()

	select {
	case ev := <-pool.Completion():
		require.Equal(t, CompletionRead, ev.Kind)
		require.Equal(t, 5, ev.N)
		require.Error(t, ev.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for read completion")
	}
}

func TestBeginSendHandlesRejectsNonUnixConn(t *testing.T) {
	pool := newTestPool(t, 1)
	ep := pool.EndpointAt(0)
	ctx := context.Background()

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	ep.Conn = serverConn

	err := ep.BeginSendHandles(ctx)
	require.ErrorIs(t, err, errNotUnixConn)
	require.False(t, ep.PendingIO)
}

func TestResetReturnsEndpointToWaitingForClient(t *testing.T) {
	pool := newTestPool(t, 1)
	ep := pool.EndpointAt(0)

	serverConn, clientConn := net.Pipe()
	clientConn.Close()
	ep.Conn = serverConn
	ep.State = StateReceivingProcessHandle
	ep.Ident = "3"
	ep.AssignedClientID = 42
	ep.PendingIO = true

	ep.Reset()

	require.Equal(t, StateWaitingForClient, ep.State)
	require.Equal(t, "", ep.Ident)
	require.Equal(t, uint64(0), ep.AssignedClientID)
	require.False(t, ep.PendingIO)
	require.Nil(t, ep.Conn)
}
