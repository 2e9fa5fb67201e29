package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qubesproject/qrexec-trigger-server/internal/wire"
)

func TestCreateClientPipesReturnsDistinctEnds(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	info, err := m.CreateClientPipes(ctx)
	require.NoError(t, err)
	defer info.WriteStdin.Close()
	defer info.ReadStdout.Close()
	defer info.ReadStderr.Close()
	defer info.RemoteStdin.Close()
	defer info.RemoteStdout.Close()
	defer info.RemoteStderr.Close()

	require.NotNil(t, info.WriteStdin)
	require.NotNil(t, info.ReadStdout)
	require.NotNil(t, info.ReadStderr)
	require.NotNil(t, info.RemoteStdin)
	require.NotNil(t, info.RemoteStdout)
	require.NotNil(t, info.RemoteStderr)

	msg := []byte("hello")
	_, err = info.WriteStdin.Write(msg)
	require.NoError(t, err)

	buf := make([]byte, len(msg))
	n, err := info.RemoteStdin.Read(buf)
	require.NoError(t, err)
	require.Equal(t, msg, buf[:n])
}

func TestAddExistingClientThenSendExitCode(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.AddExistingClient(ctx, 42, ClientInfo{}))

	resp := wire.ExitCodeResponse{Source: wire.ErrorSourceWindows, Code: 5}
	require.NoError(t, m.SendExitCode(ctx, 42, resp))

	got, ok := m.ExitCode(42)
	require.True(t, ok)
	require.Equal(t, resp, got)
}

func TestSendExitCodeWithoutPriorRegistration(t *testing.T) {
	// spec.md §8's S-4: a process-creation failure reports an exit
	// code for a client that never went through AddExistingClient.
	m := NewMemory()
	resp := wire.ExitCodeResponse{Source: wire.ErrorSourceWindows, Code: 5}
	require.NoError(t, m.SendExitCode(context.Background(), 99, resp))

	got, ok := m.ExitCode(99)
	require.True(t, ok)
	require.Equal(t, resp, got)
}

func TestCloseReadPipeHandlesForgetsClient(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	info, err := m.CreateClientPipes(ctx)
	require.NoError(t, err)
	defer info.RemoteStdin.Close()
	defer info.RemoteStdout.Close()
	defer info.RemoteStderr.Close()

	require.NoError(t, m.AddExistingClient(ctx, 7, info))
	require.NoError(t, m.CloseReadPipeHandles(ctx, 7))

	err = m.CloseReadPipeHandles(ctx, 7)
	require.Error(t, err)
}
