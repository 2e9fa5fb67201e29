package driver

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/qubesproject/qrexec-trigger-server/internal/dispatcher"
	"github.com/qubesproject/qrexec-trigger-server/internal/endpoint"
	"github.com/qubesproject/qrexec-trigger-server/internal/wire"
)

type fakeSink struct {
	mu    sync.Mutex
	calls []wire.TriggerConnectParams
}

func (f *fakeSink) TriggerConnectExisting(_ context.Context, p wire.TriggerConnectParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	return nil
}

func (f *fakeSink) Calls() []wire.TriggerConnectParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.TriggerConnectParams, len(f.calls))
	copy(out, f.calls)
	return out
}

func newTestPool(t *testing.T, n int) *endpoint.Pool {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "trigger.sock")
	pool, err := endpoint.NewPool(socketPath, "0666", n)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func dialClient(t *testing.T, pool *endpoint.Pool) *net.UnixConn {
	t.Helper()
	conn, err := net.Dial("unix", pool.Listener().Addr().String())
	require.NoError(t, err)
	uc, ok := conn.(*net.UnixConn)
	require.True(t, ok)
	return uc
}

func readClientPipeHandles(t *testing.T, conn *net.UnixConn) (wire.ClientPipeHandles, []int) {
	t.Helper()
	payload := make([]byte, wire.ClientPipeHandlesSize)
	oob := make([]byte, unix.CmsgSpace(3*4))

	n, oobn, _, _, err := conn.ReadMsgUnix(payload, oob)
	require.NoError(t, err)
	require.Equal(t, wire.ClientPipeHandlesSize, n)

	handles, err := wire.DecodeClientPipeHandles(payload[:n])
	require.NoError(t, err)

	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	require.NoError(t, err)
	require.Len(t, scms, 1)
	fds, err := unix.ParseUnixRights(&scms[0])
	require.NoError(t, err)
	require.Len(t, fds, 3)

	return handles, fds
}

// TestHappyPath drives the full S-1 scenario: connect, send params,
// deliver a verdict, receive handles, reply with a process handle.
func TestHappyPath(t *testing.T) {
	pool := newTestPool(t, 2)
	disp := dispatcher.NewMemory()
	sink := &fakeSink{}
	drv := New(pool, disp, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go drv.Run(ctx)

	conn := dialClient(t, pool)
	defer conn.Close()

	params := wire.TriggerConnectParams{ExecIndex: "qubes.Service", TargetVMName: "dom0"}
	buf, err := wire.EncodeTriggerConnectParams(params)
	require.NoError(t, err)
	_, err = conn.Write(buf)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	ident := sink.Calls()[0].Ident
	require.Equal(t, "1", ident)

	result, err := drv.VerdictIntake(ctx, ident, 42)
	require.NoError(t, err)
	require.Equal(t, VerdictOK, result)

	handles, fds := readClientPipeHandles(t, conn)
	require.Equal(t, wire.ClientPipeHandles{Stdin: 0, Stdout: 1, Stderr: 2}, handles)
	for _, fd := range fds {
		unix.Close(fd)
	}

	resp := wire.CreateProcessResponse{Tag: wire.CPRHandle, Handle: 0xDEADBEEF}
	respBuf := wire.EncodeCreateProcessResponse(resp)
	_, err = conn.Write(respBuf)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := disp.ExitCode(42)
		return !ok // no exit code means success path, not error path
	}, 2*time.Second, 10*time.Millisecond)

	// Endpoint should have recycled and be accepting again; next ident is 2.
	conn2 := dialClient(t, pool)
	defer conn2.Close()
	buf2, err := wire.EncodeTriggerConnectParams(params)
	require.NoError(t, err)
	_, err = conn2.Write(buf2)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.Calls()) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "2", sink.Calls()[1].Ident)
}

// TestShortParamsNeverReachesDaemon covers S-2: a short write recycles
// without consuming an identifier or contacting the daemon.
func TestShortParamsNeverReachesDaemon(t *testing.T) {
	pool := newTestPool(t, 1)
	disp := dispatcher.NewMemory()
	sink := &fakeSink{}
	drv := New(pool, disp, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go drv.Run(ctx)

	conn := dialClient(t, pool)
	_, err := conn.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	conn.Close()

	require.Never(t, func() bool { return len(sink.Calls()) > 0 }, 300*time.Millisecond, 20*time.Millisecond)

	// The endpoint must have recycled and be accepting again: a fresh,
	// well-formed connection still gets ident "1" (nothing was consumed).
	conn2 := dialClient(t, pool)
	defer conn2.Close()
	buf, err := wire.EncodeTriggerConnectParams(wire.TriggerConnectParams{ExecIndex: "qubes.Service"})
	require.NoError(t, err)
	_, err = conn2.Write(buf)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "1", sink.Calls()[0].Ident)
}

// TestProcessCreationErrorSendsExitCode covers S-4.
func TestProcessCreationErrorSendsExitCode(t *testing.T) {
	pool := newTestPool(t, 1)
	disp := dispatcher.NewMemory()
	sink := &fakeSink{}
	drv := New(pool, disp, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go drv.Run(ctx)

	conn := dialClient(t, pool)
	defer conn.Close()

	buf, err := wire.EncodeTriggerConnectParams(wire.TriggerConnectParams{ExecIndex: "qubes.Service"})
	require.NoError(t, err)
	_, err = conn.Write(buf)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	ident := sink.Calls()[0].Ident

	_, err = drv.VerdictIntake(ctx, ident, 7)
	require.NoError(t, err)

	_, fds := readClientPipeHandles(t, conn)
	for _, fd := range fds {
		unix.Close(fd)
	}

	errResp := wire.CreateProcessResponse{Tag: wire.CPRErrorCode, ErrorCode: 5}
	_, err = conn.Write(wire.EncodeCreateProcessResponse(errResp))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		resp, ok := disp.ExitCode(7)
		return ok && resp.Code == 5
	}, 2*time.Second, 10*time.Millisecond)
}

// TestShutdownDrainsPendingIO covers spec §8's shutdown property: with
// one endpoint parked in an accept and another mid-read, cancelling
// the driver's context must still make Run return promptly, rather
// than hang or race Pool.Close against the still-running read
// goroutine.
func TestShutdownDrainsPendingIO(t *testing.T) {
	pool := newTestPool(t, 2)
	drv := New(pool, dispatcher.NewMemory(), &fakeSink{})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- drv.Run(ctx) }()

	conn := dialClient(t, pool)
	defer conn.Close()

	// Wait for one endpoint to have accepted and moved on to its
	// pending params read; the other stays parked in its pending
	// accept the whole time.
	require.Eventually(t, func() bool {
		return pool.EndpointAt(0).State == endpoint.StateReceivingParameters ||
			pool.EndpointAt(1).State == endpoint.StateReceivingParameters
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-runErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation; shutdown hung")
	}
}

// TestVerdictIntakeUnknownIdent covers the NOT_FOUND branch of S-5.
func TestVerdictIntakeUnknownIdent(t *testing.T) {
	pool := newTestPool(t, 1)
	drv := New(pool, dispatcher.NewMemory(), &fakeSink{})

	result, err := drv.VerdictIntake(context.Background(), "missing", 1)
	require.NoError(t, err)
	require.Equal(t, VerdictNotFound, result)
}

// TestVerdictIntakeWrongState covers the INVALID_STATE branch of S-5:
// a verdict for an endpoint not currently in S3 is rejected and the
// endpoint is left untouched.
func TestVerdictIntakeWrongState(t *testing.T) {
	pool := newTestPool(t, 1)
	drv := New(pool, dispatcher.NewMemory(), &fakeSink{})

	ep := pool.EndpointAt(0)
	ep.Ident = "9"
	ep.State = endpoint.StateSendingIOHandles

	result, err := drv.VerdictIntake(context.Background(), "9", 1)
	require.NoError(t, err)
	require.Equal(t, VerdictInvalidState, result)
	require.Equal(t, uint64(0), ep.AssignedClientID)
}

// TestSaturationDoesNotAllocatePrematurely covers S-6: with a
// single-endpoint pool, a second connecting client cannot be accepted
// until the first recycles, so no second identifier is allocated.
func TestSaturationDoesNotAllocatePrematurely(t *testing.T) {
	pool := newTestPool(t, 1)
	sink := &fakeSink{}
	drv := New(pool, dispatcher.NewMemory(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go drv.Run(ctx)

	conn1 := dialClient(t, pool)
	defer conn1.Close()
	buf, err := wire.EncodeTriggerConnectParams(wire.TriggerConnectParams{ExecIndex: "qubes.Service"})
	require.NoError(t, err)
	_, err = conn1.Write(buf)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sink.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)

	conn2 := dialClient(t, pool)
	defer conn2.Close()
	_, _ = conn2.Write(buf)

	require.Never(t, func() bool { return len(sink.Calls()) > 1 }, 300*time.Millisecond, 20*time.Millisecond)
}
