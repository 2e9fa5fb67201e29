package daemonclient

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/qubesproject/qrexec-trigger-server/internal/driver"
	"github.com/qubesproject/qrexec-trigger-server/internal/wire"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	req := proceedWithExecutionRequest{ClientID: 42, Ident: "7"}

	buf, err := c.Marshal(req)
	require.NoError(t, err)

	var got proceedWithExecutionRequest
	require.NoError(t, c.Unmarshal(buf, &got))
	require.Equal(t, req, got)
	require.Equal(t, jsonCodecName, c.Name())
}

// fakeDaemon is a minimal grpc server standing in for the real
// daemon's TriggerConnectExisting handler.
type fakeDaemon struct {
	received chan *triggerConnectExistingRequest
}

func (f *fakeDaemon) triggerConnectExisting(_ context.Context, req *triggerConnectExistingRequest) (*triggerConnectExistingResponse, error) {
	f.received <- req
	return &triggerConnectExistingResponse{}, nil
}

func triggerConnectExistingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(triggerConnectExistingRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(*fakeDaemon).triggerConnectExisting(ctx, req)
}

func startFakeDaemon(t *testing.T) (*fakeDaemon, string) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "daemon.sock")
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	daemon := &fakeDaemon{received: make(chan *triggerConnectExistingRequest, 1)}
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "TriggerConnectExisting", Handler: triggerConnectExistingHandler},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "daemonclient_test",
	}, daemon)

	go grpcServer.Serve(ln)
	t.Cleanup(grpcServer.Stop)

	return daemon, socketPath
}

func TestClientTriggerConnectExisting(t *testing.T) {
	daemon, socketPath := startFakeDaemon(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Dial(ctx, "unix://"+socketPath, 2*time.Second)
	require.NoError(t, err)
	defer client.Close()

	params := wire.TriggerConnectParams{Ident: "3", ExecIndex: "qubes.Service", TargetVMName: "dom0"}
	require.NoError(t, client.TriggerConnectExisting(ctx, params))

	select {
	case got := <-daemon.received:
		require.Equal(t, "3", got.Ident)
		require.Equal(t, "qubes.Service", got.ExecIndex)
		require.Equal(t, "dom0", got.TargetVMName)
	case <-time.After(2 * time.Second):
		t.Fatal("fake daemon never received the call")
	}
}

type fakeIntake struct {
	ident    string
	clientID uint64
	result   driver.VerdictResult
	err      error
}

func (f *fakeIntake) VerdictIntake(_ context.Context, ident string, clientID uint64) (driver.VerdictResult, error) {
	f.ident = ident
	f.clientID = clientID
	return f.result, f.err
}

func TestServerProceedWithExecution(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "trigger-rpc.sock")
	ln, err := ListenUnix(socketPath)
	require.NoError(t, err)

	intake := &fakeIntake{result: driver.VerdictOK}
	srv := NewServer(intake)
	go srv.Serve(ln)
	t.Cleanup(srv.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(ctx, "unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock())
	require.NoError(t, err)
	defer conn.Close()

	req := &proceedWithExecutionRequest{ClientID: 99, Ident: "5"}
	resp := &proceedWithExecutionResponse{}
	require.NoError(t, conn.Invoke(ctx, methodProceedWithExecution, req, resp, grpc.CallContentSubtype(jsonCodecName)))

	require.Equal(t, "OK", resp.Result)
	require.Equal(t, "5", intake.ident)
	require.Equal(t, uint64(99), intake.clientID)
}

func TestServerProceedWithExecutionPropagatesNotFound(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "trigger-rpc.sock")
	ln, err := ListenUnix(socketPath)
	require.NoError(t, err)

	intake := &fakeIntake{result: driver.VerdictNotFound}
	srv := NewServer(intake)
	go srv.Serve(ln)
	t.Cleanup(srv.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(ctx, "unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock())
	require.NoError(t, err)
	defer conn.Close()

	req := &proceedWithExecutionRequest{ClientID: 1, Ident: "missing"}
	resp := &proceedWithExecutionResponse{}
	require.NoError(t, conn.Invoke(ctx, methodProceedWithExecution, req, resp, grpc.CallContentSubtype(jsonCodecName)))

	require.Equal(t, "NOT_FOUND", resp.Result)
}
