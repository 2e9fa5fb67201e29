package endpoint

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPeerCredRecoversConnectingProcess(t *testing.T) {
	pool := newTestPool(t, 1)

	client, err := net.Dial("unix", pool.Listener().Addr().String())
	require.NoError(t, err)
	defer client.Close()

	serverConn, err := pool.Listener().Accept()
	require.NoError(t, err)
	defer serverConn.Close()

	creds, err := peerCred(serverConn)
	require.NoError(t, err)
	require.Equal(t, int32(os.Getpid()), creds.PID)
}

func TestPeerCredRejectsNonUnixConn(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	_, err := peerCred(serverConn)
	require.Error(t, err)
}
