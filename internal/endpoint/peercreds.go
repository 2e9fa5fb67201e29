package endpoint

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/qubesproject/qrexec-trigger-server/errors"
)

// PeerCreds is the recovered identity of the process on the other end
// of an accepted connection — the Go-native analogue of the process
// ID obtained from GetNamedPipeClientProcessId plus the handle opened
// via OpenProcess (spec.md §4.3 S0's "obtain the peer's process id
// ... store as client_process").
type PeerCreds struct {
	PID int32
	UID uint32
	GID uint32
}

// peerCred recovers the connecting peer's credentials via SO_PEERCRED,
// the POSIX analogue of GetNamedPipeClientProcessId + OpenProcess.
func peerCred(conn net.Conn) (*PeerCreds, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, errors.New("endpoint: connection is not a unix socket")
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return nil, errors.Wrap(err, "obtaining raw conn for peer credentials")
	}

	var cred *unix.Ucred
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return nil, errors.Wrap(ctrlErr, "reading SO_PEERCRED")
	}
	if sockErr != nil {
		return nil, errors.Wrap(sockErr, "reading SO_PEERCRED")
	}

	return &PeerCreds{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}, nil
}
