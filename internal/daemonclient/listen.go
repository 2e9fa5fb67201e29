package daemonclient

import (
	"net"
	"strings"

	"github.com/qubesproject/qrexec-trigger-server/errors"
)

// ListenUnix binds a Unix-domain socket listener for the embedded
// ProceedWithExecution server, accepting either a bare path or a
// "unix://" URI (the same address shape grpc's client-side resolver
// accepts for Dial, kept symmetric for configuration simplicity).
func ListenUnix(address string) (net.Listener, error) {
	path := strings.TrimPrefix(address, "unix://")
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "binding daemon rpc listener at %s", path)
	}
	return ln, nil
}
