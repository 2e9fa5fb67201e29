// Package dispatcher abstracts the out-of-scope client-process
// dispatcher that owns the actual os/exec.Cmd lifecycle and
// stdio-channel factory (spec.md §2, §4.4). Production deployments
// plug in the real dispatcher over whatever transport it speaks; this
// package only defines the interface and ships an in-memory
// implementation for local development and tests.
package dispatcher

import (
	"context"
	"os"

	"github.com/qubesproject/qrexec-trigger-server/internal/wire"
)

// ClientInfo is everything the driver needs to hand off stdio handles
// to a client process: the dispatcher-retained ends of the three
// pipes, kept open so the server can still read/write after the
// client-facing ends are transferred via SCM_RIGHTS (spec.md §4.3 S4),
// plus the three client-facing "remote" ends, present only in the
// value CreateClientPipes returns — the driver strips them out (via
// endpoint.SetRemoteFiles) before the ClientInfo it ultimately hands
// to AddExistingClient reaches the dispatcher, matching the original
// CreateClientPipes(client_info, *stdin, *stdout, *stderr) out-param
// shape from spec.md §6 folded into one return value.
type ClientInfo struct {
	Process    *os.File
	WriteStdin *os.File
	ReadStdout *os.File
	ReadStderr *os.File

	RemoteStdin  *os.File
	RemoteStdout *os.File
	RemoteStderr *os.File
}

// Dispatcher is the stdio-channel factory and registration point for
// in-flight clients (expansion of spec.md §4.4's send_exit_code/
// AddExistingClient calls into a concrete Go interface).
type Dispatcher interface {
	// AddExistingClient registers a client process that the driver has
	// already created pipes for, keyed by clientID, so a later
	// CloseReadPipeHandles can find it.
	AddExistingClient(ctx context.Context, clientID uint64, info ClientInfo) error

	// SendExitCode delivers the client's terminal exit status, forwarded
	// by register when the client's S5 CreateProcessResponse record
	// carries an error code.
	SendExitCode(ctx context.Context, clientID uint64, resp wire.ExitCodeResponse) error

	// CreateClientPipes creates the three stdio pipes for a new
	// client process and returns both the dispatcher-retained ends and
	// the client-facing Remote* ends.
	CreateClientPipes(ctx context.Context) (ClientInfo, error)

	// CloseReadPipeHandles releases the dispatcher's copies of a
	// client's pipe handles once the client process has exited.
	CloseReadPipeHandles(ctx context.Context, clientID uint64) error
}
