package driver

import (
	"context"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/qubesproject/qrexec-trigger-server/errors"
	"github.com/qubesproject/qrexec-trigger-server/internal/dispatcher"
	"github.com/qubesproject/qrexec-trigger-server/internal/endpoint"
	"github.com/qubesproject/qrexec-trigger-server/internal/wire"
	"github.com/qubesproject/qrexec-trigger-server/logger"
)

// register implements spec.md §4.4: given the client's
// create_process_response, either forward a process-creation failure
// to the dispatcher as an exit-code message, or register the client
// process with the dispatcher using the pidfd already opened for it
// at S0 accept time (ep.ProcessHandle — see stepWaitingForClient).
// Opening it there, rather than looking the PID up again here after
// the full S1->S3->S4->S5 round trip, is what keeps this reference
// pinned to the process that actually connected instead of whatever
// the kernel has since recycled that PID onto. Errors are logged, not
// returned — whatever happens, the caller recycles the endpoint
// afterward (S5's "whether it succeeds or fails, recycle").
func (d *Driver) register(ctx context.Context, ep *endpoint.Endpoint, resp wire.CreateProcessResponse) {
	if resp.Tag == wire.CPRErrorCode {
		exitResp := wire.ExitCodeResponse{Source: wire.ErrorSourceWindows, Code: resp.ErrorCode}
		if err := d.dispatcher.SendExitCode(ctx, ep.AssignedClientID, exitResp); err != nil {
			logger.HandoffErrorw("failed to deliver exit code",
				logger.FieldEndpoint, ep.Index, logger.FieldIdent, ep.Ident, logger.FieldError, err)
		}
		d.releaseProcessHandle(ep)
		return
	}

	ep.ClientInfo.Process = ep.ProcessHandle
	ep.ProcessHandle = nil

	if err := d.dispatcher.AddExistingClient(ctx, ep.AssignedClientID, ep.ClientInfo); err != nil {
		logger.HandoffErrorw("dispatcher refused client registration",
			logger.FieldEndpoint, ep.Index, logger.FieldIdent, ep.Ident, logger.FieldError, err)
		closeClientInfoHandles(&ep.ClientInfo)
		ep.ClientInfo = dispatcher.ClientInfo{}
		return
	}

	// Dispatcher now owns every handle in ClientInfo; forget the
	// endpoint's copies so Reset doesn't close them out from under it.
	ep.ClientInfo = dispatcher.ClientInfo{}
}

// releaseProcessHandle closes ep.ProcessHandle if register decided not
// to hand it off to the dispatcher (the process-creation-error path),
// since nothing else will ever close it otherwise until Reset.
func (d *Driver) releaseProcessHandle(ep *endpoint.Endpoint) {
	if ep.ProcessHandle != nil {
		ep.ProcessHandle.Close()
		ep.ProcessHandle = nil
	}
}

// closeClientInfoHandles closes every handle in info — used when
// registration itself is refused, so the handles register just moved
// into ClientInfo (including ProcessHandle) don't leak.
func closeClientInfoHandles(info *dispatcher.ClientInfo) {
	for _, f := range []*os.File{info.Process, info.WriteStdin, info.ReadStdout, info.ReadStderr} {
		if f != nil {
			f.Close()
		}
	}
}

// openProcessHandle opens a pidfd for pid — the POSIX analogue of
// OpenProcess(PROCESS_DUP_HANDLE, ...), a stable reference to the
// client process usable even after its original PID is recycled by
// the kernel. Called from stepWaitingForClient at S0 accept time, not
// here, so the reference is pinned before any further latency opens a
// PID-reuse window.
func openProcessHandle(pid int32) (*os.File, error) {
	fd, err := unix.PidfdOpen(int(pid), 0)
	if err != nil {
		return nil, errors.Wrapf(err, "pidfd_open(%d)", pid)
	}
	return os.NewFile(uintptr(fd), "pidfd-"+strconv.Itoa(int(pid))), nil
}
