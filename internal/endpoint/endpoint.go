package endpoint

import (
	"context"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/qubesproject/qrexec-trigger-server/internal/dispatcher"
	"github.com/qubesproject/qrexec-trigger-server/internal/wire"
)

// Endpoint is one message-framed duplex IPC instance: a connection
// accepted on the pool's shared listener, its state-machine position,
// scratch buffers for the in-flight request, and the remote peer's
// credentials (spec.md §3).
type Endpoint struct {
	Index int

	Conn      net.Conn
	State     State
	PendingIO bool

	// completion is the pool's shared fan-in channel. Every Endpoint
	// holds the same channel value; see CompletionEvent's doc comment
	// for why there is no separate per-endpoint channel in the
	// driver's select.
	completion chan CompletionEvent

	Ident  string
	Params wire.TriggerConnectParams
	Creds  *PeerCreds

	// ProcessHandle is the pidfd opened for the connecting peer at S0
	// accept time, before any further round trip gives the kernel a
	// chance to recycle the PID onto an unrelated process. register
	// hands this off to ClientInfo.Process rather than opening its own,
	// late, TOCTOU-prone reference.
	ProcessHandle *os.File

	// remoteFiles holds the client-facing ends of the three stdio
	// pipes created in S4, open locally only until the SCM_RIGHTS
	// transfer succeeds (spec.md §4.3 S4's "duplicate ... with
	// CLOSE_SOURCE semantics").
	remoteFiles [3]*os.File

	AssignedClientID      uint64
	ClientInfo            dispatcher.ClientInfo
	CreateProcessResponse wire.CreateProcessResponse
}

// newEndpoint constructs an Endpoint at index idx sharing the given
// completion channel, starting in StateWaitingForClient.
func newEndpoint(idx int, completion chan CompletionEvent) *Endpoint {
	return &Endpoint{Index: idx, State: StateWaitingForClient, completion: completion}
}

// BeginAccept issues an async accept on listener: a goroutine blocks
// in Accept and reports the result on the shared completion channel.
// The Go-native analogue of arming an OVERLAPPED ConnectNamedPipe.
//
// The completion channel is sized to exactly one outstanding
// operation per endpoint (see NewPool), so the send below can never
// block on a slow or absent reader; there is no ctx.Done() escape
// hatch to race against it, which matters during shutdown's drain
// loop (spec.md §5) where the completion IS the thing being waited on.
func (e *Endpoint) BeginAccept(ctx context.Context, listener net.Listener) {
	e.PendingIO = true
	go func() {
		conn, err := listener.Accept()
		var creds *PeerCreds
		if err == nil {
			creds, _ = peerCred(conn)
		}
		e.completion <- CompletionEvent{Index: e.Index, Kind: CompletionAccept, Conn: conn, Creds: creds, Err: err}
	}()
}

// BeginRead issues an async read of exactly size bytes. A short read
// (fewer than size bytes before EOF/error) is still reported; the
// caller compares N against the expected record size, matching
// spec.md §4.3's "verify the read length equals sizeof(params)".
//
// conn is captured here, before the goroutine starts, rather than
// read as e.Conn from inside it: Reset (driven by shutdown) closes
// and nils e.Conn concurrently with this goroutine, and reading the
// field from two goroutines without synchronization is a race that
// can also hand a nil net.Conn to readFull if Reset wins.
func (e *Endpoint) BeginRead(ctx context.Context, size int) {
	e.PendingIO = true
	conn := e.Conn
	go func() {
		buf := make([]byte, size)
		n, err := readFull(conn, buf)
		e.completion <- CompletionEvent{Index: e.Index, Kind: CompletionRead, Buf: buf, N: n, Err: err}
	}()
}

// BeginWrite issues an async write of buf. See BeginRead for why conn
// is captured before the goroutine starts rather than read as e.Conn
// from inside it.
func (e *Endpoint) BeginWrite(ctx context.Context, buf []byte) {
	e.PendingIO = true
	conn := e.Conn
	go func() {
		n, err := conn.Write(buf)
		e.completion <- CompletionEvent{Index: e.Index, Kind: CompletionWrite, N: n, Err: err}
	}()
}

// BeginSendHandles issues the S4 SCM_RIGHTS handle hand-off
// asynchronously: the payload is encoded and the remote fds collected
// synchronously (cheap, non-blocking), but the actual WriteMsgUnix
// syscall — which can stall if the client isn't draining its socket
// buffer — runs in its own goroutine and reports on the shared
// completion channel like every other S-state transition, matching
// spec.md §5's "driver suspends only at the multi-wait; all I/O is
// overlapped and non-blocking." Returns an error synchronously only
// if the handles cannot be assembled at all (e.g. not a unix conn).
func (e *Endpoint) BeginSendHandles(ctx context.Context) error {
	uc, ok := e.Conn.(*net.UnixConn)
	if !ok {
		return errNotUnixConn
	}

	fds := make([]int, 0, 3)
	for _, f := range e.remoteFiles {
		if f != nil {
			fds = append(fds, int(f.Fd()))
		}
	}
	rights := unix.UnixRights(fds...)
	payload := wire.EncodeClientPipeHandles(wire.ClientPipeHandles{Stdin: 0, Stdout: 1, Stderr: 2})

	e.PendingIO = true
	go func() {
		_, _, err := uc.WriteMsgUnix(payload, rights, nil)
		e.completion <- CompletionEvent{Index: e.Index, Kind: CompletionWrite, Err: err}
	}()
	return nil
}

// FinishSendHandles closes the local copies of the client-facing pipe
// ends after a successful BeginSendHandles completion (CLOSE_SOURCE
// semantics); on failure they are left for Reset to close.
func (e *Endpoint) FinishSendHandles() {
	for i, f := range e.remoteFiles {
		if f != nil {
			f.Close()
		}
		e.remoteFiles[i] = nil
	}
}

// cancelConn closes the endpoint's live connection, if any, to
// unblock an in-flight async read or write so its goroutine can
// report a final completion. Safe to call whether or not an
// operation is actually pending. Only called from Driver.shutdown,
// which runs on the same single goroutine that owns all other
// endpoint field access, so this needs no locking of its own.
func (e *Endpoint) cancelConn() {
	if e.Conn != nil {
		e.Conn.Close()
	}
}

// readFull reads until buf is full, EOF, or an error, returning the
// count actually read (mirrors io.ReadFull without its "exactly N or
// error" all-or-nothing guarantee, since spec.md wants the short
// count surfaced to the caller as a protocol violation, not just an error).
func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// SetRemoteFiles stores the three client-facing pipe ends created for
// this handshake, pending the SCM_RIGHTS transfer.
func (e *Endpoint) SetRemoteFiles(stdin, stdout, stderr *os.File) {
	e.remoteFiles = [3]*os.File{stdin, stdout, stderr}
}

// Reset tears down per-connection state and prepares the endpoint for
// a fresh accept, per spec.md §4.5. ProcessHandle is closed here too:
// if the handshake never reached a successful register(), it was
// never handed off to ClientInfo.Process and would otherwise leak.
func (e *Endpoint) Reset() {
	if e.Conn != nil {
		e.Conn.Close()
		e.Conn = nil
	}
	for i, f := range e.remoteFiles {
		if f != nil {
			f.Close()
			e.remoteFiles[i] = nil
		}
	}
	if e.ProcessHandle != nil {
		e.ProcessHandle.Close()
		e.ProcessHandle = nil
	}
	closeClientInfo(&e.ClientInfo)

	e.PendingIO = false
	e.Ident = ""
	e.Params = wire.TriggerConnectParams{}
	e.Creds = nil
	e.AssignedClientID = 0
	e.ClientInfo = dispatcher.ClientInfo{}
	e.CreateProcessResponse = wire.CreateProcessResponse{}
	e.State = StateWaitingForClient
}

func closeClientInfo(info *dispatcher.ClientInfo) {
	for _, f := range []*os.File{info.Process, info.WriteStdin, info.ReadStdout, info.ReadStderr} {
		if f != nil {
			f.Close()
		}
	}
}
