package dispatcher

import (
	"context"
	"os"
	"sync"

	"github.com/qubesproject/qrexec-trigger-server/errors"
	"github.com/qubesproject/qrexec-trigger-server/internal/wire"
)

// Memory is an in-process Dispatcher for local development and the
// test suite: it creates real OS pipes per client (the same
// os.Pipe-backed shape the real out-of-scope dispatcher would use)
// and tracks registered clients in a map guarded by a RWMutex,
// grounded on the pending-request map pattern in the teacher's gopls
// stdio client.
type Memory struct {
	mu      sync.RWMutex
	clients map[uint64]ClientInfo
	exits   map[uint64]wire.ExitCodeResponse
}

// NewMemory constructs an empty in-memory dispatcher.
func NewMemory() *Memory {
	return &Memory{
		clients: make(map[uint64]ClientInfo),
		exits:   make(map[uint64]wire.ExitCodeResponse),
	}
}

// CreateClientPipes allocates three OS pipes (stdin, stdout, stderr)
// and returns all six ends: the dispatcher-retained WriteStdin (to feed
// the client's standard input) and ReadStdout/ReadStderr (to drain its
// output), plus the client-facing RemoteStdin/RemoteStdout/RemoteStderr.
// Process is left nil; Memory does not itself exec anything.
func (m *Memory) CreateClientPipes(_ context.Context) (ClientInfo, error) {
	stdinRead, stdinWrite, err := os.Pipe()
	if err != nil {
		return ClientInfo{}, errors.Wrap(err, "creating stdin pipe")
	}
	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		stdinRead.Close()
		stdinWrite.Close()
		return ClientInfo{}, errors.Wrap(err, "creating stdout pipe")
	}
	stderrRead, stderrWrite, err := os.Pipe()
	if err != nil {
		stdinRead.Close()
		stdinWrite.Close()
		stdoutRead.Close()
		stdoutWrite.Close()
		return ClientInfo{}, errors.Wrap(err, "creating stderr pipe")
	}

	// The *Read end of stdin and the *Write ends of stdout/stderr are
	// the "remote" ends meant for the client process, transferred by
	// the driver via endpoint.BeginSendHandles; the dispatcher retains
	// the opposite ends.
	return ClientInfo{
		WriteStdin: stdinWrite,
		ReadStdout: stdoutRead,
		ReadStderr: stderrRead,

		RemoteStdin:  stdinRead,
		RemoteStdout: stdoutWrite,
		RemoteStderr: stderrWrite,
	}, nil
}

// AddExistingClient registers info under clientID.
func (m *Memory) AddExistingClient(_ context.Context, clientID uint64, info ClientInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[clientID] = info
	return nil
}

// SendExitCode records the client's terminal exit status. clientID
// need not have gone through AddExistingClient: a process-creation
// failure reaches here with a daemon-assigned client ID that was
// never registered (spec.md §8's S-4 explicitly has no
// AddExistingClient call on that path).
func (m *Memory) SendExitCode(_ context.Context, clientID uint64, resp wire.ExitCodeResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exits[clientID] = resp
	return nil
}

// CloseReadPipeHandles closes and forgets clientID's registered pipe
// handles.
func (m *Memory) CloseReadPipeHandles(_ context.Context, clientID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.clients[clientID]
	if !ok {
		return errors.Newf("dispatcher: unknown client %d", clientID)
	}
	for _, f := range []*os.File{info.Process, info.WriteStdin, info.ReadStdout, info.ReadStderr} {
		if f != nil {
			f.Close()
		}
	}
	delete(m.clients, clientID)
	return nil
}

// ExitCode returns the recorded exit status for clientID, for test
// assertions.
func (m *Memory) ExitCode(clientID uint64) (wire.ExitCodeResponse, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp, ok := m.exits[clientID]
	return resp, ok
}
