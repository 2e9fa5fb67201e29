package endpoint

import (
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/qubesproject/qrexec-trigger-server/errors"
)

// Pool owns the fixed set of Endpoints that together form the
// trigger server's listening surface (spec.md §4.1: "the server
// maintains N duplex IPC endpoints, each independently cycling
// through the state machine"). Pool's mutex guards the ident counter
// and the verdict intake's lookup, state check and AssignedClientID
// write. The driver goroutine reads and writes all other Endpoint
// fields without taking it.
type Pool struct {
	mu        sync.Mutex
	listener  net.Listener
	endpoints []*Endpoint
	completion chan CompletionEvent

	nextIdent uint64
}

// NewPool binds a Unix domain socket listener at socketPath with the
// given file mode and creates count Endpoints sharing one completion
// channel, the Go-native analogue of creating count named pipe
// instances protected by one DACL (spec.md §4.1, §6).
func NewPool(socketPath string, socketModeOctal string, count int) (*Pool, error) {
	if count <= 0 {
		return nil, errors.New("endpoint: pool size must be positive")
	}

	mode, err := strconv.ParseUint(socketModeOctal, 8, 32)
	if err != nil {
		return nil, errors.Wrap(err, "parsing socket mode")
	}

	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "removing stale socket")
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, errors.Wrap(err, "binding trigger socket")
	}
	if err := os.Chmod(socketPath, os.FileMode(mode)); err != nil {
		ln.Close()
		return nil, errors.Wrap(err, "setting socket mode")
	}

	completion := make(chan CompletionEvent, count)
	endpoints := make([]*Endpoint, count)
	for i := range endpoints {
		endpoints[i] = newEndpoint(i, completion)
	}

	return &Pool{
		listener:   ln,
		endpoints:  endpoints,
		completion: completion,
	}, nil
}

// Listener returns the pool's bound socket listener.
func (p *Pool) Listener() net.Listener { return p.listener }

// Completion returns the single shared fan-in channel every endpoint
// reports completions on.
func (p *Pool) Completion() chan CompletionEvent { return p.completion }

// NumEndpoints returns the fixed pool size.
func (p *Pool) NumEndpoints() int { return len(p.endpoints) }

// EndpointAt returns the endpoint at idx. It takes no lock; see the
// Pool doc comment for which accesses hold Lock.
func (p *Pool) EndpointAt(idx int) *Endpoint { return p.endpoints[idx] }

// IdentAt returns the ident currently recorded at idx. Satisfies
// correlate.Source; callers must hold Lock.
func (p *Pool) IdentAt(idx int) string { return p.endpoints[idx].Ident }

// Lock acquires the pool-wide mutex guarding endpoint state.
func (p *Pool) Lock() { p.mu.Lock() }

// Unlock releases the pool-wide mutex.
func (p *Pool) Unlock() { p.mu.Unlock() }

// NextIdentLocked returns the next monotonically increasing
// correlation identifier. Callers must hold Lock.
func (p *Pool) NextIdentLocked() uint64 {
	p.nextIdent++
	return p.nextIdent
}

// CancelPending closes the listener and every endpoint's live
// connection, unblocking any goroutine parked in Accept/Read/Write so
// it can report its final completion. It does not otherwise touch
// endpoint state — callers must drain Completion() for every endpoint
// that had PendingIO set before this call, then call Close to finish
// tearing the pool down (spec.md §5).
func (p *Pool) CancelPending() {
	p.listener.Close()
	for _, e := range p.endpoints {
		e.cancelConn()
	}
}

// Close closes the listener and every endpoint's connection and file
// handles, for use during server shutdown. Safe to call after
// CancelPending: Reset and Listener.Close both tolerate being applied
// to an already-closed resource.
func (p *Pool) Close() error {
	for _, e := range p.endpoints {
		e.Reset()
	}
	return p.listener.Close()
}
