// Package driver implements the acceptor/driver loop: the single
// goroutine that ranges over the endpoint pool's shared completion
// channel, advances whichever endpoint just completed an operation
// through its state machine, and loops (spec.md §2, §4.3).
package driver

import (
	"context"
	"strconv"

	"github.com/qubesproject/qrexec-trigger-server/errors"
	"github.com/qubesproject/qrexec-trigger-server/internal/dispatcher"
	"github.com/qubesproject/qrexec-trigger-server/internal/endpoint"
	"github.com/qubesproject/qrexec-trigger-server/internal/wire"
	"github.com/qubesproject/qrexec-trigger-server/logger"
)

// Driver owns the endpoint pool and the two external collaborators
// (dispatcher and daemon sink) and runs the acceptor/driver loop.
type Driver struct {
	pool       *endpoint.Pool
	dispatcher dispatcher.Dispatcher
	sink       Sink
}

// New constructs a Driver over pool, using disp to create/register
// client processes and sink to forward requests to the daemon.
func New(pool *endpoint.Pool, disp dispatcher.Dispatcher, sink Sink) *Driver {
	return &Driver{pool: pool, dispatcher: disp, sink: sink}
}

// Run starts an async accept on every endpoint, then loops, pulling
// completion events off the pool's shared channel and advancing the
// signaled endpoint, until ctx is cancelled. On cancellation it drains
// every endpoint with pending I/O before returning (spec.md §5).
func (d *Driver) Run(ctx context.Context) error {
	for i := 0; i < d.pool.NumEndpoints(); i++ {
		d.pool.EndpointAt(i).BeginAccept(ctx, d.pool.Listener())
	}

	for {
		select {
		case ev := <-d.pool.Completion():
			d.advance(ctx, ev)
		case <-ctx.Done():
			d.shutdown(ctx)
			return ctx.Err()
		}
	}
}

// shutdown cancels every endpoint's in-flight I/O, then blocks until
// each one that had an operation pending has actually reported back,
// before tearing the pool down — matching spec.md §5's "closes conn
// ... and waits on that endpoint's completion channel before
// proceeding," and its original_source analogue CancelIo followed by
// WaitForSingleObject(..., INFINITE) rather than a poll.
//
// The wait must be a real blocking receive, not a best-effort poll:
// nothing has unblocked the outstanding Accept/Read/Write calls until
// CancelPending runs below, so a non-blocking check here would almost
// always see nothing yet and declare victory prematurely, leaving
// Pool.Close's Reset to mutate Endpoint.Conn out from under a
// goroutine still using it.
func (d *Driver) shutdown(ctx context.Context) {
	pending := make(map[int]struct{})
	for i := 0; i < d.pool.NumEndpoints(); i++ {
		if d.pool.EndpointAt(i).PendingIO {
			pending[i] = struct{}{}
		}
	}

	d.pool.CancelPending()

	for len(pending) > 0 {
		ev := <-d.pool.Completion()
		delete(pending, ev.Index)
		// An accept that raced the shutdown may have succeeded with a
		// live connection nobody will ever advance past S0; it was
		// never stored on the endpoint, so close it here or it leaks.
		if ev.Conn != nil {
			ev.Conn.Close()
		}
	}

	logger.Infow("driver shutdown complete")
	d.pool.Close()
}

// stepResult is what each per-state step function returns: fallThrough
// requests another iteration of advance's loop without waiting on a
// new completion event (spec.md §4.3's S3→S4 tie-break, carried over
// from SPEC_FULL.md's design as an explicit loop rather than
// goto-style fall-through). S4→S5 does not fall through: S5 starts on
// the completion of S4's asynchronous handle send.
type stepResult struct {
	fallThrough bool
	recycle     bool
	err         error
}

// advance drives the endpoint signaled by ev through as many
// synchronous state transitions as its step functions request, then
// returns control to Run's select.
func (d *Driver) advance(ctx context.Context, ev endpoint.CompletionEvent) {
	ep := d.pool.EndpointAt(ev.Index)
	ep.PendingIO = false

	cur := &ev
	for {
		result := d.step(ctx, ep, cur)
		if result.err != nil {
			logger.Errorw("endpoint recycling after error",
				logger.FieldEndpoint, ep.Index, logger.FieldError, result.err)
			d.recycle(ctx, ep)
			return
		}
		if result.recycle {
			d.recycle(ctx, ep)
			return
		}
		if !result.fallThrough {
			return
		}
		cur = nil
	}
}

// step executes the behavior for ep's current state. ev is the
// triggering completion event on the first loop iteration; it is nil
// on synthesized fall-through iterations, whose state branches must
// not dereference it.
func (d *Driver) step(ctx context.Context, ep *endpoint.Endpoint, ev *endpoint.CompletionEvent) stepResult {
	switch ep.State {

	case endpoint.StateWaitingForClient:
		return d.stepWaitingForClient(ctx, ep, ev)

	case endpoint.StateReceivingParameters:
		return d.stepReceivingParameters(ctx, ep, ev)

	case endpoint.StateWaitingForDaemonDecision:
		return d.stepWaitingForDaemonDecision(ep, ev)

	case endpoint.StateSendingIOHandles:
		return d.stepSendingIOHandles(ctx, ep, ev)

	case endpoint.StateReceivingProcessHandle:
		return d.stepReceivingProcessHandle(ctx, ep, ev)

	default:
		return stepResult{err: errors.Newf("driver: endpoint %d in unknown state %v", ep.Index, ep.State)}
	}
}

// stepWaitingForClient handles S0: accept completion. The peer's
// pidfd is opened right here, before anything else, so the server
// pins a reference to the process that actually connected rather than
// whatever PID the kernel may have recycled onto by the time register
// runs at the end of the S1->S3->S4->S5 round trip.
func (d *Driver) stepWaitingForClient(ctx context.Context, ep *endpoint.Endpoint, ev *endpoint.CompletionEvent) stepResult {
	if ev.Err != nil {
		return stepResult{err: errors.Wrap(ev.Err, "accept failed")}
	}
	ep.Conn = ev.Conn
	ep.Creds = ev.Creds

	if ep.Creds != nil {
		if pidfd, err := openProcessHandle(ep.Creds.PID); err != nil {
			logger.AcceptErrorw("failed to pin client process handle",
				logger.FieldEndpoint, ep.Index, logger.FieldError, err)
		} else {
			ep.ProcessHandle = pidfd
		}
	}

	ep.State = endpoint.StateReceivingParameters
	ep.BeginRead(ctx, wire.TriggerConnectParamsSize)
	logger.AcceptDebugw("client connected", logger.FieldEndpoint, ep.Index)
	return stepResult{}
}

// stepReceivingParameters handles S1: params read completion. The
// state transition to S3 happens before the synchronous forward call
// to the daemon, per spec.md §4.3's explicit ordering requirement —
// the verdict may otherwise arrive before the forward call returns.
func (d *Driver) stepReceivingParameters(ctx context.Context, ep *endpoint.Endpoint, ev *endpoint.CompletionEvent) stepResult {
	if ev.Err != nil || ev.N != wire.TriggerConnectParamsSize {
		return stepResult{err: errors.Newf("driver: short params read (%d/%d bytes)", ev.N, wire.TriggerConnectParamsSize)}
	}

	params, err := wire.DecodeTriggerConnectParams(ev.Buf)
	if err != nil {
		return stepResult{err: errors.Wrap(err, "decoding trigger_connect_params")}
	}

	d.pool.Lock()
	ident := formatIdent(d.pool.NextIdentLocked())
	d.pool.Unlock()

	params.Ident = ident
	ep.Ident = ident
	ep.Params = params
	ep.State = endpoint.StateWaitingForDaemonDecision

	if err := d.sink.TriggerConnectExisting(ctx, params); err != nil {
		return stepResult{err: errors.Wrapf(err, "forwarding trigger_connect_existing for ident %s", ident)}
	}

	logger.ParamsDebugw("forwarded to daemon",
		logger.FieldEndpoint, ep.Index, logger.FieldIdent, ident, logger.FieldExecIndex, params.ExecIndex)
	return stepResult{}
}

// stepWaitingForDaemonDecision handles S3's wake-up: the verdict
// intake has already recorded AssignedClientID under the pool mutex
// before signaling this completion. Transitioning to S4 and
// requesting a fall-through matches spec.md §4.3's note that a wake
// observed with no prior pending I/O is expected, not an error.
func (d *Driver) stepWaitingForDaemonDecision(ep *endpoint.Endpoint, ev *endpoint.CompletionEvent) stepResult {
	if ev.Kind != endpoint.CompletionVerdict {
		return stepResult{err: errors.New("driver: unexpected completion while awaiting daemon decision")}
	}
	ep.State = endpoint.StateSendingIOHandles
	return stepResult{fallThrough: true}
}

// stepSendingIOHandles handles S4 across two visits. The first (ev
// nil, reached by fallthrough from S3) creates a fresh stdio channel
// set and starts the SCM_RIGHTS hand-off asynchronously via
// BeginSendHandles, so a slow or adversarial client stalling on its
// socket buffer blocks only this endpoint, not the whole driver loop
// (spec.md §5's "all I/O is overlapped and non-blocking"). The second
// (ev non-nil, the write's own completion) finishes the hand-off and
// starts the read for S5.
func (d *Driver) stepSendingIOHandles(ctx context.Context, ep *endpoint.Endpoint, ev *endpoint.CompletionEvent) stepResult {
	if ev == nil {
		info, err := d.dispatcher.CreateClientPipes(ctx)
		if err != nil {
			return stepResult{err: errors.Wrap(err, "creating client pipes")}
		}

		ep.SetRemoteFiles(info.RemoteStdin, info.RemoteStdout, info.RemoteStderr)
		ep.ClientInfo = dispatcher.ClientInfo{
			WriteStdin: info.WriteStdin,
			ReadStdout: info.ReadStdout,
			ReadStderr: info.ReadStderr,
		}

		if err := ep.BeginSendHandles(ctx); err != nil {
			return stepResult{err: errors.Wrap(err, "sending client pipe handles")}
		}
		return stepResult{}
	}

	if ev.Err != nil {
		return stepResult{err: errors.Wrap(ev.Err, "sending client pipe handles")}
	}
	ep.FinishSendHandles()

	ep.State = endpoint.StateReceivingProcessHandle
	ep.BeginRead(ctx, wire.CreateProcessResponseSize)
	logger.HandoffInfow("handles sent to client", logger.FieldEndpoint, ep.Index, logger.FieldIdent, ep.Ident)
	return stepResult{}
}

// stepReceivingProcessHandle handles S5: read the client's
// create_process_response, register (or report failure), and always
// recycle afterward.
func (d *Driver) stepReceivingProcessHandle(ctx context.Context, ep *endpoint.Endpoint, ev *endpoint.CompletionEvent) stepResult {
	if ev.Err != nil || ev.N != wire.CreateProcessResponseSize {
		return stepResult{err: errors.Newf("driver: short create_process_response read (%d/%d bytes)", ev.N, wire.CreateProcessResponseSize)}
	}

	resp, err := wire.DecodeCreateProcessResponse(ev.Buf)
	if err != nil {
		return stepResult{err: errors.Wrap(err, "decoding create_process_response")}
	}
	ep.CreateProcessResponse = resp

	d.register(ctx, ep, resp)
	return stepResult{recycle: true}
}

// recycle tears down ep's per-connection state and issues a fresh
// async accept, matching spec.md §4.5.
func (d *Driver) recycle(ctx context.Context, ep *endpoint.Endpoint) {
	logger.RecycleInfow("recycling endpoint", logger.FieldEndpoint, ep.Index)
	ep.Reset()
	ep.BeginAccept(ctx, d.pool.Listener())
}

// formatIdent renders a monotonic counter as lower-case hex with no
// padding, per spec.md §3's identifier format. 0 is never passed in,
// since Pool.NextIdentLocked starts its counter at 1.
func formatIdent(counter uint64) string {
	return strconv.FormatUint(counter, 16)
}
