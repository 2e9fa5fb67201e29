package driver

import (
	"context"

	"github.com/qubesproject/qrexec-trigger-server/internal/correlate"
	"github.com/qubesproject/qrexec-trigger-server/internal/endpoint"
	"github.com/qubesproject/qrexec-trigger-server/logger"
)

// VerdictResult is the three-valued outcome of VerdictIntake, per
// spec.md §6's ProceedWithExecution result.
type VerdictResult int

const (
	VerdictOK VerdictResult = iota
	VerdictNotFound
	VerdictInvalidState
)

func (r VerdictResult) String() string {
	switch r {
	case VerdictOK:
		return "OK"
	case VerdictNotFound:
		return "NOT_FOUND"
	case VerdictInvalidState:
		return "INVALID_STATE"
	default:
		return "unknown"
	}
}

// VerdictIntake implements spec.md §4.2/§6's ProceedWithExecution: it
// locates the endpoint awaiting ident, validates it is still in S3,
// records clientID, and signals the endpoint's completion so the
// driver's loop picks it up. The lookup, state check, field write, and
// completion send together happen under the pool mutex except for the
// completion send itself, which happens immediately after release —
// the channel send's happens-before guarantee is what lets the driver
// observe AssignedClientID without re-acquiring the mutex (spec.md §5).
func (d *Driver) VerdictIntake(ctx context.Context, ident string, clientID uint64) (VerdictResult, error) {
	d.pool.Lock()
	idx, err := correlate.LookupLocked(d.pool, ident)
	if err != nil {
		d.pool.Unlock()
		logger.DaemonErrorw("verdict for unknown ident", logger.FieldIdent, ident)
		return VerdictNotFound, nil
	}

	ep := d.pool.EndpointAt(idx)
	if ep.State != endpoint.StateWaitingForDaemonDecision {
		d.pool.Unlock()
		logger.DaemonErrorw("verdict for endpoint in wrong state",
			logger.FieldIdent, ident, logger.FieldEndpoint, idx, logger.FieldState, ep.State.String())
		return VerdictInvalidState, nil
	}
	ep.AssignedClientID = clientID
	d.pool.Unlock()

	select {
	case d.pool.Completion() <- endpoint.CompletionEvent{Index: idx, Kind: endpoint.CompletionVerdict}:
	case <-ctx.Done():
		return VerdictOK, ctx.Err()
	}

	logger.DaemonInfow("verdict delivered", logger.FieldIdent, ident, logger.FieldEndpoint, idx)
	return VerdictOK, nil
}
