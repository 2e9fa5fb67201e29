package driver

import (
	"context"

	"github.com/qubesproject/qrexec-trigger-server/internal/wire"
)

// Sink is the blocking "higher-level message transport toward the
// daemon" spec.md §1 leaves abstract. Defined locally rather than
// imported from internal/daemonclient so that package can depend on
// driver (for VerdictIntake) without an import cycle; any type with
// this method — including *daemonclient.Client — satisfies it.
type Sink interface {
	TriggerConnectExisting(ctx context.Context, params wire.TriggerConnectParams) error
}
