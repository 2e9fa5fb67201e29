// Package daemonclient is the concrete "higher-level message
// transport toward the daemon" spec.md §1 leaves abstract: a
// google.golang.org/grpc client/server pair over a Unix-domain
// socket, using a hand-rolled JSON codec since neither side of this
// exchange has (or needs) a protobuf schema.
package daemonclient

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/qubesproject/qrexec-trigger-server/errors"
	"github.com/qubesproject/qrexec-trigger-server/internal/wire"
)

// Client implements driver.Sink over grpc, forwarding
// TriggerConnectExisting to a daemon listening at a unix socket
// address (e.g. "unix:///run/qrexec/daemon.sock").
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon at address, blocking until the
// connection is ready or dialTimeout elapses.
func Dial(ctx context.Context, address string, dialTimeout time.Duration) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing daemon at %s", address)
	}
	return &Client{conn: conn}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// TriggerConnectExisting implements driver.Sink.
func (c *Client) TriggerConnectExisting(ctx context.Context, params wire.TriggerConnectParams) error {
	req := &triggerConnectExistingRequest{
		Ident:        params.Ident,
		ExecIndex:    params.ExecIndex,
		TargetVMName: params.TargetVMName,
	}
	resp := &triggerConnectExistingResponse{}
	if err := c.conn.Invoke(ctx, methodTriggerConnectExisting, req, resp, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return errors.Wrapf(err, "TriggerConnectExisting(ident=%s)", params.Ident)
	}
	return nil
}
