package endpoint

import "net"

// CompletionKind distinguishes what kind of async operation a
// CompletionEvent reports the end of.
type CompletionKind int

const (
	// CompletionAccept reports the end of a pending Accept (S0).
	CompletionAccept CompletionKind = iota
	// CompletionRead reports the end of a pending Read (S1, S5).
	CompletionRead
	// CompletionWrite reports the end of a pending Write (S4).
	CompletionWrite
	// CompletionVerdict reports a daemon verdict delivered directly by
	// VerdictIntake — the Go analogue of the verdict intake signaling
	// an endpoint's own completion event (spec.md §4.3 S3).
	CompletionVerdict
)

// CompletionEvent is what every in-flight async operation reports,
// carried on the pool's single shared fan-in channel. The channel
// union over all in-flight operations plus ctx.Done() in the driver's
// select IS the "wait on N completion handles plus shutdown" from
// spec.md §5 — there is no separate per-endpoint channel to multiplex
// over in the driver's select.
type CompletionEvent struct {
	Index int
	Kind  CompletionKind

	// Conn is populated on CompletionAccept.
	Conn net.Conn
	// Creds is populated on CompletionAccept, if peer credentials
	// could be recovered.
	Creds *PeerCreds

	// Buf and N are populated on CompletionRead: Buf is the exact
	// slice read, N is the byte count actually filled.
	Buf []byte
	N   int

	// Err carries a non-nil error for any failed operation —
	// protocol violations are reported by the caller after decoding,
	// not here; Err here means the underlying I/O itself failed.
	Err error
}
