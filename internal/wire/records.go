// Package wire encodes and decodes the trigger server's fixed-size
// control records. The byte layout matches the original C struct
// layout exactly (spec.md §6): ASCII ident, UTF-16 service/domain
// names, and a tagged create-process-response union. This is the one
// place the repository deliberately keeps a C-shaped wire struct
// instead of a Go idiom, since qrexec clients in the guest already
// speak this format and changing it would break interop.
package wire

// Field widths, in wire units. Exec-index and target-vmname are
// UTF-16 code units (2 bytes each on the wire); ident is plain ASCII
// bytes. The original struct definition was not present among the
// retrieved sources, so these widths are chosen to comfortably hold a
// qrexec service specification ("qubes.Service+arg") and a Qubes
// domain name while staying a round number of bytes.
const (
	IdentBytes        = 32
	ExecIndexChars    = 32
	TargetVMNameChars = 32
)

// TriggerConnectParamsSize is the fixed wire size of a
// TriggerConnectParams record: IdentBytes ASCII bytes plus two
// UTF-16 fields of ExecIndexChars/TargetVMNameChars code units each.
const TriggerConnectParamsSize = IdentBytes + ExecIndexChars*2 + TargetVMNameChars*2

// TriggerConnectParams is the first message a client sends: the
// service it wants and the domain it wants it run in. The client
// never populates Ident; the server assigns it once the record is
// read (spec.md §6).
type TriggerConnectParams struct {
	Ident        string
	ExecIndex    string
	TargetVMName string
}

// CreateProcessResponseTag discriminates the three-variant union a
// client sends back after receiving its I/O handles.
type CreateProcessResponseTag uint32

const (
	// CPRNone means the client has not yet produced a result (never
	// valid on the wire; decoding this tag is a protocol violation).
	CPRNone CreateProcessResponseTag = iota
	// CPRErrorCode means process creation failed; ErrorCode is set.
	CPRErrorCode
	// CPRHandle means process creation succeeded; Handle is set.
	CPRHandle
)

// CreateProcessResponseSize is the fixed wire size of a
// CreateProcessResponse record: a 4-byte tag, a 4-byte error code,
// and an 8-byte handle value (unused fields are still present on the
// wire to keep the record fixed-size).
const CreateProcessResponseSize = 4 + 4 + 8

// CreateProcessResponse is the client's reply after it has created
// the requested process using the handles it was just given.
type CreateProcessResponse struct {
	Tag       CreateProcessResponseTag
	ErrorCode uint32
	Handle    uint64
}

// ClientPipeHandlesSize is the fixed wire size of the three-handle
// reply record sent to the client.
const ClientPipeHandlesSize = 8 * 3

// ClientPipeHandles is the fixed-size triple of I/O channel handles
// written to the client in S4. Each value is the position (0, 1, 2) of
// the matching descriptor in the SCM_RIGHTS payload sent with the
// record, not a descriptor number in the client's process; the client's
// kernel assigns those numbers on receipt.
type ClientPipeHandles struct {
	Stdin  uint64
	Stdout uint64
	Stderr uint64
}

// ErrorSource identifies who raised an exit-code error reported to
// the dispatcher (MAKE_ERROR_RESPONSE in spec.md §4.4).
type ErrorSource uint32

const (
	ErrorSourceWindows ErrorSource = iota // ERROR_SET_WINDOWS: process-creation failure reported by the client
)

// ExitCodeResponse is passed to the dispatcher's SendExitCode when the
// client reports a create-process failure instead of a handle.
type ExitCodeResponse struct {
	Source ErrorSource
	Code   uint32
}
