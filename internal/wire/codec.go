package wire

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/qubesproject/qrexec-trigger-server/errors"
)

// ErrShortRead is returned when a record read off the wire is shorter
// than its fixed size — the protocol-violation case in spec.md §7.
var ErrShortRead = errors.New("wire: short read")

// ErrFieldTooLong is returned when encoding a field that does not fit
// in its fixed wire width.
var ErrFieldTooLong = errors.New("wire: field exceeds fixed width")

// ErrBadTag is returned when decoding a CreateProcessResponse whose
// tag is not one of the known discriminants.
var ErrBadTag = errors.New("wire: unknown create-process-response tag")

// EncodeTriggerConnectParams serializes p into its fixed-size wire
// representation.
func EncodeTriggerConnectParams(p TriggerConnectParams) ([]byte, error) {
	buf := make([]byte, TriggerConnectParamsSize)

	if err := putASCIIField(buf[:IdentBytes], p.Ident); err != nil {
		return nil, errors.Wrap(err, "ident")
	}

	execOff := IdentBytes
	if err := putUTF16Field(buf[execOff:execOff+ExecIndexChars*2], p.ExecIndex, ExecIndexChars); err != nil {
		return nil, errors.Wrap(err, "exec_index")
	}

	vmOff := execOff + ExecIndexChars*2
	if err := putUTF16Field(buf[vmOff:vmOff+TargetVMNameChars*2], p.TargetVMName, TargetVMNameChars); err != nil {
		return nil, errors.Wrap(err, "target_vmname")
	}

	return buf, nil
}

// DecodeTriggerConnectParams parses a fixed-size wire record into a
// TriggerConnectParams. Returns ErrShortRead if buf is shorter than
// TriggerConnectParamsSize, matching spec.md §4.3 S1's "verify the
// read length equals sizeof(params)" check.
func DecodeTriggerConnectParams(buf []byte) (TriggerConnectParams, error) {
	if len(buf) < TriggerConnectParamsSize {
		return TriggerConnectParams{}, ErrShortRead
	}

	execOff := IdentBytes
	vmOff := execOff + ExecIndexChars*2

	return TriggerConnectParams{
		Ident:        getASCIIField(buf[:IdentBytes]),
		ExecIndex:    getUTF16Field(buf[execOff : execOff+ExecIndexChars*2]),
		TargetVMName: getUTF16Field(buf[vmOff : vmOff+TargetVMNameChars*2]),
	}, nil
}

// EncodeCreateProcessResponse serializes r into its fixed-size wire
// representation.
func EncodeCreateProcessResponse(r CreateProcessResponse) []byte {
	buf := make([]byte, CreateProcessResponseSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Tag))
	binary.LittleEndian.PutUint32(buf[4:8], r.ErrorCode)
	binary.LittleEndian.PutUint64(buf[8:16], r.Handle)
	return buf
}

// DecodeCreateProcessResponse parses a fixed-size wire record into a
// CreateProcessResponse. Returns ErrShortRead on a truncated buffer
// and ErrBadTag on an unrecognized discriminant (both protocol
// violations per spec.md §7).
func DecodeCreateProcessResponse(buf []byte) (CreateProcessResponse, error) {
	if len(buf) < CreateProcessResponseSize {
		return CreateProcessResponse{}, ErrShortRead
	}

	tag := CreateProcessResponseTag(binary.LittleEndian.Uint32(buf[0:4]))
	switch tag {
	case CPRErrorCode, CPRHandle:
	default:
		return CreateProcessResponse{}, ErrBadTag
	}

	return CreateProcessResponse{
		Tag:       tag,
		ErrorCode: binary.LittleEndian.Uint32(buf[4:8]),
		Handle:    binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}

// EncodeClientPipeHandles serializes h into its fixed-size wire
// representation.
func EncodeClientPipeHandles(h ClientPipeHandles) []byte {
	buf := make([]byte, ClientPipeHandlesSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.Stdin)
	binary.LittleEndian.PutUint64(buf[8:16], h.Stdout)
	binary.LittleEndian.PutUint64(buf[16:24], h.Stderr)
	return buf
}

// DecodeClientPipeHandles parses a fixed-size wire record into a
// ClientPipeHandles.
func DecodeClientPipeHandles(buf []byte) (ClientPipeHandles, error) {
	if len(buf) < ClientPipeHandlesSize {
		return ClientPipeHandles{}, ErrShortRead
	}
	return ClientPipeHandles{
		Stdin:  binary.LittleEndian.Uint64(buf[0:8]),
		Stdout: binary.LittleEndian.Uint64(buf[8:16]),
		Stderr: binary.LittleEndian.Uint64(buf[16:24]),
	}, nil
}

func putASCIIField(dst []byte, s string) error {
	if len(s) > len(dst)-1 {
		return ErrFieldTooLong
	}
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
	return nil
}

func getASCIIField(src []byte) string {
	n := 0
	for n < len(src) && src[n] != 0 {
		n++
	}
	return string(src[:n])
}

func putUTF16Field(dst []byte, s string, chars int) error {
	units := utf16.Encode([]rune(s))
	if len(units) > chars-1 {
		return ErrFieldTooLong
	}
	for i := range dst {
		dst[i] = 0
	}
	for i, u := range units {
		binary.LittleEndian.PutUint16(dst[i*2:i*2+2], u)
	}
	return nil
}

func getUTF16Field(src []byte) string {
	units := make([]uint16, 0, len(src)/2)
	for i := 0; i+1 < len(src); i += 2 {
		u := binary.LittleEndian.Uint16(src[i : i+2])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}
