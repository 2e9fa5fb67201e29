package daemonclient

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is the grpc content-subtype every call in this
// package requests, so the transport picks jsonCodec instead of the
// default proto codec (spec.md §2's daemon sink has no protobuf
// schema of its own — this repository's messages are plain structs).
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)    { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                             { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
