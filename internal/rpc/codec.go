package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is advertised as the grpc wire format name; clients must
// dial with grpc.CallContentSubtype(codecName) or register the same
// codec as the default to talk to a Server built by this package.
const codecName = "json"

// jsonCodec marshals gRPC messages as JSON instead of protobuf. The
// kernel's RPC messages are plain structs (see messages.go), so there is
// no protobuf schema to generate stubs from; gRPC only requires that
// whatever Codec is registered can (de)serialize the Go values the
// service handlers pass it.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal json: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: unmarshal json: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
