package analyzerpb

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with gRPC's encoding package and selected via
// grpc.ForceCodec on every analyzer call, in place of the default protobuf
// codec that hand-written message structs can't satisfy.
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Codec returns the encoding.Codec registered under the "json" name, for
// callers that want to force it on a ClientConn via grpc.ForceCodec
// instead of relying on content-subtype negotiation.
func Codec() encoding.Codec {
	return jsonCodec{}
}

// jsonCodec implements encoding.Codec (previously encoding.CodecV2 in
// newer grpc-go, but the Marshal/Unmarshal/Name shape below satisfies
// both generations of the interface) using encoding/json.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("analyzerpb: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("analyzerpb: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return codecName
}
