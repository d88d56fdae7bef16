// Package pluginrpc defines the gRPC surface a plugin process exposes:
// message shapes, a JSON wire codec, and a hand-authored ServiceDesc.
// There is no .proto file backing this — plugins are built and
// distributed independently of this module, so the contract here is
// the wire contract itself rather than generated stubs.
package pluginrpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is registered with grpc's global codec registry and must
// match the "content-subtype" both sides negotiate.
const CodecName = "json"

// jsonCodec implements encoding.Codec by delegating to encoding/json,
// so plugin messages are plain JSON-tagged structs instead of
// generated protobuf types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("pluginrpc: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("pluginrpc: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
