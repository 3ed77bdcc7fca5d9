package runtimeclient

import "encoding/json"

// jsonCodec implements grpc/encoding.Codec over plain JSON payloads. The
// gRPC transport uses this instead of protoc-generated message types:
// every runtime worker already speaks the same JSON envelope as the HTTP
// transport (§4.4 "Both paths carry the same logical payload"), so gRPC
// here is purely an alternate framing/multiplexing layer, not a second
// schema to maintain.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}
