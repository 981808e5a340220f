package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the content-subtype grpc negotiates for every call this
// package makes. There is no .proto schema behind these messages — the
// wire format is plain JSON — so none of them can satisfy proto.Message,
// which rules out grpc's default codec. jsonCodec stands in for it.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
