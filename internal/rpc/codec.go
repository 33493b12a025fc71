package rpc

import (
	"encoding/json"
)

// jsonCodec lets connect carry plain Go structs, the wire schema is the JSON
// form of the model package.
type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(b []byte, v any) error {
	return json.Unmarshal(b, v)
}
