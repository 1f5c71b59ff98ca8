package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// CBORCodec uses CBOR (RFC 8949) for serialization. Compact binary encoding
// with the same schema-agnostic data model as JSON, so any command's
// argument/result shape can be carried without codec-side type knowledge.
type CBORCodec struct{}

func (c *CBORCodec) Encode(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (c *CBORCodec) Decode(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

func (c *CBORCodec) Type() CodecType {
	return CodecTypeCBOR
}
