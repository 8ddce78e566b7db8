// Package codec serializes envelopes and the values they carry.
//
// The tagged codec is the default: it round-trips values a plain JSON encoder
// cannot represent (undefined, Map, Set, Date, RegExp, BigInt, errors, shared
// and cyclic references). The JSON codec produces the plain
// {id,type,method,args,result,error} shape for peers that only speak JSON.
// The binary codec keeps envelope header fields outside the tagged payload and
// is used on stream connections.
package codec

type CodecType byte

const (
	CodecTypeTagged CodecType = 0
	CodecTypeJSON   CodecType = 1
	CodecTypeBinary CodecType = 2
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// GetCodec returns the codec for codecType, falling back to the tagged codec.
func GetCodec(codecType CodecType) Codec {
	switch codecType {
	case CodecTypeJSON:
		return &JSONCodec{}
	case CodecTypeBinary:
		return &BinaryCodec{}
	}
	return &TaggedCodec{}
}

// Valid reports whether codecType names a known codec.
func (c CodecType) Valid() bool {
	return c <= CodecTypeBinary
}

func (c CodecType) String() string {
	switch c {
	case CodecTypeTagged:
		return "tagged"
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	}
	return "unknown"
}
