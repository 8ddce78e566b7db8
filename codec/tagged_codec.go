package codec

import (
	"fmt"

	"devtools-rpc/message"
)

// TaggedCodec encodes values with the reversible tagged format.
type TaggedCodec struct{}

func (c *TaggedCodec) Encode(v any) ([]byte, error) {
	if env, ok := v.(*message.Envelope); ok {
		return Marshal(EnvelopeValue(env))
	}
	return Marshal(v)
}

// Decode accepts *message.Envelope or *any.
func (c *TaggedCodec) Decode(data []byte, v any) error {
	decoded, err := Unmarshal(data)
	if err != nil {
		return err
	}
	switch out := v.(type) {
	case *message.Envelope:
		env, err := EnvelopeFromValue(decoded)
		if err != nil {
			return err
		}
		*out = *env
	case *any:
		*out = decoded
	default:
		return fmt.Errorf("TaggedCodec: cannot decode into %T", v)
	}
	return nil
}

func (c *TaggedCodec) Type() CodecType {
	return CodecTypeTagged
}
