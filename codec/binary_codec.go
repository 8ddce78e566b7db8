package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"devtools-rpc/message"
)

// BinaryCodec writes the envelope header fields as length-prefixed strings and
// only the values (args, result) through the tagged format.
//
//	type(2+n) id(2+n) method(2+n) flags(1) errName(2+n) errMessage(4+n) payload(4+n)
type BinaryCodec struct{}

const flagHasError byte = 1

var errShortBuffer = errors.New("BinaryCodec: short buffer")

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	// v must be *Envelope
	env, ok := v.(*message.Envelope)
	if !ok {
		return nil, errors.New("BinaryCodec: v must be *Envelope")
	}

	payload, err := Marshal([]any{env.Args, env.Result})
	if err != nil {
		return nil, err
	}

	var flags byte
	var errName, errMsg string
	if env.Error != nil {
		flags |= flagHasError
		errName, errMsg = env.Error.Name, env.Error.Message
	}

	for _, s := range []string{string(env.Type), env.ID, env.Method, errName} {
		if len(s) > 0xffff {
			return nil, fmt.Errorf("BinaryCodec: field too long (%d bytes)", len(s))
		}
	}

	// Calculate the length of the message
	total := 2 + len(env.Type) + 2 + len(env.ID) + 2 + len(env.Method) + 1 +
		2 + len(errName) + 4 + len(errMsg) + 4 + len(payload)
	buf := make([]byte, 0, total)

	buf = appendString16(buf, string(env.Type))
	buf = appendString16(buf, env.ID)
	buf = appendString16(buf, env.Method)
	buf = append(buf, flags)
	buf = appendString16(buf, errName)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(errMsg)))
	buf = append(buf, errMsg...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	return buf, nil
}

func appendString16(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

type binaryReader struct {
	data   []byte
	offset int
	err    error
}

func (r *binaryReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.offset+n > len(r.data) {
		r.err = errShortBuffer
		return nil
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *binaryReader) string16() string {
	b := r.take(2)
	if b == nil {
		return ""
	}
	return string(r.take(int(binary.BigEndian.Uint16(b))))
}

func (r *binaryReader) bytes32() []byte {
	b := r.take(4)
	if b == nil {
		return nil
	}
	return r.take(int(binary.BigEndian.Uint32(b)))
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	// v must be *Envelope
	env, ok := v.(*message.Envelope)
	if !ok {
		return errors.New("BinaryCodec: v must be *Envelope")
	}

	r := &binaryReader{data: data}
	typ := r.string16()
	id := r.string16()
	method := r.string16()
	flags := r.take(1)
	errName := r.string16()
	errMsg := string(r.bytes32())
	payload := r.bytes32()
	if r.err != nil {
		return r.err
	}
	if typ == "" {
		return ErrNotEnvelope
	}

	decoded, err := Unmarshal(payload)
	if err != nil {
		return err
	}
	values, ok := decoded.([]any)
	if !ok || len(values) != 2 {
		return fmt.Errorf("%w: binary payload", ErrNotEnvelope)
	}

	*env = message.Envelope{
		ID:     id,
		Type:   message.MsgType(typ),
		Method: method,
		Result: values[1],
	}
	if args, ok := values[0].([]any); ok {
		env.Args = args
	}
	if flags[0]&flagHasError != 0 {
		env.Error = &message.ErrorInfo{Name: errName, Message: errMsg}
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
