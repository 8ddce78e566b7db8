package codec

import (
	"testing"

	"devtools-rpc/message"
)

func benchEnvelope() *message.Envelope {
	return &message.Envelope{
		ID:     "6f1c2a52-8a0e-4a57-9c1e-3b2d9f0e7a11",
		Type:   message.MsgTypeRequest,
		Method: "getComponentTree",
		Args:   []any{"root", int64(3), map[string]any{"depth": int64(2), "props": true}},
	}
}

func benchmarkCodec(b *testing.B, ct CodecType) {
	cdc := GetCodec(ct)
	env := benchEnvelope()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := cdc.Encode(env)
		if err != nil {
			b.Fatal(err)
		}
		var out message.Envelope
		if err := cdc.Decode(data, &out); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCodecTagged(b *testing.B) { benchmarkCodec(b, CodecTypeTagged) }
func BenchmarkCodecJSON(b *testing.B)   { benchmarkCodec(b, CodecTypeJSON) }
func BenchmarkCodecBinary(b *testing.B) { benchmarkCodec(b, CodecTypeBinary) }
