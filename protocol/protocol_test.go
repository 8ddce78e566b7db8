package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: CodecTypeTagged,
		MsgType:   MsgTypeEnvelope,
		BodyLen:   11,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	if err := Encode(&buf, &header, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if *decodedHeader != header {
		t.Errorf("header mismatch: got %+v, want %+v", *decodedHeader, header)
	}
	if !bytes.Equal(decodedBody, body) {
		t.Errorf("Body mismatch: got %s, want %s", string(decodedBody), string(body))
	}
}

func TestDecodeSequentialFrames(t *testing.T) {
	var buf bytes.Buffer
	for _, b := range []string{"one", "two", "three"} {
		h := &Header{CodecType: CodecTypeJSON, MsgType: MsgTypeEnvelope, BodyLen: uint32(len(b))}
		if err := Encode(&buf, h, []byte(b)); err != nil {
			t.Fatal(err)
		}
	}

	for _, want := range []string{"one", "two", "three"} {
		_, body, err := Decode(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if string(body) != want {
			t.Fatalf("expect %s, got %s", want, body)
		}
	}

	if _, _, err := Decode(&buf); err != io.EOF {
		t.Fatalf("expect io.EOF after last frame, got %v", err)
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{'G', 'E', 'T', Version, CodecTypeTagged, byte(MsgTypeEnvelope), 0, 0, 0, 0})

	_, _, err := Decode(&buf)
	if err == nil {
		t.Fatal("Expected error for invalid magic number, but got nil")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("invalid magic number")) {
		t.Errorf("Error message should contain 'invalid magic', instead: %v", err)
	}
}

func TestDecodeInvalidVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{MagicNumber, MagicByte2, MagicByte3, 0xFF, CodecTypeTagged, byte(MsgTypeEnvelope), 0, 0, 0, 0})

	_, _, err := Decode(&buf)
	if err == nil || !bytes.Contains([]byte(err.Error()), []byte("unsupported version")) {
		t.Fatalf("expect unsupported version error, got %v", err)
	}
}

func TestDecodeRejectsOversizedBody(t *testing.T) {
	frame := []byte{MagicNumber, MagicByte2, MagicByte3, Version, CodecTypeTagged, byte(MsgTypeEnvelope), 0, 0, 0, 0}
	binary.BigEndian.PutUint32(frame[6:10], MaxBodySize+1)

	_, _, err := Decode(bytes.NewReader(frame))
	if err == nil || !bytes.Contains([]byte(err.Error()), []byte("too large")) {
		t.Fatalf("expect body too large error, got %v", err)
	}
}

func TestEncodeLengthMismatch(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, &Header{MsgType: MsgTypeEnvelope, BodyLen: 3}, []byte("hello"))
	if err == nil {
		t.Fatal("expect error for mismatched body length")
	}
	if buf.Len() != 0 {
		t.Fatalf("nothing should be written on error, got %d bytes", buf.Len())
	}
}

func TestDecodeHeartbeat(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Header{MsgType: MsgTypeHeartbeat}, nil); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	h, body, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if h.MsgType != MsgTypeHeartbeat {
		t.Errorf("MsgType mismatch: got %d, want %d", h.MsgType, MsgTypeHeartbeat)
	}
	if len(body) != 0 {
		t.Errorf("Expected empty body, got length %d", len(body))
	}
}

func TestDecodeLargeBody(t *testing.T) {
	var buf bytes.Buffer

	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	header := &Header{
		CodecType: CodecTypeBinary,
		MsgType:   MsgTypeEnvelope,
		BodyLen:   uint32(len(largeBody)),
	}
	if err := Encode(&buf, header, largeBody); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	_, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decodedBody, largeBody) {
		t.Errorf("large body mismatch")
	}
}
