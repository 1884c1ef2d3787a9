package amp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestMsgpackCodecRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	codec := NewMsgpackCodec(&buf)

	box := Box{
		{Key: "_command", Value: []byte("echo")},
		{Key: "data", Value: []byte{0x01, 0x02}},
	}
	if err := codec.WriteBox(box); err != nil {
		t.Fatalf("WriteBox failed: %v", err)
	}

	// Frame header is a 4-byte big-endian payload length.
	raw := buf.Bytes()
	if len(raw) < 4 {
		t.Fatalf("frame too short: %d bytes", len(raw))
	}
	if got := binary.BigEndian.Uint32(raw[:4]); int(got) != len(raw)-4 {
		t.Errorf("frame length = %d, payload is %d bytes", got, len(raw)-4)
	}

	got, err := codec.ReadBox()
	if err != nil {
		t.Fatalf("ReadBox failed: %v", err)
	}
	if len(got) != 2 || got[0].Key != "_command" || !bytes.Equal(got[1].Value, box[1].Value) {
		t.Errorf("round trip mismatch: %v", got)
	}
}

func TestMsgpackCodecMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"zero frame size", []byte{0, 0, 0, 0}},
		{"truncated payload", []byte{0, 0, 0, 9, 0x01}},
		{"undecodable payload", []byte{0, 0, 0, 2, 0xc1, 0xc1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := NewMsgpackCodec(struct {
				io.Reader
				io.Writer
			}{bytes.NewReader(tt.raw), io.Discard})
			_, err := codec.ReadBox()
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Errorf("expected ProtocolError, got %v", err)
			}
		})
	}
}

func TestMsgpackCodecCleanEOF(t *testing.T) {
	codec := NewMsgpackCodec(struct {
		io.Reader
		io.Writer
	}{bytes.NewReader(nil), io.Discard})
	if _, err := codec.ReadBox(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestNewCodecSelector(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewCodec("box", &buf); err != nil {
		t.Errorf("box codec: %v", err)
	}
	if _, err := NewCodec("", &buf); err != nil {
		t.Errorf("default codec: %v", err)
	}
	if _, err := NewCodec("msgpack", &buf); err != nil {
		t.Errorf("msgpack codec: %v", err)
	}
	if _, err := NewCodec("json", &buf); err == nil {
		t.Error("expected unknown codec to be rejected")
	}
}
