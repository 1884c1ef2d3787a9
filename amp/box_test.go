package amp

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestBoxCodecGoldenBytes(t *testing.T) {
	// The box format is fixed: 2-byte BE key length, key, 2-byte BE value
	// length, value, terminated by a zero-length key.
	var buf bytes.Buffer
	codec := NewBoxCodec(&buf)

	box := Box{
		{Key: "_command", Value: []byte("echo")},
		{Key: "_ask", Value: []byte("1")},
		{Key: "data", Value: []byte("hi")},
	}
	if err := codec.WriteBox(box); err != nil {
		t.Fatalf("WriteBox failed: %v", err)
	}

	want := []byte{
		0x00, 0x08, '_', 'c', 'o', 'm', 'm', 'a', 'n', 'd',
		0x00, 0x04, 'e', 'c', 'h', 'o',
		0x00, 0x04, '_', 'a', 's', 'k',
		0x00, 0x01, '1',
		0x00, 0x04, 'd', 'a', 't', 'a',
		0x00, 0x02, 'h', 'i',
		0x00, 0x00,
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("wire bytes mismatch:\n got %v\nwant %v", buf.Bytes(), want)
	}
}

func TestBoxCodecRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	codec := NewBoxCodec(&buf)

	box := Box{
		{Key: "a", Value: []byte("first")},
		{Key: "b", Value: nil},
		{Key: "a", Value: []byte("repeated keys survive")},
	}
	if err := codec.WriteBox(box); err != nil {
		t.Fatalf("WriteBox failed: %v", err)
	}

	got, err := codec.ReadBox()
	if err != nil {
		t.Fatalf("ReadBox failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 pairs, got %d", len(got))
	}
	for i := range box {
		if got[i].Key != box[i].Key || !bytes.Equal(got[i].Value, box[i].Value) {
			t.Errorf("pair %d mismatch: got %q=%q", i, got[i].Key, got[i].Value)
		}
	}
}

func TestBoxCodecWriteValidation(t *testing.T) {
	tests := []struct {
		name string
		box  Box
	}{
		{"empty key", Box{{Key: "", Value: []byte("v")}}},
		{"oversized key", Box{{Key: strings.Repeat("k", MaxKeyLength+1), Value: nil}}},
		{"oversized value", Box{{Key: "k", Value: make([]byte, MaxValueLength+1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := NewBoxCodec(&bytes.Buffer{})
			if err := codec.WriteBox(tt.box); err == nil {
				t.Error("expected write to be rejected")
			}
		})
	}
}

func TestBoxCodecMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"truncated key length", []byte{0x00}},
		{"truncated key", []byte{0x00, 0x04, 'a', 'b'}},
		{"truncated value length", []byte{0x00, 0x01, 'k', 0x00}},
		{"truncated value", []byte{0x00, 0x01, 'k', 0x00, 0x05, 'x'}},
		{"unterminated box", []byte{0x00, 0x01, 'k', 0x00, 0x01, 'v'}},
		{"oversized key length", []byte{0x01, 0x00, 'k'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := NewBoxCodec(bytes.NewBuffer(tt.raw))
			_, err := codec.ReadBox()
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Errorf("expected ProtocolError, got %v", err)
			}
		})
	}
}

func TestBoxCodecCleanEOF(t *testing.T) {
	codec := NewBoxCodec(bytes.NewBuffer(nil))
	if _, err := codec.ReadBox(); err != io.EOF {
		t.Errorf("expected io.EOF between boxes, got %v", err)
	}
}

func TestBoxGet(t *testing.T) {
	box := Box{{Key: "k", Value: []byte("v")}}
	if v, ok := box.Get("k"); !ok || string(v) != "v" {
		t.Errorf("Get(k) = %q, %v", v, ok)
	}
	if _, ok := box.Get("missing"); ok {
		t.Error("Get(missing) should report absence")
	}
	if s, ok := box.GetString("k"); !ok || s != "v" {
		t.Errorf("GetString(k) = %q, %v", s, ok)
	}
}
