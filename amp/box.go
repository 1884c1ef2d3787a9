package amp

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// MaxKeyLength is the longest key a box may carry. The length field is
	// two bytes wide but keys above 255 bytes are rejected for
	// compatibility with existing worker bootstraps.
	MaxKeyLength = 255

	// MaxValueLength is the longest value a box may carry.
	MaxValueLength = 65535
)

// Reserved protocol keys. Command argument and response fields must not use
// names starting with an underscore.
const (
	keyCommand          = "_command"
	keyAsk              = "_ask"
	keyAnswer           = "_answer"
	keyError            = "_error"
	keyErrorCode        = "_error_code"
	keyErrorDescription = "_error_description"
)

// Pair is a single key/value entry in a box.
type Pair struct {
	Key   string
	Value []byte
}

// Box is one protocol frame: an ordered sequence of key/value pairs.
type Box []Pair

// Get returns the value for key and whether it was present.
func (b Box) Get(key string) ([]byte, bool) {
	for _, p := range b {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// GetString is Get with the value converted to a string.
func (b Box) GetString(key string) (string, bool) {
	v, ok := b.Get(key)
	if !ok {
		return "", false
	}
	return string(v), true
}

// Codec reads and writes boxes over some transport. Implementations are not
// safe for concurrent use; callers serialize access.
type Codec interface {
	WriteBox(Box) error
	ReadBox() (Box, error)
}

// Codec selector names accepted by NewCodec.
const (
	CodecBox     = "box"
	CodecMsgpack = "msgpack"
)

// NewCodec returns the codec registered under name, bound to rw.
func NewCodec(name string, rw io.ReadWriter) (Codec, error) {
	switch name {
	case CodecBox, "":
		return NewBoxCodec(rw), nil
	case CodecMsgpack:
		return NewMsgpackCodec(rw), nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type boxCodec struct {
	w io.Writer
	r *bufio.Reader
}

// NewBoxCodec returns a Codec speaking the native box wire format over rw.
func NewBoxCodec(rw io.ReadWriter) Codec {
	return &boxCodec{w: rw, r: bufio.NewReader(rw)}
}

// WriteBox serializes b and writes it as a single frame.
func (c *boxCodec) WriteBox(b Box) error {
	buf := make([]byte, 0, 64)
	var l [2]byte
	for _, p := range b {
		if len(p.Key) == 0 || len(p.Key) > MaxKeyLength {
			return fmt.Errorf("box key %q: length must be 1..%d", p.Key, MaxKeyLength)
		}
		if len(p.Value) > MaxValueLength {
			return fmt.Errorf("box value for key %q exceeds %d bytes", p.Key, MaxValueLength)
		}
		binary.BigEndian.PutUint16(l[:], uint16(len(p.Key)))
		buf = append(buf, l[:]...)
		buf = append(buf, p.Key...)
		binary.BigEndian.PutUint16(l[:], uint16(len(p.Value)))
		buf = append(buf, l[:]...)
		buf = append(buf, p.Value...)
	}
	buf = append(buf, 0, 0)

	if _, err := c.w.Write(buf); err != nil {
		return fmt.Errorf("write box: %w", err)
	}
	return nil
}

// ReadBox reads one frame. It returns io.EOF when the stream closes cleanly
// between boxes, and a *ProtocolError for any malformed frame.
func (c *boxCodec) ReadBox() (Box, error) {
	var box Box
	var l [2]byte
	for {
		if _, err := io.ReadFull(c.r, l[:]); err != nil {
			if len(box) == 0 && err != io.ErrUnexpectedEOF {
				// Nothing of a frame arrived: the stream ended, it did
				// not corrupt. Callers see the transport's own error.
				return nil, err
			}
			return nil, &ProtocolError{Reason: "truncated box", Err: err}
		}
		klen := binary.BigEndian.Uint16(l[:])
		if klen == 0 {
			return box, nil
		}
		if klen > MaxKeyLength {
			return nil, &ProtocolError{Reason: fmt.Sprintf("key length %d exceeds %d", klen, MaxKeyLength)}
		}
		key := make([]byte, klen)
		if _, err := io.ReadFull(c.r, key); err != nil {
			return nil, &ProtocolError{Reason: "truncated key", Err: err}
		}
		if _, err := io.ReadFull(c.r, l[:]); err != nil {
			return nil, &ProtocolError{Reason: "truncated value length", Err: err}
		}
		vlen := binary.BigEndian.Uint16(l[:])
		val := make([]byte, vlen)
		if _, err := io.ReadFull(c.r, val); err != nil {
			return nil, &ProtocolError{Reason: "truncated value", Err: err}
		}
		box = append(box, Pair{Key: string(key), Value: val})
	}
}
