package amp

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxFramePayload caps a single msgpack frame.
const maxFramePayload = 10 * 1024 * 1024

// mpPair mirrors Pair for the msgpack wire shape. A box travels as a list of
// pairs so key ordering survives the trip.
type mpPair struct {
	Key   string `msgpack:"k"`
	Value []byte `msgpack:"v"`
}

type msgpackCodec struct {
	rw io.ReadWriter
}

// NewMsgpackCodec returns a Codec that frames boxes as a 4-byte big-endian
// payload length followed by a msgpack-encoded pair list.
func NewMsgpackCodec(rw io.ReadWriter) Codec {
	return &msgpackCodec{rw: rw}
}

func (c *msgpackCodec) WriteBox(b Box) error {
	pairs := make([]mpPair, 0, len(b))
	for _, p := range b {
		if len(p.Key) == 0 || len(p.Key) > MaxKeyLength {
			return fmt.Errorf("box key %q: length must be 1..%d", p.Key, MaxKeyLength)
		}
		if len(p.Value) > MaxValueLength {
			return fmt.Errorf("box value for key %q exceeds %d bytes", p.Key, MaxValueLength)
		}
		pairs = append(pairs, mpPair{Key: p.Key, Value: p.Value})
	}

	payload, err := msgpack.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("marshal box: %w", err)
	}
	if len(payload) > maxFramePayload {
		return fmt.Errorf("payload exceeds max size: %d > %d", len(payload), maxFramePayload)
	}

	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)

	if _, err := c.rw.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *msgpackCodec) ReadBox() (Box, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(c.rw, header); err != nil {
		if err != io.ErrUnexpectedEOF {
			// The stream ended at a frame boundary.
			return nil, err
		}
		return nil, &ProtocolError{Reason: "truncated frame header", Err: err}
	}

	size := binary.BigEndian.Uint32(header)
	if size == 0 || size > maxFramePayload {
		return nil, &ProtocolError{Reason: fmt.Sprintf("invalid frame size %d", size)}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(c.rw, payload); err != nil {
		return nil, &ProtocolError{Reason: "truncated frame payload", Err: err}
	}

	var pairs []mpPair
	if err := msgpack.Unmarshal(payload, &pairs); err != nil {
		return nil, &ProtocolError{Reason: "undecodable frame", Err: err}
	}

	box := make(Box, 0, len(pairs))
	for _, p := range pairs {
		if len(p.Key) == 0 || len(p.Key) > MaxKeyLength {
			return nil, &ProtocolError{Reason: fmt.Sprintf("key length %d out of range", len(p.Key))}
		}
		box = append(box, Pair{Key: p.Key, Value: p.Value})
	}
	return box, nil
}
