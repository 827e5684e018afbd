// Package protocol implements the framed MessagePack wire format spoken over
// the focusd socket.
//
// Every frame is a 4-byte little-endian payload length followed by exactly
// that many payload bytes. Payloads are capped at MaxPayloadSize; the cap is
// enforced on both encode and decode so a protocol change can never silently
// desynchronize the framing.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxPayloadSize is the fixed receive buffer bound for a single frame.
const MaxPayloadSize = 1024

// ErrOversizedFrame reports a payload that does not fit into a single frame.
var ErrOversizedFrame = errors.New("frame exceeds 1024 byte payload limit")

// TransportError wraps a failure of the underlying byte stream: connect,
// read or write errors, or the peer hanging up (possibly mid-frame).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError wraps a violation of the wire format itself: an oversized
// length field or an undecodable payload. The stream position is unknown
// after a protocol error, so the only safe recovery is closing the
// connection.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsTransport reports whether err originated from the byte stream rather
// than from the wire format.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProtocol reports whether err is a wire format violation.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// Send encodes msg with MessagePack and writes one length-prefixed frame.
// Encoding failures and oversized payloads return a ProtocolError before
// anything is written; write failures return a TransportError.
func Send(w io.Writer, msg any) error {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return &ProtocolError{Op: "encode", Err: err}
	}
	if len(payload) > MaxPayloadSize {
		return &ProtocolError{Op: "encode", Err: fmt.Errorf("%w (%d bytes)", ErrOversizedFrame, len(payload))}
	}

	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)

	if _, err := w.Write(frame); err != nil {
		return &TransportError{Op: "write frame", Err: err}
	}
	return nil
}

// Receive reads exactly one frame from r and decodes it into an M.
//
// The read suspends until the full frame is available or the stream closes.
// A stream that closes before or inside a frame yields a TransportError; a
// length field over MaxPayloadSize or an undecodable payload yields a
// ProtocolError.
func Receive[M any](r io.Reader) (M, error) {
	var msg M

	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return msg, &TransportError{Op: "read frame header", Err: err}
	}

	length := binary.LittleEndian.Uint32(head[:])
	if length > MaxPayloadSize {
		return msg, &ProtocolError{Op: "read frame header", Err: fmt.Errorf("%w (length field %d)", ErrOversizedFrame, length)}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		// EOF here means the peer hung up mid-frame, not a malformed payload.
		return msg, &TransportError{Op: "read frame payload", Err: err}
	}

	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		return msg, &ProtocolError{Op: "decode", Err: err}
	}
	return msg, nil
}
