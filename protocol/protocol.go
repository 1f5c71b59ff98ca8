// Package protocol implements the binary frame protocol spoken between the
// agent and its callers.
//
// It solves TCP's sticky packet problem by using a fixed-size 14-byte header
// followed by a variable-length body. The receiver reads the header first to
// determine the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ hap  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// Two entry points are provided for reading frames. Decode consumes a
// blocking io.Reader and is what the client uses. Parse operates on an
// in-memory buffer and reports ErrNeedMore without consuming anything when
// the buffer does not yet hold a complete frame; the server's connection
// loop accumulates socket reads and retries Parse, which makes frame
// reassembly independent of how the bytes arrived.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic number bytes: "hap" (host agent protocol).
// Used to quickly identify whether the incoming data is a valid agent frame,
// rejecting non-protocol connections (e.g., HTTP clients hitting the wrong
// port).
const (
	MagicNumber byte = 0x68 // 'h'
	MagicByte2  byte = 0x61 // 'a'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (seq) + 4 (bodyLen)
)

// MaxBodyLen bounds the body of a single frame. Command output and
// telemetry snapshots fit comfortably below it; a larger length indicates a
// broken or hostile peer and the connection is aborted before any
// allocation happens.
const MaxBodyLen uint32 = 16 << 20 // 16 MiB

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Caller → Agent command request
	MsgTypeResponse  MsgType = 1 // Agent → Caller command response
	MsgTypeHeartbeat MsgType = 2 // KeepAlive probe (no body, never answered)
)

// Codec type constants, mirrored from the codec package to avoid a circular
// import.
const (
	CodecTypeJSON byte = 0
	CodecTypeCBOR byte = 1
)

// ErrNeedMore is returned by Parse when the buffer does not yet contain a
// complete frame. The caller appends more bytes and retries; nothing has
// been consumed.
var ErrNeedMore = errors.New("protocol: incomplete frame")

// ErrMalformed wraps all unrecoverable framing faults: bad magic, bad
// version, unknown codec or message type, or a body length past MaxBodyLen.
// The peer is considered unable to speak the protocol and the connection
// must be aborted without a response.
var ErrMalformed = errors.New("protocol: malformed frame")

// Header represents the fixed 14-byte frame header.
// It carries the metadata needed to decode the following body correctly.
type Header struct {
	CodecType byte    // Serialization format: 0=JSON, 1=CBOR
	MsgType   MsgType // Request, Response, or Heartbeat
	Seq       uint32  // Sequence ID — a response echoes its request's seq
	BodyLen   uint32  // Body length in bytes
}

// Encode writes a complete frame (header + body) to w.
// The caller must serialize writes if multiple goroutines share the same
// writer, otherwise frames will interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	if h.BodyLen > MaxBodyLen {
		return fmt.Errorf("%w: body length %d exceeds %d", ErrMalformed, h.BodyLen, MaxBodyLen)
	}

	buf := make([]byte, HeaderSize)
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], h.BodyLen)

	if _, err := w.Write(buf); err != nil {
		return err
	}
	// Body may be nil for heartbeat frames.
	if _, err := w.Write(body); err != nil {
		return err
	}
	return nil
}

// parseHeader validates the fixed header fields. buf must hold at least
// HeaderSize bytes.
func parseHeader(buf []byte) (*Header, error) {
	if buf[0] != MagicNumber || buf[1] != MagicByte2 || buf[2] != MagicByte3 {
		return nil, fmt.Errorf("%w: invalid magic number %x", ErrMalformed, buf[0:3])
	}
	if buf[3] != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, buf[3])
	}
	if buf[4] != CodecTypeJSON && buf[4] != CodecTypeCBOR {
		return nil, fmt.Errorf("%w: unsupported codec type %d", ErrMalformed, buf[4])
	}
	msgType := buf[5]
	if msgType != byte(MsgTypeRequest) && msgType != byte(MsgTypeResponse) && msgType != byte(MsgTypeHeartbeat) {
		return nil, fmt.Errorf("%w: unsupported message type %d", ErrMalformed, msgType)
	}
	bodyLen := binary.BigEndian.Uint32(buf[10:14])
	if bodyLen > MaxBodyLen {
		return nil, fmt.Errorf("%w: body length %d exceeds %d", ErrMalformed, bodyLen, MaxBodyLen)
	}
	return &Header{
		CodecType: buf[4],
		MsgType:   MsgType(msgType),
		Seq:       binary.BigEndian.Uint32(buf[6:10]),
		BodyLen:   bodyLen,
	}, nil
}

// Parse attempts to extract one complete frame from the front of buf.
//
// On success it returns the header, a copy of the body, and the number of
// bytes consumed; the caller advances its buffer by that amount. If buf does
// not yet hold a complete frame, Parse returns ErrNeedMore and has consumed
// nothing — the caller appends more bytes and retries, so the result is
// independent of how the input was chunked. Any other error wraps
// ErrMalformed and the connection should be aborted.
func Parse(buf []byte) (*Header, []byte, int, error) {
	if len(buf) < HeaderSize {
		return nil, nil, 0, ErrNeedMore
	}
	h, err := parseHeader(buf)
	if err != nil {
		return nil, nil, 0, err
	}
	total := HeaderSize + int(h.BodyLen)
	if len(buf) < total {
		return nil, nil, 0, ErrNeedMore
	}
	// Copy the body out so the caller is free to reuse its read buffer.
	body := make([]byte, h.BodyLen)
	copy(body, buf[HeaderSize:total])
	return h, body, total, nil
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, codec type, message type, and
// body length bound. Uses io.ReadFull to guarantee exactly N bytes are
// read, preventing partial reads.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}
	h, err := parseHeader(headerBuf)
	if err != nil {
		return nil, nil, err
	}
	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	return h, body, nil
}
