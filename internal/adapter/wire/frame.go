// Package wire implements the byte-level encoding used by the local RPC
// socket and the envelope decoding shared by every transport.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"discord-rpc/internal/domain"
)

// HeaderSize is the fixed frame header length: opcode then payload length,
// both little-endian uint32.
const HeaderSize = 8

// DefaultMaxFrameSize caps the payload length a Decoder accepts.
const DefaultMaxFrameSize = 4 << 20

// Frame is one opcode-tagged unit of the local socket protocol.
type Frame struct {
	Op      domain.Opcode
	Payload []byte
}

// EncodeFrame returns the header followed by payload. A nil payload encodes
// as a zero-length frame.
func EncodeFrame(op domain.Opcode, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(op))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// EncodeJSONFrame marshals v and frames it with op.
func EncodeJSONFrame(op domain.Opcode, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", op, err)
	}
	return EncodeFrame(op, payload), nil
}

// DecodeFrame decodes b, which must hold exactly one complete frame.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < HeaderSize {
		return Frame{}, domain.NewDomainError("wire.DecodeFrame", domain.ErrProtocol,
			fmt.Sprintf("short header: %d bytes", len(b)))
	}
	length := binary.LittleEndian.Uint32(b[4:8])
	if uint64(len(b)-HeaderSize) != uint64(length) {
		return Frame{}, domain.NewDomainError("wire.DecodeFrame", domain.ErrProtocol,
			fmt.Sprintf("length %d does not match %d payload bytes", length, len(b)-HeaderSize))
	}
	return checkFrame(domain.Opcode(binary.LittleEndian.Uint32(b[0:4])), b[HeaderSize:])
}

func checkFrame(op domain.Opcode, payload []byte) (Frame, error) {
	if !op.Valid() {
		return Frame{}, domain.NewDomainError("wire.Decode", domain.ErrProtocol, fmt.Sprintf("unknown opcode %d", uint32(op)))
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return Frame{}, domain.NewDomainError("wire.Decode", domain.ErrProtocol, op.String()+" payload is not valid JSON")
	}
	return Frame{Op: op, Payload: payload}, nil
}

// Decoder reassembles frames from a byte stream delivered in arbitrary
// chunks. It is not safe for concurrent use.
type Decoder struct {
	buf     []byte
	maxSize uint32
}

// NewDecoder creates a Decoder rejecting payloads above maxSize bytes.
// A zero maxSize selects DefaultMaxFrameSize.
func NewDecoder(maxSize uint32) *Decoder {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &Decoder{maxSize: maxSize}
}

// Feed appends bytes read from the stream.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Next returns the next complete frame. ok is false when more bytes are
// needed. A protocol error consumes the offending frame and decoding may
// continue with the next call; ErrFrameTooLarge leaves the stream
// unrecoverable.
func (d *Decoder) Next() (frame Frame, ok bool, err error) {
	if len(d.buf) < HeaderSize {
		return Frame{}, false, nil
	}
	length := binary.LittleEndian.Uint32(d.buf[4:8])
	if length > d.maxSize {
		return Frame{}, false, domain.NewDomainError("wire.Decoder.Next", domain.ErrFrameTooLarge,
			fmt.Sprintf("%d > %d bytes", length, d.maxSize))
	}
	end := HeaderSize + int(length)
	if len(d.buf) < end {
		return Frame{}, false, nil
	}

	op := domain.Opcode(binary.LittleEndian.Uint32(d.buf[0:4]))
	payload := make([]byte, length)
	copy(payload, d.buf[HeaderSize:end])

	n := copy(d.buf, d.buf[end:])
	d.buf = d.buf[:n]

	frame, err = checkFrame(op, payload)
	if err != nil {
		return Frame{}, false, err
	}
	return frame, true, nil
}
