package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidMagic  = errors.New("invalid protocol magic")
	ErrFrameTooLarge = errors.New("frame length exceeds maximum")

	// ErrIncomplete signals that the decoder needs more bytes before a
	// full frame is available. Nothing has been consumed.
	ErrIncomplete = errors.New("incomplete frame")
)

// Envelope represents one complete protocol frame
type Envelope struct {
	Version uint8
	Type    uint8
	Payload []byte
}

// NewEnvelope creates an envelope for the given message type
func NewEnvelope(msgType uint8, payload []byte) *Envelope {
	return &Envelope{
		Version: ProtocolVersion,
		Type:    msgType,
		Payload: payload,
	}
}

// Encode encodes the envelope to wire bytes
func (e *Envelope) Encode() []byte {
	buf := make([]byte, HeaderSize+len(e.Payload))

	binary.BigEndian.PutUint32(buf[0:4], ProtocolMagic)
	buf[4] = e.Version
	buf[5] = e.Type
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(e.Payload)))
	copy(buf[HeaderSize:], e.Payload)

	return buf
}

// Decoder accumulates stream bytes and extracts complete frames. A TCP
// stream has no message boundaries, so Feed and Next are separate: Feed
// appends whatever arrived, Next consumes exactly one frame when enough
// bytes are buffered.
type Decoder struct {
	buf []byte
}

// Feed appends raw stream bytes to the decode buffer
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of unconsumed bytes
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next extracts the next complete envelope from the buffer.
//
// Returns ErrIncomplete when a full frame is not yet available; the caller
// should Feed more bytes and retry. ErrInvalidMagic and ErrFrameTooLarge
// are fatal: the stream can no longer be trusted to be frame-aligned and
// the connection must be closed.
func (d *Decoder) Next() (*Envelope, error) {
	if len(d.buf) < HeaderSize {
		return nil, ErrIncomplete
	}

	magic := binary.BigEndian.Uint32(d.buf[0:4])
	if magic != ProtocolMagic {
		return nil, ErrInvalidMagic
	}

	length := binary.BigEndian.Uint32(d.buf[6:10])
	if length > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}

	total := HeaderSize + int(length)
	if len(d.buf) < total {
		return nil, ErrIncomplete
	}

	env := &Envelope{
		Version: d.buf[4],
		Type:    d.buf[5],
		Payload: make([]byte, length),
	}
	copy(env.Payload, d.buf[HeaderSize:total])

	d.buf = d.buf[total:]
	return env, nil
}

// ReadEnvelope reads one complete envelope from an io.Reader
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	magic := binary.BigEndian.Uint32(header[0:4])
	if magic != ProtocolMagic {
		return nil, ErrInvalidMagic
	}

	length := binary.BigEndian.Uint32(header[6:10])
	if length > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return &Envelope{
		Version: header[4],
		Type:    header[5],
		Payload: payload,
	}, nil
}

// WriteEnvelope writes an envelope to an io.Writer
func WriteEnvelope(w io.Writer, e *Envelope) error {
	if _, err := w.Write(e.Encode()); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}
