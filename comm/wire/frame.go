// Package wire encodes protocol messages into length-prefixed frames.
//
// A frame is a 32-byte big-endian fixed header followed by a payload of TLV
// fields:
//
//	magic u32 | version u16 | header_len u16 | message_id u64 |
//	message_type u32 | flags u32 | payload_len u64
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Magic          uint32 = 0x47584348 // "GXCH"
	Version        uint16 = 1
	FixedHeaderLen uint16 = 32

	// FlagNotify marks a message that the sender did not wait on.
	FlagNotify uint32 = 0x01
)

var (
	ErrShortHeader        = errors.New("wire: short fixed header")
	ErrInvalidMagic       = errors.New("wire: invalid magic")
	ErrUnsupportedVersion = errors.New("wire: unsupported version")
	ErrInvalidHeaderLen   = errors.New("wire: invalid header length")
	ErrPayloadTooLarge    = errors.New("wire: payload too large")
)

// Header is the fixed frame header.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageID   uint64
	MessageType uint32
	Flags       uint32
	PayloadLen  uint64
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains decode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

// DefaultLimits allows boundaries of roughly a million points.
func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 64 * 1024 * 1024}
}

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}

		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}

	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}

	return Frame{Header: h, Payload: payload}, nil
}

// WriteFrame writes f to w. Magic, version and lengths are filled in.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	payloadLen := uint64(len(f.Payload))
	if payloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = FixedHeaderLen
	h.PayloadLen = payloadLen

	buf := make([]byte, 0, int(FixedHeaderLen)+len(f.Payload))
	buf = append(buf, EncodeHeader(h)...)
	buf = append(buf, f.Payload...)

	_, err := w.Write(buf)

	return err
}

// EncodeHeader serializes h.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.MessageID)
	binary.BigEndian.PutUint32(buf[16:20], h.MessageType)
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)

	return buf
}

// DecodeHeader parses and validates a fixed header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("wire: invalid fixed header length: %d", len(b))
	}

	h := Header{
		Magic:       binary.BigEndian.Uint32(b[0:4]),
		Version:     binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:   binary.BigEndian.Uint16(b[6:8]),
		MessageID:   binary.BigEndian.Uint64(b[8:16]),
		MessageType: binary.BigEndian.Uint32(b[16:20]),
		Flags:       binary.BigEndian.Uint32(b[20:24]),
		PayloadLen:  binary.BigEndian.Uint64(b[24:32]),
	}

	if h.Magic != Magic {
		return Header{}, ErrInvalidMagic
	}

	if h.Version != Version {
		return Header{}, ErrUnsupportedVersion
	}

	if h.HeaderLen != FixedHeaderLen {
		return Header{}, ErrInvalidHeaderLen
	}

	return h, nil
}
