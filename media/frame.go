package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// FrameType tags what a link payload carries.
type FrameType byte

const (
	// FrameAudio carries one encoded audio frame.
	FrameAudio FrameType = 0x01
	// FramePing requests an echo; its payload is the sender's monotonic
	// timestamp.
	FramePing FrameType = 0x02
	// FramePong echoes a ping's payload unchanged.
	FramePong FrameType = 0x03
	// FrameControl is reserved for in-band control traffic.
	FrameControl FrameType = 0x04
)

// String names the frame type for logs.
func (t FrameType) String() string {
	switch t {
	case FrameAudio:
		return "audio"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	case FrameControl:
		return "control"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// HeaderSize is the fixed frame prefix: 1 type byte and a 4-byte big-endian
// sequence number.
const HeaderSize = 5

// pingPayloadSize is the length of the monotonic timestamp a ping carries.
const pingPayloadSize = 8

var (
	// ErrFrameTooShort reports a payload smaller than the frame header.
	ErrFrameTooShort = errors.New("media frame shorter than header")

	// ErrBadPingPayload reports a ping or pong without the 8-byte timestamp.
	ErrBadPingPayload = errors.New("ping payload is not an 8-byte timestamp")
)

// Frame is one decoded link payload. Payload aliases the input buffer.
type Frame struct {
	Type    FrameType
	Seq     uint32
	Payload []byte
}

// EncodeFrame prepends the type and sequence header to payload.
func EncodeFrame(t FrameType, seq uint32, payload []byte) []byte {
	raw := make([]byte, HeaderSize+len(payload))
	raw[0] = byte(t)
	binary.BigEndian.PutUint32(raw[1:HeaderSize], seq)
	copy(raw[HeaderSize:], payload)
	return raw
}

// DecodeFrame splits a link payload into type, sequence and payload.
func DecodeFrame(raw []byte) (Frame, error) {
	if len(raw) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(raw))
	}
	return Frame{
		Type:    FrameType(raw[0]),
		Seq:     binary.BigEndian.Uint32(raw[1:HeaderSize]),
		Payload: raw[HeaderSize:],
	}, nil
}

// Sequencer hands out audio frame sequence numbers, wrapping modulo 2^32.
// It is owned by the capture goroutine and needs no locking.
type Sequencer struct {
	next uint32
}

// Next returns the current sequence number and advances the counter.
func (s *Sequencer) Next() uint32 {
	v := s.next
	s.next++
	return v
}

// EncodePingPayload renders a monotonic elapsed reading as the 8-byte
// big-endian nanosecond value a ping carries.
func EncodePingPayload(elapsed time.Duration) []byte {
	payload := make([]byte, pingPayloadSize)
	binary.BigEndian.PutUint64(payload, uint64(elapsed.Nanoseconds()))
	return payload
}

// DecodePingPayload recovers the monotonic reading echoed in a pong.
func DecodePingPayload(payload []byte) (time.Duration, error) {
	if len(payload) != pingPayloadSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrBadPingPayload, len(payload))
	}
	return time.Duration(binary.BigEndian.Uint64(payload)), nil
}
