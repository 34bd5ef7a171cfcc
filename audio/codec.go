package audio

import (
	"errors"
	"fmt"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"

	"github.com/kc1awv/lxst-phone/signaling"
)

var (
	// ErrCodecInit reports that a codec could not be constructed from the
	// given parameters. The session treats it as fatal to the call.
	ErrCodecInit = errors.New("audio codec init failed")

	// ErrBadFrame reports a frame whose size does not match the codec
	// parameters. The session counts it and skips the frame.
	ErrBadFrame = errors.New("audio frame size mismatch")

	// ErrCodecClosed reports use of an encoder or decoder after Close.
	ErrCodecClosed = errors.New("audio codec is closed")
)

// Encoder turns one PCM frame into its wire payload. Implementations are
// used from a single capture goroutine and need no internal locking.
type Encoder interface {
	// Encode converts exactly one frame of FrameSize samples.
	Encode(pcm []int16) ([]byte, error)
	// FrameSize returns the per-frame sample count the encoder expects.
	FrameSize() int
	Close() error
}

// Decoder turns one wire payload back into a PCM frame. Implementations are
// used from a single playback goroutine and need no internal locking.
type Decoder interface {
	// Decode converts one received payload into PCM samples.
	Decode(data []byte) ([]int16, error)
	// FrameSize returns the per-frame sample count of the decoded output.
	FrameSize() int
	Close() error
}

// NewEncoder constructs the encoder for the negotiated parameters. Both
// codec profiles currently share the PCM passthrough implementation.
func NewEncoder(p Params) (Encoder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"function":    "NewEncoder",
		"codec":       p.Codec,
		"sample_rate": p.SampleRate,
		"frame_ms":    p.FrameMs,
		"bitrate":     p.Bitrate,
	}).Debug("Audio encoder created")
	return &pcmEncoder{params: p}, nil
}

// NewDecoder constructs the decoder for the negotiated parameters. The Opus
// profile gets the pion/opus backed decoder, Codec2 the passthrough one.
func NewDecoder(p Params) (Decoder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"function":    "NewDecoder",
		"codec":       p.Codec,
		"sample_rate": p.SampleRate,
		"frame_ms":    p.FrameMs,
	}).Debug("Audio decoder created")
	if p.Codec == signaling.CodecOpus {
		dec := opus.NewDecoder()
		return &opusDecoder{params: p, dec: &dec, buf: make([]byte, maxOpusDecodeBytes)}, nil
	}
	return &pcmDecoder{params: p}, nil
}

// pcmEncoder is the passthrough encoder: each frame goes out as raw 16-bit
// little-endian samples. It stands in for a real Opus or Codec2 encoder
// until a pure Go implementation exists.
type pcmEncoder struct {
	params Params
	closed bool
}

func (e *pcmEncoder) Encode(pcm []int16) ([]byte, error) {
	if e.closed {
		return nil, ErrCodecClosed
	}
	if len(pcm) != e.params.FrameSamples() {
		return nil, fmt.Errorf("%w: got %d samples, want %d", ErrBadFrame, len(pcm), e.params.FrameSamples())
	}
	data := make([]byte, len(pcm)*2)
	for i, sample := range pcm {
		data[i*2] = byte(sample)
		data[i*2+1] = byte(sample >> 8)
	}
	return data, nil
}

func (e *pcmEncoder) FrameSize() int { return e.params.FrameSamples() }

func (e *pcmEncoder) Close() error {
	e.closed = true
	return nil
}

// pcmDecoder is the passthrough decoder matching pcmEncoder.
type pcmDecoder struct {
	params Params
	closed bool
}

func (d *pcmDecoder) Decode(data []byte) ([]int16, error) {
	if d.closed {
		return nil, ErrCodecClosed
	}
	if len(data) != d.params.FrameBytes() {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrBadFrame, len(data), d.params.FrameBytes())
	}
	return pcmFromBytes(data), nil
}

func (d *pcmDecoder) FrameSize() int { return d.params.FrameSamples() }

func (d *pcmDecoder) Close() error {
	d.closed = true
	return nil
}

// maxOpusDecodeBytes sizes the reusable decode buffer for the longest
// standard Opus frame: 60 ms of stereo int16 at 48 kHz.
const maxOpusDecodeBytes = 5760 * 2 * 2

// opusDecoder decodes standard Opus frames through pion/opus and falls back
// to the passthrough format for frames produced by pcmEncoder. The two are
// told apart by length: a passthrough frame is exactly FrameBytes long
// while Opus frames at the supported bitrates stay an order of magnitude
// smaller.
type opusDecoder struct {
	params Params
	dec    *opus.Decoder
	buf    []byte
	closed bool
}

func (d *opusDecoder) Decode(data []byte) ([]int16, error) {
	if d.closed {
		return nil, ErrCodecClosed
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrBadFrame)
	}
	if len(data) == d.params.FrameBytes() {
		return pcmFromBytes(data), nil
	}

	bandwidth, isStereo, err := d.dec.Decode(data, d.buf)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}

	// One protocol frame is always FrameMs long, so the decoded sample
	// count follows from the bandwidth's sample rate.
	count := int(bandwidth.SampleRate()) * d.params.FrameMs / 1000
	if isStereo {
		count *= 2
	}
	if count > len(d.buf)/2 {
		count = len(d.buf) / 2
	}
	samples := pcmFromBytes(d.buf[:count*2])
	if isStereo {
		samples = downmixStereo(samples)
	}
	logrus.WithFields(logrus.Fields{
		"function":  "opusDecoder.Decode",
		"bandwidth": bandwidth.String(),
		"stereo":    isStereo,
		"samples":   len(samples),
	}).Trace("Decoded opus frame")
	return samples, nil
}

func (d *opusDecoder) FrameSize() int { return d.params.FrameSamples() }

func (d *opusDecoder) Close() error {
	d.closed = true
	return nil
}

// pcmFromBytes converts little-endian 16-bit samples back to PCM.
func pcmFromBytes(data []byte) []int16 {
	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return pcm
}

// downmixStereo averages interleaved L/R pairs into a mono stream.
func downmixStereo(samples []int16) []int16 {
	mono := make([]int16, len(samples)/2)
	for i := range mono {
		mono[i] = int16((int32(samples[i*2]) + int32(samples[i*2+1])) / 2)
	}
	return mono
}
