package audio

import (
	"fmt"
	"time"

	"github.com/kc1awv/lxst-phone/signaling"
)

// Opus profile bounds. Frames are mono 20 ms slices at 48 kHz.
const (
	OpusSampleRate = 48000
	OpusFrameMs    = 20
	OpusMinBitrate = 8000
	OpusMaxBitrate = 64000
)

// Codec2 profile bounds. Frames are mono 40 ms slices at 8 kHz and the
// bitrate field carries the mode number, which is its bitrate in bps.
const (
	Codec2SampleRate = 8000
	Codec2FrameMs    = 40
)

// codec2Modes lists every valid Codec2 mode number.
var codec2Modes = [...]int{700, 1200, 1300, 1400, 1600, 2400, 3200}

// Codec2ModeValid reports whether mode names one of the fixed Codec2 modes.
func Codec2ModeValid(mode int) bool {
	for _, m := range codec2Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// Params fixes every knob a codec instance needs. Values are validated at
// construction so the media path can treat them as trusted afterwards.
type Params struct {
	Codec      string
	SampleRate int
	Channels   int
	FrameMs    int
	Bitrate    int
}

// OpusParams builds the Opus profile at the given bitrate.
func OpusParams(bitrateBps int) (Params, error) {
	p := Params{
		Codec:      signaling.CodecOpus,
		SampleRate: OpusSampleRate,
		Channels:   1,
		FrameMs:    OpusFrameMs,
		Bitrate:    bitrateBps,
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Codec2Params builds the Codec2 profile for the given mode number.
func Codec2Params(mode int) (Params, error) {
	p := Params{
		Codec:      signaling.CodecCodec2,
		SampleRate: Codec2SampleRate,
		Channels:   1,
		FrameMs:    Codec2FrameMs,
		Bitrate:    mode,
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// ParamsFor maps a negotiated codec preference onto a full parameter set.
func ParamsFor(pref signaling.Preference) (Params, error) {
	switch pref.Codec {
	case signaling.CodecOpus:
		return OpusParams(pref.Bitrate)
	case signaling.CodecCodec2:
		return Codec2Params(pref.Bitrate)
	default:
		return Params{}, fmt.Errorf("%w: unknown codec %q", ErrCodecInit, pref.Codec)
	}
}

// Validate checks the parameter set against its codec profile.
func (p Params) Validate() error {
	if p.Channels != 1 {
		return fmt.Errorf("%w: %d channels, only mono is supported", ErrCodecInit, p.Channels)
	}
	switch p.Codec {
	case signaling.CodecOpus:
		if p.SampleRate != OpusSampleRate || p.FrameMs != OpusFrameMs {
			return fmt.Errorf("%w: opus requires %d Hz / %d ms frames", ErrCodecInit, OpusSampleRate, OpusFrameMs)
		}
		if p.Bitrate < OpusMinBitrate || p.Bitrate > OpusMaxBitrate {
			return fmt.Errorf("%w: opus bitrate %d outside [%d, %d]", ErrCodecInit, p.Bitrate, OpusMinBitrate, OpusMaxBitrate)
		}
	case signaling.CodecCodec2:
		if p.SampleRate != Codec2SampleRate || p.FrameMs != Codec2FrameMs {
			return fmt.Errorf("%w: codec2 requires %d Hz / %d ms frames", ErrCodecInit, Codec2SampleRate, Codec2FrameMs)
		}
		if !Codec2ModeValid(p.Bitrate) {
			return fmt.Errorf("%w: %d is not a codec2 mode", ErrCodecInit, p.Bitrate)
		}
	default:
		return fmt.Errorf("%w: unknown codec %q", ErrCodecInit, p.Codec)
	}
	return nil
}

// FrameSamples returns the per-channel sample count of one frame.
func (p Params) FrameSamples() int {
	return p.SampleRate * p.FrameMs / 1000
}

// FrameBytes returns the size of one raw 16-bit PCM frame in bytes.
func (p Params) FrameBytes() int {
	return p.FrameSamples() * p.Channels * 2
}

// FrameDuration returns the wall-clock length of one frame.
func (p Params) FrameDuration() time.Duration {
	return time.Duration(p.FrameMs) * time.Millisecond
}

// Preference converts the parameter set back into its negotiation form.
func (p Params) Preference() signaling.Preference {
	return signaling.Preference{Codec: p.Codec, Bitrate: p.Bitrate}
}
