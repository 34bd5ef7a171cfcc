// Package audio provides the codec and device layer under a media session.
//
// # Overview
//
// The package is organised around two small interfaces, Encoder and
// Decoder, configured from a Params value that pins down the codec name,
// sample rate, channel count, frame duration and bitrate. A media session
// constructs one encoder and one decoder from the negotiated codec and runs
// PCM frames through them on the device cadence.
//
// # Codecs
//
// Two parameter profiles exist:
//
//   - Opus: 48 kHz, mono, 20 ms frames, 8000 to 64000 bps.
//   - Codec2: 8 kHz, mono, 40 ms frames, where the bitrate is one of the
//     fixed mode numbers (700, 1200, 1300, 1400, 1600, 2400, 3200).
//
// The encode side is a PCM passthrough producing 16-bit little-endian
// frames until a pure Go Opus encoder exists. The decode side accepts the
// passthrough format and, for Opus, additionally decodes standard Opus
// frames through github.com/pion/opus. The two formats never collide on
// the wire: a raw passthrough frame is always exactly Params.FrameBytes
// long while a real Opus frame at the supported bitrates is far smaller.
//
// # Devices
//
// CaptureDevice and PlaybackDevice abstract the audio hardware as blocking
// per-frame reads and writes on the device clock. NullDevice implements
// both with a ticker so headless nodes and tests still run the full media
// path at real cadence.
package audio
