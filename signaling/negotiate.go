package signaling

// Codec names carried in codec_type.
const (
	CodecOpus   = "opus"
	CodecCodec2 = "codec2"
)

// defaultBitrateBps is the comparison fallback for unrecognised codec names.
const defaultBitrateBps = 24000

// Preference is one side's codec offer. A zero Preference means the side
// supplied no codec info.
type Preference struct {
	Codec   string
	Bitrate int
}

// IsZero reports whether the preference carries no codec info.
func (p Preference) IsZero() bool {
	return p.Codec == "" || p.Bitrate == 0
}

// NormalizeBitrate maps a codec's bitrate-or-mode value onto bits per second
// for comparison. Opus bitrates already are bps; a Codec2 mode number is its
// bitrate by definition.
func NormalizeBitrate(codec string, bitrateOrMode int) int {
	switch codec {
	case CodecOpus, CodecCodec2:
		return bitrateOrMode
	default:
		return defaultBitrateBps
	}
}

// Negotiate resolves both sides' offers into the codec a call will use.
// It is pure, symmetric and idempotent:
//
//  1. If the remote side supplied no codec info, the local values win.
//  2. If exactly one side prefers codec2, that side wins outright.
//  3. Otherwise both sides name the same codec and the lower bitrate wins,
//     with ties resolved to the local values.
func Negotiate(local, remote Preference) Preference {
	if remote.IsZero() {
		return local
	}

	if local.Codec == CodecCodec2 && remote.Codec == CodecOpus {
		return local
	}
	if remote.Codec == CodecCodec2 && local.Codec == CodecOpus {
		return remote
	}

	localBps := NormalizeBitrate(local.Codec, local.Bitrate)
	remoteBps := NormalizeBitrate(remote.Codec, remote.Bitrate)
	if localBps <= remoteBps {
		return local
	}
	return remote
}
