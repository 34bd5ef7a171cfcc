package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNegotiate_RemoteMissing(t *testing.T) {
	t.Parallel()

	local := Preference{Codec: CodecOpus, Bitrate: 24000}
	assert.Equal(t, local, Negotiate(local, Preference{}))
	assert.Equal(t, local, Negotiate(local, Preference{Codec: CodecOpus}))
	assert.Equal(t, local, Negotiate(local, Preference{Bitrate: 16000}))
}

func TestNegotiate_Codec2Dominance(t *testing.T) {
	t.Parallel()

	opus := Preference{Codec: CodecOpus, Bitrate: 48000}
	c2 := Preference{Codec: CodecCodec2, Bitrate: 1600}

	assert.Equal(t, c2, Negotiate(opus, c2), "remote codec2 must win")
	assert.Equal(t, c2, Negotiate(c2, opus), "local codec2 must win")
}

func TestNegotiate_SameCodecLowerBitrate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		local  Preference
		remote Preference
		want   Preference
	}{
		{
			name:   "opus remote lower",
			local:  Preference{Codec: CodecOpus, Bitrate: 24000},
			remote: Preference{Codec: CodecOpus, Bitrate: 16000},
			want:   Preference{Codec: CodecOpus, Bitrate: 16000},
		},
		{
			name:   "opus local lower",
			local:  Preference{Codec: CodecOpus, Bitrate: 8000},
			remote: Preference{Codec: CodecOpus, Bitrate: 64000},
			want:   Preference{Codec: CodecOpus, Bitrate: 8000},
		},
		{
			name:   "codec2 modes compare as bps",
			local:  Preference{Codec: CodecCodec2, Bitrate: 3200},
			remote: Preference{Codec: CodecCodec2, Bitrate: 700},
			want:   Preference{Codec: CodecCodec2, Bitrate: 700},
		},
		{
			name:   "equal bitrates keep local",
			local:  Preference{Codec: CodecOpus, Bitrate: 24000},
			remote: Preference{Codec: CodecOpus, Bitrate: 24000},
			want:   Preference{Codec: CodecOpus, Bitrate: 24000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Negotiate(tt.local, tt.remote))
		})
	}
}

func TestNegotiate_Symmetry(t *testing.T) {
	t.Parallel()

	prefs := []Preference{
		{Codec: CodecOpus, Bitrate: 8000},
		{Codec: CodecOpus, Bitrate: 24000},
		{Codec: CodecOpus, Bitrate: 64000},
		{Codec: CodecCodec2, Bitrate: 700},
		{Codec: CodecCodec2, Bitrate: 1600},
		{Codec: CodecCodec2, Bitrate: 3200},
	}

	for _, a := range prefs {
		for _, b := range prefs {
			got := Negotiate(a, b)
			mirrored := Negotiate(b, a)
			assert.Equal(t, got, mirrored, "negotiate(%v,%v) != negotiate(%v,%v)", a, b, b, a)
		}
	}
}

func TestNegotiate_Idempotence(t *testing.T) {
	t.Parallel()

	prefs := []Preference{
		{Codec: CodecOpus, Bitrate: 16000},
		{Codec: CodecCodec2, Bitrate: 1200},
	}

	for _, a := range prefs {
		for _, b := range prefs {
			agreed := Negotiate(a, b)
			assert.Equal(t, agreed, Negotiate(agreed, b))
		}
	}
}

func TestNormalizeBitrate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 24000, NormalizeBitrate(CodecOpus, 24000))
	assert.Equal(t, 1600, NormalizeBitrate(CodecCodec2, 1600))
	assert.Equal(t, defaultBitrateBps, NormalizeBitrate("mystery", 123))
}
