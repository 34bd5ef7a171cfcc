package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		ftype   FrameType
		seq     uint32
		payload []byte
	}{
		{name: "audio", ftype: FrameAudio, seq: 42, payload: []byte{1, 2, 3, 4}},
		{name: "ping", ftype: FramePing, seq: 0, payload: make([]byte, 8)},
		{name: "pong", ftype: FramePong, seq: 0, payload: []byte{9, 8, 7, 6, 5, 4, 3, 2}},
		{name: "control_empty", ftype: FrameControl, seq: 7, payload: nil},
		{name: "max_seq", ftype: FrameAudio, seq: 0xFFFFFFFF, payload: []byte{0xAA}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := EncodeFrame(tt.ftype, tt.seq, tt.payload)
			require.Equal(t, HeaderSize+len(tt.payload), len(raw))

			f, err := DecodeFrame(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.ftype, f.Type)
			assert.Equal(t, tt.seq, f.Seq)
			assert.Equal(t, len(tt.payload), len(f.Payload))
			if len(tt.payload) > 0 {
				assert.Equal(t, tt.payload, f.Payload)
			}
		})
	}
}

func TestDecodeFrame_RejectsShortInput(t *testing.T) {
	for size := 0; size < HeaderSize; size++ {
		_, err := DecodeFrame(make([]byte, size))
		assert.ErrorIs(t, err, ErrFrameTooShort, "size %d", size)
	}

	f, err := DecodeFrame(make([]byte, HeaderSize))
	require.NoError(t, err)
	assert.Empty(t, f.Payload)
}

func TestSequencer_Wraps(t *testing.T) {
	s := Sequencer{next: 0xFFFFFFFE}
	assert.Equal(t, uint32(0xFFFFFFFE), s.Next())
	assert.Equal(t, uint32(0xFFFFFFFF), s.Next())
	assert.Equal(t, uint32(0), s.Next())
	assert.Equal(t, uint32(1), s.Next())
}

func TestPingPayload_RoundTrip(t *testing.T) {
	for _, elapsed := range []time.Duration{0, time.Millisecond, 2 * time.Second, time.Hour} {
		payload := EncodePingPayload(elapsed)
		require.Len(t, payload, 8)
		got, err := DecodePingPayload(payload)
		require.NoError(t, err)
		assert.Equal(t, elapsed, got)
	}

	_, err := DecodePingPayload([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrBadPingPayload)
	_, err = DecodePingPayload(make([]byte, 9))
	assert.ErrorIs(t, err, ErrBadPingPayload)
}

func TestFrameType_String(t *testing.T) {
	assert.Equal(t, "audio", FrameAudio.String())
	assert.Equal(t, "ping", FramePing.String())
	assert.Equal(t, "pong", FramePong.String())
	assert.Equal(t, "control", FrameControl.String())
	assert.Equal(t, "unknown(0x7f)", FrameType(0x7F).String())
}
