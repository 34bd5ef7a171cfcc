package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrDeviceClosed reports a frame read or write on a closed device.
var ErrDeviceClosed = errors.New("audio device is closed")

// CaptureDevice produces PCM frames on the device clock. ReadFrame blocks
// until one full frame is available and fills pcm with it.
type CaptureDevice interface {
	ReadFrame(pcm []int16) error
	Close() error
}

// PlaybackDevice consumes PCM frames on the device clock. WriteFrame blocks
// until the device has taken the frame.
type PlaybackDevice interface {
	WriteFrame(pcm []int16) error
	Close() error
}

// NullDevice is a capture and playback device without hardware behind it:
// reads return silence, writes are discarded, and both run at the real
// frame cadence so the media path behaves as it would with a sound card.
// It backs headless operation and tests.
type NullDevice struct {
	interval time.Duration

	mu       sync.Mutex
	readTick *time.Ticker
	done     chan struct{}
	closed   bool
}

// NewNullDevice builds a null device pacing at the frame duration of p.
func NewNullDevice(p Params) *NullDevice {
	logrus.WithFields(logrus.Fields{
		"function": "NewNullDevice",
		"frame_ms": p.FrameMs,
	}).Debug("Null audio device created")
	return &NullDevice{
		interval: p.FrameDuration(),
		done:     make(chan struct{}),
	}
}

// ReadFrame waits one frame interval and fills pcm with silence.
func (d *NullDevice) ReadFrame(pcm []int16) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDeviceClosed
	}
	if d.readTick == nil {
		d.readTick = time.NewTicker(d.interval)
	}
	tick := d.readTick
	d.mu.Unlock()

	select {
	case <-tick.C:
	case <-d.done:
		return ErrDeviceClosed
	}
	for i := range pcm {
		pcm[i] = 0
	}
	return nil
}

// WriteFrame discards the frame immediately. The playback loop runs on its
// own frame ticker, so a sink only has to take the data.
func (d *NullDevice) WriteFrame(pcm []int16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceClosed
	}
	return nil
}

// Close stops the cadence ticker and unblocks any waiting ReadFrame.
func (d *NullDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.done)
	if d.readTick != nil {
		d.readTick.Stop()
	}
	return nil
}
