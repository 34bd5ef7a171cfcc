package media

import (
	"sync"
	"time"

	"github.com/kc1awv/lxst-phone/audio"
)

// mockTimeProvider is a manually advanced clock.
type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func newMockTime() *mockTimeProvider {
	return &mockTimeProvider{now: time.Unix(1700000000, 0).UTC()}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now.Sub(t)
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// mockLink records sent payloads.
type mockLink struct {
	mu      sync.Mutex
	sent    [][]byte
	closed  bool
	sendErr error
}

func (l *mockLink) Send(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, append([]byte(nil), payload...))
	return nil
}

func (l *mockLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *mockLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// framesOfType decodes everything sent so far and filters by type.
func (l *mockLink) framesOfType(t FrameType) []Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Frame
	for _, raw := range l.sent {
		f, err := DecodeFrame(raw)
		if err == nil && f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// scriptedCapture hands out prepared frames, then blocks until closed the
// way a real input device would between windows.
type scriptedCapture struct {
	mu     sync.Mutex
	frames [][]int16
	idx    int
	done   chan struct{}
	closed bool
}

func newScriptedCapture(frames ...[]int16) *scriptedCapture {
	return &scriptedCapture{frames: frames, done: make(chan struct{})}
}

func (c *scriptedCapture) ReadFrame(pcm []int16) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return audio.ErrDeviceClosed
	}
	if c.idx < len(c.frames) {
		frame := c.frames[c.idx]
		c.idx++
		c.mu.Unlock()
		copy(pcm, frame)
		return nil
	}
	c.mu.Unlock()
	<-c.done
	return audio.ErrDeviceClosed
}

func (c *scriptedCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// collectPlayback records every frame written to it.
type collectPlayback struct {
	mu     sync.Mutex
	frames [][]int16
	closed bool
}

func (p *collectPlayback) WriteFrame(pcm []int16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return audio.ErrDeviceClosed
	}
	p.frames = append(p.frames, append([]int16(nil), pcm...))
	return nil
}

func (p *collectPlayback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *collectPlayback) collected() [][]int16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]int16, len(p.frames))
	copy(out, p.frames)
	return out
}
