package media

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kc1awv/lxst-phone/crypto"
)

// Jitter buffer capacity bounds in frames.
const (
	MinJitterFrames = 2
	MaxJitterFrames = 32
)

// JitterStats are the buffer's lifetime counters. Dropped frames split into
// late arrivals (behind the release cursor) and overflow evictions.
type JitterStats struct {
	Received        uint64
	Released        uint64
	DroppedLate     uint64
	DroppedOverflow uint64
	Silence         uint64
}

// LossRate estimates the fraction of frames lost to drops.
func (s JitterStats) LossRate() float64 {
	dropped := s.DroppedLate + s.DroppedOverflow
	total := s.Received + dropped
	if total == 0 {
		return 0
	}
	return float64(dropped) / float64(total)
}

type jitterEntry struct {
	seq     uint32
	pcm     []int16
	arrival time.Time
}

// JitterBuffer reorders decoded audio frames by sequence number and meters
// them out on the playback cadence. Capacity derives from the target delay:
// round(target/frame) frames, clamped to [MinJitterFrames, MaxJitterFrames].
//
// Its lock is held only for queue surgery, never across decode or device
// I/O, so the playback tick cannot stall the receive path.
type JitterBuffer struct {
	capacity int
	target   time.Duration
	clock    crypto.TimeProvider

	mu           sync.Mutex
	entries      []jitterEntry
	lastReleased uint32
	hasReleased  bool
	stats        JitterStats
}

// NewJitterBuffer sizes a buffer for the given target delay and frame
// duration, both in milliseconds. A nil clock selects the runtime clock.
func NewJitterBuffer(targetJitterMs, frameMs int, clock crypto.TimeProvider) *JitterBuffer {
	if clock == nil {
		clock = crypto.DefaultTimeProvider{}
	}
	capacity := MinJitterFrames
	if frameMs > 0 {
		capacity = (targetJitterMs + frameMs/2) / frameMs
	}
	if capacity < MinJitterFrames {
		capacity = MinJitterFrames
	}
	if capacity > MaxJitterFrames {
		capacity = MaxJitterFrames
	}
	logrus.WithFields(logrus.Fields{
		"function":  "NewJitterBuffer",
		"target_ms": targetJitterMs,
		"frame_ms":  frameMs,
		"capacity":  capacity,
	}).Debug("Jitter buffer created")
	return &JitterBuffer{
		capacity: capacity,
		target:   time.Duration(targetJitterMs) * time.Millisecond,
		clock:    clock,
		entries:  make([]jitterEntry, 0, capacity),
	}
}

// Capacity returns the buffer size in frames.
func (b *JitterBuffer) Capacity() int { return b.capacity }

// Depth returns the number of buffered frames.
func (b *JitterBuffer) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Stats returns a copy of the lifetime counters.
func (b *JitterBuffer) Stats() JitterStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Insert files one decoded frame under its sequence number. Frames further
// behind the release cursor than the buffer capacity are dropped as late,
// duplicates are dropped, and when the buffer is full the oldest entry is
// evicted to make room.
func (b *JitterBuffer) Insert(seq uint32, pcm []int16) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hasReleased && seqBehind(b.lastReleased, seq) > uint32(b.capacity) {
		b.stats.DroppedLate++
		return
	}
	pos := len(b.entries)
	for i, e := range b.entries {
		if e.seq == seq {
			b.stats.DroppedLate++
			return
		}
		if seqLess(seq, e.seq) {
			pos = i
			break
		}
	}
	if len(b.entries) == b.capacity {
		b.popFrontLocked()
		b.stats.DroppedOverflow++
		if pos > 0 {
			pos--
		}
	}
	b.entries = append(b.entries, jitterEntry{})
	copy(b.entries[pos+1:], b.entries[pos:])
	b.entries[pos] = jitterEntry{seq: seq, pcm: pcm, arrival: b.clock.Now()}
	b.stats.Received++
}

// PopReady is called once per playback tick. It releases the lowest-seq
// frame when the buffer holds at least half its capacity or the frame has
// waited the full target delay, and reports false otherwise so the caller
// emits silence. Released sequence numbers only move forward; entries the
// cursor has already passed are discarded as late.
func (b *JitterBuffer) PopReady() ([]int16, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.entries) > 0 && b.hasReleased && !seqLess(b.lastReleased, b.entries[0].seq) {
		b.popFrontLocked()
		b.stats.DroppedLate++
	}
	if len(b.entries) == 0 {
		b.stats.Silence++
		return nil, false
	}

	depthReady := len(b.entries)*2 >= b.capacity
	agedReady := b.clock.Since(b.entries[0].arrival) >= b.target
	if !depthReady && !agedReady {
		b.stats.Silence++
		return nil, false
	}

	e := b.popFrontLocked()
	b.lastReleased = e.seq
	b.hasReleased = true
	b.stats.Released++
	return e.pcm, true
}

// Clear drops all buffered frames without touching the release cursor.
func (b *JitterBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = b.entries[:0]
}

func (b *JitterBuffer) popFrontLocked() jitterEntry {
	e := b.entries[0]
	copy(b.entries, b.entries[1:])
	b.entries[len(b.entries)-1] = jitterEntry{}
	b.entries = b.entries[:len(b.entries)-1]
	return e
}

// seqLess orders sequence numbers under wraparound: a precedes b when the
// forward distance from a to b is less than half the number space.
func seqLess(a, b uint32) bool {
	return a != b && b-a < 1<<31
}

// seqBehind reports how far seq trails last, or zero when seq is not behind.
func seqBehind(last, seq uint32) uint32 {
	d := last - seq
	if d < 1<<31 {
		return d
	}
	return 0
}
