package media

import (
	"sync"
	"time"
)

// rttAlpha weights new samples in the RTT moving average.
const rttAlpha = 0.2

// ratingMinPackets is how many expected frames must be seen before the
// quality rating leaves "unknown".
const ratingMinPackets = 10

// bitrateWindow is how many recent frame sizes feed the bitrate estimate.
const bitrateWindow = 50

// Quality is a coarse connection rating for display.
type Quality string

const (
	QualityUnknown Quality = "unknown"
	QualityGood    Quality = "good"
	QualityFair    Quality = "fair"
	QualityPoor    Quality = "poor"
)

// Metrics accumulates per-session transport quality figures: RTT from the
// ping/pong exchange, loss from gaps in received sequence numbers, and a
// received-bitrate estimate over a sliding window of frame sizes.
type Metrics struct {
	frameMs int

	mu         sync.Mutex
	rttLast    time.Duration
	rttEWMA    time.Duration
	rttMin     time.Duration
	rttMax     time.Duration
	rttSamples uint64

	packetsSent     uint64
	packetsReceived uint64
	packetsExpected uint64
	packetsLost     uint64
	bytesSent       uint64
	bytesReceived   uint64

	lastSeq uint32
	haveSeq bool

	frameSizes [bitrateWindow]int
	frameIdx   int
	frameCount int

	encodeErrors uint64
	decodeErrors uint64
}

// Snapshot is a copy of the current figures, safe to hand to the UI.
type Snapshot struct {
	RTTLast         time.Duration
	RTTAverage      time.Duration
	RTTMin          time.Duration
	RTTMax          time.Duration
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsLost     uint64
	LossPercent     float64
	BytesSent       uint64
	BytesReceived   uint64
	BitrateKbps     float64
	EncodeErrors    uint64
	DecodeErrors    uint64
	Quality         Quality
}

// NewMetrics builds a metrics accumulator for streams of frameMs frames.
func NewMetrics(frameMs int) *Metrics {
	return &Metrics{frameMs: frameMs}
}

// RecordRTT folds one round-trip sample into the moving average and the
// min/max/last figures.
func (m *Metrics) RecordRTT(rtt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rttLast = rtt
	if m.rttSamples == 0 {
		m.rttEWMA = rtt
		m.rttMin = rtt
		m.rttMax = rtt
	} else {
		m.rttEWMA = time.Duration(rttAlpha*float64(rtt) + (1-rttAlpha)*float64(m.rttEWMA))
		if rtt < m.rttMin {
			m.rttMin = rtt
		}
		if rtt > m.rttMax {
			m.rttMax = rtt
		}
	}
	m.rttSamples++
}

// RecordSent counts one outgoing framed payload.
func (m *Metrics) RecordSent(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packetsSent++
	m.bytesSent += uint64(size)
}

// RecordReceived counts one incoming audio frame and infers loss from the
// gap to the previous sequence number, wrap-aware. Frames arriving behind
// the highest seen sequence do not move the cursor.
func (m *Metrics) RecordReceived(seq uint32, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.packetsReceived++
	m.packetsExpected++
	m.bytesReceived += uint64(size)

	m.frameSizes[m.frameIdx] = size
	m.frameIdx = (m.frameIdx + 1) % bitrateWindow
	if m.frameCount < bitrateWindow {
		m.frameCount++
	}

	if !m.haveSeq {
		m.haveSeq = true
		m.lastSeq = seq
		return
	}
	expected := m.lastSeq + 1
	if seq == expected {
		m.lastSeq = seq
		return
	}
	gap := seq - expected
	if gap < 1<<31 {
		m.packetsLost += uint64(gap)
		m.packetsExpected += uint64(gap)
		m.lastSeq = seq
	}
}

// RecordEncodeError counts a capture window the encoder rejected.
func (m *Metrics) RecordEncodeError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.encodeErrors++
}

// RecordDecodeError counts a received frame the decoder rejected.
func (m *Metrics) RecordDecodeError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decodeErrors++
}

// LossPercent returns the inferred packet loss in percent.
func (m *Metrics) LossPercent() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lossPercentLocked()
}

func (m *Metrics) lossPercentLocked() float64 {
	if m.packetsExpected == 0 {
		return 0
	}
	return float64(m.packetsLost) / float64(m.packetsExpected) * 100
}

// Snapshot copies the current figures.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		RTTLast:         m.rttLast,
		RTTAverage:      m.rttEWMA,
		RTTMin:          m.rttMin,
		RTTMax:          m.rttMax,
		PacketsSent:     m.packetsSent,
		PacketsReceived: m.packetsReceived,
		PacketsLost:     m.packetsLost,
		LossPercent:     m.lossPercentLocked(),
		BytesSent:       m.bytesSent,
		BytesReceived:   m.bytesReceived,
		BitrateKbps:     m.bitrateKbpsLocked(),
		EncodeErrors:    m.encodeErrors,
		DecodeErrors:    m.decodeErrors,
		Quality:         m.qualityLocked(),
	}
}

// bitrateKbpsLocked estimates the received bitrate from the average size of
// recent frames at the stream's frame cadence.
func (m *Metrics) bitrateKbpsLocked() float64 {
	if m.frameCount == 0 || m.frameMs <= 0 {
		return 0
	}
	sum := 0
	for i := 0; i < m.frameCount; i++ {
		sum += m.frameSizes[i]
	}
	avgBytes := float64(sum) / float64(m.frameCount)
	framesPerSecond := 1000.0 / float64(m.frameMs)
	return avgBytes * 8 * framesPerSecond / 1000
}

// qualityLocked scores RTT and loss into a coarse rating. Each dimension
// earns 0 to 2 points (RTT under 200 ms and loss under 2% score full marks,
// under 500 ms and 5% half) and the mean of the two picks the rating.
func (m *Metrics) qualityLocked() Quality {
	if m.rttSamples == 0 || m.packetsExpected < ratingMinPackets {
		return QualityUnknown
	}

	rttScore := 0
	switch {
	case m.rttEWMA < 200*time.Millisecond:
		rttScore = 2
	case m.rttEWMA < 500*time.Millisecond:
		rttScore = 1
	}

	lossScore := 0
	loss := m.lossPercentLocked()
	switch {
	case loss < 2.0:
		lossScore = 2
	case loss < 5.0:
		lossScore = 1
	}

	combined := float64(rttScore+lossScore) / 2
	switch {
	case combined >= 1.5:
		return QualityGood
	case combined >= 0.5:
		return QualityFair
	default:
		return QualityPoor
	}
}
