package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kc1awv/lxst-phone/audio"
	"github.com/kc1awv/lxst-phone/crypto"
)

// DefaultTargetJitterMs is the jitter buffer delay used when the
// configuration does not override it.
const DefaultTargetJitterMs = 60

// pingInterval is how often a session probes the link round-trip time.
const pingInterval = 2 * time.Second

// Link is the transport surface a session sends on. Implementations must
// tolerate Send racing Close; Send on a closed link returns an error.
type Link interface {
	Send(payload []byte) error
	Close() error
}

// SessionConfig carries everything a session needs. Params selects the
// negotiated codec, KeyMaterial feeds SAS derivation (the link's channel
// binding, or FallbackKeyMaterial when the link exposes none), and OnClosed
// fires exactly once after teardown completes.
type SessionConfig struct {
	Params         audio.Params
	TargetJitterMs int
	Capture        audio.CaptureDevice
	Playback       audio.PlaybackDevice
	Link           Link
	KeyMaterial    []byte
	Clock          crypto.TimeProvider
	OnClosed       func()
}

// Session runs one call's audio: a capture goroutine feeding encoded frames
// to the link, a playback goroutine draining the jitter buffer on the frame
// cadence, and a ping goroutine sampling RTT. Inbound link payloads are
// handed to HandleFrame by the owner, in delivery order, from one
// goroutine.
type Session struct {
	params   audio.Params
	encoder  audio.Encoder
	decoder  audio.Decoder
	jitter   *JitterBuffer
	metrics  *Metrics
	link     Link
	capture  audio.CaptureDevice
	playback audio.PlaybackDevice
	clock    crypto.TimeProvider

	keyMaterial []byte
	sas         string

	seq     Sequencer
	started time.Time

	rxMu     sync.Mutex
	rxClosed bool

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	onClosed  func()
}

// NewSession validates the configuration and constructs the codec pair.
// A codec that cannot be built is fatal to the call.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Link == nil {
		return nil, fmt.Errorf("media session requires a link")
	}
	if cfg.Capture == nil || cfg.Playback == nil {
		return nil, fmt.Errorf("media session requires capture and playback devices")
	}
	if cfg.Clock == nil {
		cfg.Clock = crypto.DefaultTimeProvider{}
	}
	if cfg.TargetJitterMs <= 0 {
		cfg.TargetJitterMs = DefaultTargetJitterMs
	}

	encoder, err := audio.NewEncoder(cfg.Params)
	if err != nil {
		return nil, err
	}
	decoder, err := audio.NewDecoder(cfg.Params)
	if err != nil {
		encoder.Close()
		return nil, err
	}

	s := &Session{
		params:      cfg.Params,
		encoder:     encoder,
		decoder:     decoder,
		jitter:      NewJitterBuffer(cfg.TargetJitterMs, cfg.Params.FrameMs, cfg.Clock),
		metrics:     NewMetrics(cfg.Params.FrameMs),
		link:        cfg.Link,
		capture:     cfg.Capture,
		playback:    cfg.Playback,
		clock:       cfg.Clock,
		keyMaterial: append([]byte(nil), cfg.KeyMaterial...),
		sas:         DeriveSAS(cfg.KeyMaterial),
		started:     cfg.Clock.Now(),
		stop:        make(chan struct{}),
		onClosed:    cfg.OnClosed,
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewSession",
		"codec":     cfg.Params.Codec,
		"bitrate":   cfg.Params.Bitrate,
		"frame_ms":  cfg.Params.FrameMs,
		"jitter_ms": cfg.TargetJitterMs,
		"capacity":  s.jitter.Capacity(),
	}).Info("Media session created")

	return s, nil
}

// Start launches the capture, playback and ping goroutines.
func (s *Session) Start() {
	s.wg.Add(3)
	go s.captureLoop()
	go s.playbackLoop()
	go s.pingLoop()

	logrus.WithFields(logrus.Fields{
		"function": "Session.Start",
		"sas":      s.sas,
	}).Debug("Media session started")
}

// SAS returns the 4-digit code derived from the session key material.
func (s *Session) SAS() string { return s.sas }

// Metrics returns a copy of the current quality figures.
func (s *Session) Metrics() Snapshot { return s.metrics.Snapshot() }

// JitterStats returns the jitter buffer's lifetime counters.
func (s *Session) JitterStats() JitterStats { return s.jitter.Stats() }

// HandleFrame processes one inbound link payload: audio is decoded into the
// jitter buffer, pings are answered with pongs, and pongs close the RTT
// loop. Undecodable payloads are counted and dropped.
func (s *Session) HandleFrame(raw []byte) {
	f, err := DecodeFrame(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Session.HandleFrame",
			"size":     len(raw),
		}).Debug("Dropping malformed media frame")
		return
	}

	switch f.Type {
	case FrameAudio:
		s.metrics.RecordReceived(f.Seq, len(raw))
		s.rxMu.Lock()
		if s.rxClosed {
			s.rxMu.Unlock()
			return
		}
		pcm, err := s.decoder.Decode(f.Payload)
		s.rxMu.Unlock()
		if err != nil {
			s.metrics.RecordDecodeError()
			logrus.WithFields(logrus.Fields{
				"function": "Session.HandleFrame",
				"seq":      f.Seq,
				"error":    err.Error(),
			}).Debug("Skipping undecodable audio frame")
			return
		}
		s.jitter.Insert(f.Seq, pcm)

	case FramePing:
		pong := EncodeFrame(FramePong, 0, f.Payload)
		if err := s.link.Send(pong); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Session.HandleFrame",
				"error":    err.Error(),
			}).Debug("Pong send failed")
		}

	case FramePong:
		sent, err := DecodePingPayload(f.Payload)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Session.HandleFrame",
			}).Debug("Dropping pong with malformed timestamp")
			return
		}
		if rtt := s.clock.Since(s.started) - sent; rtt >= 0 {
			s.metrics.RecordRTT(rtt)
		}

	case FrameControl:
		// Reserved. Tolerated for forward compatibility.

	default:
		logrus.WithFields(logrus.Fields{
			"function": "Session.HandleFrame",
			"type":     f.Type.String(),
		}).Debug("Dropping media frame of unknown type")
	}
}

// Close tears the session down: stops the pipelines, releases the devices,
// closes the link and zeroes the key material copy. It is idempotent and
// fires the OnClosed hook exactly once, after everything is down.
func (s *Session) Close() error {
	var firstErr error
	s.closeOnce.Do(func() {
		close(s.stop)

		// Closing the devices unblocks goroutines parked in ReadFrame or
		// WriteFrame so the wait below terminates.
		if err := s.capture.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.playback.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.wg.Wait()

		s.rxMu.Lock()
		s.rxClosed = true
		s.decoder.Close()
		s.rxMu.Unlock()
		s.encoder.Close()

		if err := s.link.Close(); err != nil && firstErr == nil {
			firstErr = err
		}

		crypto.ZeroBytes(s.keyMaterial)
		s.jitter.Clear()

		stats := s.jitter.Stats()
		snap := s.metrics.Snapshot()
		logrus.WithFields(logrus.Fields{
			"function":     "Session.Close",
			"released":     stats.Released,
			"dropped_late": stats.DroppedLate,
			"silence":      stats.Silence,
			"rtt_avg_ms":   snap.RTTAverage.Milliseconds(),
			"loss_pct":     fmt.Sprintf("%.1f", snap.LossPercent),
		}).Info("Media session closed")

		if s.onClosed != nil {
			s.onClosed()
		}
	})
	return firstErr
}

func (s *Session) captureLoop() {
	defer s.wg.Done()
	pcm := make([]int16, s.encoder.FrameSize())
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if err := s.capture.ReadFrame(pcm); err != nil {
			select {
			case <-s.stop:
			default:
				logrus.WithFields(logrus.Fields{
					"function": "Session.captureLoop",
					"error":    err.Error(),
				}).Debug("Capture read failed, stopping capture")
			}
			return
		}
		data, err := s.encoder.Encode(pcm)
		if err != nil {
			s.metrics.RecordEncodeError()
			continue
		}
		frame := EncodeFrame(FrameAudio, s.seq.Next(), data)
		if err := s.link.Send(frame); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Session.captureLoop",
				"error":    err.Error(),
			}).Debug("Audio frame send failed")
			continue
		}
		s.metrics.RecordSent(len(frame))
	}
}

func (s *Session) playbackLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.params.FrameDuration())
	defer ticker.Stop()
	silence := make([]int16, s.decoder.FrameSize())
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			pcm, ok := s.jitter.PopReady()
			if !ok {
				pcm = silence
			}
			if err := s.playback.WriteFrame(pcm); err != nil {
				select {
				case <-s.stop:
				default:
					logrus.WithFields(logrus.Fields{
						"function": "Session.playbackLoop",
						"error":    err.Error(),
					}).Debug("Playback write failed, stopping playback")
				}
				return
			}
		}
	}
}

func (s *Session) pingLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	s.sendPing()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sendPing()
		}
	}
}

func (s *Session) sendPing() {
	payload := EncodePingPayload(s.clock.Since(s.started))
	if err := s.link.Send(EncodeFrame(FramePing, 0, payload)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Session.sendPing",
			"error":    err.Error(),
		}).Debug("Ping send failed")
	}
}
