// Package ratelimit implements the per-caller throttle applied to incoming
// call invites. Each caller gets a sliding window of attempt timestamps;
// a denied attempt is never recorded, so a rejected caller cannot extend
// their own penalty by retrying.
package ratelimit

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kc1awv/lxst-phone/crypto"
)

// Default caps applied when a Limiter is constructed with zero values.
const (
	DefaultMaxPerMinute = 5
	DefaultMaxPerHour   = 20
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

// Limiter tracks call attempts per caller over sliding one-minute and
// one-hour windows. It is safe for concurrent use.
type Limiter struct {
	maxPerMinute int
	maxPerHour   int
	clock        crypto.TimeProvider

	mu       sync.Mutex
	attempts map[crypto.NodeID][]time.Time
}

// NewLimiter creates a limiter. Non-positive caps select the defaults; a
// nil clock selects the runtime clock. Timestamps taken from the runtime
// clock carry Go's monotonic reading, so wall clock adjustments do not
// skew the windows.
func NewLimiter(maxPerMinute, maxPerHour int, clock crypto.TimeProvider) *Limiter {
	if maxPerMinute <= 0 {
		maxPerMinute = DefaultMaxPerMinute
	}
	if maxPerHour <= 0 {
		maxPerHour = DefaultMaxPerHour
	}
	if clock == nil {
		clock = crypto.DefaultTimeProvider{}
	}
	return &Limiter{
		maxPerMinute: maxPerMinute,
		maxPerHour:   maxPerHour,
		clock:        clock,
		attempts:     make(map[crypto.NodeID][]time.Time),
	}
}

// Allow reports whether a new call attempt from the peer is admitted. An
// admitted attempt is recorded; a denied one is not.
func (l *Limiter) Allow(peer crypto.NodeID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	recent := l.pruneLocked(peer, now)

	inMinute := 0
	for _, at := range recent {
		if now.Sub(at) < minuteWindow {
			inMinute++
		}
	}

	if inMinute >= l.maxPerMinute || len(recent) >= l.maxPerHour {
		logrus.WithFields(logrus.Fields{
			"function":   "Allow",
			"peer":       peer.Short(),
			"in_minute":  inMinute,
			"in_hour":    len(recent),
			"minute_cap": l.maxPerMinute,
			"hour_cap":   l.maxPerHour,
		}).Info("Call attempt rate limited")
		return false
	}

	l.attempts[peer] = append(recent, now)
	return true
}

// Pending returns how many attempts from the peer currently count against
// the hourly window.
func (l *Limiter) Pending(peer crypto.NodeID) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.pruneLocked(peer, l.clock.Now())
	return len(recent)
}

// Reset forgets all recorded attempts for the peer.
func (l *Limiter) Reset(peer crypto.NodeID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, peer)
}

// pruneLocked drops attempts older than the hourly window and stores the
// survivors back, deleting empty entries so idle peers do not accumulate.
// Caller holds l.mu.
func (l *Limiter) pruneLocked(peer crypto.NodeID, now time.Time) []time.Time {
	recorded := l.attempts[peer]
	recent := recorded[:0]
	for _, at := range recorded {
		if now.Sub(at) < hourWindow {
			recent = append(recent, at)
		}
	}

	if len(recent) == 0 {
		delete(l.attempts, peer)
		return nil
	}
	l.attempts[peer] = recent
	return recent
}
