package signaling

import (
	"sync"
	"time"

	"github.com/kc1awv/lxst-phone/crypto"
)

// DropReason explains why the filter passed or dropped a message.
type DropReason string

// Filter verdicts. ReasonOK and ReasonPresence mean the message proceeds.
const (
	ReasonOK              DropReason = "ok"
	ReasonPresence        DropReason = "presence_announce"
	ReasonNotForUs        DropReason = "not_for_us"
	ReasonDuplicate       DropReason = "duplicate"
	ReasonUnknownCallIdle DropReason = "unknown_call_idle"
	ReasonForeignCall     DropReason = "foreign_call"
)

// DefaultDupeWindow is how long a repeated (call_id, type) pair counts as a
// retransmission rather than a new message.
const DefaultDupeWindow = time.Second

type filterKey struct {
	callID  string
	msgType Type
}

// Filter screens inbound signaling before the admission layer sees it:
// messages addressed elsewhere, retransmitted duplicates, and stray
// non-invite traffic for calls we do not have are all dropped here.
type Filter struct {
	localID string
	window  time.Duration
	clock   crypto.TimeProvider

	mu     sync.Mutex
	recent map[filterKey]time.Time
	drops  map[DropReason]uint64
}

// NewFilter creates a filter for the local node. A zero window selects
// DefaultDupeWindow; a nil clock selects the runtime clock.
func NewFilter(localID string, window time.Duration, clock crypto.TimeProvider) *Filter {
	if window <= 0 {
		window = DefaultDupeWindow
	}
	if clock == nil {
		clock = crypto.DefaultTimeProvider{}
	}
	return &Filter{
		localID: localID,
		window:  window,
		clock:   clock,
		recent:  make(map[filterKey]time.Time),
		drops:   make(map[DropReason]uint64),
	}
}

// Evaluate decides whether a message proceeds. currentCallID is the active
// call, or empty when idle. The reason is returned for logging and counters
// either way.
func (f *Filter) Evaluate(msg *CallMessage, currentCallID string) (bool, DropReason) {
	if msg.Type == TypeAnnounce {
		return true, ReasonPresence
	}

	if msg.To != f.localID {
		return f.drop(ReasonNotForUs)
	}

	f.mu.Lock()
	now := f.clock.Now()
	f.pruneLocked(now)

	key := filterKey{callID: msg.CallID, msgType: msg.Type}
	if last, seen := f.recent[key]; seen && now.Sub(last) < f.window {
		f.mu.Unlock()
		return f.drop(ReasonDuplicate)
	}
	f.recent[key] = now
	f.mu.Unlock()

	if msg.Type != TypeInvite {
		if currentCallID == "" {
			return f.drop(ReasonUnknownCallIdle)
		}
		if currentCallID != msg.CallID {
			return f.drop(ReasonForeignCall)
		}
	}

	return true, ReasonOK
}

// Drops returns a snapshot of the per-reason drop counters.
func (f *Filter) Drops() map[DropReason]uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[DropReason]uint64, len(f.drops))
	for reason, n := range f.drops {
		out[reason] = n
	}
	return out
}

func (f *Filter) drop(reason DropReason) (bool, DropReason) {
	f.mu.Lock()
	f.drops[reason]++
	f.mu.Unlock()
	return false, reason
}

// pruneLocked clears dedup entries older than the window so the map stays
// bounded by recent traffic. Caller holds f.mu.
func (f *Filter) pruneLocked(now time.Time) {
	for key, seen := range f.recent {
		if now.Sub(seen) >= f.window {
			delete(f.recent, key)
		}
	}
}
