package lxstphone

import (
	"github.com/sirupsen/logrus"

	"github.com/kc1awv/lxst-phone/callstate"
	"github.com/kc1awv/lxst-phone/peers"
)

// EventKind discriminates the notifications delivered on Events().
type EventKind int

const (
	// EventPhaseChanged fires on every call state transition.
	EventPhaseChanged EventKind = iota
	// EventIncomingCall fires when an admitted invite starts ringing.
	EventIncomingCall
	// EventCallEnded fires once per call, after its record is written to
	// the history.
	EventCallEnded
	// EventSASReady fires when the verification code for the active call
	// becomes available, which is when the media link is up.
	EventSASReady
	// EventSecurityWarning fires when the user reports a verification code
	// mismatch, or when a media link authenticates with a key that does
	// not belong to the call's peer.
	EventSecurityWarning
	// EventPeerSeen fires when a verified announce updates the directory.
	EventPeerSeen
	// EventError reports a failure the user should see.
	EventError
)

// String returns the event kind name used in logs.
func (k EventKind) String() string {
	switch k {
	case EventPhaseChanged:
		return "phase_changed"
	case EventIncomingCall:
		return "incoming_call"
	case EventCallEnded:
		return "call_ended"
	case EventSASReady:
		return "sas_ready"
	case EventSecurityWarning:
		return "security_warning"
	case EventPeerSeen:
		return "peer_seen"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one notification to the frontend. The engine never calls into UI
// code; the frontend drains Events() on its own goroutine. Which fields are
// set depends on Kind.
type Event struct {
	Kind EventKind

	// Phase accompanies EventPhaseChanged.
	Phase callstate.Phase

	// Call is a copy of the call the event concerns, nil when none.
	Call *callstate.Call

	// SAS accompanies EventSASReady.
	SAS string

	// Peer accompanies EventPeerSeen.
	Peer *peers.Record

	// Message is human-readable text for warnings and errors.
	Message string

	// Err carries the underlying error for EventError.
	Err error
}

// Events returns the notification channel. It is buffered; the engine drops
// events rather than block when the frontend falls behind. The channel is
// closed by Stop after the last event.
func (p *Phone) Events() <-chan Event {
	return p.events
}

// emit delivers an event without ever blocking call handling.
func (p *Phone) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "emit",
			"kind":     ev.Kind.String(),
		}).Warn("Event buffer full, dropping event")
	}
}
