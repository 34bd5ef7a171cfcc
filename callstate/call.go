package callstate

import (
	"time"

	"github.com/kc1awv/lxst-phone/crypto"
	"github.com/kc1awv/lxst-phone/signaling"
)

// Phase is the call lifecycle stage.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOutgoing
	PhaseRinging
	PhaseIncoming
	PhaseInCall
	PhaseEnded
)

// String returns the wire-style phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseOutgoing:
		return "OUTGOING_CALL"
	case PhaseRinging:
		return "RINGING"
	case PhaseIncoming:
		return "INCOMING_CALL"
	case PhaseInCall:
		return "IN_CALL"
	case PhaseEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// Outcome records how a call ended. It is written into the history record.
type Outcome string

const (
	// OutcomeCompleted is a call that reached IN_CALL and ended normally.
	OutcomeCompleted Outcome = "completed"
	// OutcomeRejected is a call actively declined by either side.
	OutcomeRejected Outcome = "rejected"
	// OutcomeMissed is an incoming call that was never answered.
	OutcomeMissed Outcome = "missed"
	// OutcomeNoAnswer is an outgoing call the remote never answered.
	OutcomeNoAnswer Outcome = "no_answer"
	// OutcomeLinkFailed is a call dropped by a media link failure.
	OutcomeLinkFailed Outcome = "link_failed"
	// OutcomeCodecError is a call torn down by codec initialisation failure.
	OutcomeCodecError Outcome = "codec_error"
)

// Call is the runtime record of the active call. The machine owns the
// authoritative copy; accessors and the state-changed callback hand out
// copies.
type Call struct {
	CallID           string
	LocalID          crypto.NodeID
	RemoteID         crypto.NodeID
	DisplayName      string
	InitiatedByLocal bool

	// RemoteCallDest is where signaling and the media link are addressed:
	// the callee's destination from the ACCEPT for outgoing calls, the
	// caller's destination from the INVITE for incoming ones.
	RemoteCallDest  crypto.DestinationHash
	RemotePublicKey [32]byte

	// RemotePrefs is the codec offer carried by the remote's INVITE.
	// Unset for outgoing calls.
	RemotePrefs signaling.Preference

	// Codec holds the negotiated values once the call is accepted.
	Codec signaling.Preference

	StartTS    time.Time
	AnsweredTS time.Time
	EndTS      time.Time
	Outcome    Outcome
}

// Answered reports whether the call ever reached IN_CALL.
func (c *Call) Answered() bool {
	return !c.AnsweredTS.IsZero()
}

// Duration returns the in-call time, zero for calls that never connected.
func (c *Call) Duration() time.Duration {
	if !c.Answered() || c.EndTS.IsZero() {
		return 0
	}
	return c.EndTS.Sub(c.AnsweredTS)
}

// Direction returns "outgoing" or "incoming" for the history record.
func (c *Call) Direction() string {
	if c.InitiatedByLocal {
		return "outgoing"
	}
	return "incoming"
}
