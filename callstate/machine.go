package callstate

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kc1awv/lxst-phone/crypto"
	"github.com/kc1awv/lxst-phone/signaling"
)

// StateChangedFunc receives the new phase and a copy of the call record
// after each successful transition. call is nil only for PhaseIdle.
type StateChangedFunc func(phase Phase, call *Call)

// Machine is the single-call state machine. All methods are safe for
// concurrent use; the engine additionally serialises events per call.
type Machine struct {
	clock crypto.TimeProvider

	mu             sync.Mutex
	phase          Phase
	current        *Call
	onStateChanged StateChangedFunc
}

// NewMachine creates a machine in PhaseIdle. A nil clock selects the
// runtime clock.
func NewMachine(clock crypto.TimeProvider) *Machine {
	if clock == nil {
		clock = crypto.DefaultTimeProvider{}
	}
	return &Machine{clock: clock, phase: PhaseIdle}
}

// OnStateChanged registers the transition callback. Pass nil to clear it.
func (m *Machine) OnStateChanged(fn StateChangedFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChanged = fn
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// CurrentCall returns a copy of the active call, or nil in PhaseIdle.
func (m *Machine) CurrentCall() *Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	call := *m.current
	return &call
}

// StartOutgoing begins an outgoing call from PhaseIdle. The caller fills
// the identity fields; the machine allocates the call ID when empty and
// stamps the start time. Returns the allocated call ID.
func (m *Machine) StartOutgoing(call *Call) (string, error) {
	if call == nil {
		return "", ErrNilCall
	}

	m.mu.Lock()
	if m.phase != PhaseIdle {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: start_outgoing in %s", ErrInvalidTransition, m.phase)
	}

	if call.CallID == "" {
		call.CallID = signaling.NewCallID()
	}
	call.InitiatedByLocal = true
	call.StartTS = m.clock.Now()
	m.current = call
	m.setPhaseLocked(PhaseOutgoing)
	id := call.CallID
	m.notifyAfterUnlock()

	return id, nil
}

// IncomingInvite admits an incoming call from PhaseIdle. The call must
// carry the wire call ID and the caller's offer.
func (m *Machine) IncomingInvite(call *Call) error {
	if call == nil {
		return ErrNilCall
	}

	m.mu.Lock()
	if m.phase != PhaseIdle {
		m.mu.Unlock()
		return fmt.Errorf("%w: incoming_invite in %s", ErrInvalidTransition, m.phase)
	}

	call.InitiatedByLocal = false
	call.StartTS = m.clock.Now()
	m.current = call
	m.setPhaseLocked(PhaseIncoming)
	m.notifyAfterUnlock()

	return nil
}

// RemoteRinging marks an outgoing call as ringing at the remote.
func (m *Machine) RemoteRinging(callID string) error {
	m.mu.Lock()
	if err := m.matchLocked(callID); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.phase != PhaseOutgoing {
		m.mu.Unlock()
		return fmt.Errorf("%w: remote_ringing in %s", ErrInvalidTransition, m.phase)
	}

	m.setPhaseLocked(PhaseRinging)
	m.notifyAfterUnlock()
	return nil
}

// RemoteAccepted connects an outgoing call: the remote answered with the
// destination to dial for media and the negotiated codec.
func (m *Machine) RemoteAccepted(callID string, negotiated signaling.Preference, remoteDest crypto.DestinationHash) error {
	m.mu.Lock()
	if err := m.matchLocked(callID); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.phase != PhaseOutgoing && m.phase != PhaseRinging {
		m.mu.Unlock()
		return fmt.Errorf("%w: remote_accepted in %s", ErrInvalidTransition, m.phase)
	}

	m.current.Codec = negotiated
	m.current.RemoteCallDest = remoteDest
	m.current.AnsweredTS = m.clock.Now()
	m.setPhaseLocked(PhaseInCall)
	m.notifyAfterUnlock()
	return nil
}

// RemoteRejected ends an outgoing call that the remote declined.
func (m *Machine) RemoteRejected(callID string) error {
	m.mu.Lock()
	if err := m.matchLocked(callID); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.phase != PhaseOutgoing && m.phase != PhaseRinging {
		m.mu.Unlock()
		return fmt.Errorf("%w: remote_rejected in %s", ErrInvalidTransition, m.phase)
	}

	m.endLocked(OutcomeRejected)
	m.notifyAfterUnlock()
	return nil
}

// AcceptLocal answers the incoming call with the negotiated codec.
func (m *Machine) AcceptLocal(negotiated signaling.Preference) error {
	m.mu.Lock()
	if m.phase != PhaseIncoming {
		m.mu.Unlock()
		return fmt.Errorf("%w: accept_local in %s", ErrInvalidTransition, m.phase)
	}

	m.current.Codec = negotiated
	m.current.AnsweredTS = m.clock.Now()
	m.setPhaseLocked(PhaseInCall)
	m.notifyAfterUnlock()
	return nil
}

// RejectLocal declines the incoming call.
func (m *Machine) RejectLocal() error {
	m.mu.Lock()
	if m.phase != PhaseIncoming {
		m.mu.Unlock()
		return fmt.Errorf("%w: reject_local in %s", ErrInvalidTransition, m.phase)
	}

	m.endLocked(OutcomeRejected)
	m.notifyAfterUnlock()
	return nil
}

// LocalHangup ends the active call from our side.
func (m *Machine) LocalHangup() error {
	m.mu.Lock()
	if m.phase != PhaseInCall {
		m.mu.Unlock()
		return fmt.Errorf("%w: local_hangup in %s", ErrInvalidTransition, m.phase)
	}

	m.endLocked(OutcomeCompleted)
	m.notifyAfterUnlock()
	return nil
}

// RemoteEnded handles a CALL_END from the remote. Mid-call it is a normal
// completion; during INCOMING_CALL it means the caller gave up before we
// answered, which is recorded as a missed call.
func (m *Machine) RemoteEnded(callID string) error {
	m.mu.Lock()
	if err := m.matchLocked(callID); err != nil {
		m.mu.Unlock()
		return err
	}

	switch m.phase {
	case PhaseInCall:
		m.endLocked(OutcomeCompleted)
	case PhaseIncoming:
		m.endLocked(OutcomeMissed)
	default:
		phase := m.phase
		m.mu.Unlock()
		return fmt.Errorf("%w: remote_ended in %s", ErrInvalidTransition, phase)
	}

	m.notifyAfterUnlock()
	return nil
}

// LinkFailed ends the active call after a media link failure.
func (m *Machine) LinkFailed() error {
	return m.failInCall(OutcomeLinkFailed, "link_failed")
}

// CodecFailed ends the active call after a codec initialisation failure.
func (m *Machine) CodecFailed() error {
	return m.failInCall(OutcomeCodecError, "codec_failed")
}

func (m *Machine) failInCall(outcome Outcome, event string) error {
	m.mu.Lock()
	if m.phase != PhaseInCall {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, event, m.phase)
	}

	m.endLocked(outcome)
	m.notifyAfterUnlock()
	return nil
}

// CancelLocal abandons a not-yet-connected call: the invite timeout or the
// user giving up while it rings. The outcome distinguishes an outgoing
// no-answer from an incoming missed call.
func (m *Machine) CancelLocal(outcome Outcome) error {
	m.mu.Lock()
	switch m.phase {
	case PhaseOutgoing, PhaseRinging, PhaseIncoming:
		m.endLocked(outcome)
	default:
		phase := m.phase
		m.mu.Unlock()
		return fmt.Errorf("%w: cancel_local in %s", ErrInvalidTransition, phase)
	}

	m.notifyAfterUnlock()
	return nil
}

// Finalize returns the closed call record for the history write and resets
// the machine to PhaseIdle.
func (m *Machine) Finalize() (*Call, error) {
	m.mu.Lock()
	if m.phase != PhaseEnded {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: finalize in %s", ErrInvalidTransition, m.phase)
	}

	closed := *m.current
	m.current = nil
	m.setPhaseLocked(PhaseIdle)
	m.notifyAfterUnlock()

	logrus.WithFields(logrus.Fields{
		"function": "Finalize",
		"call_id":  closed.CallID,
		"outcome":  closed.Outcome,
		"duration": closed.Duration(),
	}).Debug("Call finalized")

	return &closed, nil
}

// matchLocked validates an event's call ID against the active call.
// Caller holds m.mu.
func (m *Machine) matchLocked(callID string) error {
	if m.current == nil || m.current.CallID != callID {
		return fmt.Errorf("%w: %q", ErrCallIDMismatch, callID)
	}
	return nil
}

// endLocked moves to PhaseEnded and stamps the end of the call.
// Caller holds m.mu.
func (m *Machine) endLocked(outcome Outcome) {
	m.current.Outcome = outcome
	m.current.EndTS = m.clock.Now()
	m.setPhaseLocked(PhaseEnded)
}

func (m *Machine) setPhaseLocked(phase Phase) {
	logrus.WithFields(logrus.Fields{
		"function": "setPhaseLocked",
		"from":     m.phase,
		"to":       phase,
	}).Debug("Call phase transition")
	m.phase = phase
}

// notifyAfterUnlock snapshots the state, releases the lock and invokes the
// callback. Every successful transition calls it exactly once, so the
// callback sees transitions in order and may call back into the machine.
func (m *Machine) notifyAfterUnlock() {
	fn := m.onStateChanged
	phase := m.phase
	var call *Call
	if m.current != nil {
		c := *m.current
		call = &c
	}
	m.mu.Unlock()

	if fn != nil {
		fn(phase, call)
	}
}
