package callstate

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kc1awv/lxst-phone/crypto"
	"github.com/kc1awv/lxst-phone/signaling"
)

type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func newMockTime() *mockTimeProvider {
	return &mockTimeProvider{now: time.Unix(1700000000, 0)}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func testNodeID(b byte) crypto.NodeID {
	var id crypto.NodeID
	id[0] = b
	return id
}

func testDest(b byte) crypto.DestinationHash {
	var d crypto.DestinationHash
	d[0] = b
	return d
}

func outgoingCall() *Call {
	return &Call{
		LocalID:     testNodeID(1),
		RemoteID:    testNodeID(2),
		DisplayName: "Bob",
	}
}

func incomingCall(callID string) *Call {
	return &Call{
		CallID:         callID,
		LocalID:        testNodeID(1),
		RemoteID:       testNodeID(2),
		DisplayName:    "Bob",
		RemoteCallDest: testDest(9),
		RemotePrefs:    signaling.Preference{Codec: signaling.CodecOpus, Bitrate: 24000},
	}
}

func TestMachine_OutgoingHappyPath(t *testing.T) {
	clock := newMockTime()
	m := NewMachine(clock)

	var phases []Phase
	m.OnStateChanged(func(p Phase, _ *Call) { phases = append(phases, p) })

	callID, err := m.StartOutgoing(outgoingCall())
	if err != nil {
		t.Fatalf("StartOutgoing: %v", err)
	}
	if callID == "" {
		t.Fatal("no call ID allocated")
	}
	if m.Phase() != PhaseOutgoing {
		t.Fatalf("phase = %s, want OUTGOING_CALL", m.Phase())
	}

	if err := m.RemoteRinging(callID); err != nil {
		t.Fatalf("RemoteRinging: %v", err)
	}

	clock.Advance(5 * time.Second)
	negotiated := signaling.Preference{Codec: signaling.CodecOpus, Bitrate: 16000}
	if err := m.RemoteAccepted(callID, negotiated, testDest(7)); err != nil {
		t.Fatalf("RemoteAccepted: %v", err)
	}
	call := m.CurrentCall()
	if call.Codec != negotiated {
		t.Errorf("negotiated codec = %+v, want %+v", call.Codec, negotiated)
	}
	if call.RemoteCallDest != testDest(7) {
		t.Error("remote destination not recorded from accept")
	}
	if !call.Answered() {
		t.Error("call not marked answered")
	}

	clock.Advance(60 * time.Second)
	if err := m.LocalHangup(); err != nil {
		t.Fatalf("LocalHangup: %v", err)
	}
	if m.Phase() != PhaseEnded {
		t.Fatalf("phase = %s, want ENDED", m.Phase())
	}

	closed, err := m.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if closed.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %s, want completed", closed.Outcome)
	}
	if closed.Duration() != 60*time.Second {
		t.Errorf("duration = %s, want 60s", closed.Duration())
	}
	if m.Phase() != PhaseIdle || m.CurrentCall() != nil {
		t.Error("machine not reset to IDLE after Finalize")
	}

	want := []Phase{PhaseOutgoing, PhaseRinging, PhaseInCall, PhaseEnded, PhaseIdle}
	if len(phases) != len(want) {
		t.Fatalf("callback phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("callback phases = %v, want %v", phases, want)
		}
	}
}

func TestMachine_IncomingHappyPath(t *testing.T) {
	clock := newMockTime()
	m := NewMachine(clock)
	callID := signaling.NewCallID()

	if err := m.IncomingInvite(incomingCall(callID)); err != nil {
		t.Fatalf("IncomingInvite: %v", err)
	}
	if m.Phase() != PhaseIncoming {
		t.Fatalf("phase = %s, want INCOMING_CALL", m.Phase())
	}
	if m.CurrentCall().InitiatedByLocal {
		t.Error("incoming call marked as locally initiated")
	}

	negotiated := signaling.Preference{Codec: signaling.CodecOpus, Bitrate: 16000}
	if err := m.AcceptLocal(negotiated); err != nil {
		t.Fatalf("AcceptLocal: %v", err)
	}
	if m.Phase() != PhaseInCall {
		t.Fatalf("phase = %s, want IN_CALL", m.Phase())
	}

	clock.Advance(30 * time.Second)
	if err := m.RemoteEnded(callID); err != nil {
		t.Fatalf("RemoteEnded: %v", err)
	}

	closed, err := m.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if closed.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %s, want completed", closed.Outcome)
	}
	if closed.Direction() != "incoming" {
		t.Errorf("direction = %s, want incoming", closed.Direction())
	}
}

func TestMachine_RejectPaths(t *testing.T) {
	t.Run("remote rejects outgoing", func(t *testing.T) {
		m := NewMachine(newMockTime())
		callID, _ := m.StartOutgoing(outgoingCall())

		if err := m.RemoteRejected(callID); err != nil {
			t.Fatalf("RemoteRejected: %v", err)
		}
		closed, _ := m.Finalize()
		if closed.Outcome != OutcomeRejected {
			t.Errorf("outcome = %s, want rejected", closed.Outcome)
		}
		if closed.Answered() {
			t.Error("rejected call marked answered")
		}
		if closed.Duration() != 0 {
			t.Errorf("duration = %s, want 0", closed.Duration())
		}
	})

	t.Run("local rejects incoming", func(t *testing.T) {
		m := NewMachine(newMockTime())
		if err := m.IncomingInvite(incomingCall(signaling.NewCallID())); err != nil {
			t.Fatalf("IncomingInvite: %v", err)
		}

		if err := m.RejectLocal(); err != nil {
			t.Fatalf("RejectLocal: %v", err)
		}
		closed, _ := m.Finalize()
		if closed.Outcome != OutcomeRejected {
			t.Errorf("outcome = %s, want rejected", closed.Outcome)
		}
	})
}

func TestMachine_RemoteEndedWhileRinging_IsMissed(t *testing.T) {
	m := NewMachine(newMockTime())
	callID := signaling.NewCallID()
	if err := m.IncomingInvite(incomingCall(callID)); err != nil {
		t.Fatalf("IncomingInvite: %v", err)
	}

	// Caller gave up before we answered.
	if err := m.RemoteEnded(callID); err != nil {
		t.Fatalf("RemoteEnded: %v", err)
	}
	closed, _ := m.Finalize()
	if closed.Outcome != OutcomeMissed {
		t.Errorf("outcome = %s, want missed", closed.Outcome)
	}
}

func TestMachine_CancelOutgoing_NoAnswer(t *testing.T) {
	m := NewMachine(newMockTime())
	callID, _ := m.StartOutgoing(outgoingCall())
	if err := m.RemoteRinging(callID); err != nil {
		t.Fatalf("RemoteRinging: %v", err)
	}

	if err := m.CancelLocal(OutcomeNoAnswer); err != nil {
		t.Fatalf("CancelLocal: %v", err)
	}
	closed, _ := m.Finalize()
	if closed.Outcome != OutcomeNoAnswer {
		t.Errorf("outcome = %s, want no_answer", closed.Outcome)
	}
}

func TestMachine_FailureOutcomes(t *testing.T) {
	t.Run("link failure", func(t *testing.T) {
		m := NewMachine(newMockTime())
		callID, _ := m.StartOutgoing(outgoingCall())
		_ = m.RemoteAccepted(callID, signaling.Preference{Codec: signaling.CodecOpus, Bitrate: 16000}, testDest(7))

		if err := m.LinkFailed(); err != nil {
			t.Fatalf("LinkFailed: %v", err)
		}
		closed, _ := m.Finalize()
		if closed.Outcome != OutcomeLinkFailed {
			t.Errorf("outcome = %s, want link_failed", closed.Outcome)
		}
	})

	t.Run("codec failure", func(t *testing.T) {
		m := NewMachine(newMockTime())
		if err := m.IncomingInvite(incomingCall(signaling.NewCallID())); err != nil {
			t.Fatal(err)
		}
		_ = m.AcceptLocal(signaling.Preference{Codec: signaling.CodecOpus, Bitrate: 16000})

		if err := m.CodecFailed(); err != nil {
			t.Fatalf("CodecFailed: %v", err)
		}
		closed, _ := m.Finalize()
		if closed.Outcome != OutcomeCodecError {
			t.Errorf("outcome = %s, want codec_error", closed.Outcome)
		}
	})
}

func TestMachine_CallIDMismatchIgnored(t *testing.T) {
	m := NewMachine(newMockTime())
	if _, err := m.StartOutgoing(outgoingCall()); err != nil {
		t.Fatal(err)
	}

	err := m.RemoteAccepted("some-other-call", signaling.Preference{Codec: signaling.CodecOpus, Bitrate: 16000}, testDest(7))
	if !errors.Is(err, ErrCallIDMismatch) {
		t.Fatalf("error = %v, want ErrCallIDMismatch", err)
	}
	if m.Phase() != PhaseOutgoing {
		t.Error("mismatched event changed the phase")
	}

	if err := m.RemoteEnded("some-other-call"); !errors.Is(err, ErrCallIDMismatch) {
		t.Fatalf("error = %v, want ErrCallIDMismatch", err)
	}
}

func TestMachine_InvalidTransitions(t *testing.T) {
	callID := signaling.NewCallID()

	tests := []struct {
		name  string
		setup func(m *Machine)
		event func(m *Machine) error
	}{
		{
			name:  "accept with no incoming call",
			setup: func(m *Machine) {},
			event: func(m *Machine) error {
				return m.AcceptLocal(signaling.Preference{Codec: signaling.CodecOpus, Bitrate: 16000})
			},
		},
		{
			name:  "hangup while idle",
			setup: func(m *Machine) {},
			event: func(m *Machine) error { return m.LocalHangup() },
		},
		{
			name:  "finalize while idle",
			setup: func(m *Machine) {},
			event: func(m *Machine) error { _, err := m.Finalize(); return err },
		},
		{
			name:  "start outgoing while incoming rings",
			setup: func(m *Machine) { _ = m.IncomingInvite(incomingCall(callID)) },
			event: func(m *Machine) error { _, err := m.StartOutgoing(outgoingCall()); return err },
		},
		{
			name:  "second invite while busy",
			setup: func(m *Machine) { _, _ = m.StartOutgoing(outgoingCall()) },
			event: func(m *Machine) error { return m.IncomingInvite(incomingCall(signaling.NewCallID())) },
		},
		{
			name: "ringing after connect",
			setup: func(m *Machine) {
				id, _ := m.StartOutgoing(outgoingCall())
				_ = m.RemoteAccepted(id, signaling.Preference{Codec: signaling.CodecOpus, Bitrate: 16000}, testDest(7))
			},
			event: func(m *Machine) error { return m.RemoteRinging(m.CurrentCall().CallID) },
		},
		{
			name: "reject local while in call",
			setup: func(m *Machine) {
				_ = m.IncomingInvite(incomingCall(callID))
				_ = m.AcceptLocal(signaling.Preference{Codec: signaling.CodecOpus, Bitrate: 16000})
			},
			event: func(m *Machine) error { return m.RejectLocal() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(newMockTime())
			tt.setup(m)
			before := m.Phase()

			if err := tt.event(m); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("error = %v, want ErrInvalidTransition", err)
			}
			if m.Phase() != before {
				t.Errorf("invalid transition changed phase %s -> %s", before, m.Phase())
			}
		})
	}
}

func TestMachine_AtMostOneCallInvariant(t *testing.T) {
	m := NewMachine(newMockTime())

	check := func(stage string) {
		t.Helper()
		hasCall := m.CurrentCall() != nil
		idle := m.Phase() == PhaseIdle
		if hasCall == idle {
			t.Errorf("%s: current call presence (%v) inconsistent with phase %s", stage, hasCall, m.Phase())
		}
	}

	check("initial")
	callID, _ := m.StartOutgoing(outgoingCall())
	check("outgoing")
	_ = m.RemoteAccepted(callID, signaling.Preference{Codec: signaling.CodecOpus, Bitrate: 16000}, testDest(7))
	check("in call")
	_ = m.LocalHangup()
	check("ended")
	_, _ = m.Finalize()
	check("finalized")
}

func TestMachine_CallbackGetsCopy(t *testing.T) {
	m := NewMachine(newMockTime())
	m.OnStateChanged(func(_ Phase, call *Call) {
		if call != nil {
			call.DisplayName = "mutated"
		}
	})

	if _, err := m.StartOutgoing(outgoingCall()); err != nil {
		t.Fatal(err)
	}
	if m.CurrentCall().DisplayName != "Bob" {
		t.Error("callback mutation leaked into the machine's record")
	}
}

func TestMachine_CallbackMayReenter(t *testing.T) {
	m := NewMachine(newMockTime())

	var observed Phase
	m.OnStateChanged(func(p Phase, _ *Call) {
		// Re-entering the machine from the callback must not deadlock.
		observed = m.Phase()
		_ = p
	})

	if _, err := m.StartOutgoing(outgoingCall()); err != nil {
		t.Fatal(err)
	}
	if observed != PhaseOutgoing {
		t.Errorf("callback observed phase %s, want OUTGOING_CALL", observed)
	}
}
