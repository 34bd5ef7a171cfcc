package admission

import (
	"testing"

	"github.com/kc1awv/lxst-phone/callstate"
	"github.com/kc1awv/lxst-phone/crypto"
	"github.com/kc1awv/lxst-phone/peers"
	"github.com/kc1awv/lxst-phone/ratelimit"
)

type mockDirectory struct {
	records map[crypto.NodeID]peers.Record
}

func (m *mockDirectory) Resolve(nodeID crypto.NodeID) (peers.Record, error) {
	rec, ok := m.records[nodeID]
	if !ok {
		return peers.Record{}, peers.ErrPeerNotFound
	}
	return rec, nil
}

type mockLimiter struct {
	allow bool
	calls int
}

func (m *mockLimiter) Allow(crypto.NodeID) bool {
	m.calls++
	return m.allow
}

type fixedPhase callstate.Phase

func (p fixedPhase) Phase() callstate.Phase { return callstate.Phase(p) }

func testNodeID(b byte) crypto.NodeID {
	var id crypto.NodeID
	id[0] = b
	return id
}

func newTestController(dir *mockDirectory, lim *mockLimiter, phase callstate.Phase) *Controller {
	c, err := NewController(dir, lim, fixedPhase(phase))
	if err != nil {
		panic(err)
	}
	return c
}

func TestCheck_UnknownPeer(t *testing.T) {
	lim := &mockLimiter{allow: true}
	c := newTestController(&mockDirectory{records: map[crypto.NodeID]peers.Record{}}, lim, callstate.PhaseIdle)

	if got := c.Check(testNodeID(1)); got != RejectUnknown {
		t.Fatalf("decision = %s, want reject_unknown", got)
	}
	if lim.calls != 0 {
		t.Error("limiter consulted for unknown peer")
	}
}

func TestCheck_BlockedBeforeLimiter(t *testing.T) {
	peer := testNodeID(1)
	dir := &mockDirectory{records: map[crypto.NodeID]peers.Record{
		peer: {NodeID: peer, Blocked: true},
	}}
	lim := &mockLimiter{allow: true}
	c := newTestController(dir, lim, callstate.PhaseIdle)

	if got := c.Check(peer); got != RejectBlocked {
		t.Fatalf("decision = %s, want reject_blocked", got)
	}
	if lim.calls != 0 {
		t.Error("limiter state touched for blocked peer")
	}
}

func TestCheck_RateLimited(t *testing.T) {
	peer := testNodeID(1)
	dir := &mockDirectory{records: map[crypto.NodeID]peers.Record{
		peer: {NodeID: peer},
	}}
	c := newTestController(dir, &mockLimiter{allow: false}, callstate.PhaseIdle)

	if got := c.Check(peer); got != RejectRateLimited {
		t.Fatalf("decision = %s, want reject_rate_limited", got)
	}
}

func TestCheck_Busy(t *testing.T) {
	peer := testNodeID(1)
	dir := &mockDirectory{records: map[crypto.NodeID]peers.Record{
		peer: {NodeID: peer},
	}}

	busyPhases := []callstate.Phase{
		callstate.PhaseOutgoing,
		callstate.PhaseRinging,
		callstate.PhaseIncoming,
		callstate.PhaseInCall,
	}
	for _, phase := range busyPhases {
		c := newTestController(dir, &mockLimiter{allow: true}, phase)
		if got := c.Check(peer); got != RejectBusy {
			t.Errorf("phase %s: decision = %s, want reject_busy", phase, got)
		}
	}

	for _, phase := range []callstate.Phase{callstate.PhaseIdle, callstate.PhaseEnded} {
		c := newTestController(dir, &mockLimiter{allow: true}, phase)
		if got := c.Check(peer); got != Allow {
			t.Errorf("phase %s: decision = %s, want allow", phase, got)
		}
	}
}

func TestCheck_BusyInvitesStillConsumeBudget(t *testing.T) {
	// With a real limiter, invites rejected for busy must still count, so
	// a caller hammering a busy phone runs out of budget.
	peer := testNodeID(1)
	dir := &mockDirectory{records: map[crypto.NodeID]peers.Record{
		peer: {NodeID: peer},
	}}
	lim := ratelimit.NewLimiter(5, 20, nil)
	c, err := NewController(dir, lim, fixedPhase(callstate.PhaseInCall))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if got := c.Check(peer); got != RejectBusy {
			t.Fatalf("invite %d: decision = %s, want reject_busy", i+1, got)
		}
	}
	if got := c.Check(peer); got != RejectRateLimited {
		t.Fatalf("sixth invite: decision = %s, want reject_rate_limited", got)
	}
}

func TestNewController_NilDependencies(t *testing.T) {
	dir := &mockDirectory{}
	lim := &mockLimiter{}

	if _, err := NewController(nil, lim, fixedPhase(callstate.PhaseIdle)); err == nil {
		t.Error("nil directory accepted")
	}
	if _, err := NewController(dir, nil, fixedPhase(callstate.PhaseIdle)); err == nil {
		t.Error("nil limiter accepted")
	}
	if _, err := NewController(dir, lim, nil); err == nil {
		t.Error("nil phase source accepted")
	}
}

func TestDecision_String(t *testing.T) {
	tests := map[Decision]string{
		Allow:             "allow",
		RejectUnknown:     "reject_unknown",
		RejectBlocked:     "reject_blocked",
		RejectRateLimited: "reject_rate_limited",
		RejectBusy:        "reject_busy",
	}
	for d, want := range tests {
		if d.String() != want {
			t.Errorf("Decision(%d).String() = %s, want %s", d, d.String(), want)
		}
	}
	if Allow.Allowed() != true || RejectBusy.Allowed() != false {
		t.Error("Allowed() misreports")
	}
}
