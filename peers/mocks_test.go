package peers

import (
	"sync"
	"testing"
	"time"

	"github.com/kc1awv/lxst-phone/crypto"
	"github.com/kc1awv/lxst-phone/signaling"
)

// mockTimeProvider is a manually advanced clock for deterministic tests.
type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func newMockTime() *mockTimeProvider {
	return &mockTimeProvider{now: time.Unix(1700000000, 0).UTC()}
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

// testAnnounce bundles the pieces of a valid presence announce.
type testAnnounce struct {
	keyPair *crypto.KeyPair
	nodeID  crypto.NodeID
	dest    crypto.DestinationHash
	appData []byte
}

func newTestAnnounce(t *testing.T, displayName string) testAnnounce {
	t.Helper()

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	nodeID := crypto.NodeIDFromPublicKey(kp.Public)
	appData, err := signaling.EncodeAnnounceData(displayName)
	if err != nil {
		t.Fatalf("encode announce data: %v", err)
	}

	return testAnnounce{
		keyPair: kp,
		nodeID:  nodeID,
		dest:    crypto.NewDestinationHash(nodeID, crypto.AspectCall),
		appData: appData,
	}
}

// newTestDirectory creates a directory in a temp dir with a random self
// identity and a mock clock.
func newTestDirectory(t *testing.T) (*Directory, *mockTimeProvider, string) {
	t.Helper()

	self, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate self keypair: %v", err)
	}
	path := t.TempDir() + "/peers.json"
	clock := newMockTime()

	dir, err := NewDirectory(path, crypto.NodeIDFromPublicKey(self.Public), clock)
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}
	return dir, clock, path
}
