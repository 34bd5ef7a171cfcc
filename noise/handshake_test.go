package noise

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kc1awv/lxst-phone/crypto"
)

func testKeyPair(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return kp
}

// runExchange drives a full IK handshake between two fresh identities and
// returns both completed sides.
func runExchange(t *testing.T) (*IKHandshake, *IKHandshake, *crypto.KeyPair, *crypto.KeyPair) {
	t.Helper()

	initiatorKeys := testKeyPair(t)
	responderKeys := testKeyPair(t)

	initiator, err := NewIKHandshake(initiatorKeys.Private[:], responderKeys.Public[:], Initiator)
	if err != nil {
		t.Fatalf("create initiator: %v", err)
	}
	responder, err := NewIKHandshake(responderKeys.Private[:], nil, Responder)
	if err != nil {
		t.Fatalf("create responder: %v", err)
	}

	msg1, complete, err := initiator.WriteMessage(nil, nil)
	if err != nil {
		t.Fatalf("initiator write: %v", err)
	}
	if complete {
		t.Error("initiator should not complete after first message")
	}

	msg2, complete, err := responder.WriteMessage(nil, msg1)
	if err != nil {
		t.Fatalf("responder write: %v", err)
	}
	if !complete {
		t.Error("responder should complete after writing response")
	}

	_, complete, err = initiator.ReadMessage(msg2)
	if err != nil {
		t.Fatalf("initiator read response: %v", err)
	}
	if !complete {
		t.Error("initiator should complete after reading response")
	}

	return initiator, responder, initiatorKeys, responderKeys
}

func TestNewIKHandshake(t *testing.T) {
	initiatorKeys := testKeyPair(t)
	responderKeys := testKeyPair(t)

	initiator, err := NewIKHandshake(initiatorKeys.Private[:], responderKeys.Public[:], Initiator)
	if err != nil {
		t.Fatalf("create initiator: %v", err)
	}
	if initiator.role != Initiator {
		t.Error("expected initiator role")
	}
	if initiator.IsComplete() {
		t.Error("handshake should not be complete initially")
	}

	responder, err := NewIKHandshake(responderKeys.Private[:], nil, Responder)
	if err != nil {
		t.Fatalf("create responder: %v", err)
	}
	if responder.role != Responder {
		t.Error("expected responder role")
	}
	if responder.IsComplete() {
		t.Error("handshake should not be complete initially")
	}
}

func TestNewIKHandshakeValidation(t *testing.T) {
	valid := testKeyPair(t)
	short := make([]byte, 16)

	if _, err := NewIKHandshake(short, valid.Public[:], Initiator); err == nil {
		t.Error("expected error for short private key")
	}
	if _, err := NewIKHandshake(valid.Private[:], nil, Initiator); err == nil {
		t.Error("expected error for initiator without peer key")
	}
	if _, err := NewIKHandshake(valid.Private[:], make([]byte, 16), Initiator); err == nil {
		t.Error("expected error for short peer key")
	}
}

func TestIKHandshakeExchange(t *testing.T) {
	initiator, responder, initiatorKeys, responderKeys := runExchange(t)

	remoteFromResponder, err := responder.GetRemoteStaticKey()
	if err != nil {
		t.Fatalf("responder remote key: %v", err)
	}
	if !bytes.Equal(remoteFromResponder, initiatorKeys.Public[:]) {
		t.Error("responder learned wrong initiator static key")
	}

	remoteFromInitiator, err := initiator.GetRemoteStaticKey()
	if err != nil {
		t.Fatalf("initiator remote key: %v", err)
	}
	if !bytes.Equal(remoteFromInitiator, responderKeys.Public[:]) {
		t.Error("initiator learned wrong responder static key")
	}
}

func TestIKHandshakeCipherStates(t *testing.T) {
	initiator, responder, _, _ := runExchange(t)

	iSend, iRecv, err := initiator.GetCipherStates()
	if err != nil {
		t.Fatalf("initiator cipher states: %v", err)
	}
	rSend, rRecv, err := responder.GetCipherStates()
	if err != nil {
		t.Fatalf("responder cipher states: %v", err)
	}

	// Initiator to responder direction.
	plaintext := []byte("offhook")
	ct, err := iSend.Encrypt(nil, nil, plaintext)
	if err != nil {
		t.Fatalf("initiator encrypt: %v", err)
	}
	got, err := rRecv.Decrypt(nil, nil, ct)
	if err != nil {
		t.Fatalf("responder decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("responder decrypted %q, want %q", got, plaintext)
	}

	// Responder to initiator direction.
	reply := []byte("ringing")
	ct, err = rSend.Encrypt(nil, nil, reply)
	if err != nil {
		t.Fatalf("responder encrypt: %v", err)
	}
	got, err = iRecv.Decrypt(nil, nil, ct)
	if err != nil {
		t.Fatalf("initiator decrypt: %v", err)
	}
	if !bytes.Equal(got, reply) {
		t.Errorf("initiator decrypted %q, want %q", got, reply)
	}
}

func TestIKHandshakeChannelBinding(t *testing.T) {
	initiator, responder, _, _ := runExchange(t)

	iBinding, err := initiator.ChannelBinding()
	if err != nil {
		t.Fatalf("initiator channel binding: %v", err)
	}
	rBinding, err := responder.ChannelBinding()
	if err != nil {
		t.Fatalf("responder channel binding: %v", err)
	}

	if len(iBinding) == 0 {
		t.Fatal("channel binding is empty")
	}
	if !bytes.Equal(iBinding, rBinding) {
		t.Error("channel bindings differ between sides")
	}

	// A second exchange must bind to a different transcript.
	other, _, _, _ := runExchange(t)
	oBinding, err := other.ChannelBinding()
	if err != nil {
		t.Fatalf("second exchange channel binding: %v", err)
	}
	if bytes.Equal(iBinding, oBinding) {
		t.Error("distinct handshakes produced the same channel binding")
	}
}

func TestIKHandshakeBeforeCompletion(t *testing.T) {
	keys := testKeyPair(t)
	peer := testKeyPair(t)

	initiator, err := NewIKHandshake(keys.Private[:], peer.Public[:], Initiator)
	if err != nil {
		t.Fatalf("create initiator: %v", err)
	}

	if _, _, err := initiator.GetCipherStates(); !errors.Is(err, ErrHandshakeNotComplete) {
		t.Errorf("GetCipherStates error = %v, want ErrHandshakeNotComplete", err)
	}
	if _, err := initiator.GetRemoteStaticKey(); !errors.Is(err, ErrHandshakeNotComplete) {
		t.Errorf("GetRemoteStaticKey error = %v, want ErrHandshakeNotComplete", err)
	}
	if _, err := initiator.ChannelBinding(); !errors.Is(err, ErrHandshakeNotComplete) {
		t.Errorf("ChannelBinding error = %v, want ErrHandshakeNotComplete", err)
	}
}

func TestIKHandshakeAfterCompletion(t *testing.T) {
	initiator, responder, _, _ := runExchange(t)

	if _, _, err := initiator.WriteMessage(nil, nil); !errors.Is(err, ErrHandshakeComplete) {
		t.Errorf("initiator WriteMessage error = %v, want ErrHandshakeComplete", err)
	}
	if _, _, err := initiator.ReadMessage([]byte("late")); !errors.Is(err, ErrHandshakeComplete) {
		t.Errorf("initiator ReadMessage error = %v, want ErrHandshakeComplete", err)
	}
	if _, _, err := responder.WriteMessage(nil, []byte("late")); !errors.Is(err, ErrHandshakeComplete) {
		t.Errorf("responder WriteMessage error = %v, want ErrHandshakeComplete", err)
	}
}

func TestIKHandshakeRoleMisuse(t *testing.T) {
	keys := testKeyPair(t)

	responder, err := NewIKHandshake(keys.Private[:], nil, Responder)
	if err != nil {
		t.Fatalf("create responder: %v", err)
	}

	if _, _, err := responder.WriteMessage(nil, nil); err == nil {
		t.Error("responder WriteMessage without received message should fail")
	}
	if _, _, err := responder.ReadMessage([]byte("msg")); err == nil {
		t.Error("responder ReadMessage should fail")
	}
}

func TestIKHandshakeWrongResponderKey(t *testing.T) {
	initiatorKeys := testKeyPair(t)
	responderKeys := testKeyPair(t)
	wrongKeys := testKeyPair(t)

	// Initiator dials with a stale key for the responder.
	initiator, err := NewIKHandshake(initiatorKeys.Private[:], wrongKeys.Public[:], Initiator)
	if err != nil {
		t.Fatalf("create initiator: %v", err)
	}
	responder, err := NewIKHandshake(responderKeys.Private[:], nil, Responder)
	if err != nil {
		t.Fatalf("create responder: %v", err)
	}

	msg1, _, err := initiator.WriteMessage(nil, nil)
	if err != nil {
		t.Fatalf("initiator write: %v", err)
	}

	if _, _, err := responder.WriteMessage(nil, msg1); err == nil {
		t.Error("responder should reject a handshake keyed to someone else")
	}
}

// FuzzResponderHandshake feeds arbitrary bytes to a responder. Malformed
// first messages must produce errors, never panics or completed handshakes.
func FuzzResponderHandshake(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0x00})
	f.Add(bytes.Repeat([]byte{0xff}, 96))

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		f.Fatalf("generate keypair: %v", err)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		responder, err := NewIKHandshake(kp.Private[:], nil, Responder)
		if err != nil {
			t.Fatalf("create responder: %v", err)
		}
		_, complete, err := responder.WriteMessage(nil, data)
		if err == nil && !complete {
			t.Error("handshake neither failed nor completed")
		}
	})
}
