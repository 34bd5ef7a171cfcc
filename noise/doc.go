// Package noise provides the Noise Protocol handshake used to key encrypted
// media links between phones.
//
// The package implements the IK pattern on top of the formally verified
// flynn/noise library with ChaCha20-Poly1305 encryption, SHA256 hashing, and
// Curve25519 key exchange. IK fits this system because the caller always
// knows the callee's static public key before dialing: signaling only
// proceeds against peers already present in the local directory.
//
// Message flow (1 round trip):
//
//	Initiator                              Responder
//	─────────                              ─────────
//	-> e, es, s, ss  (ephemeral, static)
//	                                       <- e, ee, se  (ephemeral)
//	[session established]
//
// Security properties:
//   - Mutual authentication: both parties verify each other's identity
//   - Forward secrecy: compromise of long-term keys doesn't expose past sessions
//   - Identity hiding: initiator's identity protected from passive observers
//
// Example usage:
//
//	// Initiator (knows peer's public key)
//	ik, err := noise.NewIKHandshake(myPrivKey, peerPubKey, noise.Initiator)
//	if err != nil {
//	    return err
//	}
//	msg, _, err := ik.WriteMessage(nil, nil)  // Create initial message
//	// Send msg to peer, receive response...
//	_, complete, err := ik.ReadMessage(response)
//	if complete {
//	    send, recv, _ := ik.GetCipherStates()
//	    // Use send/recv for encrypted communication
//	}
//
//	// Responder (learns peer's key from the handshake itself)
//	ik, err := noise.NewIKHandshake(myPrivKey, nil, noise.Responder)
//	msg2, _, err := ik.WriteMessage(nil, receivedMsg)  // Process and respond
//	peerKey, _ := ik.GetRemoteStaticKey()
//
// After completion both sides obtain the same ChannelBinding() value, the
// hash of the full handshake transcript. The media layer derives the spoken
// verification code from it, so a man in the middle who terminated two
// separate handshakes would produce mismatched codes.
//
// CipherStates returned by GetCipherStates() are NOT safe for concurrent
// use; the transport layer serializes access to each. A handshake instance
// itself is meant to be driven from a single goroutine since the protocol is
// strictly sequential.
package noise
