// Package crypto implements the cryptographic primitives for the lxst-phone
// call engine.
//
// This package owns the long-term identity key pair, the node identifier
// derived from the public key, destination-hash derivation, and sealed
// datagram encryption using the NaCl box construction through Go's x/crypto
// packages.
//
// # Core Types
//
//   - [KeyPair]: NaCl crypto_box key pair (Curve25519)
//   - [Identity]: a key pair bound to its storage file
//   - [NodeID]: SHA-256 hash of a public key, the stable peer identifier
//   - [DestinationHash]: addressable endpoint derived from a node ID and an
//     aspect string
//   - [Nonce]: 24-byte random nonce for box encryption
//
// # Identity Handling
//
// An identity is loaded from disk when present and created otherwise. The
// file holds raw key material and is written with 0600 permissions:
//
//	id, err := crypto.LoadOrCreateIdentity(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Node ID:", id.NodeID())
//
// # Destinations
//
// Any party holding a peer's public key can reconstruct the peer's
// destinations. Derivation is deterministic:
//
//	dest := crypto.NewDestinationHash(nodeID, crypto.AspectCall)
//
// Two independent computations over the same inputs always agree; the peer
// directory relies on this to validate announces.
//
// # Sealed Datagrams
//
// Signaling packets are sealed to the recipient's public key:
//
//	nonce, _ := crypto.GenerateNonce()
//	sealed, _ := crypto.Encrypt(payload, nonce, recipientPK, senderSK)
//	plain, _ := crypto.Decrypt(sealed, nonce, senderPK, recipientSK)
//
// # Secure Memory Handling
//
// Buffers holding key material are wiped on session teardown:
//
//	defer crypto.WipeKeyPair(keyPair)
//	defer crypto.ZeroBytes(sessionKey)
//
// # Deterministic Testing
//
// Time-dependent callers take a [TimeProvider]; tests inject a fixed clock
// instead of sleeping.
package crypto
