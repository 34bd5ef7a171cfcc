package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// AppName is the application tag mixed into every destination hash and
// carried in announce app_data. Peers ignore announces for other apps.
const AppName = "lxst_phone"

// AspectCall is the destination aspect for call signaling. Media links and
// announces ride the same destination: the INVITE and ACCEPT exchange
// call_dest, and that is where the peer dials the link.
const AspectCall = "call"

// NodeID is the SHA-256 hash of a participant's public key. Its 64-char hex
// form is the stable identifier used in place of a phone number.
type NodeID [32]byte

// NodeIDFromPublicKey derives the node ID for a public key.
func NodeIDFromPublicKey(publicKey [32]byte) NodeID {
	return NodeID(sha256.Sum256(publicKey[:]))
}

// ParseNodeID parses a node ID from its 64-char hexadecimal form.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	if len(s) != 64 {
		return id, fmt.Errorf("invalid node ID length: %d", len(s))
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid node ID: %w", err)
	}
	copy(id[:], data)
	return id, nil
}

// String returns the 64-char hexadecimal form of the node ID.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns a truncated hex form for logging. Full node IDs are kept out
// of logs.
func (id NodeID) Short() string {
	return hex.EncodeToString(id[:8])
}

// IsZero reports whether the node ID is unset.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// DestinationHash is an addressable transport endpoint derived from an
// identity and an aspect string. Only the identity holder can decrypt
// packets sent to it.
type DestinationHash [32]byte

// NewDestinationHash derives the destination hash for a node and aspect:
// SHA-256 over identity_hash || app || aspect.
func NewDestinationHash(id NodeID, aspect string) DestinationHash {
	h := sha256.New()
	h.Write(id[:])
	h.Write([]byte(AppName))
	h.Write([]byte(aspect))
	var dest DestinationHash
	copy(dest[:], h.Sum(nil))
	return dest
}

// ParseDestinationHash parses a destination hash from its 64-char hex form.
func ParseDestinationHash(s string) (DestinationHash, error) {
	var dest DestinationHash
	if len(s) != 64 {
		return dest, fmt.Errorf("invalid destination hash length: %d", len(s))
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return dest, fmt.Errorf("invalid destination hash: %w", err)
	}
	copy(dest[:], data)
	return dest, nil
}

// String returns the 64-char hexadecimal form of the destination hash.
func (d DestinationHash) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns a truncated hex form for logging.
func (d DestinationHash) Short() string {
	return hex.EncodeToString(d[:8])
}

// IsZero reports whether the destination hash is unset.
func (d DestinationHash) IsZero() bool {
	return d == DestinationHash{}
}

// ErrHashMismatch indicates a destination hash that does not match the value
// derivable from the claimed public key.
var ErrHashMismatch = errors.New("destination hash does not match public key")

// VerifyDestination checks that a claimed destination hash is derivable from
// the given public key under the given aspect.
func VerifyDestination(publicKey [32]byte, aspect string, claimed DestinationHash) error {
	derived := NewDestinationHash(NodeIDFromPublicKey(publicKey), aspect)
	if derived != claimed {
		return fmt.Errorf("%w: derived %s, claimed %s", ErrHashMismatch, derived.Short(), claimed.Short())
	}
	return nil
}
