package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// identityFileSize is the raw identity file length: private key followed by
// public key.
const identityFileSize = 64

var (
	// ErrIdentityCorrupt indicates an identity file that could not be
	// parsed or whose public key does not match its private key.
	ErrIdentityCorrupt = errors.New("identity file corrupt")
)

// Identity is the local long-term key pair bound to its storage path. The
// node ID and all local destinations derive from it.
type Identity struct {
	keyPair *KeyPair
	nodeID  NodeID
	path    string
}

// IdentityInfo is the printable summary used by --show-identity.
type IdentityInfo struct {
	NodeID    string
	PublicKey string
	Path      string
}

// NewIdentity generates a fresh identity that has not been persisted yet.
func NewIdentity() (*Identity, error) {
	keyPair, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate identity key pair: %w", err)
	}

	return &Identity{
		keyPair: keyPair,
		nodeID:  NodeIDFromPublicKey(keyPair.Public),
	}, nil
}

// LoadIdentity reads an identity from its file. The public half is checked
// against the private half; a mismatch means the file is corrupt.
func LoadIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	defer ZeroBytes(data)

	if len(data) != identityFileSize {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrIdentityCorrupt, len(data), identityFileSize)
	}

	var private [32]byte
	copy(private[:], data[:32])

	keyPair, err := FromSecretKey(private)
	if err != nil {
		ZeroBytes(private[:])
		return nil, fmt.Errorf("%w: %v", ErrIdentityCorrupt, err)
	}
	ZeroBytes(private[:])

	var storedPublic [32]byte
	copy(storedPublic[:], data[32:])
	if storedPublic != keyPair.Public {
		WipeKeyPair(keyPair)
		return nil, fmt.Errorf("%w: stored public key does not match private key", ErrIdentityCorrupt)
	}

	return &Identity{
		keyPair: keyPair,
		nodeID:  NodeIDFromPublicKey(keyPair.Public),
		path:    path,
	}, nil
}

// LoadOrCreateIdentity loads the identity at path, creating and persisting a
// new one when the file is missing. A corrupt file is replaced with a fresh
// identity, matching the recovery behaviour users expect from a phone that
// must come up even after a bad shutdown.
func LoadOrCreateIdentity(path string) (*Identity, error) {
	if _, err := os.Stat(path); err == nil {
		id, err := LoadIdentity(path)
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"function": "LoadOrCreateIdentity",
				"path":     path,
				"node_id":  id.nodeID.Short(),
			}).Info("Loaded existing identity")
			return id, nil
		}

		logrus.WithFields(logrus.Fields{
			"function": "LoadOrCreateIdentity",
			"path":     path,
			"error":    err.Error(),
		}).Warn("Identity file unreadable, creating replacement")
	}

	id, err := NewIdentity()
	if err != nil {
		return nil, err
	}
	if err := id.Save(path); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "LoadOrCreateIdentity",
		"path":     path,
		"node_id":  id.nodeID.Short(),
	}).Info("Created new identity")

	return id, nil
}

// Save writes the identity to path with owner-only permissions and binds the
// identity to that path.
func (id *Identity) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create identity directory: %w", err)
	}

	data := make([]byte, identityFileSize)
	copy(data[:32], id.keyPair.Private[:])
	copy(data[32:], id.keyPair.Public[:])
	defer ZeroBytes(data)

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}

	id.path = path
	return nil
}

// NodeID returns the identity's stable node ID.
func (id *Identity) NodeID() NodeID {
	return id.nodeID
}

// PublicKey returns the raw public key.
func (id *Identity) PublicKey() [32]byte {
	return id.keyPair.Public
}

// PublicKeyBase64 returns the public key as carried in announces.
func (id *Identity) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(id.keyPair.Public[:])
}

// KeyPair exposes the underlying key pair for the transport layer. Callers
// must not retain copies of the private half beyond the identity's lifetime.
func (id *Identity) KeyPair() *KeyPair {
	return id.keyPair
}

// Destination derives one of this identity's own destination hashes.
func (id *Identity) Destination(aspect string) DestinationHash {
	return NewDestinationHash(id.nodeID, aspect)
}

// Info returns the printable identity summary.
func (id *Identity) Info() IdentityInfo {
	return IdentityInfo{
		NodeID:    id.nodeID.String(),
		PublicKey: hex.EncodeToString(id.keyPair.Public[:]),
		Path:      id.path,
	}
}

// Wipe erases the private key material. The identity is unusable afterwards.
func (id *Identity) Wipe() {
	if id.keyPair != nil {
		_ = WipeKeyPair(id.keyPair)
	}
}
