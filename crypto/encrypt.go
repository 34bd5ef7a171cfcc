package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/box"
)

// Nonce is a 24-byte value used for box encryption.
type Nonce [24]byte

// BoxOverhead is the Poly1305 MAC overhead box.Seal adds to a message. The
// signaling MTU budget accounts for it plus the datagram header.
const BoxOverhead = box.Overhead

// MaxSealSize caps the plaintext accepted for sealing. Nothing the call
// engine sends approaches it; the limit guards against misuse.
const MaxSealSize = 64 * 1024

// GenerateNonce creates a cryptographically secure random nonce.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	_, err := rand.Read(nonce[:])
	if err != nil {
		return Nonce{}, err
	}
	return nonce, nil
}

// Encrypt seals a message to the recipient using authenticated encryption.
func Encrypt(message []byte, nonce Nonce, recipientPK [32]byte, senderSK [32]byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, errors.New("empty message")
	}
	if len(message) > MaxSealSize {
		return nil, errors.New("message too large")
	}

	encrypted := box.Seal(nil, message, (*[24]byte)(&nonce), (*[32]byte)(&recipientPK), (*[32]byte)(&senderSK))
	return encrypted, nil
}
