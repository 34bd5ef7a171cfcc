package media

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/kc1awv/lxst-phone/crypto"
)

// sasDigits is the length of the spoken verification code.
const sasDigits = 4

// DeriveSAS turns session key material into the short authentication
// string: the first four bytes of its SHA-256 digest, read as a big-endian
// integer, reduced to four decimal digits with leading zeros kept. Both
// ends of a link derive the same code from the same material, so a spoken
// comparison detects an interposed endpoint.
func DeriveSAS(keyMaterial []byte) string {
	sum := sha256.Sum256(keyMaterial)
	value := binary.BigEndian.Uint32(sum[:4])
	return fmt.Sprintf("%0*d", sasDigits, value%10000)
}

// FallbackKeyMaterial builds SAS input for links that expose no channel
// binding: the two node IDs concatenated in lexicographic order, so both
// sides agree on the byte string regardless of who called whom.
func FallbackKeyMaterial(local, remote crypto.NodeID) []byte {
	a, b := local[:], remote[:]
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	material := make([]byte, 0, len(a)+len(b))
	material = append(material, a...)
	return append(material, b...)
}
