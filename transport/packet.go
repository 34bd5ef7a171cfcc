package transport

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/kc1awv/lxst-phone/crypto"
)

// ErrMalformedPacket indicates a wire packet that does not parse.
var ErrMalformedPacket = errors.New("malformed packet")

// Wire packet kinds, the first byte of every UDP packet.
const (
	kindDatagram  byte = 0x01 // sealed signaling datagram
	kindAnnounce  byte = 0x02 // presence announce
	kindLinkInit  byte = 0x03 // link handshake message 1
	kindLinkReply byte = 0x04 // link handshake message 2
	kindLinkData  byte = 0x05 // encrypted link payload
	kindLinkClose byte = 0x06 // link teardown marker
)

const (
	// MaxPacketSize bounds every packet this transport emits or accepts.
	MaxPacketSize = 2048

	hashSize    = 32
	keySize     = 32
	nonceSize   = 24
	tokenSize   = 16
	aeadTagSize = 16
	counterSize = 8
	lengthSize  = 2

	datagramHeaderSize = 1 + hashSize + hashSize + nonceSize
	announceHeaderSize = 1 + hashSize + keySize
	linkInitHeaderSize = 1 + hashSize + tokenSize
	linkDataHeaderSize = 1 + tokenSize + counterSize + lengthSize

	// MaxDatagramPayload bounds the plaintext of one sealed datagram.
	MaxDatagramPayload = MaxPacketSize - datagramHeaderSize - crypto.BoxOverhead
	// MaxAnnounceData bounds the application data of one announce.
	MaxAnnounceData = MaxPacketSize - announceHeaderSize
	// MaxLinkPayload bounds the plaintext of one link data packet.
	MaxLinkPayload = MaxPacketSize - linkDataHeaderSize - aeadTagSize
)

// linkToken identifies one link across both peers. The initiator picks it
// at random and every packet of the link carries it.
type linkToken [tokenSize]byte

func newLinkToken() (linkToken, error) {
	var token linkToken
	if _, err := rand.Read(token[:]); err != nil {
		return linkToken{}, fmt.Errorf("failed to generate link token: %w", err)
	}
	return token, nil
}

// String returns a short hex form for logging.
func (t linkToken) String() string {
	return hex.EncodeToString(t[:4])
}

// datagram is a parsed sealed signaling packet. The box authenticates the
// sender: it only opens with the key announced for the sender destination.
type datagram struct {
	dest   crypto.DestinationHash
	sender crypto.DestinationHash
	nonce  crypto.Nonce
	box    []byte
}

// sealDatagram builds a kindDatagram packet carrying payload encrypted from
// the local identity to the peer's announced key.
func sealDatagram(dest, sender crypto.DestinationHash, recipientPub, senderPriv [32]byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxDatagramPayload {
		return nil, fmt.Errorf("%w: datagram payload %d bytes, max %d", ErrPayloadTooLarge, len(payload), MaxDatagramPayload)
	}

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to seal datagram: %w", err)
	}
	boxed, err := crypto.Encrypt(payload, nonce, recipientPub, senderPriv)
	if err != nil {
		return nil, fmt.Errorf("failed to seal datagram: %w", err)
	}

	packet := make([]byte, 0, datagramHeaderSize+len(boxed))
	packet = append(packet, kindDatagram)
	packet = append(packet, dest[:]...)
	packet = append(packet, sender[:]...)
	packet = append(packet, nonce[:]...)
	packet = append(packet, boxed...)
	return packet, nil
}

func parseDatagram(packet []byte) (datagram, error) {
	if len(packet) < datagramHeaderSize+crypto.BoxOverhead {
		return datagram{}, fmt.Errorf("%w: datagram %d bytes", ErrMalformedPacket, len(packet))
	}
	if packet[0] != kindDatagram {
		return datagram{}, fmt.Errorf("%w: kind 0x%02x is not a datagram", ErrMalformedPacket, packet[0])
	}

	var d datagram
	offset := 1
	copy(d.dest[:], packet[offset:offset+hashSize])
	offset += hashSize
	copy(d.sender[:], packet[offset:offset+hashSize])
	offset += hashSize
	copy(d.nonce[:], packet[offset:offset+nonceSize])
	offset += nonceSize
	d.box = packet[offset:]
	return d, nil
}

// openDatagram decrypts a parsed datagram with the claimed sender's key.
// Failure means the packet was tampered with or the sender lied about who
// it is.
func openDatagram(d datagram, senderPub, recipientPriv [32]byte) ([]byte, error) {
	payload, err := crypto.Decrypt(d.box, d.nonce, senderPub, recipientPriv)
	if err != nil {
		return nil, fmt.Errorf("failed to open datagram: %w", err)
	}
	return payload, nil
}

// announce is a parsed presence packet. Callers must verify that dest is
// derived from publicKey before trusting it.
type announce struct {
	dest      crypto.DestinationHash
	publicKey [32]byte
	appData   []byte
}

func encodeAnnounce(dest crypto.DestinationHash, publicKey [32]byte, appData []byte) ([]byte, error) {
	if len(appData) > MaxAnnounceData {
		return nil, fmt.Errorf("%w: announce data %d bytes, max %d", ErrPayloadTooLarge, len(appData), MaxAnnounceData)
	}

	packet := make([]byte, 0, announceHeaderSize+len(appData))
	packet = append(packet, kindAnnounce)
	packet = append(packet, dest[:]...)
	packet = append(packet, publicKey[:]...)
	packet = append(packet, appData...)
	return packet, nil
}

func parseAnnounce(packet []byte) (announce, error) {
	if len(packet) < announceHeaderSize {
		return announce{}, fmt.Errorf("%w: announce %d bytes", ErrMalformedPacket, len(packet))
	}
	if packet[0] != kindAnnounce {
		return announce{}, fmt.Errorf("%w: kind 0x%02x is not an announce", ErrMalformedPacket, packet[0])
	}

	var a announce
	offset := 1
	copy(a.dest[:], packet[offset:offset+hashSize])
	offset += hashSize
	copy(a.publicKey[:], packet[offset:offset+keySize])
	offset += keySize

	// Copied because the read buffer is reused for the next packet.
	a.appData = make([]byte, len(packet)-offset)
	copy(a.appData, packet[offset:])
	return a, nil
}

func encodeLinkInit(dest crypto.DestinationHash, token linkToken, msg []byte) []byte {
	packet := make([]byte, 0, linkInitHeaderSize+len(msg))
	packet = append(packet, kindLinkInit)
	packet = append(packet, dest[:]...)
	packet = append(packet, token[:]...)
	packet = append(packet, msg...)
	return packet
}

func parseLinkInit(packet []byte) (crypto.DestinationHash, linkToken, []byte, error) {
	if len(packet) <= linkInitHeaderSize {
		return crypto.DestinationHash{}, linkToken{}, nil, fmt.Errorf("%w: link init %d bytes", ErrMalformedPacket, len(packet))
	}
	if packet[0] != kindLinkInit {
		return crypto.DestinationHash{}, linkToken{}, nil, fmt.Errorf("%w: kind 0x%02x is not a link init", ErrMalformedPacket, packet[0])
	}

	var dest crypto.DestinationHash
	var token linkToken
	offset := 1
	copy(dest[:], packet[offset:offset+hashSize])
	offset += hashSize
	copy(token[:], packet[offset:offset+tokenSize])
	offset += tokenSize
	return dest, token, packet[offset:], nil
}

func encodeLinkReply(token linkToken, msg []byte) []byte {
	packet := make([]byte, 0, 1+tokenSize+len(msg))
	packet = append(packet, kindLinkReply)
	packet = append(packet, token[:]...)
	packet = append(packet, msg...)
	return packet
}

func parseLinkReply(packet []byte) (linkToken, []byte, error) {
	if len(packet) <= 1+tokenSize {
		return linkToken{}, nil, fmt.Errorf("%w: link reply %d bytes", ErrMalformedPacket, len(packet))
	}
	if packet[0] != kindLinkReply {
		return linkToken{}, nil, fmt.Errorf("%w: kind 0x%02x is not a link reply", ErrMalformedPacket, packet[0])
	}

	var token linkToken
	copy(token[:], packet[1:1+tokenSize])
	return token, packet[1+tokenSize:], nil
}

// encodeLinkData frames one encrypted payload. The counter is the cipher
// nonce the sender used, carried in clear so the receiver can decrypt out
// of order. The length prefix pins the ciphertext size against truncation.
func encodeLinkData(token linkToken, counter uint64, ciphertext []byte) []byte {
	packet := make([]byte, 0, linkDataHeaderSize+len(ciphertext))
	packet = append(packet, kindLinkData)
	packet = append(packet, token[:]...)
	packet = binary.BigEndian.AppendUint64(packet, counter)
	packet = binary.BigEndian.AppendUint16(packet, uint16(len(ciphertext)))
	packet = append(packet, ciphertext...)
	return packet
}

func parseLinkData(packet []byte) (linkToken, uint64, []byte, error) {
	if len(packet) <= linkDataHeaderSize {
		return linkToken{}, 0, nil, fmt.Errorf("%w: link data %d bytes", ErrMalformedPacket, len(packet))
	}
	if packet[0] != kindLinkData {
		return linkToken{}, 0, nil, fmt.Errorf("%w: kind 0x%02x is not link data", ErrMalformedPacket, packet[0])
	}

	var token linkToken
	offset := 1
	copy(token[:], packet[offset:offset+tokenSize])
	offset += tokenSize
	counter := binary.BigEndian.Uint64(packet[offset : offset+counterSize])
	offset += counterSize
	length := int(binary.BigEndian.Uint16(packet[offset : offset+lengthSize]))
	offset += lengthSize

	if len(packet)-offset != length {
		return linkToken{}, 0, nil, fmt.Errorf("%w: link data length %d, have %d", ErrMalformedPacket, length, len(packet)-offset)
	}
	return token, counter, packet[offset:], nil
}

func encodeLinkClose(token linkToken) []byte {
	packet := make([]byte, 0, 1+tokenSize)
	packet = append(packet, kindLinkClose)
	packet = append(packet, token[:]...)
	return packet
}

func parseLinkClose(packet []byte) (linkToken, error) {
	if len(packet) < 1+tokenSize {
		return linkToken{}, fmt.Errorf("%w: link close %d bytes", ErrMalformedPacket, len(packet))
	}
	if packet[0] != kindLinkClose {
		return linkToken{}, fmt.Errorf("%w: kind 0x%02x is not a link close", ErrMalformedPacket, packet[0])
	}

	var token linkToken
	copy(token[:], packet[1:1+tokenSize])
	return token, nil
}
