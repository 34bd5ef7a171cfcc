package transport

import (
	"context"
	"errors"

	"github.com/kc1awv/lxst-phone/crypto"
)

var (
	// ErrTransportClosed indicates the transport has been shut down.
	ErrTransportClosed = errors.New("transport closed")
	// ErrNoRoute indicates no address is known for the destination. Routes
	// are learned from announces, so an unreached peer has simply not been
	// heard from yet.
	ErrNoRoute = errors.New("no route to destination")
	// ErrLinkTimeout indicates the peer did not answer a link handshake in time.
	ErrLinkTimeout = errors.New("link establishment timed out")
	// ErrLinkClosed indicates an operation on a link that is no longer open.
	ErrLinkClosed = errors.New("link closed")
	// ErrPayloadTooLarge indicates a payload that cannot fit in one packet.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum packet size")
)

// PacketHandler processes one authenticated signaling payload. The from
// argument is the sender's call destination, verified by the sealed box the
// payload arrived in. Handlers run on the receive goroutine and must return
// promptly.
type PacketHandler func(from crypto.DestinationHash, payload []byte)

// AnnounceHandler processes one verified presence announce. The destination
// is guaranteed to match the announced public key under the call aspect.
type AnnounceHandler func(dest crypto.DestinationHash, publicKey [32]byte, appData []byte)

// LinkHandler accepts an inbound media link that completed its handshake.
// The handler owns the link and must either adopt or close it.
type LinkHandler func(link Link)

// LinkState tracks a link's lifecycle.
type LinkState int32

const (
	// LinkPending is an initiator link waiting for the handshake reply.
	LinkPending LinkState = iota
	// LinkEstablished is a link with negotiated cipher states, ready for data.
	LinkEstablished
	// LinkClosed is a link torn down locally or by the peer.
	LinkClosed
)

// String returns a human-readable state name.
func (s LinkState) String() string {
	switch s {
	case LinkPending:
		return "pending"
	case LinkEstablished:
		return "established"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Link is an established encrypted channel to one peer, used to carry media
// frames for the duration of a call. Payloads are delivered in arrival
// order; the channel itself is datagram-based, so loss and reordering on
// the wire surface as missing or reordered deliveries, never corrupted ones.
type Link interface {
	// ID returns the handshake channel binding. Both ends observe the same
	// value, making it key material for the call verification code.
	ID() []byte

	// RemoteStaticKey returns the peer's long-term public key as proven by
	// the handshake.
	RemoteStaticKey() [32]byte

	// State reports the link lifecycle state.
	State() LinkState

	// Send encrypts and transmits one payload. Returns ErrLinkClosed once
	// the link is down and ErrPayloadTooLarge for oversized payloads.
	Send(payload []byte) error

	// SetReceiveHandler installs the callback for decrypted inbound
	// payloads. Calls arrive on the receive goroutine in delivery order.
	SetReceiveHandler(handler func(payload []byte))

	// SetClosedHandler installs the callback invoked when the link is torn
	// down by the peer or by transport shutdown. It is not invoked for a
	// local Close.
	SetClosedHandler(handler func(err error))

	// Close tears the link down and notifies the peer. Idempotent.
	Close() error
}

// Transport moves signaling datagrams, presence announces, and media links
// between phones. Implementations own the socket lifecycle; handlers for
// every inbound flavor run synchronously on the receive goroutine so that
// delivery order matches arrival order.
type Transport interface {
	// NodeID returns the local node identifier.
	NodeID() crypto.NodeID

	// SendPacket seals payload to the destination and transmits it. The
	// payload is encrypted to the peer's announced key and authenticated
	// with the local identity. Returns ErrNoRoute for unknown peers.
	SendPacket(dest crypto.DestinationHash, payload []byte) error

	// RegisterPacketHandler routes inbound datagrams addressed to the local
	// destination for aspect to handler.
	RegisterPacketHandler(aspect string, handler PacketHandler)

	// SeedPeer primes the destination's public key ahead of its next
	// announce, letting inbound datagrams from a known peer authenticate
	// immediately. The key must match the destination hash.
	SeedPeer(dest crypto.DestinationHash, publicKey [32]byte) error

	// Announce broadcasts the local presence with the given application
	// data to all configured and learned peers.
	Announce(appData []byte) error

	// RegisterAnnounceHandler subscribes to verified inbound announces.
	RegisterAnnounceHandler(handler AnnounceHandler)

	// OpenLink dials an encrypted link to the peer's call destination. It
	// blocks until the handshake completes, ctx is done, or the attempt
	// times out.
	OpenLink(ctx context.Context, dest crypto.DestinationHash) (Link, error)

	// RegisterLinkHandler subscribes to inbound links opened by peers.
	RegisterLinkHandler(handler LinkHandler)

	// Close shuts the transport down, closing every open link.
	Close() error
}
