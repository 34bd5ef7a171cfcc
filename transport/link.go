package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
)

// antiReplay is a 64-wide sliding window over link data counters. It lives
// on the receive goroutine, so it needs no locking. Reordered packets
// inside the window pass; anything older or already seen is rejected.
type antiReplay struct {
	max    uint64
	window uint64
	primed bool
}

// check reports whether counter n is fresh and marks it seen.
func (r *antiReplay) check(n uint64) bool {
	if !r.primed {
		r.primed = true
		r.max = n
		r.window = 1
		return true
	}
	if n > r.max {
		shift := n - r.max
		if shift >= 64 {
			r.window = 1
		} else {
			r.window = r.window<<shift | 1
		}
		r.max = n
		return true
	}
	behind := r.max - n
	if behind >= 64 {
		return false
	}
	bit := uint64(1) << behind
	if r.window&bit != 0 {
		return false
	}
	r.window |= bit
	return true
}

// udpLink is one encrypted channel riding a UDPTransport. Cipher states are
// not safe for concurrent use: sendMu serializes senders, while the receive
// cipher and replay window are touched only by the transport's receive
// goroutine.
type udpLink struct {
	transport *UDPTransport
	token     linkToken
	addr      net.Addr
	remoteKey [32]byte
	binding   []byte

	// replyCache holds the responder's handshake reply so a lost packet can
	// be answered again when the initiator retries.
	replyCache []byte

	sendMu      sync.Mutex
	sendCipher  *noise.CipherState
	sendCounter uint64

	recvCipher *noise.CipherState
	replay     antiReplay

	mu             sync.Mutex
	state          LinkState
	receiveHandler func([]byte)
	closedHandler  func(error)
}

func newUDPLink(t *UDPTransport, token linkToken, addr net.Addr, remoteKey [32]byte, binding []byte, send, recv *noise.CipherState) *udpLink {
	return &udpLink{
		transport:  t,
		token:      token,
		addr:       addr,
		remoteKey:  remoteKey,
		binding:    binding,
		sendCipher: send,
		recvCipher: recv,
		state:      LinkEstablished,
	}
}

// ID returns the handshake channel binding.
func (l *udpLink) ID() []byte {
	out := make([]byte, len(l.binding))
	copy(out, l.binding)
	return out
}

// RemoteStaticKey returns the peer's long-term public key.
func (l *udpLink) RemoteStaticKey() [32]byte {
	return l.remoteKey
}

// State reports the link lifecycle state.
func (l *udpLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SetReceiveHandler installs the inbound payload callback.
func (l *udpLink) SetReceiveHandler(handler func(payload []byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receiveHandler = handler
}

// SetClosedHandler installs the remote teardown callback.
func (l *udpLink) SetClosedHandler(handler func(err error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closedHandler = handler
}

// Send encrypts payload under the next counter and transmits it. The
// counter rides in the packet header so the peer can decrypt regardless of
// delivery order.
func (l *udpLink) Send(payload []byte) error {
	if len(payload) > MaxLinkPayload {
		return fmt.Errorf("%w: link payload %d bytes, max %d", ErrPayloadTooLarge, len(payload), MaxLinkPayload)
	}

	l.mu.Lock()
	if l.state != LinkEstablished {
		l.mu.Unlock()
		return ErrLinkClosed
	}
	l.mu.Unlock()

	l.sendMu.Lock()
	counter := l.sendCounter
	l.sendCipher.SetNonce(counter)
	ciphertext, err := l.sendCipher.Encrypt(nil, nil, payload)
	if err != nil {
		l.sendMu.Unlock()
		return fmt.Errorf("link encrypt failed: %w", err)
	}
	l.sendCounter++
	l.sendMu.Unlock()

	packet := encodeLinkData(l.token, counter, ciphertext)
	if err := l.transport.write(packet, l.addr); err != nil {
		return fmt.Errorf("link send failed: %w", err)
	}
	return nil
}

// handleData decrypts one inbound link packet and hands the payload to the
// receive handler. Runs on the transport's receive goroutine.
func (l *udpLink) handleData(counter uint64, ciphertext []byte) {
	l.mu.Lock()
	if l.state != LinkEstablished {
		l.mu.Unlock()
		return
	}
	handler := l.receiveHandler
	l.mu.Unlock()

	if !l.replay.check(counter) {
		logrus.WithFields(logrus.Fields{
			"function": "handleData",
			"token":    l.token.String(),
			"counter":  counter,
		}).Debug("Dropping replayed link packet")
		return
	}

	l.recvCipher.SetNonce(counter)
	payload, err := l.recvCipher.Decrypt(nil, nil, ciphertext)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleData",
			"token":    l.token.String(),
			"error":    err.Error(),
		}).Debug("Link packet failed to decrypt")
		return
	}

	if handler != nil {
		handler(payload)
	}
}

// remoteClose tears the link down on behalf of the peer or the transport
// and fires the closed handler.
func (l *udpLink) remoteClose(err error) {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return
	}
	l.state = LinkClosed
	handler := l.closedHandler
	l.mu.Unlock()

	l.transport.removeLink(l.token)
	if handler != nil {
		handler(err)
	}
}

// Close tears the link down locally. The peer gets a best-effort close
// marker; the closed handler is not invoked for a local close.
func (l *udpLink) Close() error {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return nil
	}
	l.state = LinkClosed
	l.mu.Unlock()

	_ = l.transport.write(encodeLinkClose(l.token), l.addr)
	l.transport.removeLink(l.token)

	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"token":    l.token.String(),
	}).Debug("Link closed locally")
	return nil
}
