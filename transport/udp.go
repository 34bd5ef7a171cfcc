package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"

	"github.com/kc1awv/lxst-phone/crypto"
	phonenoise "github.com/kc1awv/lxst-phone/noise"
)

const (
	// defaultLinkTimeout bounds how long OpenLink waits for the peer.
	defaultLinkTimeout = 10 * time.Second
	// defaultLinkRetry is how long OpenLink waits before resending the
	// handshake init once.
	defaultLinkRetry = 2 * time.Second
	// readPollInterval is the read deadline used to keep the receive loop
	// responsive to shutdown.
	readPollInterval = 100 * time.Millisecond
)

// route is what an announce teaches us about one peer: where to send and
// which key to seal with. addr stays nil for peers seeded from the local
// directory until they are actually heard from.
type route struct {
	addr      net.Addr
	publicKey [32]byte
	lastSeen  time.Time
}

// packetRegistration binds one local destination to its payload handler.
type packetRegistration struct {
	aspect  string
	handler PacketHandler
}

// linkResult is the outcome of one dial attempt.
type linkResult struct {
	link *udpLink
	err  error
}

// linkWaiter tracks one in-flight outbound handshake.
type linkWaiter struct {
	hs         *phonenoise.IKHandshake
	link       *udpLink
	initPacket []byte
	result     chan linkResult
}

// UDPTransport moves phone traffic over a single UDP socket. It satisfies
// the Transport interface. One goroutine reads the socket and dispatches
// every packet synchronously, which keeps delivery order equal to arrival
// order for signaling and media alike.
type UDPTransport struct {
	identity *crypto.Identity
	callDest crypto.DestinationHash
	conn     net.PacketConn
	clock    crypto.TimeProvider

	linkTimeout time.Duration
	linkRetry   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu               sync.RWMutex
	packetHandlers   map[crypto.DestinationHash]packetRegistration
	announceHandlers []AnnounceHandler
	linkHandlers     []LinkHandler
	routes           map[crypto.DestinationHash]route
	staticPeers      []net.Addr
	links            map[linkToken]*udpLink
	pending          map[linkToken]*linkWaiter
	closed           bool
}

// Compile-time interface checks.
var (
	_ Transport = (*UDPTransport)(nil)
	_ Link      = (*udpLink)(nil)
)

// NewUDPTransport opens a UDP socket on listenAddr and starts the receive
// loop. staticPeers are addresses that always receive our announces, the
// bootstrap into a network where nobody knows us yet.
func NewUDPTransport(identity *crypto.Identity, listenAddr string, staticPeers []string) (*UDPTransport, error) {
	if identity == nil {
		return nil, errors.New("identity cannot be nil")
	}

	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}

	resolved := make([]net.Addr, 0, len(staticPeers))
	for _, peer := range staticPeers {
		addr, err := net.ResolveUDPAddr("udp", peer)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to resolve static peer %q: %w", peer, err)
		}
		resolved = append(resolved, addr)
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &UDPTransport{
		identity:       identity,
		callDest:       identity.Destination(crypto.AspectCall),
		conn:           conn,
		clock:          crypto.GetDefaultTimeProvider(),
		linkTimeout:    defaultLinkTimeout,
		linkRetry:      defaultLinkRetry,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		packetHandlers: make(map[crypto.DestinationHash]packetRegistration),
		routes:         make(map[crypto.DestinationHash]route),
		staticPeers:    resolved,
		links:          make(map[linkToken]*udpLink),
		pending:        make(map[linkToken]*linkWaiter),
	}

	go t.processPackets()

	logrus.WithFields(logrus.Fields{
		"function":     "NewUDPTransport",
		"listen_addr":  conn.LocalAddr().String(),
		"static_peers": len(resolved),
		"node_id":      identity.NodeID().Short(),
	}).Info("UDP transport started")

	return t, nil
}

// NodeID returns the local node identifier.
func (t *UDPTransport) NodeID() crypto.NodeID {
	return t.identity.NodeID()
}

// LocalAddr returns the bound socket address.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// RegisterPacketHandler routes datagrams addressed to the local destination
// for aspect to handler.
func (t *UDPTransport) RegisterPacketHandler(aspect string, handler PacketHandler) {
	dest := t.identity.Destination(aspect)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.packetHandlers[dest] = packetRegistration{aspect: aspect, handler: handler}
}

// RegisterAnnounceHandler subscribes to verified inbound announces.
func (t *UDPTransport) RegisterAnnounceHandler(handler AnnounceHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.announceHandlers = append(t.announceHandlers, handler)
}

// RegisterLinkHandler subscribes to inbound links.
func (t *UDPTransport) RegisterLinkHandler(handler LinkHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.linkHandlers = append(t.linkHandlers, handler)
}

// SeedPeer primes the key table for a peer known from the local directory,
// so its signaling can be authenticated before its first announce of the
// session is heard. The address is still learned from live traffic.
func (t *UDPTransport) SeedPeer(dest crypto.DestinationHash, publicKey [32]byte) error {
	if err := crypto.VerifyDestination(publicKey, crypto.AspectCall, dest); err != nil {
		return fmt.Errorf("failed to seed peer: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.routes[dest]; ok {
		existing.publicKey = publicKey
		t.routes[dest] = existing
		return nil
	}
	t.routes[dest] = route{publicKey: publicKey}
	return nil
}

// HasRoute reports whether the peer has a known network address.
func (t *UDPTransport) HasRoute(dest crypto.DestinationHash) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[dest]
	return ok && r.addr != nil
}

// SendPacket seals payload to dest and transmits it.
func (t *UDPTransport) SendPacket(dest crypto.DestinationHash, payload []byte) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrTransportClosed
	}
	r, ok := t.routes[dest]
	t.mu.RUnlock()

	if !ok || r.addr == nil {
		return fmt.Errorf("%w: %s", ErrNoRoute, dest.Short())
	}

	packet, err := sealDatagram(dest, t.callDest, r.publicKey, t.identity.KeyPair().Private, payload)
	if err != nil {
		return err
	}

	if err := t.write(packet, r.addr); err != nil {
		return fmt.Errorf("failed to send packet: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "SendPacket",
		"dest":     dest.Short(),
		"size":     len(payload),
	}).Debug("Sent sealed datagram")
	return nil
}

// Announce broadcasts the local presence to every static peer and every
// peer heard from so far.
func (t *UDPTransport) Announce(appData []byte) error {
	packet, err := encodeAnnounce(t.callDest, t.identity.PublicKey(), appData)
	if err != nil {
		return err
	}

	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrTransportClosed
	}
	targets := make(map[string]net.Addr, len(t.staticPeers)+len(t.routes))
	for _, addr := range t.staticPeers {
		targets[addr.String()] = addr
	}
	for _, r := range t.routes {
		if r.addr != nil {
			targets[r.addr.String()] = r.addr
		}
	}
	t.mu.RUnlock()

	if len(targets) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Announce",
		}).Debug("No peers to announce to")
		return nil
	}

	var firstErr error
	for _, addr := range targets {
		if err := t.write(packet, addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Announce",
		"targets":  len(targets),
		"size":     len(appData),
	}).Debug("Sent presence announce")
	return firstErr
}

// OpenLink dials an encrypted link to the peer's call destination. The init
// packet is resent once if the reply is slow; after linkTimeout the attempt
// fails with ErrLinkTimeout.
func (t *UDPTransport) OpenLink(ctx context.Context, dest crypto.DestinationHash) (Link, error) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil, ErrTransportClosed
	}
	r, ok := t.routes[dest]
	t.mu.RUnlock()

	if !ok || r.addr == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, dest.Short())
	}

	hs, err := phonenoise.NewIKHandshake(t.identity.KeyPair().Private[:], r.publicKey[:], phonenoise.Initiator)
	if err != nil {
		return nil, fmt.Errorf("failed to open link: %w", err)
	}
	msg1, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open link: %w", err)
	}

	token, err := newLinkToken()
	if err != nil {
		return nil, fmt.Errorf("failed to open link: %w", err)
	}

	waiter := &linkWaiter{
		hs:         hs,
		link:       &udpLink{transport: t, token: token, addr: r.addr, state: LinkPending},
		initPacket: encodeLinkInit(dest, token, msg1),
		result:     make(chan linkResult, 1),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	t.pending[token] = waiter
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "OpenLink",
		"dest":     dest.Short(),
		"token":    token.String(),
	}).Debug("Dialing link")

	if err := t.write(waiter.initPacket, r.addr); err != nil {
		t.mu.Lock()
		delete(t.pending, token)
		t.mu.Unlock()
		return nil, fmt.Errorf("failed to open link: %w", err)
	}

	// abandon removes the pending entry, then drains a result that may have
	// raced in just before removal so an established link is never orphaned.
	abandon := func() *udpLink {
		t.mu.Lock()
		delete(t.pending, token)
		t.mu.Unlock()
		select {
		case res := <-waiter.result:
			if res.err == nil && res.link != nil {
				return res.link
			}
		default:
		}
		return nil
	}

	timeout := time.NewTimer(t.linkTimeout)
	defer timeout.Stop()
	retry := time.NewTimer(t.linkRetry)
	defer retry.Stop()

	for {
		select {
		case res := <-waiter.result:
			if res.err != nil {
				return nil, res.err
			}
			return res.link, nil
		case <-retry.C:
			_ = t.write(waiter.initPacket, r.addr)
		case <-timeout.C:
			if link := abandon(); link != nil {
				return link, nil
			}
			return nil, fmt.Errorf("%w: %s", ErrLinkTimeout, dest.Short())
		case <-ctx.Done():
			if link := abandon(); link != nil {
				return link, nil
			}
			return nil, ctx.Err()
		case <-t.ctx.Done():
			if link := abandon(); link != nil {
				return link, nil
			}
			return nil, ErrTransportClosed
		}
	}
}

// Close shuts the transport down, failing pending dials and closing every
// open link.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	pending := make([]*linkWaiter, 0, len(t.pending))
	for _, w := range t.pending {
		pending = append(pending, w)
	}
	links := make([]*udpLink, 0, len(t.links))
	for _, l := range t.links {
		links = append(links, l)
	}
	t.pending = make(map[linkToken]*linkWaiter)
	t.links = make(map[linkToken]*udpLink)
	t.mu.Unlock()

	t.cancel()
	err := t.conn.Close()
	<-t.done

	for _, w := range pending {
		select {
		case w.result <- linkResult{err: ErrTransportClosed}:
		default:
		}
	}
	for _, l := range links {
		l.remoteClose(ErrTransportClosed)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"node_id":  t.identity.NodeID().Short(),
	}).Info("UDP transport closed")
	return err
}

// write transmits one packet. Links and the send paths share it so the
// socket write error handling stays in one place.
func (t *UDPTransport) write(packet []byte, addr net.Addr) error {
	if addr == nil {
		return ErrNoRoute
	}
	_, err := t.conn.WriteTo(packet, addr)
	return err
}

// removeLink drops a link from the routing table once it is closed.
func (t *UDPTransport) removeLink(token linkToken) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.links, token)
}

// processPackets is the receive loop. Every packet is dispatched
// synchronously so handlers observe arrival order.
func (t *UDPTransport) processPackets() {
	defer close(t.done)
	buffer := make([]byte, MaxPacketSize)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
			t.processIncomingPacket(buffer)
		}
	}
}

// processIncomingPacket reads one packet and routes it by kind.
func (t *UDPTransport) processIncomingPacket(buffer []byte) {
	_ = t.conn.SetReadDeadline(time.Now().Add(readPollInterval))

	n, addr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		t.handleReadError(err)
		return
	}
	if n == 0 {
		return
	}

	data := buffer[:n]
	switch data[0] {
	case kindDatagram:
		t.handleDatagram(data, addr)
	case kindAnnounce:
		t.handleAnnounce(data, addr)
	case kindLinkInit:
		t.handleLinkInit(data, addr)
	case kindLinkReply:
		t.handleLinkReply(data)
	case kindLinkData:
		t.handleLinkData(data)
	case kindLinkClose:
		t.handleLinkClose(data)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "processIncomingPacket",
			"kind":     fmt.Sprintf("0x%02x", data[0]),
			"from":     addr.String(),
		}).Debug("Dropping packet of unknown kind")
	}
}

// handleReadError swallows the poll timeouts that pace the receive loop and
// the closed-socket error raised during shutdown.
func (t *UDPTransport) handleReadError(err error) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	if errors.Is(err, net.ErrClosed) {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "handleReadError",
		"error":    err.Error(),
	}).Debug("UDP read failed")
}

func (t *UDPTransport) handleDatagram(data []byte, addr net.Addr) {
	d, err := parseDatagram(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleDatagram",
			"error":    err.Error(),
		}).Debug("Dropping malformed datagram")
		return
	}

	t.mu.RLock()
	reg, handlerOK := t.packetHandlers[d.dest]
	r, senderOK := t.routes[d.sender]
	t.mu.RUnlock()

	if !handlerOK {
		logrus.WithFields(logrus.Fields{
			"function": "handleDatagram",
			"dest":     d.dest.Short(),
		}).Debug("Dropping datagram for unhandled destination")
		return
	}
	if !senderOK {
		logrus.WithFields(logrus.Fields{
			"function": "handleDatagram",
			"sender":   d.sender.Short(),
		}).Debug("Dropping datagram from unknown sender")
		return
	}

	payload, err := openDatagram(d, r.publicKey, t.identity.KeyPair().Private)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleDatagram",
			"sender":   d.sender.Short(),
			"error":    err.Error(),
		}).Debug("Dropping datagram that failed authentication")
		return
	}

	// The box only opens with the announced sender key, so the source
	// address is trustworthy enough to route replies to.
	t.mu.Lock()
	if current, ok := t.routes[d.sender]; ok {
		current.addr = addr
		current.lastSeen = t.clock.Now()
		t.routes[d.sender] = current
	}
	t.mu.Unlock()

	reg.handler(d.sender, payload)
}

func (t *UDPTransport) handleAnnounce(data []byte, addr net.Addr) {
	a, err := parseAnnounce(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleAnnounce",
			"error":    err.Error(),
		}).Debug("Dropping malformed announce")
		return
	}

	// Our own broadcast can bounce back via a static peer listing us.
	if a.dest == t.callDest {
		return
	}

	if err := crypto.VerifyDestination(a.publicKey, crypto.AspectCall, a.dest); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleAnnounce",
			"dest":     a.dest.Short(),
			"from":     addr.String(),
		}).Warn("Dropping announce with mismatched destination hash")
		return
	}

	t.mu.Lock()
	t.routes[a.dest] = route{addr: addr, publicKey: a.publicKey, lastSeen: t.clock.Now()}
	handlers := make([]AnnounceHandler, len(t.announceHandlers))
	copy(handlers, t.announceHandlers)
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "handleAnnounce",
		"dest":     a.dest.Short(),
		"from":     addr.String(),
	}).Debug("Learned route from announce")

	for _, handler := range handlers {
		handler(a.dest, a.publicKey, a.appData)
	}
}

func (t *UDPTransport) handleLinkInit(data []byte, addr net.Addr) {
	dest, token, msg1, err := parseLinkInit(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleLinkInit",
			"error":    err.Error(),
		}).Debug("Dropping malformed link init")
		return
	}

	if dest != t.callDest {
		logrus.WithFields(logrus.Fields{
			"function": "handleLinkInit",
			"dest":     dest.Short(),
		}).Debug("Dropping link init for foreign destination")
		return
	}

	// A retried init for a live link means our reply got lost.
	t.mu.RLock()
	existing := t.links[token]
	t.mu.RUnlock()
	if existing != nil {
		if existing.replyCache != nil {
			_ = t.write(existing.replyCache, addr)
		}
		return
	}

	hs, err := phonenoise.NewIKHandshake(t.identity.KeyPair().Private[:], nil, phonenoise.Responder)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleLinkInit",
			"error":    err.Error(),
		}).Warn("Failed to construct link handshake")
		return
	}

	msg2, complete, err := hs.WriteMessage(nil, msg1)
	if err != nil || !complete {
		logrus.WithFields(logrus.Fields{
			"function": "handleLinkInit",
			"token":    token.String(),
			"error":    fmt.Sprintf("%v", err),
		}).Debug("Rejecting link init that failed the handshake")
		return
	}

	link, err := t.completeLink(hs, token, addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleLinkInit",
			"token":    token.String(),
			"error":    err.Error(),
		}).Warn("Failed to finalize inbound link")
		return
	}
	link.replyCache = encodeLinkReply(token, msg2)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.links[token] = link
	handlers := make([]LinkHandler, len(t.linkHandlers))
	copy(handlers, t.linkHandlers)
	t.mu.Unlock()

	_ = t.write(link.replyCache, addr)

	logrus.WithFields(logrus.Fields{
		"function": "handleLinkInit",
		"token":    token.String(),
		"from":     addr.String(),
	}).Debug("Accepted inbound link")

	for _, handler := range handlers {
		handler(link)
	}
}

func (t *UDPTransport) handleLinkReply(data []byte) {
	token, msg2, err := parseLinkReply(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleLinkReply",
			"error":    err.Error(),
		}).Debug("Dropping malformed link reply")
		return
	}

	t.mu.RLock()
	waiter := t.pending[token]
	t.mu.RUnlock()
	if waiter == nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleLinkReply",
			"token":    token.String(),
		}).Debug("Dropping link reply with no pending dial")
		return
	}

	_, complete, err := waiter.hs.ReadMessage(msg2)
	if err != nil || !complete {
		// A forged reply must not kill the dial; the real one may still
		// arrive before the timeout.
		logrus.WithFields(logrus.Fields{
			"function": "handleLinkReply",
			"token":    token.String(),
			"error":    fmt.Sprintf("%v", err),
		}).Debug("Ignoring link reply that failed the handshake")
		return
	}

	link, err := t.finalizePendingLink(waiter, token)
	if err != nil {
		t.mu.Lock()
		delete(t.pending, token)
		t.mu.Unlock()
		select {
		case waiter.result <- linkResult{err: err}:
		default:
		}
		return
	}
	if link == nil {
		return // dial was abandoned
	}

	select {
	case waiter.result <- linkResult{link: link}:
	default:
	}
}

// finalizePendingLink promotes a completed dial into an established link.
// Returns nil when the dialer already gave up.
func (t *UDPTransport) finalizePendingLink(waiter *linkWaiter, token linkToken) (*udpLink, error) {
	remoteKey, sendCipher, recvCipher, binding, err := linkMaterial(waiter.hs)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if _, still := t.pending[token]; !still {
		t.mu.Unlock()
		return nil, nil
	}
	delete(t.pending, token)

	link := waiter.link
	link.mu.Lock()
	link.remoteKey = remoteKey
	link.binding = binding
	link.sendCipher = sendCipher
	link.recvCipher = recvCipher
	link.state = LinkEstablished
	link.mu.Unlock()

	t.links[token] = link
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "finalizePendingLink",
		"token":    token.String(),
	}).Debug("Outbound link established")
	return link, nil
}

// completeLink builds an established responder link from a finished
// handshake.
func (t *UDPTransport) completeLink(hs *phonenoise.IKHandshake, token linkToken, addr net.Addr) (*udpLink, error) {
	remoteKey, sendCipher, recvCipher, binding, err := linkMaterial(hs)
	if err != nil {
		return nil, err
	}
	return newUDPLink(t, token, addr, remoteKey, binding, sendCipher, recvCipher), nil
}

// linkMaterial extracts everything a link needs from a completed handshake.
func linkMaterial(hs *phonenoise.IKHandshake) ([32]byte, *noise.CipherState, *noise.CipherState, []byte, error) {
	sendCipher, recvCipher, err := hs.GetCipherStates()
	if err != nil {
		return [32]byte{}, nil, nil, nil, fmt.Errorf("link handshake incomplete: %w", err)
	}
	remote, err := hs.GetRemoteStaticKey()
	if err != nil {
		return [32]byte{}, nil, nil, nil, fmt.Errorf("link handshake incomplete: %w", err)
	}
	binding, err := hs.ChannelBinding()
	if err != nil {
		return [32]byte{}, nil, nil, nil, fmt.Errorf("link handshake incomplete: %w", err)
	}

	var remoteKey [32]byte
	copy(remoteKey[:], remote)
	return remoteKey, sendCipher, recvCipher, binding, nil
}

func (t *UDPTransport) handleLinkData(data []byte) {
	token, counter, ciphertext, err := parseLinkData(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleLinkData",
			"error":    err.Error(),
		}).Debug("Dropping malformed link data")
		return
	}

	t.mu.RLock()
	link := t.links[token]
	t.mu.RUnlock()
	if link == nil {
		return
	}

	link.handleData(counter, ciphertext)
}

func (t *UDPTransport) handleLinkClose(data []byte) {
	token, err := parseLinkClose(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleLinkClose",
			"error":    err.Error(),
		}).Debug("Dropping malformed link close")
		return
	}

	t.mu.RLock()
	link := t.links[token]
	t.mu.RUnlock()
	if link == nil {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "handleLinkClose",
		"token":    token.String(),
	}).Debug("Peer closed link")
	link.remoteClose(nil)
}
