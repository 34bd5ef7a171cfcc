package lxstphone

import (
	"context"
	"sync"

	"github.com/kc1awv/lxst-phone/crypto"
	"github.com/kc1awv/lxst-phone/signaling"
	"github.com/kc1awv/lxst-phone/transport"
)

// mockTransport implements transport.Transport in memory. Outbound traffic
// is captured for inspection; inbound traffic is injected by invoking the
// handlers the engine registered, mirroring the synchronous dispatch of the
// UDP transport's receive goroutine.
type mockTransport struct {
	mu        sync.Mutex
	nodeID    crypto.NodeID
	handlers  map[string]transport.PacketHandler
	announceH transport.AnnounceHandler
	linkH     transport.LinkHandler
	sent      []sentPacket
	announced [][]byte
	seeded    map[crypto.DestinationHash][32]byte
	dialed    []crypto.DestinationHash
	sendErr   error
	openLink  func(ctx context.Context, dest crypto.DestinationHash) (transport.Link, error)
	closed    bool
}

type sentPacket struct {
	dest    crypto.DestinationHash
	payload []byte
}

func newMockTransport(nodeID crypto.NodeID) *mockTransport {
	return &mockTransport{
		nodeID:   nodeID,
		handlers: make(map[string]transport.PacketHandler),
		seeded:   make(map[crypto.DestinationHash][32]byte),
	}
}

func (m *mockTransport) NodeID() crypto.NodeID { return m.nodeID }

func (m *mockTransport) SendPacket(dest crypto.DestinationHash, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentPacket{dest: dest, payload: append([]byte(nil), payload...)})
	return nil
}

func (m *mockTransport) RegisterPacketHandler(aspect string, handler transport.PacketHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[aspect] = handler
}

func (m *mockTransport) SeedPeer(dest crypto.DestinationHash, publicKey [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeded[dest] = publicKey
	return nil
}

func (m *mockTransport) Announce(appData []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.announced = append(m.announced, append([]byte(nil), appData...))
	return nil
}

func (m *mockTransport) RegisterAnnounceHandler(handler transport.AnnounceHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.announceH = handler
}

func (m *mockTransport) OpenLink(ctx context.Context, dest crypto.DestinationHash) (transport.Link, error) {
	m.mu.Lock()
	open := m.openLink
	m.dialed = append(m.dialed, dest)
	m.mu.Unlock()
	if open == nil {
		return nil, transport.ErrNoRoute
	}
	return open(ctx, dest)
}

func (m *mockTransport) RegisterLinkHandler(handler transport.LinkHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linkH = handler
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTransport) setOpenLink(fn func(ctx context.Context, dest crypto.DestinationHash) (transport.Link, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openLink = fn
}

func (m *mockTransport) setSendErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

func (m *mockTransport) packetHandler(aspect string) transport.PacketHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[aspect]
}

func (m *mockTransport) announceHandler() transport.AnnounceHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.announceH
}

func (m *mockTransport) linkHandler() transport.LinkHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.linkH
}

func (m *mockTransport) sentPackets() []sentPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentPacket, len(m.sent))
	copy(out, m.sent)
	return out
}

// sentTo decodes every packet sent to dest and returns those of type tp in
// send order.
func (m *mockTransport) sentTo(dest crypto.DestinationHash, tp signaling.Type) []*signaling.CallMessage {
	var out []*signaling.CallMessage
	for _, pkt := range m.sentPackets() {
		if pkt.dest != dest {
			continue
		}
		msg, err := signaling.ParseMessage(pkt.payload)
		if err != nil {
			continue
		}
		if msg.Type == tp {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockTransport) announceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.announced)
}

func (m *mockTransport) lastAnnounce() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.announced) == 0 {
		return nil
	}
	return append([]byte(nil), m.announced[len(m.announced)-1]...)
}

func (m *mockTransport) dialCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dialed)
}

func (m *mockTransport) seededKey(dest crypto.DestinationHash) ([32]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.seeded[dest]
	return key, ok
}

func (m *mockTransport) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mockCallLink implements transport.Link for driving media sessions without
// a socket.
type mockCallLink struct {
	mu        sync.Mutex
	id        []byte
	remoteKey [32]byte
	state     transport.LinkState
	sent      [][]byte
	receive   func(payload []byte)
	onClosed  func(err error)
	closed    bool
}

func newMockCallLink(id string, remoteKey [32]byte) *mockCallLink {
	return &mockCallLink{id: []byte(id), remoteKey: remoteKey, state: transport.LinkEstablished}
}

func (l *mockCallLink) ID() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.id...)
}

func (l *mockCallLink) RemoteStaticKey() [32]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteKey
}

func (l *mockCallLink) State() transport.LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *mockCallLink) Send(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return transport.ErrLinkClosed
	}
	l.sent = append(l.sent, append([]byte(nil), payload...))
	return nil
}

func (l *mockCallLink) SetReceiveHandler(handler func(payload []byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receive = handler
}

func (l *mockCallLink) SetClosedHandler(handler func(err error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onClosed = handler
}

func (l *mockCallLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.state = transport.LinkClosed
	return nil
}

func (l *mockCallLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// dropWith simulates the peer or the transport tearing the link down. The
// closed handler runs without the mock's lock held, like the real link.
func (l *mockCallLink) dropWith(err error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.state = transport.LinkClosed
	handler := l.onClosed
	l.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}
