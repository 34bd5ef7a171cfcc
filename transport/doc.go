// Package transport moves phone traffic between peers over UDP.
//
// Three kinds of traffic share one socket:
//
//   - Sealed datagrams carry signaling. Each one is a NaCl box from the
//     sender's static key to the recipient's announced static key, so a
//     datagram that opens proves who sent it. The sender's call destination
//     rides in the clear header to select the key for opening.
//   - Announces carry presence. An announce binds a destination hash to a
//     public key and opaque application data; the transport verifies the
//     hash is actually derived from the key before learning the route or
//     telling anyone about it, which stops identity spoofing at the edge.
//   - Links carry media. A link is a Noise IK session: one init and one
//     reply establish cipher states, after which data packets carry an
//     explicit nonce counter so loss and reordering on the wire never
//     desynchronize the ciphers. A 64-packet replay window drops
//     duplicates.
//
// # Wire Kinds
//
// The first byte of every packet selects its shape:
//
//	0x01 datagram    [dest:32][sender:32][nonce:24][box]
//	0x02 announce    [dest:32][public_key:32][app_data]
//	0x03 link init   [dest:32][token:16][noise msg1]
//	0x04 link reply  [token:16][noise msg2]
//	0x05 link data   [token:16][counter:8][len:2][ciphertext]
//	0x06 link close  [token:16]
//
// All integers are big-endian. Packets never exceed MaxPacketSize.
//
// # Routing
//
// Routes are learned exclusively from verified announces, plus address
// refreshes taken from datagrams that authenticated. Peers already trusted
// by the local directory can be seeded with SeedPeer so their signaling
// authenticates before their next periodic announce is heard.
//
// # Ordering
//
// A single goroutine reads the socket and runs every handler synchronously,
// so payloads reach the layers above in arrival order. Handlers must not
// block; anything slow belongs on the caller's own queue.
package transport
