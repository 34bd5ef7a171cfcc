// Package media carries the in-call audio path: framing, reordering,
// quality accounting and the session that ties them to a transport link.
//
// # Wire Format
//
// Every link payload is one frame: a 1-byte type, a 4-byte big-endian
// sequence number and an opaque payload. Type 0x01 is audio, 0x02 ping,
// 0x03 pong and 0x04 is reserved for control. The sequence number counts
// audio frames only and wraps modulo 2^32; ping and pong carry zero there.
// Frames shorter than the 5-byte header are rejected.
//
// # Jitter Buffer
//
// Received audio is decoded immediately and held in a seq-ordered buffer
// sized from the target delay. The playback tick drains it at the frame
// cadence, fabricating silence when nothing is ready, so the output side
// never blocks on the network.
//
// # Session
//
// A Session owns one encoder, one decoder, the jitter buffer, the link and
// the capture, playback and ping goroutines. It measures RTT with a 2 s
// ping whose pong echoes the sender's monotonic timestamp, tracks loss from
// sequence gaps, and derives the 4-digit SAS code both humans compare to
// rule out an interposed endpoint. Teardown stops the pipelines, closes the
// link and zeroes the session's copy of the key material.
package media
