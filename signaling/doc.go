// Package signaling implements the call-control wire protocol.
//
// Signaling messages are single UTF-8 JSON objects exchanged as encrypted
// datagrams between call destinations. Every message carries {type, call_id,
// from, to}; per-type additional fields are enforced on parse. Unknown
// fields are ignored for forward compatibility.
//
// The transport's encrypted packet budget is 500 bytes with roughly 64 bytes
// of encryption overhead, so encoded messages are capped at
// [MaxMessageSize]. Public keys never ride in call messages; recipients look
// them up from the peer directory, which prior announces populate.
//
// Message construction goes through the typed builders:
//
//	msg := signaling.BuildInvite(from, to, signaling.NewCallID(), dest, prefs, displayName)
//	wire, err := msg.Encode()
//
// Codec negotiation is a pure function over both sides' preferences:
//
//	agreed := signaling.Negotiate(local, remote)
//
// The [Filter] screens inbound messages for relevance and suppresses
// duplicates before anything reaches the state machine.
package signaling
