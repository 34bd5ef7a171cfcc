// Package lxstphone implements a peer-to-peer encrypted voice phone.
//
// Phones find each other through signed presence announces, negotiate calls
// over small sealed JSON datagrams, and carry audio over per-call encrypted
// links. There is no server anywhere: every node is addressed by the hash
// of its public key, and every packet is end-to-end protected. This package
// is the engine facade that integrates the subsystems: signaling, peer
// directory, admission control, the call state machine, media transport and
// the audio pipeline.
//
// # Getting Started
//
// Build a phone from an identity, a transport and the persistence stores,
// then drive it through the control API while draining events:
//
//	identity, err := crypto.LoadOrCreateIdentity(identityPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	udp, err := transport.NewUDPTransport(identity, cfg.Network.ListenAddress,
//	    cfg.Network.StaticPeers)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	phone, err := lxstphone.New(lxstphone.Options{
//	    Identity:  identity,
//	    Transport: udp,
//	    Config:    cfg,
//	    Directory: directory,
//	    History:   callLog,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer phone.Stop()
//
//	if err := phone.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
//	go func() {
//	    for ev := range phone.Events() {
//	        switch ev.Kind {
//	        case lxstphone.EventIncomingCall:
//	            fmt.Printf("call from %s\n", ev.Call.DisplayName)
//	        case lxstphone.EventSASReady:
//	            fmt.Printf("compare codes: %s\n", ev.SAS)
//	        }
//	    }
//	}()
//
// # Calls
//
// Calls are placed by node ID and controlled with a small set of methods:
//
//	callID, err := phone.StartCall(peerID)
//	err = phone.Answer()
//	err = phone.Reject()
//	err = phone.Hangup()
//
// An outgoing call that is not answered within 30 seconds ends on its own.
// Invites from unknown, blocked or over-budget callers are rejected before
// they ring; a second call while one is active is rejected as busy.
//
// # Verification
//
// When a call's media link comes up, both phones derive the same 4-digit
// code from the link's handshake. The users compare codes out loud and
// report the result:
//
//	sas, err := phone.ActiveSAS()
//	err = phone.VerifySAS(true) // codes matched, peer becomes verified
//
// A mismatch raises an EventSecurityWarning and leaves the decision to hang
// up with the user.
//
// # Events
//
// The engine never calls into frontend code. Everything the user should
// see, ringing, state changes, verification codes, warnings and errors,
// arrives on the buffered Events channel, which Stop closes after the last
// event.
//
// # Thread Safety
//
// Phone is safe for concurrent use. Control methods, inbound signaling,
// timers and link callbacks are serialised through one mutex, so the
// frontend and the network cannot race each other through a call state
// transition. Audio runs on its own goroutines and shares no locks with
// the control plane.
//
// # Integration Architecture
//
// This package orchestrates:
//
//   - [crypto]: identities, node IDs, destination hashes, secure wipe
//   - [transport]: UDP datagrams, presence announces, Noise-IK media links
//   - [signaling]: call message wire format, filtering and codec negotiation
//   - [peers]: the persistent peer directory with verify and block flags
//   - [ratelimit], [admission]: inbound invite screening
//   - [callstate]: the single-call state machine
//   - [media]: framing, jitter buffer, metrics, SAS and the session loops
//   - [audio]: codec parameters, encoders, decoders and devices
//   - [history]: the persistent call log
//   - [config]: the JSON configuration file
package lxstphone
