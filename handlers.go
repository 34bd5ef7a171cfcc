package lxstphone

import (
	"github.com/sirupsen/logrus"

	"github.com/kc1awv/lxst-phone/admission"
	"github.com/kc1awv/lxst-phone/audio"
	"github.com/kc1awv/lxst-phone/callstate"
	"github.com/kc1awv/lxst-phone/crypto"
	"github.com/kc1awv/lxst-phone/history"
	"github.com/kc1awv/lxst-phone/peers"
	"github.com/kc1awv/lxst-phone/signaling"
	"github.com/kc1awv/lxst-phone/transport"
)

// handleSignaling processes one authenticated inbound datagram. It runs on
// the transport's receive goroutine, so everything here must return
// promptly. from is the sender's call destination as proven by the
// transport's sealed box.
func (p *Phone) handleSignaling(from crypto.DestinationHash, payload []byte) {
	msg, err := signaling.ParseMessage(payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleSignaling",
			"from":     from.Short(),
			"error":    err.Error(),
		}).Warn("Dropping malformed signaling message")
		return
	}
	if msg.Type == signaling.TypeAnnounce {
		// Presence rides transport announces, not sealed datagrams.
		logrus.WithFields(logrus.Fields{
			"function": "handleSignaling",
			"from":     from.Short(),
		}).Debug("Dropping presence message on the signaling channel")
		return
	}

	fromID, err := crypto.ParseNodeID(msg.From)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleSignaling",
			"from":     from.Short(),
		}).Warn("Dropping message with unparseable sender ID")
		return
	}
	// The from field must belong to the identity that sealed the packet.
	if crypto.NewDestinationHash(fromID, crypto.AspectCall) != from {
		logrus.WithFields(logrus.Fields{
			"function": "handleSignaling",
			"claimed":  fromID.Short(),
			"actual":   from.Short(),
		}).Warn("Dropping message whose sender field does not match its origin")
		return
	}

	p.callMu.Lock()
	defer p.callMu.Unlock()
	if p.stopped {
		return
	}

	currentID := ""
	if call := p.machine.CurrentCall(); call != nil {
		currentID = call.CallID
	}
	if ok, reason := p.filter.Evaluate(msg, currentID); !ok {
		logrus.WithFields(logrus.Fields{
			"function": "handleSignaling",
			"type":     msg.Type,
			"call_id":  msg.CallID,
			"reason":   reason,
		}).Debug("Signaling message filtered")
		return
	}

	switch msg.Type {
	case signaling.TypeInvite:
		p.handleInviteLocked(fromID, from, msg)
	case signaling.TypeRinging:
		if err := p.machine.RemoteRinging(msg.CallID); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleSignaling",
				"call_id":  msg.CallID,
				"error":    err.Error(),
			}).Info("Ignoring ringing message")
		}
	case signaling.TypeAccept:
		p.handleAcceptLocked(from, msg)
	case signaling.TypeReject:
		p.handleRejectLocked(msg)
	case signaling.TypeEnd:
		p.handleEndLocked(msg)
	}
}

// handleInviteLocked runs the admission pipeline for an inbound invite and
// either starts ringing or answers with an automatic reject. Caller holds
// callMu.
func (p *Phone) handleInviteLocked(fromID crypto.NodeID, fromDest crypto.DestinationHash, msg *signaling.CallMessage) {
	dest, err := crypto.ParseDestinationHash(msg.CallDest)
	if err != nil || dest != fromDest {
		logrus.WithFields(logrus.Fields{
			"function": "handleInviteLocked",
			"from":     fromID.Short(),
		}).Warn("Dropping invite whose call_dest does not match its sender")
		return
	}

	if decision := p.admission.Check(fromID); !decision.Allowed() {
		p.rejectInviteLocked(fromID, fromDest, msg, decision)
		return
	}

	rec, err := p.directory.Resolve(fromID)
	if err != nil {
		// The admission check resolved this peer a moment ago.
		logrus.WithFields(logrus.Fields{
			"function": "handleInviteLocked",
			"from":     fromID.Short(),
		}).Warn("Peer vanished from directory during admission")
		return
	}

	displayName := rec.DisplayName
	if (displayName == "" || displayName == peers.DefaultDisplayName) && msg.DisplayName != "" {
		displayName = msg.DisplayName
	}

	call := &callstate.Call{
		CallID:          msg.CallID,
		LocalID:         p.identity.NodeID(),
		RemoteID:        fromID,
		DisplayName:     displayName,
		RemoteCallDest:  fromDest,
		RemotePublicKey: rec.PublicKey,
		RemotePrefs: signaling.Preference{
			Codec:   msg.CodecType,
			Bitrate: msg.CodecBitrate,
		},
	}
	if err := p.machine.IncomingInvite(call); err != nil {
		// Lost the race with a local call started since the busy check.
		p.rejectInviteLocked(fromID, fromDest, msg, admission.RejectBusy)
		return
	}

	ringing := signaling.BuildRinging(p.localID, msg.From, msg.CallID)
	if err := p.sendSignalLocked(fromDest, ringing); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleInviteLocked",
			"call_id":  msg.CallID,
			"error":    err.Error(),
		}).Warn("Cannot reach caller, abandoning incoming call")
		if cancelErr := p.machine.CancelLocal(callstate.OutcomeMissed); cancelErr == nil {
			p.finalizeLocked()
		}
		return
	}

	p.emit(Event{Kind: EventIncomingCall, Call: p.machine.CurrentCall()})
	logrus.WithFields(logrus.Fields{
		"function": "handleInviteLocked",
		"call_id":  msg.CallID,
		"from":     fromID.Short(),
		"name":     displayName,
	}).Info("Incoming call ringing")
}

// rejectInviteLocked answers a refused invite with an automatic reject.
// Busy rejections can optionally be recorded as missed calls. Caller holds
// callMu.
func (p *Phone) rejectInviteLocked(fromID crypto.NodeID, fromDest crypto.DestinationHash, msg *signaling.CallMessage, decision admission.Decision) {
	reject := signaling.BuildReject(p.localID, msg.From, msg.CallID)
	if err := p.sendSignalLocked(fromDest, reject); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "rejectInviteLocked",
			"error":    err.Error(),
		}).Debug("Reject send failed")
	}

	logrus.WithFields(logrus.Fields{
		"function": "rejectInviteLocked",
		"call_id":  msg.CallID,
		"from":     fromID.Short(),
		"decision": decision.String(),
	}).Info("Invite rejected")

	if decision == admission.RejectBusy && p.cfg.Calls.RecordMissed {
		displayName := msg.DisplayName
		if rec, err := p.directory.Resolve(fromID); err == nil {
			displayName = rec.DisplayName
		}
		p.history.Append(history.Record{
			CallID:      msg.CallID,
			RemoteID:    fromID,
			DisplayName: displayName,
			Direction:   history.DirectionIncoming,
			Outcome:     callstate.OutcomeMissed,
			StartedAt:   p.clock.Now(),
		})
	}
}

// handleAcceptLocked connects an outgoing call the remote answered and
// kicks off the media link dial. Caller holds callMu.
func (p *Phone) handleAcceptLocked(fromDest crypto.DestinationHash, msg *signaling.CallMessage) {
	dest, err := crypto.ParseDestinationHash(msg.CallDest)
	if err != nil || dest != fromDest {
		logrus.WithFields(logrus.Fields{
			"function": "handleAcceptLocked",
			"call_id":  msg.CallID,
		}).Warn("Dropping accept whose call_dest does not match its sender")
		return
	}

	call := p.machine.CurrentCall()
	phase := p.machine.Phase()
	if call == nil || call.CallID != msg.CallID ||
		(phase != callstate.PhaseOutgoing && phase != callstate.PhaseRinging) {
		logrus.WithFields(logrus.Fields{
			"function": "handleAcceptLocked",
			"call_id":  msg.CallID,
			"phase":    phase,
		}).Info("Ignoring accept message")
		return
	}

	negotiated := signaling.Preference{Codec: msg.CodecType, Bitrate: msg.CodecBitrate}
	if _, err := audio.ParamsFor(negotiated); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleAcceptLocked",
			"call_id":  msg.CallID,
			"codec":    msg.CodecType,
			"bitrate":  msg.CodecBitrate,
		}).Warn("Accepted codec is unusable, ending call")
		p.stopTimersLocked()
		end := signaling.BuildEnd(p.localID, call.RemoteID.String(), call.CallID)
		if sendErr := p.sendSignalLocked(call.RemoteCallDest, end); sendErr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleAcceptLocked",
				"error":    sendErr.Error(),
			}).Debug("End send failed")
		}
		if cancelErr := p.machine.CancelLocal(callstate.OutcomeCodecError); cancelErr == nil {
			p.finalizeLocked()
		}
		return
	}

	if err := p.machine.RemoteAccepted(msg.CallID, negotiated, dest); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleAcceptLocked",
			"call_id":  msg.CallID,
			"error":    err.Error(),
		}).Info("Ignoring accept message")
		return
	}
	p.stopInviteTimerLocked()

	connected := p.machine.CurrentCall()
	p.wg.Add(1)
	go p.dialMedia(connected)

	logrus.WithFields(logrus.Fields{
		"function": "handleAcceptLocked",
		"call_id":  msg.CallID,
		"codec":    negotiated.Codec,
		"bitrate":  negotiated.Bitrate,
	}).Info("Call accepted, dialing media link")
}

// handleRejectLocked ends an outgoing call the remote declined. Caller
// holds callMu.
func (p *Phone) handleRejectLocked(msg *signaling.CallMessage) {
	if err := p.machine.RemoteRejected(msg.CallID); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleRejectLocked",
			"call_id":  msg.CallID,
			"error":    err.Error(),
		}).Info("Ignoring reject message")
		return
	}
	p.stopTimersLocked()
	p.finalizeLocked()
}

// handleEndLocked ends the active call at the remote's request. Caller
// holds callMu.
func (p *Phone) handleEndLocked(msg *signaling.CallMessage) {
	if err := p.machine.RemoteEnded(msg.CallID); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleEndLocked",
			"call_id":  msg.CallID,
			"error":    err.Error(),
		}).Info("Ignoring end message")
		return
	}
	p.stopTimersLocked()
	p.stopSessionLocked()
	p.finalizeLocked()
}

// handleAnnounce ingests one verified presence announce into the directory.
// Runs on the transport's receive goroutine.
func (p *Phone) handleAnnounce(dest crypto.DestinationHash, publicKey [32]byte, appData []byte) {
	rec, err := p.directory.HandleAnnounce(dest, publicKey, appData)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleAnnounce",
			"dest":     dest.Short(),
			"error":    err.Error(),
		}).Debug("Ignoring announce")
		return
	}
	p.emit(Event{Kind: EventPeerSeen, Peer: &rec})
}

// handleIncomingLink adopts the initiator's media link for the call the
// callee just accepted. Anything else gets closed. Runs on the transport's
// receive goroutine.
func (p *Phone) handleIncomingLink(link transport.Link) {
	p.callMu.Lock()
	defer p.callMu.Unlock()

	if p.stopped {
		_ = link.Close()
		return
	}
	call := p.machine.CurrentCall()
	if call == nil || p.machine.Phase() != callstate.PhaseInCall ||
		call.InitiatedByLocal || p.session != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleIncomingLink",
		}).Debug("Closing link with no call waiting for it")
		_ = link.Close()
		return
	}
	if link.RemoteStaticKey() != call.RemotePublicKey {
		logrus.WithFields(logrus.Fields{
			"function": "handleIncomingLink",
			"call_id":  call.CallID,
		}).Warn("Inbound media link authenticated with an unexpected key")
		p.emit(Event{
			Kind:    EventSecurityWarning,
			Call:    call,
			Message: "media link key does not match the caller, link refused",
		})
		_ = link.Close()
		return
	}

	p.startSessionLocked(call, link)
}
