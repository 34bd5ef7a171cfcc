package lxstphone

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kc1awv/lxst-phone/audio"
	"github.com/kc1awv/lxst-phone/callstate"
	"github.com/kc1awv/lxst-phone/crypto"
	"github.com/kc1awv/lxst-phone/history"
	"github.com/kc1awv/lxst-phone/media"
	"github.com/kc1awv/lxst-phone/signaling"
	"github.com/kc1awv/lxst-phone/transport"
)

// StartCall places a call to a directory peer. It sends the invite and
// returns the allocated call ID; progress arrives as events. The peer must
// have announced at least once, otherwise there is nothing to call.
func (p *Phone) StartCall(remoteID crypto.NodeID) (string, error) {
	p.callMu.Lock()
	defer p.callMu.Unlock()
	if p.stopped {
		return "", ErrStopped
	}

	rec, err := p.directory.Resolve(remoteID)
	if err != nil {
		return "", fmt.Errorf("cannot call %s: %w", remoteID.Short(), err)
	}
	if rec.Blocked {
		return "", fmt.Errorf("cannot call %s: %w", remoteID.Short(), ErrPeerBlocked)
	}
	if err := p.transport.SeedPeer(rec.CallDest, rec.PublicKey); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "StartCall",
			"peer":     remoteID.Short(),
			"error":    err.Error(),
		}).Warn("Failed to seed peer key")
	}

	call := &callstate.Call{
		LocalID:         p.identity.NodeID(),
		RemoteID:        rec.NodeID,
		DisplayName:     rec.DisplayName,
		RemoteCallDest:  rec.CallDest,
		RemotePublicKey: rec.PublicKey,
	}
	callID, err := p.machine.StartOutgoing(call)
	if err != nil {
		return "", err
	}

	invite := signaling.BuildInvite(p.localID, remoteID.String(), callID,
		p.callDest.String(), p.localPreference(), p.cfg.UI.DisplayName)
	if err := p.sendSignalLocked(rec.CallDest, invite); err != nil {
		_ = p.machine.CancelLocal(callstate.OutcomeNoAnswer)
		p.finalizeLocked()
		return "", err
	}

	p.inviteTimer = time.AfterFunc(p.inviteTimeout, func() { p.onInviteTimeout(callID) })

	logrus.WithFields(logrus.Fields{
		"function": "StartCall",
		"call_id":  callID,
		"peer":     remoteID.Short(),
	}).Info("Outgoing call started")
	return callID, nil
}

// Answer accepts the ringing incoming call with the negotiated codec.
func (p *Phone) Answer() error {
	p.callMu.Lock()
	defer p.callMu.Unlock()
	if p.stopped {
		return ErrStopped
	}

	call := p.machine.CurrentCall()
	if call == nil || p.machine.Phase() != callstate.PhaseIncoming {
		return fmt.Errorf("%w: answer", callstate.ErrInvalidTransition)
	}

	negotiated := signaling.Negotiate(p.localPreference(), call.RemotePrefs)
	if _, err := audio.ParamsFor(negotiated); err != nil {
		// A codec this build cannot run: decline instead of connecting a
		// call that would immediately fail.
		reject := signaling.BuildReject(p.localID, call.RemoteID.String(), call.CallID)
		if sendErr := p.sendSignalLocked(call.RemoteCallDest, reject); sendErr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Answer",
				"error":    sendErr.Error(),
			}).Debug("Reject send failed")
		}
		if rejErr := p.machine.RejectLocal(); rejErr == nil {
			p.finalizeLocked()
		}
		return fmt.Errorf("negotiated codec unusable: %w", err)
	}

	accept := signaling.BuildAccept(p.localID, call.RemoteID.String(), call.CallID,
		p.callDest.String(), negotiated)
	if err := p.sendSignalLocked(call.RemoteCallDest, accept); err != nil {
		if cancelErr := p.machine.CancelLocal(callstate.OutcomeMissed); cancelErr == nil {
			p.finalizeLocked()
		}
		return err
	}

	if err := p.machine.AcceptLocal(negotiated); err != nil {
		return err
	}

	// The initiator dials the media link; wait for it on a watchdog.
	callID := call.CallID
	p.linkTimer = time.AfterFunc(p.linkWaitTimeout, func() { p.onLinkTimeout(callID) })

	logrus.WithFields(logrus.Fields{
		"function": "Answer",
		"call_id":  call.CallID,
		"codec":    negotiated.Codec,
		"bitrate":  negotiated.Bitrate,
	}).Info("Incoming call answered")
	return nil
}

// Reject declines the ringing incoming call.
func (p *Phone) Reject() error {
	p.callMu.Lock()
	defer p.callMu.Unlock()
	if p.stopped {
		return ErrStopped
	}

	call := p.machine.CurrentCall()
	if call == nil {
		return ErrNoActiveCall
	}

	reject := signaling.BuildReject(p.localID, call.RemoteID.String(), call.CallID)
	if err := p.sendSignalLocked(call.RemoteCallDest, reject); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Reject",
			"error":    err.Error(),
		}).Debug("Reject send failed, ending call anyway")
	}
	if err := p.machine.RejectLocal(); err != nil {
		return err
	}
	p.finalizeLocked()
	return nil
}

// Hangup ends the active call. Mid-call it completes the call; while an
// outgoing call is unanswered it cancels it; while an incoming call rings
// it declines it.
func (p *Phone) Hangup() error {
	p.callMu.Lock()
	defer p.callMu.Unlock()
	if p.stopped {
		return ErrStopped
	}

	call := p.machine.CurrentCall()
	if call == nil {
		return ErrNoActiveCall
	}

	switch p.machine.Phase() {
	case callstate.PhaseInCall:
		end := signaling.BuildEnd(p.localID, call.RemoteID.String(), call.CallID)
		if err := p.sendSignalLocked(call.RemoteCallDest, end); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Hangup",
				"error":    err.Error(),
			}).Debug("End send failed, hanging up anyway")
		}
		if err := p.machine.LocalHangup(); err != nil {
			return err
		}
		p.stopTimersLocked()
		p.stopSessionLocked()
		p.finalizeLocked()
		return nil

	case callstate.PhaseOutgoing, callstate.PhaseRinging:
		end := signaling.BuildEnd(p.localID, call.RemoteID.String(), call.CallID)
		if err := p.sendSignalLocked(call.RemoteCallDest, end); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Hangup",
				"error":    err.Error(),
			}).Debug("End send failed, cancelling anyway")
		}
		if err := p.machine.CancelLocal(callstate.OutcomeNoAnswer); err != nil {
			return err
		}
		p.stopTimersLocked()
		p.finalizeLocked()
		return nil

	case callstate.PhaseIncoming:
		return p.rejectLocked(call)

	default:
		return ErrNoActiveCall
	}
}

// rejectLocked declines the ringing incoming call. Caller holds callMu.
func (p *Phone) rejectLocked(call *callstate.Call) error {
	reject := signaling.BuildReject(p.localID, call.RemoteID.String(), call.CallID)
	if err := p.sendSignalLocked(call.RemoteCallDest, reject); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "rejectLocked",
			"error":    err.Error(),
		}).Debug("Reject send failed, ending call anyway")
	}
	if err := p.machine.RejectLocal(); err != nil {
		return err
	}
	p.finalizeLocked()
	return nil
}

// VerifySAS records the user's comparison of the verification code with the
// peer. A match marks the peer verified in the directory and persists it; a
// mismatch leaves the peer untouched and raises a security warning, leaving
// the decision to hang up with the user.
func (p *Phone) VerifySAS(match bool) error {
	p.callMu.Lock()
	defer p.callMu.Unlock()
	if p.stopped {
		return ErrStopped
	}

	call := p.machine.CurrentCall()
	if call == nil || p.machine.Phase() != callstate.PhaseInCall {
		return ErrNoActiveCall
	}
	if p.session == nil {
		return ErrSASUnavailable
	}

	if match {
		if err := p.directory.SetVerified(call.RemoteID, true); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"function": "VerifySAS",
			"peer":     call.RemoteID.Short(),
		}).Info("Peer verified by matching codes")
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "VerifySAS",
		"peer":     call.RemoteID.Short(),
		"call_id":  call.CallID,
	}).Warn("Verification code mismatch reported")
	p.emit(Event{
		Kind:    EventSecurityWarning,
		Call:    call,
		Message: "verification codes differ: the call may be intercepted, consider hanging up",
	})
	return nil
}

// localPreference is the codec offer this phone makes, from configuration.
func (p *Phone) localPreference() signaling.Preference {
	return signaling.Preference{
		Codec:   p.cfg.Codec.Type,
		Bitrate: signaling.NormalizeBitrate(p.cfg.Codec.Type, p.cfg.Codec.Bitrate),
	}
}

// sendSignalLocked encodes and transmits one signaling message to dest.
// Caller holds callMu.
func (p *Phone) sendSignalLocked(dest crypto.DestinationHash, msg *signaling.CallMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	if err := p.transport.SendPacket(dest, data); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "sendSignalLocked",
		"type":     msg.Type,
		"call_id":  msg.CallID,
		"dest":     dest.Short(),
	}).Debug("Signaling message sent")
	return nil
}

// onInviteTimeout fires when an outgoing call was never answered.
func (p *Phone) onInviteTimeout(callID string) {
	p.callMu.Lock()
	defer p.callMu.Unlock()
	if p.stopped {
		return
	}

	call := p.machine.CurrentCall()
	if call == nil || call.CallID != callID {
		return
	}
	phase := p.machine.Phase()
	if phase != callstate.PhaseOutgoing && phase != callstate.PhaseRinging {
		return
	}
	p.inviteTimer = nil

	logrus.WithFields(logrus.Fields{
		"function": "onInviteTimeout",
		"call_id":  callID,
	}).Info("Outgoing call timed out without an answer")

	end := signaling.BuildEnd(p.localID, call.RemoteID.String(), callID)
	if err := p.sendSignalLocked(call.RemoteCallDest, end); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "onInviteTimeout",
			"error":    err.Error(),
		}).Debug("End send failed")
	}
	if err := p.machine.CancelLocal(callstate.OutcomeNoAnswer); err != nil {
		return
	}
	p.finalizeLocked()
}

// onLinkTimeout fires when the callee accepted but the initiator's media
// link never arrived.
func (p *Phone) onLinkTimeout(callID string) {
	p.callMu.Lock()
	defer p.callMu.Unlock()
	if p.stopped {
		return
	}

	call := p.machine.CurrentCall()
	if call == nil || call.CallID != callID || p.machine.Phase() != callstate.PhaseInCall {
		return
	}
	if p.session != nil {
		return
	}
	p.linkTimer = nil

	logrus.WithFields(logrus.Fields{
		"function": "onLinkTimeout",
		"call_id":  callID,
	}).Warn("Media link never arrived, ending call")
	p.failLinkLocked(call)
}

// dialMedia opens the media link for an accepted outgoing call. It runs on
// its own goroutine because link establishment needs the transport's
// receive loop to make progress.
func (p *Phone) dialMedia(call *callstate.Call) {
	defer p.wg.Done()

	ctx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	link, err := p.transport.OpenLink(ctx, call.RemoteCallDest)

	p.callMu.Lock()
	defer p.callMu.Unlock()

	current := p.machine.CurrentCall()
	stale := p.stopped || current == nil || current.CallID != call.CallID ||
		p.machine.Phase() != callstate.PhaseInCall || p.session != nil
	if stale {
		if link != nil {
			_ = link.Close()
		}
		return
	}

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "dialMedia",
			"call_id":  call.CallID,
			"error":    err.Error(),
		}).Warn("Media link dial failed")
		p.failLinkLocked(current)
		return
	}

	if link.RemoteStaticKey() != current.RemotePublicKey {
		logrus.WithFields(logrus.Fields{
			"function": "dialMedia",
			"call_id":  call.CallID,
		}).Warn("Media link authenticated with an unexpected key")
		_ = link.Close()
		p.emit(Event{
			Kind:    EventSecurityWarning,
			Call:    current,
			Message: "media link key does not match the peer, call aborted",
		})
		p.failLinkLocked(current)
		return
	}

	p.startSessionLocked(current, link)
}

// startSessionLocked builds and starts the media session on an established
// link. Caller holds callMu; the call is IN_CALL with no session yet.
func (p *Phone) startSessionLocked(call *callstate.Call, link transport.Link) {
	params, err := audio.ParamsFor(call.Codec)
	if err != nil {
		_ = link.Close()
		p.failCodecLocked(call, err)
		return
	}

	capture, err := p.openCapture(params)
	if err != nil {
		_ = link.Close()
		p.failCodecLocked(call, fmt.Errorf("open capture device: %w", err))
		return
	}
	playback, err := p.openPlayback(params)
	if err != nil {
		_ = capture.Close()
		_ = link.Close()
		p.failCodecLocked(call, fmt.Errorf("open playback device: %w", err))
		return
	}

	keyMaterial := link.ID()
	if len(keyMaterial) == 0 {
		keyMaterial = media.FallbackKeyMaterial(call.LocalID, call.RemoteID)
	}

	session, err := media.NewSession(media.SessionConfig{
		Params:         params,
		TargetJitterMs: p.cfg.Calls.JitterTargetMs,
		Capture:        capture,
		Playback:       playback,
		Link:           link,
		KeyMaterial:    keyMaterial,
		Clock:          p.clock,
	})
	if err != nil {
		_ = capture.Close()
		_ = playback.Close()
		_ = link.Close()
		p.failCodecLocked(call, err)
		return
	}

	p.stopTimersLocked()
	callID := call.CallID
	link.SetReceiveHandler(session.HandleFrame)
	link.SetClosedHandler(func(cause error) { p.onLinkClosed(callID, cause) })
	p.session = session
	p.sessionCallID = callID
	session.Start()

	p.emit(Event{Kind: EventSASReady, Call: call, SAS: session.SAS()})
	logrus.WithFields(logrus.Fields{
		"function": "startSessionLocked",
		"call_id":  callID,
		"codec":    params.Codec,
		"sas":      session.SAS(),
	}).Info("Call media established")
}

// onLinkClosed handles the media link dropping out from under an active
// call: remote teardown without a CALL_END, or a dead transport.
func (p *Phone) onLinkClosed(callID string, cause error) {
	p.callMu.Lock()
	defer p.callMu.Unlock()
	if p.stopped {
		return
	}
	if p.session == nil || p.sessionCallID != callID {
		return
	}
	call := p.machine.CurrentCall()
	if call == nil || call.CallID != callID {
		return
	}

	fields := logrus.Fields{
		"function": "onLinkClosed",
		"call_id":  callID,
	}
	if cause != nil {
		fields["cause"] = cause.Error()
	}
	logrus.WithFields(fields).Warn("Media link closed mid-call")

	p.stopSessionLocked()
	if err := p.machine.LinkFailed(); err != nil {
		return
	}
	p.finalizeLocked()
}

// failLinkLocked ends an IN_CALL call whose media link failed or never
// materialised. Caller holds callMu.
func (p *Phone) failLinkLocked(call *callstate.Call) {
	p.stopTimersLocked()
	end := signaling.BuildEnd(p.localID, call.RemoteID.String(), call.CallID)
	if err := p.sendSignalLocked(call.RemoteCallDest, end); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "failLinkLocked",
			"error":    err.Error(),
		}).Debug("End send failed")
	}
	if err := p.machine.LinkFailed(); err != nil {
		return
	}
	p.stopSessionLocked()
	p.finalizeLocked()
}

// failCodecLocked ends an IN_CALL call whose media setup failed. Caller
// holds callMu.
func (p *Phone) failCodecLocked(call *callstate.Call, cause error) {
	p.stopTimersLocked()
	end := signaling.BuildEnd(p.localID, call.RemoteID.String(), call.CallID)
	if err := p.sendSignalLocked(call.RemoteCallDest, end); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "failCodecLocked",
			"error":    err.Error(),
		}).Debug("End send failed")
	}
	p.emit(Event{
		Kind:    EventError,
		Call:    call,
		Message: "call media setup failed",
		Err:     cause,
	})
	if err := p.machine.CodecFailed(); err != nil {
		return
	}
	p.finalizeLocked()
}

// endActiveCallLocked tears down whatever call is active during Stop.
// Caller holds callMu.
func (p *Phone) endActiveCallLocked(call *callstate.Call) {
	switch p.machine.Phase() {
	case callstate.PhaseInCall:
		end := signaling.BuildEnd(p.localID, call.RemoteID.String(), call.CallID)
		_ = p.sendSignalLocked(call.RemoteCallDest, end)
		if err := p.machine.LocalHangup(); err != nil {
			return
		}
	case callstate.PhaseOutgoing, callstate.PhaseRinging:
		end := signaling.BuildEnd(p.localID, call.RemoteID.String(), call.CallID)
		_ = p.sendSignalLocked(call.RemoteCallDest, end)
		if err := p.machine.CancelLocal(callstate.OutcomeNoAnswer); err != nil {
			return
		}
	case callstate.PhaseIncoming:
		reject := signaling.BuildReject(p.localID, call.RemoteID.String(), call.CallID)
		_ = p.sendSignalLocked(call.RemoteCallDest, reject)
		if err := p.machine.CancelLocal(callstate.OutcomeMissed); err != nil {
			return
		}
	default:
		return
	}
	p.stopSessionLocked()
	p.finalizeLocked()
}

// stopSessionLocked closes the active media session, if any. Closing the
// session also closes its link. Caller holds callMu.
func (p *Phone) stopSessionLocked() {
	if p.session == nil {
		return
	}
	session := p.session
	p.session = nil
	p.sessionCallID = ""
	if err := session.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "stopSessionLocked",
			"error":    err.Error(),
		}).Debug("Session close reported an error")
	}
}

func (p *Phone) stopInviteTimerLocked() {
	if p.inviteTimer != nil {
		p.inviteTimer.Stop()
		p.inviteTimer = nil
	}
}

func (p *Phone) stopLinkTimerLocked() {
	if p.linkTimer != nil {
		p.linkTimer.Stop()
		p.linkTimer = nil
	}
}

func (p *Phone) stopTimersLocked() {
	p.stopInviteTimerLocked()
	p.stopLinkTimerLocked()
}

// finalizeLocked closes out an ENDED call: the machine returns to IDLE and
// the closed record is appended to the history. Caller holds callMu.
func (p *Phone) finalizeLocked() {
	closed, err := p.machine.Finalize()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "finalizeLocked",
			"error":    err.Error(),
		}).Info("Finalize skipped")
		return
	}

	p.history.Append(history.Record{
		CallID:      closed.CallID,
		RemoteID:    closed.RemoteID,
		DisplayName: closed.DisplayName,
		Direction:   closed.Direction(),
		Outcome:     closed.Outcome,
		StartedAt:   closed.StartTS,
		Duration:    closed.Duration(),
	})
	p.emit(Event{Kind: EventCallEnded, Call: closed})
}
