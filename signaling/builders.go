package signaling

import "github.com/kc1awv/lxst-phone/crypto"

// nowUnix stamps messages with the sender's wall clock.
func nowUnix() int64 {
	return crypto.GetDefaultTimeProvider().Now().Unix()
}

// BuildInvite constructs a CALL_INVITE carrying the caller's call
// destination and codec preference. displayName may be empty.
func BuildInvite(from, to, callID, callDest string, prefs Preference, displayName string) *CallMessage {
	return &CallMessage{
		Type:         TypeInvite,
		CallID:       callID,
		From:         from,
		To:           to,
		DisplayName:  displayName,
		CallDest:     callDest,
		CodecType:    prefs.Codec,
		CodecBitrate: prefs.Bitrate,
		Timestamp:    nowUnix(),
	}
}

// BuildRinging constructs a CALL_RINGING reply to an invite.
func BuildRinging(from, to, callID string) *CallMessage {
	return &CallMessage{
		Type:      TypeRinging,
		CallID:    callID,
		From:      from,
		To:        to,
		Timestamp: nowUnix(),
	}
}

// BuildAccept constructs a CALL_ACCEPT carrying the callee's call
// destination, which the caller dials for media, and the negotiated codec
// values, not the callee's own preference.
func BuildAccept(from, to, callID, callDest string, negotiated Preference) *CallMessage {
	return &CallMessage{
		Type:         TypeAccept,
		CallID:       callID,
		From:         from,
		To:           to,
		CallDest:     callDest,
		CodecType:    negotiated.Codec,
		CodecBitrate: negotiated.Bitrate,
		Timestamp:    nowUnix(),
	}
}

// BuildReject constructs a CALL_REJECT.
func BuildReject(from, to, callID string) *CallMessage {
	return &CallMessage{
		Type:      TypeReject,
		CallID:    callID,
		From:      from,
		To:        to,
		Timestamp: nowUnix(),
	}
}

// BuildEnd constructs a CALL_END.
func BuildEnd(from, to, callID string) *CallMessage {
	return &CallMessage{
		Type:      TypeEnd,
		CallID:    callID,
		From:      from,
		To:        to,
		Timestamp: nowUnix(),
	}
}
