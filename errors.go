package lxstphone

import "errors"

var (
	// ErrStopped is returned by operations invoked after Stop.
	ErrStopped = errors.New("phone stopped")

	// ErrPeerBlocked refuses an outgoing call to a peer the user blocked.
	ErrPeerBlocked = errors.New("peer is blocked")

	// ErrNoActiveCall is returned by call controls when no call is active.
	ErrNoActiveCall = errors.New("no active call")

	// ErrSASUnavailable is returned by VerifySAS before the media link of
	// the active call is established.
	ErrSASUnavailable = errors.New("verification code not available yet")
)
