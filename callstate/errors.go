package callstate

import "errors"

var (
	// ErrInvalidTransition is returned for an event that is not legal in
	// the current phase. Callers log it and continue.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrCallIDMismatch is returned for an event whose call ID does not
	// match the active call. The event is ignored.
	ErrCallIDMismatch = errors.New("call ID does not match current call")

	// ErrNilCall is returned when an event requires a call record and
	// receives nil.
	ErrNilCall = errors.New("call is nil")
)
