// Package callstate implements the call lifecycle state machine. It is pure
// state logic: no networking, no audio, no persistence. The engine feeds it
// events and reacts to the synchronous state-changed callback.
//
// # Phases
//
// A call moves through a fixed set of phases:
//
//	IDLE → OUTGOING_CALL → RINGING → IN_CALL → ENDED → IDLE
//	IDLE → INCOMING_CALL → IN_CALL → ENDED → IDLE
//
// At most one call exists at a time. CurrentCall returns nil exactly when
// the phase is IDLE, and ENDED holds the closed record until Finalize hands
// it to the caller for the history write.
//
// # Events
//
// Each event method validates the current phase and, where the event
// carries a call ID, that it matches the active call. A mismatched call ID
// returns ErrCallIDMismatch and changes nothing; the caller logs and drops
// the event. An event that is not legal in the current phase returns
// ErrInvalidTransition.
//
// # Callback
//
// OnStateChanged registers a function invoked synchronously after every
// successful transition, outside the machine's lock, with the new phase and
// a copy of the call record. Handlers may call back into the machine.
package callstate
