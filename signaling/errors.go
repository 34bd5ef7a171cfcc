package signaling

import "errors"

var (
	// ErrMessageEmpty indicates an empty wire payload.
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates a message that exceeds the signaling MTU
	// budget. Builders fail with it before anything is transmitted.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrBadMessage indicates a payload that is not a valid JSON message.
	ErrBadMessage = errors.New("malformed message")

	// ErrUnknownType indicates a message type outside the accepted set.
	ErrUnknownType = errors.New("unknown message type")

	// ErrMissingField indicates a message missing a field its type requires.
	ErrMissingField = errors.New("missing required field")

	// ErrBadAnnounce indicates announce app_data that is not valid or does
	// not belong to this application.
	ErrBadAnnounce = errors.New("invalid announce data")
)
