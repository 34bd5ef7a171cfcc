package peers

import "errors"

var (
	// ErrPeerNotFound is returned when a node ID has no directory entry.
	ErrPeerNotFound = errors.New("peer not found")

	// ErrSelfAnnounce is returned when an announce carries our own identity.
	ErrSelfAnnounce = errors.New("announce from self")
)
