// Package admission decides whether an inbound call invite reaches the
// state machine. The checks run in a fixed order and the first failure
// wins; the engine answers every non-Allow decision with an automatic
// CALL_REJECT.
package admission

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/kc1awv/lxst-phone/callstate"
	"github.com/kc1awv/lxst-phone/crypto"
	"github.com/kc1awv/lxst-phone/peers"
)

// Decision is the admission verdict for one invite.
type Decision int

const (
	// Allow hands the invite to the state machine.
	Allow Decision = iota
	// RejectUnknown rejects callers with no directory entry.
	RejectUnknown
	// RejectBlocked rejects callers the user has blocked. No UI event.
	RejectBlocked
	// RejectRateLimited rejects callers over their invite budget.
	RejectRateLimited
	// RejectBusy rejects invites while another call is active.
	RejectBusy
)

// String returns the decision name used in logs.
func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RejectUnknown:
		return "reject_unknown"
	case RejectBlocked:
		return "reject_blocked"
	case RejectRateLimited:
		return "reject_rate_limited"
	case RejectBusy:
		return "reject_busy"
	default:
		return "unknown"
	}
}

// Allowed reports whether the invite proceeds.
func (d Decision) Allowed() bool { return d == Allow }

// Directory is the peer lookup the controller consults.
type Directory interface {
	Resolve(nodeID crypto.NodeID) (peers.Record, error)
}

// Limiter throttles repeated call attempts per caller.
type Limiter interface {
	Allow(peer crypto.NodeID) bool
}

// PhaseSource reports the current call phase for the busy check.
type PhaseSource interface {
	Phase() callstate.Phase
}

// Controller applies the admission checks for inbound invites.
type Controller struct {
	directory Directory
	limiter   Limiter
	phases    PhaseSource
}

// NewController creates a controller. All dependencies are required.
func NewController(directory Directory, limiter Limiter, phases PhaseSource) (*Controller, error) {
	if directory == nil {
		return nil, errors.New("directory cannot be nil")
	}
	if limiter == nil {
		return nil, errors.New("limiter cannot be nil")
	}
	if phases == nil {
		return nil, errors.New("phase source cannot be nil")
	}
	return &Controller{directory: directory, limiter: limiter, phases: phases}, nil
}

// Check runs the ordered admission checks for an invite from the given
// caller: directory membership, block flag, rate limit, busy. The block
// check precedes the limiter, so blocked peers never consume or extend
// limiter state. The rate check precedes the busy check, so invites
// rejected for busy still count against the caller's budget.
func (c *Controller) Check(from crypto.NodeID) Decision {
	rec, err := c.directory.Resolve(from)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Check",
			"from":     from.Short(),
		}).Info("Invite from unknown peer rejected")
		return RejectUnknown
	}

	if rec.Blocked {
		logrus.WithFields(logrus.Fields{
			"function": "Check",
			"from":     from.Short(),
		}).Debug("Invite from blocked peer rejected")
		return RejectBlocked
	}

	if !c.limiter.Allow(from) {
		return RejectRateLimited
	}

	if phase := c.phases.Phase(); phase != callstate.PhaseIdle && phase != callstate.PhaseEnded {
		logrus.WithFields(logrus.Fields{
			"function": "Check",
			"from":     from.Short(),
			"phase":    phase,
		}).Info("Invite rejected while busy")
		return RejectBusy
	}

	return Allow
}
