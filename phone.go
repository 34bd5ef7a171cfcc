package lxstphone

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kc1awv/lxst-phone/admission"
	"github.com/kc1awv/lxst-phone/audio"
	"github.com/kc1awv/lxst-phone/callstate"
	"github.com/kc1awv/lxst-phone/config"
	"github.com/kc1awv/lxst-phone/crypto"
	"github.com/kc1awv/lxst-phone/history"
	"github.com/kc1awv/lxst-phone/media"
	"github.com/kc1awv/lxst-phone/peers"
	"github.com/kc1awv/lxst-phone/ratelimit"
	"github.com/kc1awv/lxst-phone/signaling"
	"github.com/kc1awv/lxst-phone/transport"
)

const (
	// defaultInviteTimeout is how long an outgoing call waits for an
	// answer before it ends with no_answer.
	defaultInviteTimeout = 30 * time.Second

	// defaultLinkWaitTimeout is how long the callee waits for the
	// initiator's media link after accepting, a little longer than the
	// initiator's own dial timeout with its retry.
	defaultLinkWaitTimeout = 15 * time.Second

	// defaultEventBuffer sizes the Events channel.
	defaultEventBuffer = 32
)

// Options configures a Phone.
type Options struct {
	// Identity is the local long-term identity. Required.
	Identity *crypto.Identity

	// Transport moves signaling datagrams, announces and media links.
	// Required; the phone takes ownership and closes it on Stop.
	Transport transport.Transport

	// Config supplies the tunables. nil selects the defaults.
	Config *config.Config

	// Directory is the persistent peer directory. Required.
	Directory *peers.Directory

	// History is the persistent call log. Required.
	History *history.Store

	// Clock overrides the runtime clock in tests.
	Clock crypto.TimeProvider

	// OpenCapture and OpenPlayback build the audio devices for a call,
	// using the negotiated codec's parameters. A nil factory, or audio
	// disabled in the config, selects the timed null device.
	OpenCapture  func(p audio.Params) (audio.CaptureDevice, error)
	OpenPlayback func(p audio.Params) (audio.PlaybackDevice, error)

	// EventBuffer sizes the Events channel. Zero selects the default.
	EventBuffer int
}

// Phone is the call engine. It wires the transport, peer directory, call
// state machine, admission control and media stack together behind a small
// control API: StartCall, Answer, Reject, Hangup and VerifySAS, with
// notifications on the Events channel.
//
// All control methods are safe to call from any goroutine. Signaling for
// the active call is serialised on one mutex, so the frontend and the
// network never race each other through a state transition.
type Phone struct {
	identity  *crypto.Identity
	transport transport.Transport
	cfg       *config.Config
	directory *peers.Directory
	history   *history.Store
	clock     crypto.TimeProvider

	localID  string
	callDest crypto.DestinationHash

	machine   *callstate.Machine
	filter    *signaling.Filter
	limiter   *ratelimit.Limiter
	admission *admission.Controller

	openCapture  func(p audio.Params) (audio.CaptureDevice, error)
	openPlayback func(p audio.Params) (audio.PlaybackDevice, error)

	inviteTimeout   time.Duration
	linkWaitTimeout time.Duration

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// callMu serialises every call state change: local operations, inbound
	// signaling, timer expiries and link callbacks all funnel through it.
	callMu        sync.Mutex
	stopped       bool
	session       *media.Session
	sessionCallID string
	inviteTimer   *time.Timer
	linkTimer     *time.Timer

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a Phone and registers its handlers on the transport. The
// phone is passive until Start; inbound traffic that arrives before Start
// is already handled, so tests can drive a phone without the announce loop.
func New(opts Options) (*Phone, error) {
	if opts.Identity == nil {
		return nil, errors.New("identity cannot be nil")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if opts.Directory == nil {
		return nil, errors.New("directory cannot be nil")
	}
	if opts.History == nil {
		return nil, errors.New("history cannot be nil")
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = crypto.GetDefaultTimeProvider()
	}
	eventBuffer := opts.EventBuffer
	if eventBuffer <= 0 {
		eventBuffer = defaultEventBuffer
	}

	openCapture := opts.OpenCapture
	if openCapture == nil || !cfg.Audio.Enabled {
		openCapture = func(p audio.Params) (audio.CaptureDevice, error) {
			return audio.NewNullDevice(p), nil
		}
	}
	openPlayback := opts.OpenPlayback
	if openPlayback == nil || !cfg.Audio.Enabled {
		openPlayback = func(p audio.Params) (audio.PlaybackDevice, error) {
			return audio.NewNullDevice(p), nil
		}
	}

	machine := callstate.NewMachine(clock)
	limiter := ratelimit.NewLimiter(cfg.Calls.MaxInvitesPerMinute, cfg.Calls.MaxInvitesPerHour, clock)
	controller, err := admission.NewController(opts.Directory, limiter, machine)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Phone{
		identity:        opts.Identity,
		transport:       opts.Transport,
		cfg:             cfg,
		directory:       opts.Directory,
		history:         opts.History,
		clock:           clock,
		localID:         opts.Identity.NodeID().String(),
		callDest:        opts.Identity.Destination(crypto.AspectCall),
		machine:         machine,
		filter:          signaling.NewFilter(opts.Identity.NodeID().String(), 0, clock),
		limiter:         limiter,
		admission:       controller,
		openCapture:     openCapture,
		openPlayback:    openPlayback,
		inviteTimeout:   defaultInviteTimeout,
		linkWaitTimeout: defaultLinkWaitTimeout,
		events:          make(chan Event, eventBuffer),
		ctx:             ctx,
		cancel:          cancel,
	}

	machine.OnStateChanged(func(phase callstate.Phase, call *callstate.Call) {
		p.emit(Event{Kind: EventPhaseChanged, Phase: phase, Call: call})
	})
	p.transport.RegisterPacketHandler(crypto.AspectCall, p.handleSignaling)
	p.transport.RegisterAnnounceHandler(p.handleAnnounce)
	p.transport.RegisterLinkHandler(p.handleIncomingLink)

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"node_id":  p.identity.NodeID().Short(),
		"dest":     p.callDest.Short(),
	}).Info("Phone engine created")

	return p, nil
}

// Start seeds the transport with the directory's known peers and begins the
// presence announce schedule. Calling Start more than once is harmless.
func (p *Phone) Start() error {
	p.callMu.Lock()
	if p.stopped {
		p.callMu.Unlock()
		return ErrStopped
	}
	p.callMu.Unlock()

	p.startOnce.Do(func() {
		p.seedKnownPeers()
		if p.cfg.Network.AnnounceOnStart {
			p.announce()
		}
		p.wg.Add(1)
		go p.announceLoop()

		logrus.WithFields(logrus.Fields{
			"function":        "Start",
			"announce_period": p.cfg.Network.AnnouncePeriodMinutes,
		}).Info("Phone engine started")
	})
	return nil
}

// Stop tears down the active call, stops the announce schedule, closes the
// transport and finally closes the Events channel. It is idempotent.
func (p *Phone) Stop() error {
	var closeErr error
	p.stopOnce.Do(func() {
		p.callMu.Lock()
		p.stopped = true
		p.stopTimersLocked()
		if call := p.machine.CurrentCall(); call != nil {
			p.endActiveCallLocked(call)
		}
		p.callMu.Unlock()

		p.cancel()
		p.wg.Wait()
		closeErr = p.transport.Close()
		close(p.events)

		logrus.WithFields(logrus.Fields{
			"function": "Stop",
		}).Info("Phone engine stopped")
	})
	return closeErr
}

// NodeID returns the local node identifier.
func (p *Phone) NodeID() crypto.NodeID {
	return p.identity.NodeID()
}

// CallDestination returns the local call destination peers dial.
func (p *Phone) CallDestination() crypto.DestinationHash {
	return p.callDest
}

// Phase returns the current call phase.
func (p *Phone) Phase() callstate.Phase {
	return p.machine.Phase()
}

// CurrentCall returns a copy of the active call, or nil when idle.
func (p *Phone) CurrentCall() *callstate.Call {
	return p.machine.CurrentCall()
}

// Directory returns the peer directory, for listing and block/verify
// management by the frontend.
func (p *Phone) Directory() *peers.Directory {
	return p.directory
}

// History returns the call log.
func (p *Phone) History() *history.Store {
	return p.history
}

// ActiveSAS returns the verification code for the active call. It is
// available from the moment the media link is up until the call ends.
func (p *Phone) ActiveSAS() (string, error) {
	p.callMu.Lock()
	defer p.callMu.Unlock()
	if p.session == nil {
		return "", ErrSASUnavailable
	}
	return p.session.SAS(), nil
}

// CallMetrics returns the live quality figures for the active call.
func (p *Phone) CallMetrics() (media.Snapshot, error) {
	p.callMu.Lock()
	defer p.callMu.Unlock()
	if p.session == nil {
		return media.Snapshot{}, ErrNoActiveCall
	}
	return p.session.Metrics(), nil
}

// Announce broadcasts presence immediately, outside the schedule.
func (p *Phone) Announce() error {
	p.callMu.Lock()
	if p.stopped {
		p.callMu.Unlock()
		return ErrStopped
	}
	p.callMu.Unlock()

	appData, err := signaling.EncodeAnnounceData(p.cfg.UI.DisplayName)
	if err != nil {
		return err
	}
	return p.transport.Announce(appData)
}

// seedKnownPeers primes the transport's key table from the directory so
// datagrams from known peers authenticate before their next announce.
func (p *Phone) seedKnownPeers() {
	records := p.directory.List()
	for _, rec := range records {
		if err := p.transport.SeedPeer(rec.CallDest, rec.PublicKey); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "seedKnownPeers",
				"peer":     rec.NodeID.Short(),
				"error":    err.Error(),
			}).Warn("Failed to seed peer key")
		}
	}
	logrus.WithFields(logrus.Fields{
		"function": "seedKnownPeers",
		"count":    len(records),
	}).Debug("Seeded transport with directory peers")
}

func (p *Phone) announceLoop() {
	defer p.wg.Done()
	period := time.Duration(p.cfg.Network.AnnouncePeriodMinutes) * time.Minute
	if period <= 0 {
		// Periodic announces are disabled; manual Announce still works.
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.announce()
		}
	}
}

func (p *Phone) announce() {
	appData, err := signaling.EncodeAnnounceData(p.cfg.UI.DisplayName)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "announce",
			"error":    err.Error(),
		}).Warn("Failed to encode announce data")
		return
	}
	if err := p.transport.Announce(appData); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "announce",
			"error":    err.Error(),
		}).Warn("Presence announce failed")
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "announce",
	}).Debug("Presence announced")
}
