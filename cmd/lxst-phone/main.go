// Command lxst-phone runs a headless encrypted voice phone node. It answers
// announces, admits or rejects incoming calls by directory policy, and
// prints engine events until interrupted.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	lxstphone "github.com/kc1awv/lxst-phone"
	"github.com/kc1awv/lxst-phone/config"
	"github.com/kc1awv/lxst-phone/crypto"
	"github.com/kc1awv/lxst-phone/history"
	"github.com/kc1awv/lxst-phone/peers"
	"github.com/kc1awv/lxst-phone/transport"
)

// Exit codes, kept stable for scripts.
const (
	exitIdentity  = 1
	exitTransport = 2
	exitOther     = 3
)

// exitError carries the process exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fail(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

var (
	flagConfigDir      string
	flagIdentityPath   string
	flagNewIdentity    bool
	flagShowIdentity   bool
	flagInputDevice    int
	flagOutputDevice   int
	flagNoAudio        bool
	flagNoAnnounce     bool
	flagAnnouncePeriod int
	flagDisplayName    string
	flagLogLevel       string
	flagLogFile        string
	flagNoLogFile      bool
)

func main() {
	root := rootCommand()
	if err := root.Execute(); err != nil {
		var coded *exitError
		if errors.As(err, &coded) {
			os.Exit(coded.code)
		}
		os.Exit(exitOther)
	}
}

func rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lxst-phone",
		Short:         "Peer-to-peer encrypted voice phone",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          run,
	}

	cmd.Flags().StringVar(&flagConfigDir, "config-dir", "", "state directory (default ~/"+config.DefaultDirName+")")
	cmd.Flags().StringVar(&flagIdentityPath, "identity", "", "identity file path (default <config-dir>/identity)")
	cmd.Flags().BoolVar(&flagNewIdentity, "new-identity", false, "generate a fresh identity, replacing any existing one")
	cmd.Flags().BoolVar(&flagShowIdentity, "show-identity", false, "print the node ID and public key, then exit")
	cmd.Flags().IntVar(&flagInputDevice, "audio-input-device", -1, "capture device index (-1 for system default)")
	cmd.Flags().IntVar(&flagOutputDevice, "audio-output-device", -1, "playback device index (-1 for system default)")
	cmd.Flags().BoolVar(&flagNoAudio, "no-audio", false, "run without audio devices")
	cmd.Flags().BoolVar(&flagNoAnnounce, "no-announce", false, "do not announce presence on startup")
	cmd.Flags().IntVar(&flagAnnouncePeriod, "announce-period", 0, "minutes between periodic announces")
	cmd.Flags().StringVar(&flagDisplayName, "display-name", "", "name sent in announces and invites")
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&flagLogFile, "log-file", "", "log file path (default <config-dir>/lxst-phone.log)")
	cmd.Flags().BoolVar(&flagNoLogFile, "no-log-file", false, "log to stderr instead of a file")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	configDir := flagConfigDir
	if configDir == "" {
		dir, err := config.DefaultDir()
		if err != nil {
			return fail(exitOther, "resolve config directory: %w", err)
		}
		configDir = dir
	}
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fail(exitOther, "create config directory: %w", err)
	}

	if err := setupLogging(configDir); err != nil {
		return fail(exitOther, "configure logging: %w", err)
	}

	identity, err := loadIdentity(configDir)
	if err != nil {
		return fail(exitIdentity, "identity: %w", err)
	}
	if flagShowIdentity {
		info := identity.Info()
		fmt.Printf("node id:    %s\n", info.NodeID)
		fmt.Printf("public key: %s\n", info.PublicKey)
		fmt.Printf("path:       %s\n", info.Path)
		return nil
	}

	cfg, err := config.Load(filepath.Join(configDir, config.FileName))
	if err != nil {
		return fail(exitOther, "load config: %w", err)
	}
	if err := applyFlagOverrides(cmd, cfg); err != nil {
		return fail(exitOther, "apply flags: %w", err)
	}

	tr, err := transport.NewUDPTransport(identity, cfg.Network.ListenAddress, cfg.Network.StaticPeers)
	if err != nil {
		return fail(exitTransport, "transport: %w", err)
	}

	directory, err := peers.NewDirectory(filepath.Join(configDir, "peers.json"), identity.NodeID(), nil)
	if err != nil {
		_ = tr.Close()
		return fail(exitOther, "peer directory: %w", err)
	}
	store, err := history.NewStore(filepath.Join(configDir, "history.json"))
	if err != nil {
		_ = tr.Close()
		return fail(exitOther, "call history: %w", err)
	}

	phone, err := lxstphone.New(lxstphone.Options{
		Identity:  identity,
		Transport: tr,
		Config:    cfg,
		Directory: directory,
		History:   store,
	})
	if err != nil {
		_ = tr.Close()
		return fail(exitOther, "engine: %w", err)
	}
	if err := phone.Start(); err != nil {
		return fail(exitOther, "start: %w", err)
	}

	fmt.Printf("lxst-phone up: node %s listening on %s\n", phone.NodeID(), cfg.Network.ListenAddress)
	fmt.Printf("call destination %s\n", phone.CallDestination())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case ev, ok := <-phone.Events():
			if !ok {
				return nil
			}
			printEvent(ev)
		case sig := <-sigCh:
			fmt.Printf("\n%s received, shutting down\n", sig)
			if err := phone.Stop(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "run",
					"error":    err.Error(),
				}).Warn("Shutdown finished with an error")
			}
			for range phone.Events() {
				// drain until closed
			}
			return nil
		}
	}
}

// loadIdentity resolves the identity file per flags: an explicit path wins,
// --new-identity forces a fresh key pair.
func loadIdentity(configDir string) (*crypto.Identity, error) {
	path := flagIdentityPath
	if path == "" {
		path = filepath.Join(configDir, "identity")
	}

	if flagNewIdentity {
		identity, err := crypto.NewIdentity()
		if err != nil {
			return nil, err
		}
		if err := identity.Save(path); err != nil {
			return nil, err
		}
		fmt.Printf("new identity %s written to %s\n", identity.NodeID(), path)
		return identity, nil
	}

	return crypto.LoadOrCreateIdentity(path)
}

// applyFlagOverrides layers command line flags over the loaded config.
// Device selections persist; the rest applies to this run only.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	persist := false
	if cmd.Flags().Changed("audio-input-device") {
		cfg.Audio.InputDevice = flagInputDevice
		persist = true
	}
	if cmd.Flags().Changed("audio-output-device") {
		cfg.Audio.OutputDevice = flagOutputDevice
		persist = true
	}
	if flagNoAudio {
		cfg.Audio.Enabled = false
	}
	if flagNoAnnounce {
		cfg.Network.AnnounceOnStart = false
	}
	if cmd.Flags().Changed("announce-period") && flagAnnouncePeriod > 0 {
		cfg.Network.AnnouncePeriodMinutes = flagAnnouncePeriod
	}
	if cmd.Flags().Changed("display-name") {
		cfg.UI.DisplayName = flagDisplayName
	}

	if persist {
		return cfg.Save()
	}
	return nil
}

func setupLogging(configDir string) error {
	level, err := logrus.ParseLevel(flagLogLevel)
	if err != nil {
		return fmt.Errorf("unknown log level %q", flagLogLevel)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if flagNoLogFile {
		return nil
	}
	path := flagLogFile
	if path == "" {
		path = filepath.Join(configDir, "lxst-phone.log")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	logrus.SetOutput(file)
	return nil
}

func printEvent(ev lxstphone.Event) {
	switch ev.Kind {
	case lxstphone.EventIncomingCall:
		if ev.Call != nil {
			fmt.Printf("incoming call from %s (%s)\n", ev.Call.DisplayName, ev.Call.RemoteID.Short())
		}
	case lxstphone.EventPhaseChanged:
		fmt.Printf("call state: %s\n", ev.Phase)
	case lxstphone.EventSASReady:
		fmt.Printf("verification code %s: compare it with the other side by voice\n", ev.SAS)
	case lxstphone.EventCallEnded:
		if ev.Call != nil {
			fmt.Printf("call with %s ended: %s after %s\n",
				ev.Call.RemoteID.Short(), ev.Call.Outcome, ev.Call.Duration().Round(time.Second))
		}
	case lxstphone.EventSecurityWarning:
		fmt.Printf("SECURITY WARNING: %s\n", ev.Message)
	case lxstphone.EventPeerSeen:
		if ev.Peer != nil {
			fmt.Printf("peer %s (%s) is online\n", ev.Peer.DisplayName, ev.Peer.NodeID.Short())
		}
	case lxstphone.EventError:
		if ev.Err != nil {
			fmt.Printf("error: %s: %v\n", ev.Message, ev.Err)
		} else {
			fmt.Printf("error: %s\n", ev.Message)
		}
	}
}
