// Package config loads and saves the phone's JSON configuration file.
// Settings are grouped into sections with defaults, so a missing file or a
// partial file still yields a usable configuration. Keys the current build
// does not know about, at the top level or inside a known section, survive
// a load and save cycle untouched, so older and newer builds can share one
// file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kc1awv/lxst-phone/signaling"
	"github.com/kc1awv/lxst-phone/storage"
)

// FileName is the configuration file's name inside the config directory.
const FileName = "config.json"

// DefaultDirName is the per-user configuration directory under $HOME.
const DefaultDirName = ".lxst-phone"

// AudioConfig selects the capture and playback devices. A device index of
// -1 means the system default device.
type AudioConfig struct {
	InputDevice  int  `json:"input_device"`
	OutputDevice int  `json:"output_device"`
	Enabled      bool `json:"enabled"`
}

// CodecConfig is the preferred codec offered in outgoing invites.
type CodecConfig struct {
	Type    string `json:"type"`
	Bitrate int    `json:"bitrate"`
}

// NetworkConfig controls the UDP transport and presence announces.
type NetworkConfig struct {
	AnnounceOnStart       bool     `json:"announce_on_start"`
	AnnouncePeriodMinutes int      `json:"announce_period_minutes"`
	ListenAddress         string   `json:"listen_address"`
	StaticPeers           []string `json:"static_peers"`
}

// CallsConfig bounds incoming call handling.
type CallsConfig struct {
	MaxInvitesPerMinute int  `json:"max_invites_per_minute"`
	MaxInvitesPerHour   int  `json:"max_invites_per_hour"`
	RecordMissed        bool `json:"record_missed"`
	JitterTargetMs      int  `json:"jitter_target_ms"`
}

// UIConfig holds presentation state the frontend wants back next start.
type UIConfig struct {
	DisplayName  string `json:"display_name"`
	LastRemoteID string `json:"last_remote_id"`
}

// Config is the full configuration. It is not safe for concurrent use;
// the phone engine serializes access to it.
type Config struct {
	Audio   AudioConfig
	Codec   CodecConfig
	Network NetworkConfig
	Calls   CallsConfig
	UI      UIConfig

	path string
	// raw holds the file as loaded, keyed by top-level name. Known
	// sections are overlaid with typed values on save; everything else is
	// written back verbatim.
	raw map[string]json.RawMessage
}

// Default returns a Config with every setting at its default value.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			InputDevice:  -1,
			OutputDevice: -1,
			Enabled:      true,
		},
		Codec: CodecConfig{
			Type:    signaling.CodecOpus,
			Bitrate: 24000,
		},
		Network: NetworkConfig{
			AnnounceOnStart:       true,
			AnnouncePeriodMinutes: 5,
			ListenAddress:         "0.0.0.0:52860",
			StaticPeers:           []string{},
		},
		Calls: CallsConfig{
			MaxInvitesPerMinute: 5,
			MaxInvitesPerHour:   20,
			RecordMissed:        false,
			JitterTargetMs:      60,
		},
		UI: UIConfig{},
	}
}

// DefaultDir returns the per-user config directory, ~/.lxst-phone.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName), nil
}

// Load reads the configuration at path. A missing file yields defaults;
// settings absent from the file keep their defaults, and out-of-range
// values are reset to defaults with a warning.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	cfg := Default()
	cfg.path = path
	cfg.raw = make(map[string]json.RawMessage)

	if err := storage.ReadJSON(path, &cfg.raw); err != nil {
		return nil, err
	}
	for _, sec := range cfg.sections() {
		data, ok := cfg.raw[sec.name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(data, sec.value); err != nil {
			return nil, fmt.Errorf("config section %q: %w", sec.name, err)
		}
	}
	cfg.normalize()

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"path":     path,
	}).Debug("Loaded configuration")
	return cfg, nil
}

// Save writes the configuration back to the path it was loaded from,
// preserving keys this build does not understand.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config has no file path")
	}

	merged := make(map[string]json.RawMessage, len(c.raw)+5)
	for k, v := range c.raw {
		merged[k] = v
	}
	for _, sec := range c.sections() {
		data, err := c.mergeSection(merged[sec.name], sec.value)
		if err != nil {
			return fmt.Errorf("encode config section %q: %w", sec.name, err)
		}
		merged[sec.name] = data
	}

	if err := storage.WriteJSON(c.path, merged, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	c.raw = merged

	logrus.WithFields(logrus.Fields{
		"function": "Save",
		"path":     c.path,
	}).Debug("Saved configuration")
	return nil
}

// Path returns the file this configuration loads from and saves to.
func (c *Config) Path() string {
	return c.path
}

type section struct {
	name  string
	value any
}

func (c *Config) sections() []section {
	return []section{
		{"audio", &c.Audio},
		{"codec", &c.Codec},
		{"network", &c.Network},
		{"calls", &c.Calls},
		{"ui", &c.UI},
	}
}

// mergeSection overlays the typed section onto the keys loaded from disk,
// so unknown keys inside a known section survive the rewrite.
func (c *Config) mergeSection(prev json.RawMessage, value any) (json.RawMessage, error) {
	keys := make(map[string]json.RawMessage)
	if len(prev) > 0 {
		// A section that is not a JSON object is replaced wholesale.
		_ = json.Unmarshal(prev, &keys)
	}

	typed, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	typedKeys := make(map[string]json.RawMessage)
	if err := json.Unmarshal(typed, &typedKeys); err != nil {
		return nil, err
	}
	for k, v := range typedKeys {
		keys[k] = v
	}
	return json.Marshal(keys)
}

// normalize resets out-of-range values to their defaults. The file may be
// hand-edited, so every numeric setting is treated as untrusted.
func (c *Config) normalize() {
	def := Default()

	c.Codec.Type = strings.ToLower(strings.TrimSpace(c.Codec.Type))
	if c.Codec.Type != signaling.CodecOpus && c.Codec.Type != signaling.CodecCodec2 {
		logrus.WithFields(logrus.Fields{
			"function": "normalize",
			"codec":    c.Codec.Type,
		}).Warn("Unknown codec type in config, using default")
		c.Codec.Type = def.Codec.Type
	}
	if c.Codec.Bitrate <= 0 {
		c.Codec.Bitrate = def.Codec.Bitrate
	}
	if c.Network.AnnouncePeriodMinutes <= 0 {
		c.Network.AnnouncePeriodMinutes = def.Network.AnnouncePeriodMinutes
	}
	if strings.TrimSpace(c.Network.ListenAddress) == "" {
		c.Network.ListenAddress = def.Network.ListenAddress
	}
	if c.Network.StaticPeers == nil {
		c.Network.StaticPeers = []string{}
	}
	if c.Calls.MaxInvitesPerMinute <= 0 {
		c.Calls.MaxInvitesPerMinute = def.Calls.MaxInvitesPerMinute
	}
	if c.Calls.MaxInvitesPerHour <= 0 {
		c.Calls.MaxInvitesPerHour = def.Calls.MaxInvitesPerHour
	}
	if c.Calls.JitterTargetMs <= 0 {
		c.Calls.JitterTargetMs = def.Calls.JitterTargetMs
	}
}
