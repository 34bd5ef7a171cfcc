package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/kc1awv/lxst-phone/signaling"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Audio.InputDevice != -1 || cfg.Audio.OutputDevice != -1 {
		t.Error("default devices should be -1 (system default)")
	}
	if !cfg.Audio.Enabled {
		t.Error("audio should default to enabled")
	}
	if cfg.Codec.Type != signaling.CodecOpus || cfg.Codec.Bitrate != 24000 {
		t.Errorf("codec defaults = %s/%d, want opus/24000", cfg.Codec.Type, cfg.Codec.Bitrate)
	}
	if cfg.Network.ListenAddress != "0.0.0.0:52860" {
		t.Errorf("listen address default = %q", cfg.Network.ListenAddress)
	}
	if cfg.Calls.MaxInvitesPerMinute != 5 || cfg.Calls.MaxInvitesPerHour != 20 {
		t.Error("rate limit defaults should be 5/min and 20/hr")
	}
	if cfg.Calls.RecordMissed {
		t.Error("record_missed should default to false")
	}
	if cfg.Calls.JitterTargetMs != 60 {
		t.Errorf("jitter target default = %d, want 60", cfg.Calls.JitterTargetMs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load missing file: %v", err)
	}
	if cfg.Codec.Type != signaling.CodecOpus {
		t.Error("missing file should yield defaults")
	}

	if err := cfg.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"codec": {"bitrate": 32000}, "ui": {"display_name": "KC1AWV"}}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Codec.Bitrate != 32000 {
		t.Errorf("Bitrate = %d, want 32000 from file", cfg.Codec.Bitrate)
	}
	if cfg.Codec.Type != signaling.CodecOpus {
		t.Errorf("Type = %q, want default opus for missing key", cfg.Codec.Type)
	}
	if cfg.UI.DisplayName != "KC1AWV" {
		t.Errorf("DisplayName = %q", cfg.UI.DisplayName)
	}
	if cfg.Network.ListenAddress != "0.0.0.0:52860" {
		t.Error("missing section should keep defaults")
	}
}

func TestUnknownKeysPreserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
  "audio": {"input_device": 2, "agc": true},
  "experimental": {"relay": "udon.local:4000"},
  "ui": {"display_name": "old name"}
}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Audio.InputDevice != 2 {
		t.Fatalf("InputDevice = %d, want 2", cfg.Audio.InputDevice)
	}

	cfg.UI.DisplayName = "new name"
	if err := cfg.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config back: %v", err)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		t.Fatalf("parse saved config: %v", err)
	}

	if _, ok := top["experimental"]; !ok {
		t.Error("unknown top-level key was dropped on save")
	}

	var audio map[string]json.RawMessage
	if err := json.Unmarshal(top["audio"], &audio); err != nil {
		t.Fatalf("parse audio section: %v", err)
	}
	if string(audio["agc"]) != "true" {
		t.Error("unknown key inside a known section was dropped on save")
	}
	if string(audio["input_device"]) != "2" {
		t.Errorf("input_device = %s, want 2", audio["input_device"])
	}

	var ui map[string]json.RawMessage
	if err := json.Unmarshal(top["ui"], &ui); err != nil {
		t.Fatalf("parse ui section: %v", err)
	}
	if string(ui["display_name"]) != `"new name"` {
		t.Errorf("display_name = %s, want updated value", ui["display_name"])
	}

	// A second load sees the typed change and the foreign keys are still
	// there for whoever owns them.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.UI.DisplayName != "new name" {
		t.Error("saved change did not round trip")
	}
}

func TestLoadNormalizesValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
  "codec": {"type": "mp3", "bitrate": -5},
  "network": {"announce_period_minutes": 0, "listen_address": "  "},
  "calls": {"max_invites_per_minute": -1, "max_invites_per_hour": 0, "jitter_target_ms": 0}
}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := Default()
	if cfg.Codec.Type != def.Codec.Type || cfg.Codec.Bitrate != def.Codec.Bitrate {
		t.Error("invalid codec settings should reset to defaults")
	}
	if cfg.Network.AnnouncePeriodMinutes != def.Network.AnnouncePeriodMinutes {
		t.Error("zero announce period should reset to default")
	}
	if cfg.Network.ListenAddress != def.Network.ListenAddress {
		t.Error("blank listen address should reset to default")
	}
	if cfg.Calls.MaxInvitesPerMinute != def.Calls.MaxInvitesPerMinute ||
		cfg.Calls.MaxInvitesPerHour != def.Calls.MaxInvitesPerHour {
		t.Error("invalid rate limits should reset to defaults")
	}
	if cfg.Calls.JitterTargetMs != def.Calls.JitterTargetMs {
		t.Error("zero jitter target should reset to default")
	}
}

func TestLoadCodecTypeCaseInsensitive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"codec": {"type": "Codec2"}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Codec.Type != signaling.CodecCodec2 {
		t.Errorf("Type = %q, want codec2", cfg.Codec.Type)
	}
}

func TestLoadMalformedSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"audio": "loud"}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for section with wrong JSON type")
	}
}

func TestSaveWithoutPath(t *testing.T) {
	if err := Default().Save(); err == nil {
		t.Error("expected error saving a config that was never loaded")
	}
}
