package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestIdentity_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "identity")

	id, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}
	if err := id.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadIdentity(path)
	if err != nil {
		t.Fatalf("LoadIdentity failed: %v", err)
	}

	if loaded.NodeID() != id.NodeID() {
		t.Errorf("node ID changed across save/load: %s != %s", loaded.NodeID(), id.NodeID())
	}
	if loaded.PublicKey() != id.PublicKey() {
		t.Error("public key changed across save/load")
	}
}

func TestIdentity_FilePermissions(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}

	path := filepath.Join(t.TempDir(), "identity")
	id, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}
	if err := id.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("identity file permissions = %o, want 600", perm)
	}
}

func TestLoadIdentity_Corrupt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "identity")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := LoadIdentity(path)
	if !errors.Is(err, ErrIdentityCorrupt) {
		t.Errorf("LoadIdentity error = %v, want ErrIdentityCorrupt", err)
	}
}

func TestLoadOrCreateIdentity(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "identity")

	created, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity (create) failed: %v", err)
	}

	loaded, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity (load) failed: %v", err)
	}
	if loaded.NodeID() != created.NodeID() {
		t.Error("second LoadOrCreateIdentity did not return the persisted identity")
	}
}

func TestLoadOrCreateIdentity_ReplacesCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "identity")
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	id, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity failed on corrupt file: %v", err)
	}

	// The replacement must be loadable.
	reloaded, err := LoadIdentity(path)
	if err != nil {
		t.Fatalf("LoadIdentity after replacement failed: %v", err)
	}
	if reloaded.NodeID() != id.NodeID() {
		t.Error("replacement identity was not persisted")
	}
}

func TestIdentity_Info(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "identity")
	id, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity failed: %v", err)
	}

	info := id.Info()
	if info.NodeID != id.NodeID().String() {
		t.Errorf("Info.NodeID = %s, want %s", info.NodeID, id.NodeID())
	}
	if len(info.PublicKey) != 64 {
		t.Errorf("Info.PublicKey hex length = %d, want 64", len(info.PublicKey))
	}
	if info.Path != path {
		t.Errorf("Info.Path = %s, want %s", info.Path, path)
	}
}

func TestIdentity_DestinationMatchesDerivation(t *testing.T) {
	t.Parallel()

	id, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}

	want := NewDestinationHash(id.NodeID(), AspectCall)
	if got := id.Destination(AspectCall); got != want {
		t.Errorf("Destination(call) = %s, want %s", got, want)
	}
}
