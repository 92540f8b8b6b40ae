package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStorePutGet(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := store.Get(0, "missing"); ok {
		t.Error("missing key reported as present")
	}

	if err := store.Put(0, "devices", "AA:BB:CC:DD:EE:FF"); err != nil {
		t.Fatal(err)
	}

	value, ok := store.Get(0, "devices")
	if !ok || value != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("stored value is %q", value)
	}
}

func TestFileStoreUsersAreIsolated(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Put(0, "devices", "one"); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(7, "devices", "seven"); err != nil {
		t.Fatal(err)
	}

	if value, _ := store.Get(0, "devices"); value != "one" {
		t.Errorf("user 0 value is %q", value)
	}
	if value, _ := store.Get(7, "devices"); value != "seven" {
		t.Errorf("user 7 value is %q", value)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Put(3, "inhibits", "AA:BB:CC:DD:EE:FF/1"); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	value, ok := reopened.Get(3, "inhibits")
	if !ok || value != "AA:BB:CC:DD:EE:FF/1" {
		t.Errorf("reloaded value is %q", value)
	}
}

func TestFileStoreDisablesOnWriteFailure(t *testing.T) {
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	// Writes into the state directory fail once it is gone.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	if err := store.Put(0, "devices", "value"); err == nil {
		t.Fatal("write into a removed directory succeeded")
	}

	if !store.Disabled() {
		t.Error("store is not disabled after a write failure")
	}

	// In-memory state keeps serving while disabled.
	if value, _ := store.Get(0, "devices"); value != "value" {
		t.Errorf("in-memory value is %q after the failure", value)
	}
}

func TestFileStoreSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()

	content := "devices=AA:BB:CC:DD:EE:FF\nmalformed line\n=novalue\n"
	if err := os.WriteFile(filepath.Join(dir, "user_0.settings"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	value, ok := store.Get(0, "devices")
	if !ok || value != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("loaded value is %q", value)
	}
}
