package tokenstore_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/vaultline/ingestcore/internal/lock"
	"github.com/vaultline/ingestcore/internal/tokenstore"
)

func TestLoadReturnsErrNotExistForMissingFile(t *testing.T) {
	store := tokenstore.New(filepath.Join(t.TempDir(), "tokens.json"), lock.NewKeyed())

	_, err := store.Load()
	if !errors.Is(err, tokenstore.ErrNotExist) {
		t.Fatalf("Load error: got %v, want ErrNotExist", err)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	store := tokenstore.New(path, lock.NewKeyed())

	want := tokenstore.TokenPair{Session: "sess-123", Refresh: "ref-456"}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Errorf("Load: got %+v, want %+v", got, want)
	}
}

func TestSaveOverwritesPreviousContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	store := tokenstore.New(path, lock.NewKeyed())

	if err := store.Save(tokenstore.TokenPair{Session: "old", Refresh: "old-r"}); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := store.Save(tokenstore.TokenPair{Session: "new", Refresh: "new-r"}); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Session != "new" || got.Refresh != "new-r" {
		t.Errorf("Load after overwrite: got %+v, want {new new-r}", got)
	}
}
