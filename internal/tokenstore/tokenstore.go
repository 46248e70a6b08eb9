// Package tokenstore persists the opaque session/refresh token pair to a
// local JSON file, with crash-safe atomic writes.
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vaultline/ingestcore/internal/lock"
)

// TokenPair is the persisted credential pair. Both fields are opaque tokens
// — never parsed, never decoded, only stored and replayed.
type TokenPair struct {
	Session string `json:"session"`
	Refresh string `json:"refresh"`
}

// Store reads and writes a TokenPair to a fixed path on disk, serializing
// writes to that path with a keyed lock so concurrent callers (a refresh
// loop racing a user-initiated login) never interleave a write.
type Store struct {
	path  string
	locks *lock.Keyed
}

// New returns a Store backed by path. Multiple Store values constructed
// with the same *lock.Keyed and the same path serialize correctly against
// each other; construct one Store per process and share it.
func New(path string, locks *lock.Keyed) *Store {
	if locks == nil {
		locks = lock.NewKeyed()
	}
	return &Store{path: path, locks: locks}
}

// ErrNotExist is returned by Load when no token file exists yet.
var ErrNotExist = errors.New("tokenstore: no token file")

// Load reads the token pair from disk. It returns ErrNotExist if the file
// has never been written.
func (s *Store) Load() (TokenPair, error) {
	var tp TokenPair
	data, err := os.ReadFile(s.path) // #nosec G304 -- path is an operator-supplied config value
	if errors.Is(err, os.ErrNotExist) {
		return tp, ErrNotExist
	}
	if err != nil {
		return tp, fmt.Errorf("tokenstore: read %q: %w", s.path, err)
	}
	if err := json.Unmarshal(data, &tp); err != nil {
		return tp, fmt.Errorf("tokenstore: decode %q: %w", s.path, err)
	}
	return tp, nil
}

// Save atomically writes tp to disk: the new contents are written to a
// temporary file in the same directory, then renamed over the target path.
// rename(2) is atomic on the same filesystem, so a crash mid-write never
// leaves a half-written token file behind.
func (s *Store) Save(tp TokenPair) error {
	s.locks.Lock(s.path)
	defer s.locks.Unlock(s.path)

	data, err := json.MarshalIndent(tp, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenstore: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tokenstore-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenstore: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("tokenstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("tokenstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("tokenstore: rename temp file: %w", err)
	}
	return nil
}
