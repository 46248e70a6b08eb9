// Package lock provides an in-process keyed mutex.
//
// Used to serialize access to a single resource identified by a string key
// — such as a token file path, or a phone number during login — without
// reaching for a shared database. A single global mutex would serialize
// unrelated keys against each other; a per-key mutex does not.
package lock

import "sync"

// entry pairs a mutex with a reference count so the map can be pruned once no
// goroutine holds or is waiting on the key, keeping memory bounded even when
// many distinct keys (e.g. many phone numbers) are used over the process
// lifetime.
type entry struct {
	mu      sync.Mutex
	waiters int
}

// Keyed is a table of per-key mutexes. The zero value is ready to use.
//
// Safe for concurrent use: a top-level sync.Mutex guards the map itself;
// each key's critical section is independent of every other key's.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewKeyed returns a ready-to-use Keyed lock table.
func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

// Lock blocks until key is free, then acquires it.
func (k *Keyed) Lock(key string) {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[string]*entry)
	}
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.waiters++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases key, pruning the table entry if no other goroutine is
// waiting on it.
func (k *Keyed) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		k.mu.Unlock()
		return
	}
	e.waiters--
	if e.waiters <= 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}

// With runs fn with key locked, unlocking it even if fn panics.
func (k *Keyed) With(key string, fn func()) {
	k.Lock(key)
	defer k.Unlock(key)
	fn()
}
