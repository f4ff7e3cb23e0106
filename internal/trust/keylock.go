package trust

import (
	"sync"
)

// keyMutex provides an exclusive lock per aggregate key. A signal write and
// its recompute hold the key's lock for the whole transaction, and the
// promotion engine takes the same lock before writing tier state, so two
// writers for the same key can never interleave. Different keys proceed in
// parallel. Entries are reference-counted and removed when the last holder
// releases, so the map stays bounded by concurrent keys, not total keys.
type keyMutex struct {
	mu    sync.Mutex
	locks map[Key]*keyLockEntry
}

type keyLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyMutex() *keyMutex {
	return &keyMutex{locks: make(map[Key]*keyLockEntry)}
}

// Lock acquires the exclusive lock for key and returns its release func.
func (km *keyMutex) Lock(key Key) func() {
	km.mu.Lock()
	entry, ok := km.locks[key]
	if !ok {
		entry = &keyLockEntry{}
		km.locks[key] = entry
	}
	entry.refs++
	km.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		km.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}
