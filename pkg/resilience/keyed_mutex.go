package resilience

import "sync"

// KeyedMutex serializes operations that share a key while letting operations
// on different keys proceed concurrently. Entries are reference counted and
// removed once the last holder unlocks, so the map does not grow with the
// key space.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty keyed mutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key, blocking while another holder owns it
func (km *KeyedMutex) Lock(key string) {
	km.mu.Lock()
	entry, ok := km.entries[key]
	if !ok {
		entry = &keyedEntry{}
		km.entries[key] = entry
	}
	entry.refs++
	km.mu.Unlock()

	entry.mu.Lock()
}

// Unlock releases the lock for key
func (km *KeyedMutex) Unlock(key string) {
	km.mu.Lock()
	entry, ok := km.entries[key]
	if ok {
		entry.refs--
		if entry.refs == 0 {
			delete(km.entries, key)
		}
	}
	km.mu.Unlock()

	if ok {
		entry.mu.Unlock()
	}
}
