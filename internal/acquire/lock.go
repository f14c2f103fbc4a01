package acquire

import "sync"

type (
	// keyedMutex provides one mutex per key so that acquisitions of
	// different clips never serialise against each other, while
	// concurrent acquisitions of the same clip collapse to one upstream
	// fetch. Entries are reference counted and removed once the last
	// holder releases, keeping the map bounded by in-flight keys.
	keyedMutex struct {
		mu      sync.Mutex
		entries map[string]*lockEntry
	}

	lockEntry struct {
		mu   sync.Mutex
		refs int
	}
)

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*lockEntry)}
}

// Lock acquires the mutex for the key provided, blocking while another
// holder owns it. The returned function releases the lock and must be
// called exactly once.
func (keyed *keyedMutex) Lock(key string) func() {
	keyed.mu.Lock()
	entry, ok := keyed.entries[key]
	if !ok {
		entry = &lockEntry{}
		keyed.entries[key] = entry
	}
	entry.refs++
	keyed.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()

		keyed.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(keyed.entries, key)
		}
		keyed.mu.Unlock()
	}
}
