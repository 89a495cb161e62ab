package dbgpshare

import "sync"

// Endpoint is a host/port pair identifying a registered IDE's listen
// address, as observed on its registration connection (spec.md §3).
type Endpoint struct {
	Host string
	Port int
}

// RegistryEntry is the value stored for a registered idekey: the IDE's
// endpoint plus the opaque "multi" option (spec.md §9 Open Question (i) —
// its semantics are undefined upstream; it is carried verbatim and never
// interpreted).
type RegistryEntry struct {
	Endpoint Endpoint
	Multi    string
}

// Registry is the shared idekey -> IDE endpoint mapping (spec.md §3, §5).
// A single mutex guards InsertIfAbsent/Remove/Lookup; none of the three
// perform I/O while holding it.
type Registry struct {
	mu      sync.Mutex
	entries map[string]RegistryEntry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]RegistryEntry)}
}

// InsertIfAbsent registers idekey -> entry atomically. It returns false,
// leaving the registry unchanged, if idekey is already registered.
func (r *Registry) InsertIfAbsent(idekey string, entry RegistryEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[idekey]; exists {
		return false
	}
	r.entries[idekey] = entry
	return true
}

// Remove deletes idekey if present. Removing an absent key is not an error
// (spec.md §3, §9 Open Question (ii)).
func (r *Registry) Remove(idekey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, idekey)
}

// Lookup returns the entry registered for idekey, and whether it was found.
func (r *Registry) Lookup(idekey string) (RegistryEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[idekey]
	return e, ok
}

// Keys returns a snapshot of the currently registered idekeys. Used only by
// the status endpoint; it never exposes the stored host/port.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}
