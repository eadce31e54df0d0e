// Package adapters resolves adapter names to their send/read surfaces.
package adapters

import (
	"sort"
	"sync"

	"clawgate/internal/claw"
)

// Entry pairs the two faces of one adapter. Either side may be nil for
// surfaces that only send or only read.
type Entry struct {
	Send claw.SendAdapter
	Read claw.ReadAdapter
}

// Registry is the name → adapter map. Registration happens once at
// startup; lookups are concurrent.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

func (r *Registry) Register(name string, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry
}

// Send resolves the send side of an adapter.
func (r *Registry) Send(name string) (claw.SendAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok || entry.Send == nil {
		return nil, claw.NewError(claw.CodeAdapterNotFound, "no such adapter: "+name)
	}
	return entry.Send, nil
}

// Read resolves the read side of an adapter.
func (r *Registry) Read(name string) (claw.ReadAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok || entry.Read == nil {
		return nil, claw.NewError(claw.CodeAdapterNotFound, "no such adapter: "+name)
	}
	return entry.Read, nil
}

// Names lists registered adapters, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
