// Package correlation mints and remembers correlation identifiers so related
// entries across agents can be tied together.
package correlation

import (
	"sync"

	"github.com/google/uuid"
)

// New returns a fresh correlation identifier.
func New() string { return uuid.NewString() }

// Registry maps caller-chosen keys (a task id, a hook invocation) to a stable
// correlation identifier.
type Registry struct {
	mu  sync.Mutex
	ids map[string]string
}

func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]string)}
}

// GetOrCreate returns the identifier for key, minting one on first use.
// An empty key always mints a new identifier.
func (r *Registry) GetOrCreate(key string) string {
	if key == "" {
		return New()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[key]; ok {
		return id
	}
	id := New()
	r.ids[key] = id
	return id
}

// Forget drops key so the next GetOrCreate mints a new identifier.
func (r *Registry) Forget(key string) {
	r.mu.Lock()
	delete(r.ids, key)
	r.mu.Unlock()
}

// Len returns the number of remembered keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}
