package vehicle

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the vehicles of one service session. It is passed to the
// components that need to look vehicles up.
type Registry struct {
	mu       sync.RWMutex
	vehicles map[string]*Vehicle
}

func NewRegistry() *Registry {
	return &Registry{vehicles: make(map[string]*Vehicle)}
}

// Add registers v. Vehicle ids are unique within a registry.
func (r *Registry) Add(v *Vehicle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.vehicles[v.ID()]; ok {
		return fmt.Errorf("vehicle %s already registered", v.ID())
	}
	r.vehicles[v.ID()] = v
	return nil
}

func (r *Registry) Get(id string) (*Vehicle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vehicles[id]
	return v, ok
}

// Remove unregisters id and returns the vehicle that was registered.
func (r *Registry) Remove(id string) (*Vehicle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vehicles[id]
	delete(r.vehicles, id)
	return v, ok
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.vehicles))
	for id := range r.vehicles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.vehicles)
}

// Each calls fn for every vehicle in id order.
func (r *Registry) Each(fn func(*Vehicle)) {
	for _, id := range r.IDs() {
		if v, ok := r.Get(id); ok {
			fn(v)
		}
	}
}
