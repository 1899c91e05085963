package plugins

import (
	"fmt"
	"sort"
	"sync"
)

// registration pairs a plugin with its registration order, which breaks
// priority ties so dispatch order stays stable.
type registration struct {
	plugin Plugin
	seq    int
}

// Registry holds registered plugins keyed by name. Dispatch reads a
// consistent snapshot; register/unregister take a short exclusive lock.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]registration
	nextSeq int
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]registration)}
}

// Register adds a plugin. Names must be unique.
func (r *Registry) Register(p Plugin) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("plugin must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[p.Name()]; exists {
		return fmt.Errorf("plugin %q already registered", p.Name())
	}
	r.byName[p.Name()] = registration{plugin: p, seq: r.nextSeq}
	r.nextSeq++
	return nil
}

// Unregister removes a plugin by name. Returns false when the name is
// unknown.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; !exists {
		return false
	}
	delete(r.byName, name)
	return true
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return reg.plugin, true
}

// All returns every registered plugin in registration order.
func (r *Registry) All() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := make([]registration, 0, len(r.byName))
	for _, reg := range r.byName {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })

	out := make([]Plugin, len(regs))
	for i, reg := range regs {
		out[i] = reg.plugin
	}
	return out
}

// Match returns the plugins whose descriptors select the request descriptor,
// ordered by ascending priority with registration order breaking ties.
func (r *Registry) Match(req Descriptor) []Plugin {
	r.mu.RLock()
	matched := make([]registration, 0, len(r.byName))
	for _, reg := range r.byName {
		for _, d := range reg.plugin.Descriptors() {
			if d.Matches(req) {
				matched = append(matched, reg)
				break
			}
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		pi, pj := matched[i].plugin.Priority(), matched[j].plugin.Priority()
		if pi != pj {
			return pi < pj
		}
		return matched[i].seq < matched[j].seq
	})

	out := make([]Plugin, len(matched))
	for i, reg := range matched {
		out[i] = reg.plugin
	}
	return out
}
