package catalog

import "sync"

// Registry manages catalog sources by role. The retriever queries the local
// source first (when present), then the primary source, and falls back to the
// secondary source when the primary returns zero candidates.
// It is thread-safe; sources are registered at startup and read by concurrent
// pipeline workers.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]CatalogSource

	primary   string
	secondary string
	local     string
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]CatalogSource),
	}
}

// Register adds a source to the registry, replacing any source with the same
// name.
func (r *Registry) Register(source CatalogSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.SourceName()] = source
}

// SetRoles assigns the source names used for each retrieval role. Any role
// may be empty when no source serves it.
func (r *Registry) SetRoles(primary, secondary, local string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.primary = primary
	r.secondary = secondary
	r.local = local
}

// Get returns a source by name, or nil if not registered.
func (r *Registry) Get(name string) CatalogSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[name]
}

// Primary returns the primary search source, or nil when none is enabled.
func (r *Registry) Primary() CatalogSource {
	return r.enabledByRole(func() string { return r.primary })
}

// Secondary returns the fallback search source, or nil when none is enabled.
func (r *Registry) Secondary() CatalogSource {
	return r.enabledByRole(func() string { return r.secondary })
}

// Local returns the offline catalog source, or nil when none is enabled.
func (r *Registry) Local() CatalogSource {
	return r.enabledByRole(func() string { return r.local })
}

// EnabledSources returns a snapshot of all enabled sources.
func (r *Registry) EnabledSources() []CatalogSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]CatalogSource, 0, len(r.sources))
	for _, source := range r.sources {
		if source.IsEnabled() {
			sources = append(sources, source)
		}
	}
	return sources
}

func (r *Registry) enabledByRole(role func() string) CatalogSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	source, ok := r.sources[role()]
	if !ok || !source.IsEnabled() {
		return nil
	}
	return source
}
