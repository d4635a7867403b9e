package technique

import (
	"fmt"
	"sort"
	"sync"

	"github.com/promptlift/promptlift/core"
)

type registration struct {
	descriptor core.TechniqueDescriptor
	impl       Technique
}

// Registry maps technique ids to implementations. Mutations are rare
// (startup and tests); reads happen on every enhancement, so lookups take
// the read lock only.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
	logger  core.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Registry{
		entries: make(map[string]registration),
		logger:  logger,
	}
}

// Register binds a descriptor to an implementation. Registering the same
// (id, implementation, priority, enabled) again is a no-op; a conflicting
// re-registration is rejected so two components cannot silently fight over
// an id.
func (r *Registry) Register(d core.TechniqueDescriptor, impl Technique) error {
	if d.ID == "" {
		return fmt.Errorf("register technique: id is empty: %w", core.ErrInvalidInput)
	}
	if impl == nil {
		return fmt.Errorf("register technique %q: implementation is nil: %w", d.ID, core.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[d.ID]; ok {
		if existing.impl == impl && sameDescriptor(existing.descriptor, d) {
			return nil
		}
		return fmt.Errorf("register technique %q: %w", d.ID, core.ErrAlreadyRegistered)
	}

	r.entries[d.ID] = registration{descriptor: d, impl: impl}
	r.logger.Debug("Technique registered", map[string]interface{}{
		"technique": d.ID,
		"priority":  d.Priority,
		"enabled":   d.Enabled,
	})
	return nil
}

// MustRegister panics on registration failure. For wiring code where a
// conflict is a programming error.
func (r *Registry) MustRegister(d core.TechniqueDescriptor, impl Technique) {
	if err := r.Register(d, impl); err != nil {
		panic(fmt.Sprintf("technique registry: %v", err))
	}
}

// Unregister removes id. Removing an unknown id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Get returns the implementation and descriptor for id.
func (r *Registry) Get(id string) (Technique, core.TechniqueDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return entry.impl, entry.descriptor, ok
}

// ListEnabled returns the enabled descriptors in catalog order: priority
// ascending, ties by id.
func (r *Registry) ListEnabled() []core.TechniqueDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]core.TechniqueDescriptor, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.descriptor.Enabled {
			out = append(out, entry.descriptor)
		}
	}
	sortDescriptors(out)
	return out
}

// List returns every descriptor, enabled or not, in catalog order.
func (r *Registry) List() []core.TechniqueDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]core.TechniqueDescriptor, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.descriptor)
	}
	sortDescriptors(out)
	return out
}

func sortDescriptors(ds []core.TechniqueDescriptor) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Priority != ds[j].Priority {
			return ds[i].Priority < ds[j].Priority
		}
		return ds[i].ID < ds[j].ID
	})
}

// sameDescriptor compares the fields that define a registration.
// DefaultParameters is deliberately excluded: a map is not comparable and
// parameter defaults do not change what the id means.
func sameDescriptor(a, b core.TechniqueDescriptor) bool {
	return a.ID == b.ID && a.Name == b.Name && a.Priority == b.Priority && a.Enabled == b.Enabled
}
